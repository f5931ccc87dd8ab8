package directory

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/shelf/types"
)

// Directory owns metadata records keyed by object ID.
type Directory struct {
	ids *types.IDGenerator
	now func() time.Time

	mu        sync.RWMutex
	records   map[types.ObjectID]*types.Record
	persisted int
}

// New returns new directory.
func New(ids *types.IDGenerator) *Directory {
	return &Directory{
		ids:     ids,
		now:     time.Now,
		records: map[types.ObjectID]*types.Record{},
	}
}

// Put stores the staged record under new ID and returns that ID.
func (d *Directory) Put(record *types.Record) (types.ObjectID, error) {
	if record == nil {
		return types.InvalidObjectID, errors.Wrap(types.ErrInvalidArgument, "record is nil")
	}
	if _, err := types.SchemaOf(record.Kind); err != nil {
		return types.InvalidObjectID, err
	}

	r := record.Clone()
	r.ID = d.ids.NextRecordID()
	r.Sealed = false
	r.Persisted = false
	if r.CreatedAt.IsZero() {
		r.CreatedAt = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.records[r.ID] = r
	return r.ID, nil
}

// Get returns copy of the record.
func (d *Directory) Get(id types.ObjectID) (*types.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, exists := d.records[id]
	if !exists {
		return nil, errors.Wrapf(types.ErrNotFound, "record %s", id)
	}
	return r.Clone(), nil
}

// Exists returns true if record is present.
func (d *Directory) Exists(id types.ObjectID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, exists := d.records[id]
	return exists
}

// Remove deletes the record. Removed ID never becomes present again.
func (d *Directory) Remove(id types.ObjectID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, exists := d.records[id]
	if !exists {
		return errors.Wrapf(types.ErrNotFound, "record %s", id)
	}
	if r.Persisted {
		d.persisted--
	}
	delete(d.records, id)
	return nil
}

// Update applies fn to the staged record. Sealed records cannot be updated.
// Changes are applied only if fn succeeds.
func (d *Directory) Update(id types.ObjectID, fn func(r *types.Record) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, exists := d.records[id]
	if !exists {
		return errors.Wrapf(types.ErrNotFound, "record %s", id)
	}
	if r.Sealed {
		return errors.Wrapf(types.ErrAlreadySealed, "record %s", id)
	}

	c := r.Clone()
	if err := fn(c); err != nil {
		return err
	}
	if c.ID != id {
		return errors.Wrapf(types.ErrInvalidArgument, "record ID cannot be changed from %s to %s", id, c.ID)
	}
	c.Sealed = false
	c.Persisted = false
	d.records[id] = c
	return nil
}

// MarkSealed flips the record into the sealed state. It happens exactly once.
func (d *Directory) MarkSealed(id types.ObjectID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, exists := d.records[id]
	if !exists {
		return errors.Wrapf(types.ErrNotFound, "record %s", id)
	}
	if r.Sealed {
		return errors.Wrapf(types.ErrAlreadySealed, "record %s", id)
	}
	r.Sealed = true
	return nil
}

// MarkPersisted sets durability flag of the sealed record. It returns true if the flag has been changed.
func (d *Directory) MarkPersisted(id types.ObjectID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, exists := d.records[id]
	if !exists {
		return false, errors.Wrapf(types.ErrNotFound, "record %s", id)
	}
	if !r.Sealed {
		return false, errors.Wrapf(types.ErrInvalidArgument, "record %s is not sealed", id)
	}
	if r.Persisted {
		return false, nil
	}
	r.Persisted = true
	d.persisted++
	return true, nil
}

// Len returns the number of records.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.records)
}

// Persisted returns the number of persisted records.
func (d *Directory) Persisted() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.persisted
}

// ForEach calls fn for every record until fn returns false. Records passed to fn must not be modified.
func (d *Directory) ForEach(fn func(r *types.Record) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, r := range d.records {
		if !fn(r) {
			return
		}
	}
}
