package blobstore

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/outofforest/shelf/accountant"
	"github.com/outofforest/shelf/arena"
	"github.com/outofforest/shelf/types"
)

// Blob is the leaf object backed by memory segment.
type Blob struct {
	ID    types.ObjectID
	Size  uint64
	Owner uuid.UUID

	// RefCount is the number of pins held by readers.
	RefCount int

	// Data is the view of the segment. It is nil for the empty blob.
	Data []byte

	offset   int64
	released bool
}

// Store owns memory segments of blobs.
type Store struct {
	ids   *types.IDGenerator
	arena *arena.Arena
	acc   *accountant.Accountant

	mu       sync.Mutex
	blobs    map[types.ObjectID]*Blob
	deferred map[types.ObjectID]*Blob

	// residentBytes is the sum of sizes of live and deferred blobs, tracked independently of the accountant.
	residentBytes uint64
}

// New returns new blob store. The empty blob is created here and lives as long as the store.
func New(ids *types.IDGenerator, a *arena.Arena, acc *accountant.Accountant) *Store {
	s := &Store{
		ids:      ids,
		arena:    a,
		acc:      acc,
		blobs:    map[types.ObjectID]*Blob{},
		deferred: map[types.ObjectID]*Blob{},
	}
	s.blobs[types.EmptyBlobID] = &Blob{ID: types.EmptyBlobID}
	acc.SetRecounter(s.recount)
	return s
}

// MakeEmpty returns the empty blob. It always returns the same blob and never affects accounting.
func (s *Store) MakeEmpty() Blob {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.blobs[types.EmptyBlobID]
}

// Allocate creates new blob of the size. Zero-size request returns the empty blob.
func (s *Store) Allocate(size uint64, owner uuid.UUID) (Blob, error) {
	if size == 0 {
		return s.MakeEmpty(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acc.Reserve(size); err != nil {
		return Blob{}, err
	}

	offset, data, err := s.arena.Allocate(int64(size))
	if err != nil {
		if err2 := s.acc.Release(size); err2 != nil {
			return Blob{}, err2
		}
		if errors.Is(err, arena.ErrFull) {
			return Blob{}, errors.Wrapf(types.ErrResourceExhausted, "allocating %d bytes: %s", size, err)
		}
		return Blob{}, err
	}

	b := &Blob{
		ID:     s.ids.NextBlobID(),
		Size:   size,
		Owner:  owner,
		Data:   data,
		offset: offset,
	}
	s.blobs[b.ID] = b
	s.residentBytes += size

	if err := s.verify(); err != nil {
		return Blob{}, err
	}
	return *b, nil
}

// Exists returns true if blob is alive.
func (s *Store) Exists(id types.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.blobs[id]
	return exists
}

// Get returns live blob.
func (s *Store) Get(id types.ObjectID) (Blob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.blobs[id]
	if !exists {
		return Blob{}, false
	}
	return *b, true
}

// Release deletes the blob. The ID becomes absent immediately. If the blob is pinned, the segment is
// freed when the last pin is released. Releasing the empty blob does nothing.
func (s *Store) Release(id types.ObjectID) error {
	if id == types.EmptyBlobID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.blobs[id]
	if !exists {
		return errors.Wrapf(types.ErrNotFound, "blob %s", id)
	}
	delete(s.blobs, id)
	b.released = true

	if b.RefCount > 0 {
		s.deferred[id] = b
		return nil
	}
	return s.free(b)
}

// Pin prevents segment of the live blob from being freed until Unpin is called.
func (s *Store) Pin(id types.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.blobs[id]
	if !exists {
		return errors.Wrapf(types.ErrNotFound, "blob %s", id)
	}
	b.RefCount++
	return nil
}

// Unpin releases the pin taken by Pin.
func (s *Store) Unpin(id types.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.blobs[id]
	if !exists {
		b, exists = s.deferred[id]
	}
	if !exists || b.RefCount == 0 {
		return errors.Wrapf(types.ErrInvalidArgument, "blob %s is not pinned", id)
	}

	b.RefCount--
	if b.RefCount > 0 || !b.released {
		return nil
	}
	delete(s.deferred, id)
	return s.free(b)
}

// GetBuffers returns payloads of live blobs. IDs of absent blobs are omitted.
func (s *Store) GetBuffers(ids []types.ObjectID) map[types.ObjectID]types.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloads := make(map[types.ObjectID]types.Payload, len(ids))
	for _, id := range ids {
		b, exists := s.blobs[id]
		if !exists {
			continue
		}
		payloads[id] = types.Payload{
			ID:       b.ID,
			Size:     b.Size,
			Data:     b.Data,
			Checksum: xxhash.Sum64(b.Data),
		}
	}
	return payloads
}

// Len returns the number of live blobs, including the empty one.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.blobs)
}

// Deferred returns the number of released blobs waiting for pins to be dropped.
func (s *Store) Deferred() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.deferred)
}

// ResidentBytes returns the sum of sizes of blobs holding memory.
func (s *Store) ResidentBytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.residentBytes
}

// OwnedBy returns IDs of live blobs allocated by the owner.
func (s *Store) OwnedBy(owner uuid.UUID) []types.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []types.ObjectID
	for id, b := range s.blobs {
		if b.Owner == owner && id != types.EmptyBlobID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Close releases the memory region. Views returned earlier must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.arena.Close()
}

func (s *Store) free(b *Blob) error {
	if err := s.arena.Release(b.offset); err != nil {
		return errors.Wrapf(types.ErrConsistencyViolation, "freeing blob %s: %s", b.ID, err)
	}
	if err := s.acc.Release(b.Size); err != nil {
		return err
	}
	s.residentBytes -= b.Size
	b.Data = nil

	return s.verify()
}

func (s *Store) verify() error {
	if err := s.acc.Verify(s.residentBytes); err != nil {
		return err
	}
	return s.acc.Checkpoint()
}

// recount is called by the accountant while s.mu is held by the caller of verify.
func (s *Store) recount() uint64 {
	var sum uint64
	for _, b := range s.blobs {
		sum += b.Size
	}
	for _, b := range s.deferred {
		sum += b.Size
	}
	return sum
}
