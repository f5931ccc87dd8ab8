package persistence

import (
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/shelf/directory"
	"github.com/outofforest/shelf/types"
)

// Tracker maintains the durability flag of records and mirrors it to the journal.
// Journal is optional, without it persistence is a flag only.
type Tracker struct {
	dir     *directory.Directory
	journal *Journal
	log     *slog.Logger
	now     func() time.Time
}

// NewTracker creates new persistence tracker.
func NewTracker(dir *directory.Directory, journal *Journal, log *slog.Logger) *Tracker {
	return &Tracker{
		dir:     dir,
		journal: journal,
		log:     log,
		now:     time.Now,
	}
}

// Persist marks the sealed record as persisted. Persisting twice is a no-op.
// Members are not persisted implicitly.
func (t *Tracker) Persist(id types.ObjectID) error {
	r, err := t.dir.Get(id)
	if err != nil {
		return err
	}
	if !r.Sealed {
		return errors.Wrapf(types.ErrInvalidArgument, "record %s is not sealed", id)
	}
	if r.Persisted {
		return nil
	}

	if t.journal != nil {
		if err := t.journal.Append(PersistEntry(r, t.now())); err != nil {
			return errors.WithMessagef(err, "journaling persistence of %s failed", id)
		}
	}
	if _, err := t.dir.MarkPersisted(id); err != nil {
		return err
	}

	t.log.Debug("Record persisted", "id", id, "kind", r.Kind)
	return nil
}

// IsPersisted returns the durability flag of the record.
func (t *Tracker) IsPersisted(id types.ObjectID) (bool, error) {
	r, err := t.dir.Get(id)
	if err != nil {
		return false, err
	}
	return r.Persisted, nil
}

// Forget writes tombstones of persisted records which are about to be deleted.
// All the tombstones land in one frame.
func (t *Tracker) Forget(ids []types.ObjectID) error {
	if t.journal == nil || len(ids) == 0 {
		return nil
	}

	now := t.now()
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, DeleteEntry(id, now))
	}
	if err := t.journal.Append(entries...); err != nil {
		return errors.WithMessage(err, "journaling deletion failed")
	}
	return nil
}
