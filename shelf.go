package shelf

import (
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/outofforest/shelf/accountant"
	"github.com/outofforest/shelf/arena"
	"github.com/outofforest/shelf/blobstore"
	"github.com/outofforest/shelf/config"
	"github.com/outofforest/shelf/deletion"
	"github.com/outofforest/shelf/directory"
	"github.com/outofforest/shelf/keystore"
	"github.com/outofforest/shelf/persistence"
	"github.com/outofforest/shelf/pkg/filedev"
	"github.com/outofforest/shelf/refgraph"
	"github.com/outofforest/shelf/types"
)

// Store is the in-memory object store shared by many clients.
type Store struct {
	log         *slog.Logger
	instanceID  uuid.UUID
	onViolation accountant.ViolationHandler

	// mu guards directory, graph, keys and the blob table as one unit.
	mu       sync.RWMutex
	acc      *accountant.Accountant
	blobs    *blobstore.Store
	dir      *directory.Directory
	graph    *refgraph.Graph
	keys     *keystore.Store
	tracker  *persistence.Tracker
	engine   *deletion.Engine
	journal  *persistence.Journal
	sessions map[uuid.UUID]*Session

	closeDev func() error
}

// New creates the store. If journal path is configured, the journal file is opened or created.
func New(cfg config.Config, log *slog.Logger) (*Store, error) {
	if cfg.Journal.Path == "" {
		return Open(cfg, nil, log)
	}

	dev, err := filedev.Open(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}
	s, err := Open(cfg, dev, log)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	s.closeDev = dev.Close
	return s, nil
}

// Open creates the store journaling to the device. Empty device is initialized. Nil device disables the journal.
func Open(cfg config.Config, dev persistence.Dev, log *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		log:        log,
		instanceID: uuid.New(),
		sessions:   map[uuid.UUID]*Session{},
	}
	s.onViolation = func(err error) {
		s.log.Error("Consistency violation", "error", err)
		accountant.PanicOnViolation(err)
	}

	if dev != nil {
		if dev.Size() == 0 {
			if err := persistence.Initialize(dev, false, cfg.Compression(), s.instanceID); err != nil {
				return nil, err
			}
		}
		journal, err := persistence.OpenJournal(dev)
		if err != nil {
			return nil, err
		}
		s.journal = journal
		s.instanceID = journal.Header().InstanceID
	}

	a, err := arena.New(cfg.ArenaCapacity())
	if err != nil {
		return nil, err
	}

	ids := &types.IDGenerator{}
	if s.journal != nil {
		ids.Advance(s.journal.HighestID())
	}
	s.acc = accountant.New(uint64(cfg.MemoryLimit), func(err error) {
		s.onViolation(err)
	})
	s.blobs = blobstore.New(ids, a, s.acc)
	s.dir = directory.New(ids)
	s.graph = refgraph.New()
	s.keys = keystore.New()
	s.tracker = persistence.NewTracker(s.dir, s.journal, log)
	s.engine = deletion.New(s.dir, s.graph, s.blobs, s.tracker, s.keys, log, deletion.Options{
		ForceRemovesOwners: cfg.Deletion.ForceRemovesOwners,
	})

	attrs := []any{
		"instance", s.instanceID,
		"memoryLimit", humanize.IBytes(uint64(cfg.MemoryLimit)),
		"arena", humanize.IBytes(uint64(a.Capacity())),
	}
	if s.journal != nil {
		attrs = append(attrs, "journalEntries", s.journal.Entries(), "compression", s.journal.Header().Compression)
	}
	log.Info("Store opened", attrs...)

	return s, nil
}

// Put stages new record and returns its ID. Staged record may be updated until it is sealed.
func (s *Store) Put(record *types.Record) (types.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.dir.Put(record)
	if err != nil {
		return types.InvalidObjectID, err
	}
	s.log.Debug("Record staged", "id", id, "kind", record.Kind)
	return id, nil
}

// Update applies fn to the staged record.
func (s *Store) Update(id types.ObjectID, fn func(r *types.Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dir.Update(id, fn)
}

// Seal commits the staged record. Its members must be sealed records or live blobs.
// Member edges are registered in the reference graph.
func (s *Store) Seal(id types.ObjectID) (types.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.dir.Get(id)
	if err != nil {
		return types.InvalidObjectID, err
	}
	if r.Sealed {
		return types.InvalidObjectID, errors.Wrapf(types.ErrAlreadySealed, "record %s", id)
	}

	schema, err := types.SchemaOf(r.Kind)
	if err != nil {
		return types.InvalidObjectID, err
	}
	if err := schema.Validate(r); err != nil {
		return types.InvalidObjectID, err
	}

	children := make([]types.ObjectID, 0, len(r.Members))
	for _, m := range r.Members {
		if err := s.validateMember(id, m); err != nil {
			return types.InvalidObjectID, err
		}
		children = append(children, m.ID)
	}

	if err := s.graph.Register(id, children); err != nil {
		return types.InvalidObjectID, s.check(err)
	}
	if err := s.dir.MarkSealed(id); err != nil {
		return types.InvalidObjectID, s.check(errors.Wrapf(types.ErrConsistencyViolation, "sealing %s: %s", id, err))
	}

	s.log.Debug("Record sealed", "id", id, "kind", r.Kind, "members", len(children))
	return id, nil
}

// Persist marks the sealed record as durable.
func (s *Store) Persist(id types.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tracker.Persist(id)
}

// Exists returns true if record or live blob exists under the ID. Staged records exist too.
func (s *Store) Exists(id types.ObjectID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.exists(id)
}

// Get returns copy of the record.
func (s *Store) Get(id types.ObjectID) (*types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dir.Get(id)
}

// DelData deletes objects. See deletion.Engine.DelData for the rules.
func (s *Store) DelData(ids []types.ObjectID, force, deep bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.engine.DelData(ids, force, deep)
	return s.check(err)
}

// GetBuffers returns payloads of live blobs. Absent IDs are omitted.
// Returned views are invalidated by a later DelData of the blob, its memory may be handed to the next
// allocation right away. Use AcquireBuffers to keep views readable across deletion.
func (s *Store) GetBuffers(ids []types.ObjectID) map[types.ObjectID]types.Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.blobs.GetBuffers(ids)
}

// AcquireBuffers works like GetBuffers but pins returned blobs, so their memory is not reused
// until ReleaseBuffers is called, even if blobs are deleted in the meantime.
func (s *Store) AcquireBuffers(ids []types.ObjectID) map[types.ObjectID]types.Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payloads := s.blobs.GetBuffers(ids)
	for id := range payloads {
		if err := s.blobs.Pin(id); err != nil {
			delete(payloads, id)
		}
	}
	return payloads
}

// ReleaseBuffers drops pins taken by AcquireBuffers. Every ID is processed even if some of them fail,
// the first error is returned.
func (s *Store) ReleaseBuffers(ids []types.ObjectID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := s.blobs.Unpin(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CreateBuffer allocates new blob and returns its writable view. Zero size returns the empty blob.
func (s *Store) CreateBuffer(size uint64) (types.Payload, error) {
	return s.createBuffer(size, uuid.Nil)
}

// MakeEmpty returns the ID of the empty blob.
func (s *Store) MakeEmpty() types.ObjectID {
	return s.blobs.MakeEmpty().ID
}

// InstanceStatus returns the snapshot of store accounting.
func (s *Store) InstanceStatus() types.InstanceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return types.InstanceStatus{
		InstanceID:       s.instanceID,
		MemoryLimit:      s.acc.Limit(),
		MemoryUsage:      s.acc.Usage(),
		Objects:          s.dir.Len(),
		Blobs:            s.blobs.Len() - 1,
		PersistedObjects: s.dir.Persisted(),
		Sessions:         len(s.sessions),
		DeferredReleases: s.blobs.Deferred(),
	}
}

// PutName binds the name to existing object.
func (s *Store) PutName(name string, id types.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists(id) {
		return errors.Wrapf(types.ErrNotFound, "object %s", id)
	}
	return s.keys.SetObjectID(name, id)
}

// GetName returns the object bound to the name.
func (s *Store) GetName(name string) (types.ObjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists, err := s.keys.GetObjectID(name)
	if err != nil {
		return types.InvalidObjectID, err
	}
	if !exists {
		return types.InvalidObjectID, errors.Wrapf(types.ErrNotFound, "name %q", name)
	}
	return id, nil
}

// DropName removes the name. The object is not affected.
func (s *Store) DropName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted, err := s.keys.Delete(name)
	if err != nil {
		return err
	}
	if !deleted {
		return errors.Wrapf(types.ErrNotFound, "name %q", name)
	}
	return nil
}

// ListNames returns all the names sorted.
func (s *Store) ListNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.keys.Keys()
}

// OwnedRoots returns sorted IDs of non-persisted objects created by the session which are not members
// of any sealed record.
func (s *Store) OwnedRoots(session uuid.UUID) []types.ObjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ownedRoots(session)
}

// Close closes the journal and unmaps blob memory. Store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.blobs.Close()
	if s.closeDev != nil {
		if err2 := s.closeDev(); err == nil {
			err = err2
		}
	}
	s.log.Info("Store closed", "instance", s.instanceID)
	return err
}

func (s *Store) createBuffer(size uint64, owner uuid.UUID) (types.Payload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.blobs.Allocate(size, owner)
	if err != nil {
		return types.Payload{}, s.check(err)
	}
	s.log.Debug("Blob allocated", "id", b.ID, "size", humanize.IBytes(b.Size))
	return types.Payload{
		ID:   b.ID,
		Size: b.Size,
		Data: b.Data,
	}, nil
}

func (s *Store) exists(id types.ObjectID) bool {
	if id.IsBlob() {
		return s.blobs.Exists(id)
	}
	return s.dir.Exists(id)
}

func (s *Store) validateMember(parent types.ObjectID, m types.Member) error {
	if m.ID.IsBlob() {
		if !s.blobs.Exists(m.ID) {
			return errors.Wrapf(types.ErrInvalidArgument, "member %q of %s references absent blob %s", m.Name, parent, m.ID)
		}
		return nil
	}

	member, err := s.dir.Get(m.ID)
	if err != nil {
		return errors.Wrapf(types.ErrInvalidArgument, "member %q of %s references absent record %s", m.Name, parent, m.ID)
	}
	if !member.Sealed {
		return errors.Wrapf(types.ErrInvalidArgument, "member %q of %s references staged record %s", m.Name, parent, m.ID)
	}
	return nil
}

func (s *Store) ownedRoots(session uuid.UUID) []types.ObjectID {
	var roots []types.ObjectID
	s.dir.ForEach(func(r *types.Record) bool {
		if r.Owner == session && !r.Persisted && len(s.graph.Parents(r.ID)) == 0 {
			roots = append(roots, r.ID)
		}
		return true
	})
	for _, id := range s.blobs.OwnedBy(session) {
		if len(s.graph.Parents(id)) == 0 {
			roots = append(roots, id)
		}
	}
	sortIDs(roots)
	return roots
}

// check routes consistency violations to the violation handler.
func (s *Store) check(err error) error {
	if err != nil && errors.Is(err, types.ErrConsistencyViolation) {
		s.onViolation(err)
	}
	return err
}
