package shelf

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/outofforest/shelf/types"
)

// Session is the handle of a connected client. Objects created through the session are owned by it.
type Session struct {
	store  *Store
	id     uuid.UUID
	closed bool
}

// Connect opens new session.
func (s *Store) Connect() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &Session{
		store: s,
		id:    uuid.New(),
	}
	s.sessions[session.id] = session
	s.log.Debug("Session connected", "session", session.id)
	return session
}

// ID returns the session ID.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Put stages the record owned by the session.
func (s *Session) Put(record *types.Record) (types.ObjectID, error) {
	if record == nil {
		return types.InvalidObjectID, errors.Wrap(types.ErrInvalidArgument, "record is nil")
	}
	r := record.Clone()
	r.Owner = s.id
	return s.store.Put(r)
}

// Seal seals the staged record.
func (s *Session) Seal(id types.ObjectID) (types.ObjectID, error) {
	return s.store.Seal(id)
}

// CreateBuffer allocates new blob owned by the session.
func (s *Session) CreateBuffer(size uint64) (types.Payload, error) {
	return s.store.createBuffer(size, s.id)
}

// MakeEmpty returns the ID of the empty blob.
func (s *Session) MakeEmpty() types.ObjectID {
	return s.store.MakeEmpty()
}

// DelData deletes objects.
func (s *Session) DelData(ids []types.ObjectID, force, deep bool) error {
	return s.store.DelData(ids, force, deep)
}

// Close deep-deletes non-persisted root objects owned by the session. Persisted records reachable from
// them survive together with their members. Closing twice does nothing.
func (s *Session) Close() error {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	delete(st.sessions, s.id)

	roots := st.ownedRoots(s.id)
	if len(roots) == 0 {
		st.log.Debug("Session closed", "session", s.id)
		return nil
	}

	result, err := st.engine.Collect(roots)
	if err != nil {
		return st.check(err)
	}
	st.log.Debug("Session closed",
		"session", s.id,
		"records", len(result.Records),
		"blobs", len(result.Blobs),
		"freed", result.FreedBytes)
	return nil
}

func sortIDs(ids []types.ObjectID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
