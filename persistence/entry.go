package persistence

import (
	"time"

	"github.com/outofforest/shelf/types"
)

// Op is the journal operation.
type Op uint8

// Journal operations.
const (
	OpPersist Op = iota + 1
	OpDelete
)

// String returns the name of the operation.
func (o Op) String() string {
	switch o {
	case OpPersist:
		return "persist"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Entry is the single journal entry. Delete entries carry the ID only.
type Entry struct {
	Op       Op             `cbor:"op"`
	ID       types.ObjectID `cbor:"id"`
	Kind     types.Kind     `cbor:"kind,omitempty"`
	TypeName string         `cbor:"type,omitempty"`
	Members  []EntryMember  `cbor:"members,omitempty"`
	Fields   map[string]any `cbor:"fields,omitempty"`

	// At is the unix time in nanoseconds.
	At int64 `cbor:"at"`
}

// EntryMember is the member stored in the journal.
type EntryMember struct {
	Name string         `cbor:"name"`
	ID   types.ObjectID `cbor:"id"`
}

// PersistEntry builds the entry recording persistence of the record.
func PersistEntry(r *types.Record, at time.Time) Entry {
	members := make([]EntryMember, 0, len(r.Members))
	for _, m := range r.Members {
		members = append(members, EntryMember{Name: m.Name, ID: m.ID})
	}
	return Entry{
		Op:       OpPersist,
		ID:       r.ID,
		Kind:     r.Kind,
		TypeName: r.TypeName,
		Members:  members,
		Fields:   r.Fields,
		At:       at.UnixNano(),
	}
}

// DeleteEntry builds the tombstone of the persisted record.
func DeleteEntry(id types.ObjectID, at time.Time) Entry {
	return Entry{
		Op: OpDelete,
		ID: id,
		At: at.UnixNano(),
	}
}

// Record converts persist entry back to the sealed and persisted record.
func (e Entry) Record() *types.Record {
	r := &types.Record{
		ID:        e.ID,
		Kind:      e.Kind,
		TypeName:  e.TypeName,
		Fields:    e.Fields,
		Sealed:    true,
		Persisted: true,
		CreatedAt: time.Unix(0, e.At),
	}
	for _, m := range e.Members {
		r.Members = append(r.Members, types.Member{Name: m.Name, ID: m.ID})
	}
	return r
}
