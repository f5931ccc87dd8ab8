package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ObjectID is the ID of the object or blob in the store.
type ObjectID uint64

const (
	// InvalidObjectID denotes "no object". It is never a live key.
	InvalidObjectID ObjectID = math.MaxUint64

	// BlobIDMask is set on every blob ID and on no record ID.
	BlobIDMask ObjectID = 1 << 63

	// EmptyBlobID is the reserved ID of the empty blob singleton.
	EmptyBlobID = BlobIDMask
)

// IsBlob returns true if the ID belongs to the blob ID space.
func (id ObjectID) IsBlob() bool {
	return id&BlobIDMask != 0 && id != InvalidObjectID
}

// IsEmptyBlob returns true if the ID is the ID of the empty blob.
func (id ObjectID) IsEmptyBlob() bool {
	return id == EmptyBlobID
}

// String returns the canonical textual form of the ID.
func (id ObjectID) String() string {
	return fmt.Sprintf("o%016x", uint64(id))
}

// ParseObjectID parses ID from its canonical textual form.
func ParseObjectID(s string) (ObjectID, error) {
	if !strings.HasPrefix(s, "o") || len(s) != 17 {
		return InvalidObjectID, errors.Wrapf(ErrInvalidArgument, "malformed object ID %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 64)
	if err != nil {
		return InvalidObjectID, errors.Wrapf(ErrInvalidArgument, "malformed object ID %q: %s", s, err)
	}
	return ObjectID(v), nil
}

// Member is a named reference from a record to another record or blob.
type Member struct {
	Name string
	ID   ObjectID
}

// Record is the metadata record of the composite object.
type Record struct {
	ID       ObjectID
	Kind     Kind
	TypeName string

	// Fields keeps scalar metadata: strings, numbers, bools and nested maps of them.
	Fields map[string]any

	// Members are kept in the order they were added.
	Members []Member

	Sealed    bool
	Persisted bool

	Owner     uuid.UUID
	CreatedAt time.Time
}

// Member returns the ID of the member stored under the name.
func (r *Record) Member(name string) (ObjectID, bool) {
	for _, m := range r.Members {
		if m.Name == name {
			return m.ID, true
		}
	}
	return InvalidObjectID, false
}

// SetMember adds or replaces the member stored under the name.
func (r *Record) SetMember(name string, id ObjectID) {
	for i := range r.Members {
		if r.Members[i].Name == name {
			r.Members[i].ID = id
			return
		}
	}
	r.Members = append(r.Members, Member{Name: name, ID: id})
}

// SetField sets scalar field.
func (r *Record) SetField(name string, value any) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[name] = value
}

// Clone returns a deep copy of the record so the caller may not mutate directory state.
func (r *Record) Clone() *Record {
	c := *r
	c.Members = append([]Member(nil), r.Members...)
	c.Fields = cloneFields(r.Fields)
	return &c
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	c := make(map[string]any, len(fields))
	for k, v := range fields {
		if nested, ok := v.(map[string]any); ok {
			v = cloneFields(nested)
		}
		c[k] = v
	}
	return c
}

// Payload describes the memory of a live blob.
type Payload struct {
	ID   ObjectID
	Size uint64

	// Data is a view of the blob segment, not a copy.
	Data     []byte
	Checksum uint64
}

// InstanceStatus is the snapshot of store-wide accounting.
type InstanceStatus struct {
	InstanceID       uuid.UUID
	MemoryLimit      uint64
	MemoryUsage      uint64
	Objects          int
	Blobs            int
	PersistedObjects int
	Sessions         int
	DeferredReleases int
}
