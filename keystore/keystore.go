package keystore

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/outofforest/shelf/types"
)

// MaxKeyLength is the maximum length of the key.
const MaxKeyLength = 255

type entry struct {
	key string
	id  types.ObjectID
}

// Store keeps the relation between keys and object IDs.
// It is not safe for concurrent use, caller must serialize access.
type Store struct {
	// buckets are indexed by the key tag, keys producing the same tag share the bucket.
	buckets map[uint64][]entry
	byID    map[types.ObjectID]map[string]struct{}
	n       int
}

// New returns new key store.
func New() *Store {
	return &Store{
		buckets: map[uint64][]entry{},
		byID:    map[types.ObjectID]map[string]struct{}{},
	}
}

// GetObjectID returns object ID stored under the key.
func (s *Store) GetObjectID(key string) (types.ObjectID, bool, error) {
	if err := validateKey(key); err != nil {
		return types.InvalidObjectID, false, err
	}

	bucket := s.buckets[xxhash.Sum64String(key)]
	if index, found := findKey(bucket, key); found {
		return bucket[index].id, true, nil
	}
	return types.InvalidObjectID, false, nil
}

// SetObjectID stores object ID under the key. The key previously used for other object is rebound.
func (s *Store) SetObjectID(key string, id types.ObjectID) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if id == types.InvalidObjectID {
		return errors.Wrap(types.ErrInvalidArgument, "invalid object ID")
	}

	tag := xxhash.Sum64String(key)
	bucket := s.buckets[tag]
	if index, found := findKey(bucket, key); found {
		s.unlink(bucket[index].id, key)
		bucket[index].id = id
	} else {
		s.buckets[tag] = append(bucket, entry{key: key, id: id})
		s.n++
	}

	keys, exists := s.byID[id]
	if !exists {
		keys = map[string]struct{}{}
		s.byID[id] = keys
	}
	keys[key] = struct{}{}
	return nil
}

// Delete deletes key from the store. It returns false if key does not exist.
func (s *Store) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	tag := xxhash.Sum64String(key)
	bucket := s.buckets[tag]
	index, found := findKey(bucket, key)
	if !found {
		return false, nil
	}

	s.unlink(bucket[index].id, key)
	s.removeAt(tag, index)
	return true, nil
}

// DeleteObject deletes all the keys pointing to the object and returns them sorted.
func (s *Store) DeleteObject(id types.ObjectID) []string {
	keys := sortedKeys(s.byID[id])
	for _, key := range keys {
		tag := xxhash.Sum64String(key)
		if index, found := findKey(s.buckets[tag], key); found {
			s.removeAt(tag, index)
		}
	}
	delete(s.byID, id)
	return keys
}

// KeysOf returns sorted keys pointing to the object.
func (s *Store) KeysOf(id types.ObjectID) []string {
	return sortedKeys(s.byID[id])
}

// Keys returns all the keys sorted.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.n)
	for _, bucket := range s.buckets {
		for _, e := range bucket {
			keys = append(keys, e.key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (s *Store) Len() int {
	return s.n
}

func (s *Store) unlink(id types.ObjectID, key string) {
	keys := s.byID[id]
	delete(keys, key)
	if len(keys) == 0 {
		delete(s.byID, id)
	}
}

func (s *Store) removeAt(tag uint64, index int) {
	bucket := s.buckets[tag]
	last := len(bucket) - 1
	bucket[index] = bucket[last]
	bucket = bucket[:last]
	if len(bucket) == 0 {
		delete(s.buckets, tag)
	} else {
		s.buckets[tag] = bucket
	}
	s.n--
}

func validateKey(key string) error {
	if len(key) == 0 {
		return errors.Wrap(types.ErrInvalidArgument, "key cannot be empty")
	}
	if len(key) > MaxKeyLength {
		return errors.Wrapf(types.ErrInvalidArgument, "maximum key length exceeded, maximum: %d, actual: %d",
			MaxKeyLength, len(key))
	}
	return nil
}

func findKey(bucket []entry, key string) (int, bool) {
	for i, e := range bucket {
		if e.key == key {
			return i, true
		}
	}
	return 0, false
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
