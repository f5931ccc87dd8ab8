package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the enum representing the record type.
type Kind byte

// Record kinds.
const (
	KindGeneric Kind = iota
	KindArray
	KindPair
	KindTuple
)

// Member slot and field names used by the typed kinds.
const (
	ArrayBufferSlot  = "buffer_"
	ArrayLengthField = "length_"
	PairFirstSlot    = "first_"
	PairSecondSlot   = "second_"
	TupleSizeField   = "__elements_-size"

	tupleElementPrefix = "__elements_-"
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindArray:
		return "array"
	case KindPair:
		return "pair"
	case KindTuple:
		return "tuple"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// TupleElementSlot returns the name of the slot keeping tuple element at index.
func TupleElementSlot(index int) string {
	return tupleElementPrefix + strconv.Itoa(index)
}

// Schema declares member slots of the record kind.
type Schema struct {
	Kind Kind

	// Slots lists fixed member slots. All of them must be filled.
	Slots []string

	// Fields lists scalar fields which must be present.
	Fields []string

	// Variadic means the number of slots is taken from the size field.
	Variadic bool

	// FreeForm accepts any member names.
	FreeForm bool
}

var schemas = map[Kind]Schema{
	KindGeneric: {Kind: KindGeneric, FreeForm: true},
	KindArray:   {Kind: KindArray, Slots: []string{ArrayBufferSlot}, Fields: []string{ArrayLengthField}},
	KindPair:    {Kind: KindPair, Slots: []string{PairFirstSlot, PairSecondSlot}},
	KindTuple:   {Kind: KindTuple, Fields: []string{TupleSizeField}, Variadic: true},
}

// SchemaOf returns the schema of the kind.
func SchemaOf(kind Kind) (Schema, error) {
	s, exists := schemas[kind]
	if !exists {
		return Schema{}, errors.Wrapf(ErrInvalidArgument, "unknown record kind %s", kind)
	}
	return s, nil
}

// ExpectedSlots returns the member slots the record must fill according to its schema.
func (s Schema) ExpectedSlots(r *Record) ([]string, error) {
	if !s.Variadic {
		return s.Slots, nil
	}

	size, err := intField(r, TupleSizeField)
	if err != nil {
		return nil, err
	}
	slots := make([]string, 0, size)
	for i := 0; i < size; i++ {
		slots = append(slots, TupleElementSlot(i))
	}
	return slots, nil
}

// Validate checks that record members and fields match the schema.
func (s Schema) Validate(r *Record) error {
	for _, f := range s.Fields {
		if _, exists := r.Fields[f]; !exists {
			return errors.Wrapf(ErrInvalidArgument, "%s record %s misses field %q", s.Kind, r.ID, f)
		}
	}

	seen := make(map[string]struct{}, len(r.Members))
	for _, m := range r.Members {
		if _, exists := seen[m.Name]; exists {
			return errors.Wrapf(ErrInvalidArgument, "record %s has duplicated member %q", r.ID, m.Name)
		}
		seen[m.Name] = struct{}{}
		if m.ID == InvalidObjectID {
			return errors.Wrapf(ErrInvalidArgument, "member %q of record %s is not set", m.Name, r.ID)
		}
	}

	if s.FreeForm {
		return nil
	}

	slots, err := s.ExpectedSlots(r)
	if err != nil {
		return err
	}
	if len(slots) != len(r.Members) {
		return errors.Wrapf(ErrInvalidArgument, "%s record %s expects %d members, got %d",
			s.Kind, r.ID, len(slots), len(r.Members))
	}
	for _, slot := range slots {
		if _, exists := seen[slot]; !exists {
			return errors.Wrapf(ErrInvalidArgument, "%s record %s misses member %q", s.Kind, r.ID, slot)
		}
	}
	return nil
}

func intField(r *Record, name string) (int, error) {
	v, exists := r.Fields[name]
	if !exists {
		return 0, errors.Wrapf(ErrInvalidArgument, "record %s misses field %q", r.ID, name)
	}

	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidArgument, "field %q of record %s is not a number", name, r.ID)
		}
		n = parsed
	default:
		return 0, errors.Wrapf(ErrInvalidArgument, "field %q of record %s has type %T", name, r.ID, v)
	}
	if n < 0 {
		return 0, errors.Wrapf(ErrInvalidArgument, "field %q of record %s is negative", name, r.ID)
	}
	return int(n), nil
}
