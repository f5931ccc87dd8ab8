package builder

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/outofforest/shelf/types"
)

// Backend is the store the objects are built in.
type Backend interface {
	CreateBuffer(size uint64) (types.Payload, error)
	MakeEmpty() types.ObjectID
	Put(record *types.Record) (types.ObjectID, error)
	Seal(id types.ObjectID) (types.ObjectID, error)
	DelData(ids []types.ObjectID, force, deep bool) error
}

// Element is the type which can be stored in the array.
type Element interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Array builds sealed array of values. Empty array uses the empty blob as its buffer.
func Array[T Element](b Backend, values []T) (types.ObjectID, error) {
	size := uint64(len(values)) * uint64(unsafe.Sizeof(*new(T)))
	payload, err := b.CreateBuffer(size)
	if err != nil {
		return types.InvalidObjectID, err
	}
	if size > 0 {
		copy(payload.Data, unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), size))
	}

	record := &types.Record{
		Kind:     types.KindArray,
		TypeName: typeName[T](),
		Fields: map[string]any{
			types.ArrayLengthField: len(values),
		},
		Members: []types.Member{{Name: types.ArrayBufferSlot, ID: payload.ID}},
	}
	id, err := seal(b, record)
	if err != nil {
		return types.InvalidObjectID, cleanup(b, err, payload.ID)
	}
	return id, nil
}

// Pair builds sealed pair of two objects.
func Pair(b Backend, typeName string, first, second types.ObjectID) (types.ObjectID, error) {
	return seal(b, &types.Record{
		Kind:     types.KindPair,
		TypeName: typeName,
		Members: []types.Member{
			{Name: types.PairFirstSlot, ID: first},
			{Name: types.PairSecondSlot, ID: second},
		},
	})
}

// Tuple builds sealed tuple of objects.
func Tuple(b Backend, typeName string, elements ...types.ObjectID) (types.ObjectID, error) {
	record := &types.Record{
		Kind:     types.KindTuple,
		TypeName: typeName,
		Fields: map[string]any{
			types.TupleSizeField: len(elements),
		},
	}
	for i, e := range elements {
		record.Members = append(record.Members, types.Member{Name: types.TupleElementSlot(i), ID: e})
	}
	return seal(b, record)
}

// ReadArray decodes values of the array from its buffer payload.
func ReadArray[T Element](payload types.Payload) ([]T, error) {
	elementSize := uint64(unsafe.Sizeof(*new(T)))
	if payload.Size%elementSize != 0 {
		return nil, errors.Wrapf(types.ErrInvalidArgument, "buffer %s of %d bytes does not hold %s values",
			payload.ID, payload.Size, typeName[T]())
	}

	values := make([]T, payload.Size/elementSize)
	if len(values) > 0 {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), payload.Size), payload.Data)
	}
	return values, nil
}

func seal(b Backend, record *types.Record) (types.ObjectID, error) {
	id, err := b.Put(record)
	if err != nil {
		return types.InvalidObjectID, err
	}
	if _, err := b.Seal(id); err != nil {
		return types.InvalidObjectID, cleanup(b, err, id)
	}
	return id, nil
}

// cleanup deletes objects created by the failed build.
func cleanup(b Backend, err error, ids ...types.ObjectID) error {
	var toDelete []types.ObjectID
	for _, id := range ids {
		if id != types.EmptyBlobID {
			toDelete = append(toDelete, id)
		}
	}
	if len(toDelete) == 0 {
		return err
	}
	if err2 := b.DelData(toDelete, true, false); err2 != nil {
		return errors.WithMessagef(err, "cleanup failed: %s", err2)
	}
	return err
}

func typeName[T Element]() string {
	return fmt.Sprintf("%T", *new(T))
}
