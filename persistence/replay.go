package persistence

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/outofforest/shelf/types"
)

// Replay reads the journal and returns records which are persisted and not deleted, ordered by ID.
func Replay(dev Dev) (Header, []*types.Record, error) {
	j, err := OpenJournal(dev)
	if err != nil {
		return Header{}, nil, err
	}

	records := map[types.ObjectID]*types.Record{}
	var foldErr error
	err = j.ForEach(func(e Entry) {
		if foldErr != nil {
			return
		}
		switch e.Op {
		case OpPersist:
			records[e.ID] = e.Record()
		case OpDelete:
			delete(records, e.ID)
		default:
			foldErr = errors.Errorf("unknown journal operation %d for %s", e.Op, e.ID)
		}
	})
	if err != nil {
		return Header{}, nil, err
	}
	if foldErr != nil {
		return Header{}, nil, foldErr
	}

	result := make([]*types.Record, 0, len(records))
	for _, r := range records {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return j.Header(), result, nil
}
