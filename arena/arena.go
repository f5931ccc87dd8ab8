package arena

import (
	"sort"

	"github.com/pkg/errors"
)

// alignment specifies the alignment of segment offsets.
const alignment = 8

// ErrFull is returned if there is no free span big enough for the segment.
var ErrFull = errors.New("arena has no free span big enough")

type span struct {
	Offset int64
	Size   int64
}

// Arena carves segments out of one contiguous memory region.
// It is not safe for concurrent use, caller must serialize access.
type Arena struct {
	data  []byte
	unmap func() error

	// free is sorted by offset and never contains two adjacent spans.
	free []span
	used map[int64]int64

	// rover is the index in free list where next search starts.
	rover     int
	usedBytes int64
}

// New maps region of the capacity and returns arena managing it.
func New(capacity int64) (*Arena, error) {
	if capacity < 0 {
		return nil, errors.Errorf("invalid arena capacity: %d", capacity)
	}
	capacity = alignDown(capacity)

	data, unmap, err := mapRegion(capacity)
	if err != nil {
		return nil, err
	}

	a := &Arena{
		data:  data,
		unmap: unmap,
		used:  map[int64]int64{},
	}
	if capacity > 0 {
		a.free = []span{{Offset: 0, Size: capacity}}
	}
	return a, nil
}

// Capacity returns the size of the managed region.
func (a *Arena) Capacity() int64 {
	return int64(len(a.data))
}

// UsedBytes returns the number of bytes taken by segments, including alignment padding.
func (a *Arena) UsedBytes() int64 {
	return a.usedBytes
}

// Segments returns the number of allocated segments.
func (a *Arena) Segments() int {
	return len(a.used)
}

// Allocate places segment of the size and returns its offset together with zeroed view of its bytes.
func (a *Arena) Allocate(size int64) (int64, []byte, error) {
	if size <= 0 {
		return 0, nil, errors.Errorf("invalid segment size: %d", size)
	}
	aligned := alignUp(size)

	// Next-fit: start where the previous search stopped, wrap around once.
	n := len(a.free)
	for i := 0; i < n; i++ {
		index := (a.rover + i) % n
		s := a.free[index]
		if s.Size < aligned {
			continue
		}

		offset := s.Offset
		if s.Size == aligned {
			a.free = append(a.free[:index], a.free[index+1:]...)
		} else {
			a.free[index] = span{Offset: s.Offset + aligned, Size: s.Size - aligned}
		}
		a.rover = index
		if a.rover >= len(a.free) {
			a.rover = 0
		}

		a.used[offset] = aligned
		a.usedBytes += aligned

		// Segment could be used before, so it must be cleared.
		segment := a.data[offset : offset+size : offset+aligned]
		clear(segment)

		return offset, segment, nil
	}

	return 0, nil, errors.Wrapf(ErrFull, "requested %d bytes, used %d of %d", size, a.usedBytes, len(a.data))
}

// Release returns segment to the free list.
func (a *Arena) Release(offset int64) error {
	size, exists := a.used[offset]
	if !exists {
		return errors.Errorf("segment at offset %d is not allocated", offset)
	}
	delete(a.used, offset)
	a.usedBytes -= size

	index := sort.Search(len(a.free), func(i int) bool {
		return a.free[i].Offset > offset
	})

	s := span{Offset: offset, Size: size}
	mergedWithPrev := index > 0 && a.free[index-1].Offset+a.free[index-1].Size == offset
	mergedWithNext := index < len(a.free) && offset+size == a.free[index].Offset

	switch {
	case mergedWithPrev && mergedWithNext:
		a.free[index-1].Size += size + a.free[index].Size
		a.free = append(a.free[:index], a.free[index+1:]...)
	case mergedWithPrev:
		a.free[index-1].Size += size
	case mergedWithNext:
		a.free[index].Offset = offset
		a.free[index].Size += size
	default:
		a.free = append(a.free, span{})
		copy(a.free[index+1:], a.free[index:])
		a.free[index] = s
	}

	if a.rover >= len(a.free) {
		a.rover = 0
	}
	return nil
}

// Close unmaps the region. Views returned earlier must not be used afterwards.
func (a *Arena) Close() error {
	a.free = nil
	a.used = map[int64]int64{}
	a.usedBytes = 0
	a.data = nil
	return a.unmap()
}

func alignUp(v int64) int64 {
	return (v + alignment - 1) / alignment * alignment
}

func alignDown(v int64) int64 {
	return v / alignment * alignment
}
