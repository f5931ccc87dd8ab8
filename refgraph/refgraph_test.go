package refgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/shelf/types"
)

const (
	blob1 = types.BlobIDMask | 1
	blob2 = types.BlobIDMask | 2
	blob3 = types.BlobIDMask | 3
	empty = types.EmptyBlobID
)

func set(ids ...types.ObjectID) map[types.ObjectID]struct{} {
	s := make(map[types.ObjectID]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func TestRegister(t *testing.T) {
	requireT := require.New(t)

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1, empty, empty}))
	requireT.ErrorIs(g.Register(10, nil), types.ErrConsistencyViolation)
	requireT.ErrorIs(g.Register(11, []types.ObjectID{11}), types.ErrInvalidArgument)

	requireT.Equal(1, g.RefCount(blob1))
	requireT.Equal(2, g.RefCount(empty))
	requireT.Equal([]types.ObjectID{10}, g.Parents(empty))
	requireT.Equal([]types.ObjectID{blob1, empty}, g.Children(10))
	requireT.True(g.Contains(10))
	requireT.True(g.Contains(blob1))
	requireT.False(g.Contains(blob2))
}

func TestRemoveDropsEdges(t *testing.T) {
	requireT := require.New(t)

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1}))
	requireT.NoError(g.Register(11, []types.ObjectID{blob1}))
	requireT.Equal(2, g.RefCount(blob1))

	g.Remove(10)
	requireT.False(g.Contains(10))
	requireT.Equal(1, g.RefCount(blob1))
	requireT.Equal([]types.ObjectID{11}, g.Parents(blob1))

	g.Remove(11)
	requireT.Equal(0, g.RefCount(blob1))
	requireT.Equal(0, g.Len())

	// Removing unknown node does nothing

	g.Remove(12)
}

func TestForceRemovedChildStaysReferenced(t *testing.T) {
	requireT := require.New(t)

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1}))

	g.Remove(blob1)
	requireT.False(g.Contains(blob1))
	requireT.Equal(1, g.RefCount(blob1))

	// Deep closure of the parent skips the removed child.

	requireT.Equal(set(10), g.ComputeClosure([]types.ObjectID{10}, true))

	g.Remove(10)
	requireT.Equal(0, g.Len())
}

func TestShallowClosure(t *testing.T) {
	requireT := require.New(t)

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1}))

	requireT.Equal(set(10), g.ComputeClosure([]types.ObjectID{10}, false))
	requireT.Equal(set(10, blob1), g.ComputeClosure([]types.ObjectID{10, blob1, 10}, false))
}

func TestDeepClosureKeepsSharedChildren(t *testing.T) {
	requireT := require.New(t)

	// Two arrays share blob2, tuple holds array 10 only.
	//
	//   30 -> 10 -> blob1
	//         10 -> blob2 <- 11 -> blob3

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1, blob2}))
	requireT.NoError(g.Register(11, []types.ObjectID{blob2, blob3}))
	requireT.NoError(g.Register(30, []types.ObjectID{10}))

	requireT.Equal(set(30, 10, blob1), g.ComputeClosure([]types.ObjectID{30}, true))
	requireT.Equal(set(11, blob3), g.ComputeClosure([]types.ObjectID{11}, true))

	// Once both parents are deleted the shared blob goes too

	requireT.Equal(set(30, 10, 11, blob1, blob2, blob3), g.ComputeClosure([]types.ObjectID{30, 11}, true))
	requireT.Equal(set(30, 10, 11, blob1, blob2, blob3), g.ComputeClosure([]types.ObjectID{11, 30}, true))
}

func TestDeepClosureDiamond(t *testing.T) {
	requireT := require.New(t)

	//   30 -> 20 -> 10 -> blob1
	//   30 -> 21 -> 10

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1}))
	requireT.NoError(g.Register(20, []types.ObjectID{10}))
	requireT.NoError(g.Register(21, []types.ObjectID{10}))
	requireT.NoError(g.Register(30, []types.ObjectID{20, 21}))

	requireT.Equal(set(30, 20, 21, 10, blob1), g.ComputeClosure([]types.ObjectID{30}, true))
	requireT.Equal(set(20), g.ComputeClosure([]types.ObjectID{20}, true))
}

func TestDeepClosureSkipsEmptyBlob(t *testing.T) {
	requireT := require.New(t)

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{empty, empty}))
	requireT.NoError(g.Register(11, []types.ObjectID{blob1, empty}))
	requireT.NoError(g.Register(30, []types.ObjectID{10, 11}))

	requireT.Equal(set(30, 10, 11, blob1), g.ComputeClosure([]types.ObjectID{30}, true))

	// Explicitly named empty blob is part of the set, the caller decides what to do with it.

	requireT.Equal(set(empty), g.ComputeClosure([]types.ObjectID{empty}, true))
}

func TestDuplicatedEdges(t *testing.T) {
	requireT := require.New(t)

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1, blob1}))
	requireT.NoError(g.Register(11, []types.ObjectID{blob1}))

	requireT.Equal(set(10), g.ComputeClosure([]types.ObjectID{10}, true))
	requireT.Equal(set(10, 11, blob1), g.ComputeClosure([]types.ObjectID{10, 11}, true))

	g.Remove(10)
	requireT.Equal(1, g.RefCount(blob1))
}

func TestExternalParents(t *testing.T) {
	requireT := require.New(t)

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1}))
	requireT.NoError(g.Register(11, []types.ObjectID{blob1}))

	requireT.Equal([]types.ObjectID{10, 11}, g.ExternalParents(blob1, set()))
	requireT.Equal([]types.ObjectID{11}, g.ExternalParents(blob1, set(10)))
	requireT.Empty(g.ExternalParents(blob1, set(10, 11)))
	requireT.Empty(g.ExternalParents(blob2, set()))
}

func TestAncestors(t *testing.T) {
	requireT := require.New(t)

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1}))
	requireT.NoError(g.Register(11, []types.ObjectID{blob2}))
	requireT.NoError(g.Register(20, []types.ObjectID{10, 11}))
	requireT.NoError(g.Register(30, []types.ObjectID{20}))

	requireT.Equal(set(10, 20, 30), g.Ancestors([]types.ObjectID{blob1}))
	requireT.Equal(set(20, 30), g.Ancestors([]types.ObjectID{10, 11}))
	requireT.Empty(g.Ancestors([]types.ObjectID{30}))
	requireT.Empty(g.Ancestors([]types.ObjectID{blob3}))
}

func TestDeepClosureKeeping(t *testing.T) {
	requireT := require.New(t)

	//   30 -> 10 -> blob1
	//   30 -> 11 -> blob2
	//         11 -> blob1

	g := New()
	requireT.NoError(g.Register(10, []types.ObjectID{blob1}))
	requireT.NoError(g.Register(11, []types.ObjectID{blob2, blob1}))
	requireT.NoError(g.Register(30, []types.ObjectID{10, 11}))

	keep := func(id types.ObjectID) bool {
		return id == 11
	}
	requireT.Equal(set(30, 10), g.ComputeClosureKeeping([]types.ObjectID{30}, true, keep))

	// Roots are included even if kept.

	requireT.Equal(set(11, blob2), g.ComputeClosureKeeping([]types.ObjectID{11}, true, keep))
	requireT.Equal(set(30, 10, 11, blob1, blob2), g.ComputeClosureKeeping([]types.ObjectID{30}, true, nil))
}
