package refgraph

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/outofforest/shelf/types"
)

type node struct {
	// children keeps member edges in member order, duplicates included.
	children []types.ObjectID

	// parents maps parent ID to the number of edges it has to this node.
	parents map[types.ObjectID]int
	refs    int

	registered bool
	gone       bool
}

// Graph tracks member edges between records and blobs.
// It is not safe for concurrent use, caller must serialize access.
type Graph struct {
	nodes map[types.ObjectID]*node
}

// New returns new graph.
func New() *Graph {
	return &Graph{
		nodes: map[types.ObjectID]*node{},
	}
}

// Register adds member edges of the sealed record.
func (g *Graph) Register(parent types.ObjectID, children []types.ObjectID) error {
	for _, c := range children {
		if c == parent {
			return errors.Wrapf(types.ErrInvalidArgument, "record %s references itself", parent)
		}
	}
	if p, exists := g.nodes[parent]; exists {
		if p.registered {
			return errors.Wrapf(types.ErrConsistencyViolation, "edges of %s are already registered", parent)
		}
		if p.gone {
			return errors.Wrapf(types.ErrConsistencyViolation, "node %s has been removed", parent)
		}
	}

	p := g.node(parent)
	p.registered = true
	p.children = append([]types.ObjectID(nil), children...)
	for _, c := range children {
		cn := g.node(c)
		cn.parents[parent]++
		cn.refs++
	}
	return nil
}

// Remove drops the node and its outgoing edges. Edges pointing to the node from surviving parents
// stay tracked until those parents are removed too.
func (g *Graph) Remove(id types.ObjectID) {
	n, exists := g.nodes[id]
	if !exists {
		return
	}

	for _, c := range n.children {
		cn := g.nodes[c]
		cn.refs--
		cn.parents[id]--
		if cn.parents[id] == 0 {
			delete(cn.parents, id)
		}
		g.collect(c, cn)
	}
	n.children = nil
	n.registered = false
	n.gone = true
	g.collect(id, n)
}

// Contains returns true if node is tracked by the graph.
func (g *Graph) Contains(id types.ObjectID) bool {
	n, exists := g.nodes[id]
	return exists && !n.gone
}

// RefCount returns the number of member edges pointing to the node.
func (g *Graph) RefCount(id types.ObjectID) int {
	n, exists := g.nodes[id]
	if !exists {
		return 0
	}
	return n.refs
}

// Children returns distinct member IDs of the node in member order.
func (g *Graph) Children(id types.ObjectID) []types.ObjectID {
	n, exists := g.nodes[id]
	if !exists {
		return nil
	}

	seen := make(map[types.ObjectID]struct{}, len(n.children))
	children := make([]types.ObjectID, 0, len(n.children))
	for _, c := range n.children {
		if _, exists := seen[c]; exists {
			continue
		}
		seen[c] = struct{}{}
		children = append(children, c)
	}
	return children
}

// Parents returns sorted IDs of records referencing the node.
func (g *Graph) Parents(id types.ObjectID) []types.ObjectID {
	n, exists := g.nodes[id]
	if !exists {
		return nil
	}
	return sortedKeys(n.parents)
}

// ExternalParents returns sorted IDs of parents of the node which are not in the set.
func (g *Graph) ExternalParents(id types.ObjectID, set map[types.ObjectID]struct{}) []types.ObjectID {
	n, exists := g.nodes[id]
	if !exists {
		return nil
	}

	var parents []types.ObjectID
	for p := range n.parents {
		if _, exists := set[p]; !exists {
			parents = append(parents, p)
		}
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })
	return parents
}

// ComputeClosure returns the set of nodes to delete when roots are deleted. Roots are always included.
// If deep is true, every descendant whose all referencing edges come from inside the set joins it too.
// The empty blob never joins the set as a descendant.
func (g *Graph) ComputeClosure(roots []types.ObjectID, deep bool) map[types.ObjectID]struct{} {
	return g.ComputeClosureKeeping(roots, deep, nil)
}

// ComputeClosureKeeping works like ComputeClosure, but descendants for which keep returns true never join
// the set. Their subtrees stay referenced by them, so they survive too.
func (g *Graph) ComputeClosureKeeping(
	roots []types.ObjectID,
	deep bool,
	keep func(id types.ObjectID) bool,
) map[types.ObjectID]struct{} {
	closure := make(map[types.ObjectID]struct{}, len(roots))
	queue := make([]types.ObjectID, 0, len(roots))
	for _, r := range roots {
		if _, exists := closure[r]; exists {
			continue
		}
		closure[r] = struct{}{}
		queue = append(queue, r)
	}
	if !deep {
		return closure
	}

	// pending counts edges to the node which still come from outside the closure.
	pending := map[types.ObjectID]int{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		n, exists := g.nodes[id]
		if !exists {
			continue
		}
		for _, c := range n.children {
			if _, exists := closure[c]; exists {
				continue
			}
			cn := g.nodes[c]
			if cn.gone || c == types.EmptyBlobID || (keep != nil && keep(c)) {
				continue
			}

			left, counted := pending[c]
			if !counted {
				left = cn.refs
			}
			left--
			pending[c] = left
			if left > 0 {
				continue
			}

			closure[c] = struct{}{}
			queue = append(queue, c)
		}
	}
	return closure
}

// Ancestors returns every node from which any of the IDs is reachable, IDs themselves excluded.
func (g *Graph) Ancestors(ids []types.ObjectID) map[types.ObjectID]struct{} {
	ancestors := map[types.ObjectID]struct{}{}
	queue := append([]types.ObjectID(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		n, exists := g.nodes[id]
		if !exists {
			continue
		}
		for p := range n.parents {
			if _, exists := ancestors[p]; exists {
				continue
			}
			ancestors[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	for _, id := range ids {
		delete(ancestors, id)
	}
	return ancestors
}

// Len returns the number of tracked nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) node(id types.ObjectID) *node {
	n, exists := g.nodes[id]
	if !exists {
		n = &node{parents: map[types.ObjectID]int{}}
		g.nodes[id] = n
	}
	return n
}

// collect drops the node once nothing refers to it and it has no edges of its own.
func (g *Graph) collect(id types.ObjectID, n *node) {
	if n.refs == 0 && !n.registered {
		delete(g.nodes, id)
	}
}

func sortedKeys(m map[types.ObjectID]int) []types.ObjectID {
	keys := make([]types.ObjectID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
