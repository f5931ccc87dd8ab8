package deletion

import (
	"log/slog"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/outofforest/shelf/blobstore"
	"github.com/outofforest/shelf/directory"
	"github.com/outofforest/shelf/keystore"
	"github.com/outofforest/shelf/persistence"
	"github.com/outofforest/shelf/refgraph"
	"github.com/outofforest/shelf/types"
)

// Options configures deletion policy.
type Options struct {
	// ForceRemovesOwners makes force deletion remove every live record from which a forced target
	// is reachable, instead of leaving dangling members in them.
	ForceRemovesOwners bool
}

// Result describes what has been removed by DelData.
type Result struct {
	Records    []types.ObjectID
	Blobs      []types.ObjectID
	FreedBytes uint64
}

// Engine executes deletion requests.
// It is not safe for concurrent use, caller must hold exclusive access to all the components.
type Engine struct {
	dir     *directory.Directory
	graph   *refgraph.Graph
	blobs   *blobstore.Store
	tracker *persistence.Tracker
	keys    *keystore.Store
	log     *slog.Logger
	opts    Options
}

// New creates new deletion engine.
func New(
	dir *directory.Directory,
	graph *refgraph.Graph,
	blobs *blobstore.Store,
	tracker *persistence.Tracker,
	keys *keystore.Store,
	log *slog.Logger,
	opts Options,
) *Engine {
	return &Engine{
		dir:     dir,
		graph:   graph,
		blobs:   blobs,
		tracker: tracker,
		keys:    keys,
		log:     log,
		opts:    opts,
	}
}

// DelData deletes objects. Either all the requested objects are deleted or none of them.
//
// Without force, target referenced by a record which is not deleted in the same call is rejected.
// With deep, descendants reachable exclusively from deleted objects are deleted too.
// The empty blob is never freed.
func (e *Engine) DelData(ids []types.ObjectID, force, deep bool) (Result, error) {
	return e.delete(ids, force, deep, nil)
}

// Collect deep-deletes roots without force. Persisted records reached from the roots are kept
// together with everything they reference.
func (e *Engine) Collect(roots []types.ObjectID) (Result, error) {
	return e.delete(roots, false, true, e.isPersisted)
}

func (e *Engine) delete(ids []types.ObjectID, force, deep bool, keep func(id types.ObjectID) bool) (Result, error) {
	targets, err := e.validate(ids)
	if err != nil {
		return Result{}, err
	}

	if force && e.opts.ForceRemovesOwners {
		for id := range e.graph.Ancestors(targets) {
			if e.dir.Exists(id) {
				targets = append(targets, id)
			}
		}
		sortIDs(targets)
	}

	closure := e.graph.ComputeClosureKeeping(targets, deep, keep)

	if !force {
		for _, id := range targets {
			if id == types.EmptyBlobID {
				continue
			}
			if parents := e.graph.ExternalParents(id, closure); len(parents) > 0 {
				return Result{}, errors.Wrapf(types.ErrInvalidArgument, "%s is referenced by %v", id, parents)
			}
		}
	}

	var result Result
	var tombstones []types.ObjectID
	for _, id := range sortedSet(closure) {
		switch {
		case id == types.EmptyBlobID:
		case id.IsBlob():
			result.Blobs = append(result.Blobs, id)
		default:
			r, err := e.dir.Get(id)
			if err != nil {
				return Result{}, errors.Wrapf(types.ErrConsistencyViolation, "record %s from the closure: %s", id, err)
			}
			result.Records = append(result.Records, id)
			if r.Persisted {
				tombstones = append(tombstones, id)
			}
		}
	}

	// Journal goes first, failure leaves the store untouched.
	if err := e.tracker.Forget(tombstones); err != nil {
		return Result{}, err
	}

	for _, id := range result.Records {
		if err := e.dir.Remove(id); err != nil {
			return result, errors.Wrapf(types.ErrConsistencyViolation, "removing record %s: %s", id, err)
		}
		e.graph.Remove(id)
		e.keys.DeleteObject(id)
	}
	for _, id := range result.Blobs {
		b, exists := e.blobs.Get(id)
		if !exists {
			return result, errors.Wrapf(types.ErrConsistencyViolation, "blob %s from the closure does not exist", id)
		}
		if err := e.blobs.Release(id); err != nil {
			return result, err
		}
		e.graph.Remove(id)
		e.keys.DeleteObject(id)
		result.FreedBytes += b.Size
	}

	e.log.Debug("Objects deleted",
		"requested", len(ids),
		"records", len(result.Records),
		"blobs", len(result.Blobs),
		"freed", humanize.IBytes(result.FreedBytes),
		"force", force,
		"deep", deep)

	return result, nil
}

func (e *Engine) isPersisted(id types.ObjectID) bool {
	if id.IsBlob() {
		return false
	}
	persisted, err := e.tracker.IsPersisted(id)
	return err == nil && persisted
}

// validate checks that every ID exists and returns distinct IDs sorted.
func (e *Engine) validate(ids []types.ObjectID) ([]types.ObjectID, error) {
	if len(ids) == 0 {
		return nil, errors.Wrap(types.ErrInvalidArgument, "no objects to delete")
	}

	seen := make(map[types.ObjectID]struct{}, len(ids))
	targets := make([]types.ObjectID, 0, len(ids))
	for _, id := range ids {
		if _, exists := seen[id]; exists {
			continue
		}
		seen[id] = struct{}{}

		switch {
		case id == types.InvalidObjectID:
			return nil, errors.Wrap(types.ErrInvalidArgument, "invalid object ID")
		case id.IsBlob():
			if !e.blobs.Exists(id) {
				return nil, errors.Wrapf(types.ErrNotFound, "blob %s", id)
			}
		default:
			if !e.dir.Exists(id) {
				return nil, errors.Wrapf(types.ErrNotFound, "record %s", id)
			}
		}
		targets = append(targets, id)
	}
	sortIDs(targets)
	return targets, nil
}

func sortedSet(set map[types.ObjectID]struct{}) []types.ObjectID {
	ids := make([]types.ObjectID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []types.ObjectID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
