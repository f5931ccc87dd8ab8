package accountant

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/shelf/types"
)

// ViolationHandler is called when accounting invariant is broken.
type ViolationHandler func(err error)

// PanicOnViolation is the default violation handler.
func PanicOnViolation(err error) {
	panic(err)
}

// Accountant tracks memory usage against the fixed limit.
type Accountant struct {
	limit uint64

	mu          sync.Mutex
	usage       uint64
	recount     func() uint64
	onViolation ViolationHandler
}

// New returns new accountant.
func New(limit uint64, onViolation ViolationHandler) *Accountant {
	if onViolation == nil {
		onViolation = PanicOnViolation
	}
	return &Accountant{
		limit:       limit,
		onViolation: onViolation,
	}
}

// SetRecounter sets the function computing the sum of live blob sizes from scratch.
// It is used by Checkpoint when full recount is enabled.
func (a *Accountant) SetRecounter(recount func() uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recount = recount
}

// Limit returns the memory limit.
func (a *Accountant) Limit() uint64 {
	return a.limit
}

// Usage returns current memory usage.
func (a *Accountant) Usage() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.usage
}

// Reserve accounts size bytes if it fits into the limit.
func (a *Accountant) Reserve(size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size > a.limit || a.usage > a.limit-size {
		return errors.Wrapf(types.ErrResourceExhausted, "cannot reserve %d bytes, usage: %d, limit: %d",
			size, a.usage, a.limit)
	}
	a.usage += size
	return nil
}

// Release returns size bytes to the pool.
func (a *Accountant) Release(size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size > a.usage {
		return a.violation(errors.Wrapf(types.ErrConsistencyViolation,
			"releasing %d bytes while only %d are in use", size, a.usage))
	}
	a.usage -= size
	return nil
}

// Verify compares usage with the independently tracked sum of live blob sizes.
func (a *Accountant) Verify(liveBytes uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.verify(liveBytes)
}

// Checkpoint recounts live blobs and verifies usage if full recount is enabled.
func (a *Accountant) Checkpoint() error {
	if !recountOnEveryOperation {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.recount == nil {
		return nil
	}
	return a.verify(a.recount())
}

func (a *Accountant) verify(liveBytes uint64) error {
	if a.usage != liveBytes {
		return a.violation(errors.Wrapf(types.ErrConsistencyViolation,
			"memory usage %d does not match live blob bytes %d", a.usage, liveBytes))
	}
	if a.usage > a.limit {
		return a.violation(errors.Wrapf(types.ErrConsistencyViolation,
			"memory usage %d exceeds limit %d", a.usage, a.limit))
	}
	return nil
}

func (a *Accountant) violation(err error) error {
	a.onViolation(err)
	return err
}
