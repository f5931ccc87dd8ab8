package types

import "github.com/pkg/errors"

var (
	// ErrNotFound is returned if operation names an ID which is not present in the store.
	ErrNotFound = errors.New("object not found")

	// ErrAlreadySealed is returned on attempt to mutate or seal a sealed record.
	ErrAlreadySealed = errors.New("object has been already sealed")

	// ErrInvalidArgument is returned if metadata is malformed or a request breaks deletion rules.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted is returned if allocation would exceed the memory limit.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrConsistencyViolation signals a broken internal invariant. It is never caused by the caller.
	ErrConsistencyViolation = errors.New("consistency violation")
)
