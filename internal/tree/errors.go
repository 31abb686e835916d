package tree

import (
	"context"
	"errors"
)

// Structural errors. Deterministic: retrying the same call fails the same way.
var (
	// ErrNotFound indicates a referenced node, parent or type does not exist
	// or has been soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrCycleDetected indicates a move would place a node under itself or
	// one of its descendants.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrTypeNotAllowed indicates the target parent's type forbids children,
	// or the requested type is inactive.
	ErrTypeNotAllowed = errors.New("node type not allowed")

	// ErrDuplicateSibling indicates a live sibling already uses the name or code.
	ErrDuplicateSibling = errors.New("duplicate sibling")

	// ErrHasChildren indicates a non-cascading delete on a node with live children.
	ErrHasChildren = errors.New("node has children")

	// ErrTypeInUse indicates a node type is still referenced by live nodes.
	ErrTypeInUse = errors.New("node type in use")

	// ErrDuplicateType indicates a node type code or name is already taken.
	ErrDuplicateType = errors.New("duplicate node type")

	// ErrValidation indicates malformed input (empty name, bad order index, ...).
	ErrValidation = errors.New("validation failed")
)

// Concurrency and store errors.
var (
	// ErrConflict indicates an optimistic version mismatch or a lost race on
	// a uniqueness constraint.
	ErrConflict = errors.New("concurrency conflict")

	// ErrUnavailable indicates a transient store failure. Eligible for retry.
	ErrUnavailable = errors.New("store unavailable")

	// ErrTimeout indicates the operation ran out of time before commit.
	// Nothing was written.
	ErrTimeout = errors.New("operation timed out")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "NotFound"},
	{ErrCycleDetected, "CycleDetected"},
	{ErrTypeNotAllowed, "TypeNotAllowed"},
	{ErrDuplicateSibling, "DuplicateSibling"},
	{ErrHasChildren, "HasChildren"},
	{ErrTypeInUse, "TypeInUse"},
	{ErrDuplicateType, "DuplicateType"},
	{ErrValidation, "ValidationFailure"},
	{ErrConflict, "ConcurrencyConflict"},
	{ErrTimeout, "Timeout"},
	{ErrUnavailable, "StoreUnavailable"},
}

// KindOf returns the taxonomy name of err, "" for nil and "Internal" for
// errors outside the taxonomy.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timeout"
	}
	return "Internal"
}

// Retryable reports whether err is transient. Invariant violations never are.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
