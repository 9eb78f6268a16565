// Package vectorerr defines the stable error taxonomy shared by every layer
// of the core: graph, storage, WAL, shard, shard tree, embedding, collection
// and store. Transports map a Kind to their own native code space; the core
// itself never produces transport-specific codes.
package vectorerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error category, stable across transports and restarts.
type Kind string

const (
	// Input errors.
	InvalidConfig     Kind = "invalid_config"
	DimensionMismatch Kind = "dimension_mismatch"
	InvalidVector     Kind = "invalid_vector"
	DuplicateId       Kind = "duplicate_id"

	// Lookup errors.
	CollectionNotFound Kind = "collection_not_found"
	VectorNotFound     Kind = "vector_not_found"
	ShardNotFound      Kind = "shard_not_found"

	// State errors.
	AlreadyExists         Kind = "already_exists"
	AlreadySharded        Kind = "already_sharded"
	NotSharded            Kind = "not_sharded"
	SplitNotNeeded        Kind = "split_not_needed"
	MergeWouldExceedLimit Kind = "merge_would_exceed_limit"

	// Durability errors.
	IoError          Kind = "io_error"
	WalCorruption    Kind = "wal_corruption"
	ChecksumMismatch Kind = "checksum_mismatch"
	VersionMismatch  Kind = "version_mismatch"

	// Resource errors.
	Cancelled         Kind = "cancelled"
	DeadlineExceeded  Kind = "deadline_exceeded"
	ResourceExhausted Kind = "resource_exhausted"

	// Integrity errors.
	EmbeddingFailure  Kind = "embedding_failure"
	GraphInconsistent Kind = "graph_inconsistent"
)

// Error is the concrete error type returned by every fallible core
// operation. Op names the operation that failed (e.g. "shard.insert"),
// mirroring the teacher's StoreError{Op, Err} shape, extended with a stable
// Kind so transports can classify failures without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, vectorerr.New(kind, "", nil)) and, more commonly,
// matching against a bare Kind via Is(err, kind).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error for the given operation and cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf constructs an *Error with a formatted message as the cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err (or something it wraps) is a *Error of the given
// Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
