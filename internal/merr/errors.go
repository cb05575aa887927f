// Package merr defines the error kinds used across the service.
// Components return these sentinels wrapped with context via
// fmt.Errorf("...: %w", ...) so that callers can still use errors.Is
// against the kind.
package merr

import "errors"

var (
	// ErrStoreUnavailable means a backing store (relational or vector)
	// could not be reached or is circuit-broken open. Transient; callers
	// may retry.
	ErrStoreUnavailable = errors.New("relational store unavailable")

	// ErrEmbedUnavailable means the embedder call failed transiently.
	// Callers must retry with bounded exponential backoff before giving up.
	ErrEmbedUnavailable = errors.New("embedder unavailable")

	// ErrEmbedInvalid means the embedder rejected the input permanently
	// (e.g. empty text). Never retried.
	ErrEmbedInvalid = errors.New("embedder input invalid")

	// ErrSemanticUnavailable means a read degraded to exact-only because
	// the vector store or embedder could not serve the request in time.
	ErrSemanticUnavailable = errors.New("semantic search unavailable")

	// ErrNotFound means the requested id has no row in the relational store.
	ErrNotFound = errors.New("memory not found")

	// ErrConflict means a Put was attempted with an id that already exists.
	ErrConflict = errors.New("memory id already exists")

	// ErrInvalid means the caller supplied a malformed request.
	ErrInvalid = errors.New("invalid request")

	// ErrTimeout means the operation's deadline was exceeded.
	ErrTimeout = errors.New("operation timed out")

	// ErrQuarantined means the row has been excluded from sweeps and
	// retrieval after repeated repair or sweep failures.
	ErrQuarantined = errors.New("memory quarantined")
)

// Transient reports whether err represents a condition the caller
// should retry with backoff.
func Transient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrEmbedUnavailable) ||
		errors.Is(err, ErrTimeout)
}
