// Package errkind carries the stable, machine-readable error kinds defined
// by the error handling design: every surfaced error wraps one of these so
// a caller can errors.As its way to a kind without parsing message text.
package errkind

import "fmt"

// Kind is a stable, machine-readable error classification.
type Kind string

const (
	ConfigError         Kind = "config_error"
	ManifestMismatch     Kind = "manifest_mismatch"
	UpstreamTimeout      Kind = "upstream_timeout"
	UpstreamFailure      Kind = "upstream_failure"
	AllRetrieversFailed  Kind = "all_retrievers_failed"
	RerankerUnavailable  Kind = "reranker_unavailable"
	BuildConflict        Kind = "build_conflict"
	BuildFailed          Kind = "build_failed"
	CapacityError        Kind = "capacity_error"
)

// Error wraps an underlying error with a stable kind and a short reason,
// following the corpus's fmt.Errorf(...: %w...) wrapping convention while
// adding the one piece plain wrapping can't carry: a kind a caller can
// switch on. No stack traces are attached — client-visible errors carry
// only kind + reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// New creates a kinded error.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap creates a kinded error wrapping an underlying cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so
// errors.Is(err, errkind.New(errkind.BuildConflict, "")) works for
// kind-only matching.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
