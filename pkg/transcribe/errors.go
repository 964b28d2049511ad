package transcribe

import (
	"errors"
	"fmt"
)

// FailureKind classifies session and stream failures for retry decisions.
type FailureKind int

const (
	// KindUnknown marks failures this package cannot classify. Unknown
	// failures are treated as retriable.
	KindUnknown FailureKind = iota

	// KindMalformedRequest marks a request the service rejected as invalid.
	// Retrying an identical request cannot succeed.
	KindMalformedRequest

	// KindTransientChannel marks connection-level failures: network resets,
	// throttling, timeouts. Retriable.
	KindTransientChannel

	// KindSourceIO marks read failures of the audio byte source. Retriable —
	// the source resource itself may recover.
	KindSourceIO

	// KindInvalidDemand marks a non-positive demand request. This is a
	// programmer error on the consumer side.
	KindInvalidDemand
)

// String returns the human-readable name of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case KindMalformedRequest:
		return "malformed-request"
	case KindTransientChannel:
		return "transient-channel"
	case KindSourceIO:
		return "source-io"
	case KindInvalidDemand:
		return "invalid-demand"
	default:
		return "unknown"
	}
}

// Failure is an error carrying a [FailureKind] so the retry loop can decide
// whether reconnecting is worthwhile. Use [NewFailure] to construct one and
// [KindOf] to classify an arbitrary error.
type Failure struct {
	Kind FailureKind
	Err  error
}

// NewFailure wraps err with the given kind.
func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

// Unwrap returns the wrapped cause.
func (f *Failure) Unwrap() error { return f.Err }

// KindOf extracts the [FailureKind] from err. Errors that do not wrap a
// [*Failure] classify as [KindUnknown], which the retry loop treats as
// retriable.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}
