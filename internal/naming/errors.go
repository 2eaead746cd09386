package naming

import "fmt"

// Kind classifies a naming registry error.
type Kind int

const (
	// KindNotFound means the referenced instance or service is absent.
	KindNotFound Kind = iota
	// KindInvariantViolation means an operation would break a registry
	// invariant (e.g. a polarity change).
	KindInvariantViolation
	// KindUnavailable means the registry cannot currently serve the
	// request (loading a snapshot, or this node cannot accept writes).
	KindUnavailable
	// KindTimeout means a Raft proposal did not commit within its deadline.
	KindTimeout
	// KindForbidden means namespace privilege denies the operation.
	KindForbidden
	// KindProbeFailed is reported internally by the sniffer as success=false;
	// it never crosses the registry's public error surface directly.
	KindProbeFailed
	// KindDecodeError means a malformed record was read from the log or a
	// snapshot.
	KindDecodeError
	// KindEncodeError means a record could not be serialized.
	KindEncodeError
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvariantViolation:
		return "InvariantViolation"
	case KindUnavailable:
		return "Unavailable"
	case KindTimeout:
		return "Timeout"
	case KindForbidden:
		return "Forbidden"
	case KindProbeFailed:
		return "ProbeFailed"
	case KindDecodeError:
		return "DecodeError"
	case KindEncodeError:
		return "EncodeError"
	default:
		return "Unknown"
	}
}

// Error is the registry's typed error. Callers identify error classes
// with errors.Is against the Kind sentinel wrappers below, or by calling
// As and inspecting Kind directly.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, naming.ErrNotFound) style checks against the
// Kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds an *Error for op, wrapping err (which may be nil).
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinel errors for errors.Is comparisons, e.g. errors.Is(err, naming.ErrNotFound).
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvariantViolation = &Error{Kind: KindInvariantViolation}
	ErrUnavailable        = &Error{Kind: KindUnavailable}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrDecodeError        = &Error{Kind: KindDecodeError}
	ErrEncodeError        = &Error{Kind: KindEncodeError}
)
