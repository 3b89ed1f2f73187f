// Package fault classifies backend failures so fallback decisions can be made
// on the kind of failure instead of on whatever error happened to surface.
package fault

import "errors"

type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindNetwork
	KindParse
	KindAuth
	KindDimension
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindAuth:
		return "auth"
	case KindDimension:
		return "dimension_mismatch"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

var (
	// ErrDimensionMismatch is reported by collections when a vector's length
	// differs from the length the collection was built with.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexFatal marks an index write that still failed after the one
	// automatic reset-and-retry.
	ErrIndexFatal = errors.New("vector index unrecoverable")

	ErrNotConfigured = errors.New("backend not configured")
)

// Error carries a classified failure. Op names the failing operation,
// e.g. "ollama.embed" or "openai.chat".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain.
// Unclassified dimension mismatches still report KindDimension.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrDimensionMismatch) {
		return KindDimension
	}
	if errors.Is(err, ErrNotConfigured) {
		return KindConfig
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Transport wraps an error returned by an HTTP round trip. Timeouts,
// cancellations and refused connections are all network failures.
func Transport(op string, err error) *Error {
	return New(KindNetwork, op, err)
}

// Status classifies a non-2xx HTTP status code.
func Status(op string, code int, err error) *Error {
	switch code {
	case 401, 403:
		return New(KindAuth, op, err)
	case 400, 422:
		return New(KindParse, op, err)
	case 404:
		return New(KindConfig, op, err)
	default:
		return New(KindNetwork, op, err)
	}
}
