package sync

import "errors"

// ErrorKind classifies a failure per the error-handling taxonomy: it
// distinguishes what the coordinator should do with it (retry, park,
// surface) independent of the underlying cause.
type ErrorKind int

const (
	// KindUnknown is the zero value; treated like KindFatal.
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindAuthentication
	KindNetworkTransient
	KindVersionConflict
	KindIntegrity
	KindLocalIO
	KindStateCorruption
	KindCancellation
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindNetworkTransient:
		return "network-transient"
	case KindVersionConflict:
		return "version-conflict"
	case KindIntegrity:
		return "integrity"
	case KindLocalIO:
		return "local-io"
	case KindStateCorruption:
		return "state-corruption"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind should be handed to the
// retry policy (§4.8) rather than parked or surfaced immediately.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetworkTransient, KindLocalIO:
		return true
	default:
		return false
	}
}

// TransferError wraps a low-level cause with its taxonomy kind. Workers
// convert every failure into a TransferError before returning so the
// coordinator never has to inspect raw errors.
type TransferError struct {
	Kind ErrorKind
	Path RelativePath
	Err  error
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *TransferError) Unwrap() error { return e.Err }

// NewError builds a TransferError for path with the given kind and cause.
func NewError(kind ErrorKind, path RelativePath, cause error) *TransferError {
	return &TransferError{Kind: kind, Path: path, Err: cause}
}

var (
	// ErrCancelled marks a transfer that stopped because its cancel flag
	// was observed at a suspension point. Never surfaced as a user error.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrNoActiveTransfer is returned by cancellation helpers when there is
	// nothing in flight for a path.
	ErrNoActiveTransfer = errors.New("no active transfer for path")

	// ErrQueueClosed is returned by Put/Take once the queue has been closed.
	ErrQueueClosed = errors.New("event queue is closed")
)
