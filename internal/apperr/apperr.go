// Package apperr defines the error taxonomy shared by the ingestion layers.
//
// Every failure that aborts an ingestion run wraps exactly one of the kind
// sentinels below so callers can decide how to surface it with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks configuration problems: schema or dimension mismatch,
	// missing settings, a document that changed under an existing collection.
	// Re-running without operator action will fail the same way.
	ErrConfig = errors.New("configuration error")
	// ErrTransient marks I/O failures against the embedding service or the
	// vector store. Recovery is re-invocation.
	ErrTransient = errors.New("transient I/O error")
	// ErrData marks input the embedding service refused, usually a chunk
	// above the model's hard limit.
	ErrData = errors.New("data error")
	// ErrProtocol marks a collaborator that answered with the wrong shape,
	// e.g. fewer vectors than texts.
	ErrProtocol = errors.New("protocol violation")
)

var kinds = []error{ErrConfig, ErrData, ErrProtocol, ErrTransient}

// Wrap annotates err with msg and tags it with kind. Returns nil for a nil err.
func Wrap(kind error, msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", msg, kind, err)
}

// New returns a fresh error of the given kind.
func New(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Kind returns the taxonomy sentinel err carries, or nil when it carries none.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName returns a short label for logs and API payloads.
func KindName(err error) string {
	switch Kind(err) {
	case ErrConfig:
		return "configuration"
	case ErrData:
		return "data"
	case ErrProtocol:
		return "protocol"
	case ErrTransient:
		return "transient"
	default:
		return "unknown"
	}
}
