package session

import "errors"

// Validation errors surfaced synchronously to Session Store callers.
var (
	// ErrInsufficientTokens rejects a submit or retry the balance cannot cover.
	ErrInsufficientTokens = errors.New("session: insufficient tokens")
	// ErrInvalidTransition rejects an operation forbidden by the current status.
	ErrInvalidTransition = errors.New("session: invalid transition")
	// ErrNotFound marks an unknown session id.
	ErrNotFound = errors.New("session: not found")
	// ErrUnknownAnalysisType rejects a submit for an unpriced analysis type.
	ErrUnknownAnalysisType = errors.New("session: unknown analysis type")
)
