package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage rejects sends whose text trims to nothing.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrNotReady rejects sends and typing updates before the selected
	// conversation finished initializing.
	ErrNotReady = errors.New("conversation is not ready")
	// ErrSessionInactive rejects operations on a session that was never
	// activated or has been closed.
	ErrSessionInactive = errors.New("session is not active")
	// ErrSelfChat rejects a private conversation with oneself.
	ErrSelfChat = errors.New("cannot start a chat with yourself")
	// ErrUnknownUser is returned when a referenced user has no profile document.
	ErrUnknownUser = errors.New("user not found")
	// ErrNotParticipant rejects sends into a private conversation the sender
	// is not a member of, or that does not exist.
	ErrNotParticipant = errors.New("not a conversation participant")
)

// StoreError wraps a backend failure. Operations failing with a StoreError
// are safe to retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store failure during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeFailure(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// IsRetryable reports whether err is a transient backend failure the caller
// should surface as a retryable state rather than a terminal one.
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
