package mailbox

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed indicates the mailbox rejected or could not obtain credentials
	ErrAuthFailed = errors.New("mailbox authentication failed")
	// ErrTransport indicates a connection or protocol failure talking to the mailbox
	ErrTransport = errors.New("mailbox transport failure")
	// ErrDecode indicates a fetched message could not be parsed
	ErrDecode = errors.New("message decode failed")
)

// AuthError is returned when authentication or token refresh fails.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%v: %v", ErrAuthFailed, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuthFailed }

// TransportError wraps a failure of a single mailbox operation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrTransport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// DecodeError reports a message that could not be parsed. Only that message is skipped.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
