package connector

import (
	"errors"
	"fmt"
)

// Error kinds. Errors returned by a Connector wrap one of these so callers
// can branch with errors.Is. A TransferError also matches the kind of its cause.
var (
	// ErrConfiguration means the connector cannot be built from its options.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupported means the caller asked for a feature the connector lacks.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrTransport means the request to the target did not complete.
	ErrTransport = errors.New("transport error")

	// ErrProtocol means the target answered with something we cannot interpret.
	ErrProtocol = errors.New("protocol error")

	// ErrTransfer means a file upload or download failed.
	ErrTransfer = errors.New("transfer error")
)

// Error is a classified connector failure.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error

	// Op names the operation that failed, e.g. "execute".
	Op string

	// Err is the underlying cause.
	Err error
}

// NewError creates a classified error.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf creates a classified error with a formatted cause.
func Errorf(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// TransferError represents a failed file transfer between Src and Dst.
type TransferError struct {
	Src string
	Dst string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("failed to transfer file from %s to %s: %v", e.Src, e.Dst, e.Err)
}

// Unwrap reports ErrTransfer along with the underlying cause.
func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}
