package files

import (
	"errors"
	"fmt"
)

// Error codes returned to callers. They are part of the public contract and
// end up in API responses of the business layer.
const (
	CodeCreateSignedURL     = "FILE_CREATE_SIGNED_URL_ERROR"
	CodeMove                = "FILE_MOVE_ERROR"
	CodeRollbackFailed      = "FILE_ROLLBACK_FAILED"
	CodeRemove              = "FILE_REMOVE_ERROR"
	CodeInvalidPath         = "FILE_INVALID_PATH"
	CodeUnsupportedMimeType = "FILE_UNSUPPORTED_MIME_TYPE"
)

// Sentinels for errors.Is checks. Any *Error with the same Code matches.
var (
	ErrCreateSignedURL     = &Error{Code: CodeCreateSignedURL}
	ErrMove                = &Error{Code: CodeMove}
	ErrRollbackFailed      = &Error{Code: CodeRollbackFailed}
	ErrRemove              = &Error{Code: CodeRemove}
	ErrInvalidPath         = &Error{Code: CodeInvalidPath}
	ErrUnsupportedMimeType = &Error{Code: CodeUnsupportedMimeType}
)

// Error is the single error type returned by the file engine.
type Error struct {
	Code    string
	Message string
	// Path is set when the failure concerns one specific object, e.g. the
	// path that could not be restored during rollback.
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (path %q)", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so callers can compare against the exported sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsFatal reports whether err means storage is left in a state the
// transaction log can no longer describe. Such errors must be surfaced to an
// operator and never retried automatically.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRollbackFailed)
}

// CodeOf extracts the error code from err, or "" if err is not an *Error.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

func newPathError(path, msg string) *Error {
	return &Error{Code: CodeInvalidPath, Message: msg, Path: path}
}
