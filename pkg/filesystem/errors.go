package filesystem

// Error represents a domain error from a file system view.
//
// These are business logic errors (file not found, permission denied, etc.)
// as opposed to transport errors. Command handlers translate Error codes to
// FTP reply codes.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the virtual path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// Is reports whether target is an *Error with the same code, so sentinel
// comparisons work with errors.Is regardless of message and path.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode represents the category of a file system error.
type ErrorCode int

const (
	// CodeNotFound indicates the requested file or directory doesn't exist
	CodeNotFound ErrorCode = iota

	// CodePermission indicates the backend refused access
	CodePermission

	// CodeAlreadyExists indicates an entry with the name already exists
	CodeAlreadyExists

	// CodeNotEmpty indicates a directory is not empty (cannot be removed)
	CodeNotEmpty

	// CodeIsDirectory indicates operation expected a file but got a directory
	CodeIsDirectory

	// CodeNotDirectory indicates operation expected a directory but got a file
	CodeNotDirectory

	// CodeInvalidPath indicates a path the backend cannot represent
	CodeInvalidPath

	// CodeNotSupported indicates operation is not supported by the backend
	// Examples: SetModTime on object storage
	CodeNotSupported

	// CodeIO indicates an I/O error in the backend
	CodeIO
)

// Sentinels for errors.Is checks.
var (
	ErrNotFound      = &Error{Code: CodeNotFound, Message: "no such file or directory"}
	ErrPermission    = &Error{Code: CodePermission, Message: "permission denied"}
	ErrAlreadyExists = &Error{Code: CodeAlreadyExists, Message: "file exists"}
	ErrNotEmpty      = &Error{Code: CodeNotEmpty, Message: "directory not empty"}
	ErrIsDirectory   = &Error{Code: CodeIsDirectory, Message: "is a directory"}
	ErrNotDirectory  = &Error{Code: CodeNotDirectory, Message: "not a directory"}
	ErrInvalidPath   = &Error{Code: CodeInvalidPath, Message: "invalid path"}
	ErrNotSupported  = &Error{Code: CodeNotSupported, Message: "operation not supported"}
	ErrIO            = &Error{Code: CodeIO, Message: "I/O error"}
)

// NewError builds an Error of the given category for path.
func NewError(code ErrorCode, message, path string) *Error {
	return &Error{Code: code, Message: message, Path: path}
}
