// Package fserr defines the error type shared by every filesystem in the VFS.
//
// All domain failures (bad address, missing node, lost connection) are
// reported as *Error with a Code. Callers match on categories with errors.Is
// against the exported sentinels:
//
//	if errors.Is(err, fserr.FileNotFound) { ... }
//
// Infrastructure failures from collaborators (disk, network, codec) are
// wrapped in an *Error when they cross a filesystem boundary so the original
// cause stays reachable through errors.Unwrap.
package fserr

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of a filesystem error.
type ErrorCode int

const (
	// ErrMalformedAddress indicates a URI could not be parsed into an address
	ErrMalformedAddress ErrorCode = iota + 1

	// ErrInvalidPath indicates path normalization failed, typically because
	// a ".." segment tried to climb above the filesystem root
	ErrInvalidPath

	// ErrNodeTypeNotSupported indicates a filesystem cannot create a node of
	// the requested type
	ErrNodeTypeNotSupported

	// ErrFileNotFound indicates the file does not exist
	ErrFileNotFound

	// ErrDirectoryNotFound indicates a directory (often the parent of the
	// target node) does not exist
	ErrDirectoryNotFound

	// ErrConnection indicates a remote client could not be connected
	ErrConnection

	// ErrReadOnly indicates a write was attempted on a read-only filesystem
	ErrReadOnly

	// ErrClosed indicates the filesystem has already been closed
	ErrClosed

	// ErrNotSupported indicates the operation is not implemented by the
	// filesystem or collaborator
	ErrNotSupported

	// ErrAlreadyExists indicates a node with the same name exists
	ErrAlreadyExists

	// ErrNotEmpty indicates a directory is not empty
	ErrNotEmpty
)

var codeNames = map[ErrorCode]string{
	ErrMalformedAddress:     "malformed address",
	ErrInvalidPath:          "invalid path",
	ErrNodeTypeNotSupported: "node type not supported",
	ErrFileNotFound:         "file not found",
	ErrDirectoryNotFound:    "directory not found",
	ErrConnection:           "connection error",
	ErrReadOnly:             "read-only filesystem",
	ErrClosed:               "filesystem closed",
	ErrNotSupported:         "operation not supported",
	ErrAlreadyExists:        "already exists",
	ErrNotEmpty:             "directory not empty",
}

// String returns a human readable name for the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Error represents a domain error from a filesystem operation.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the address or path related to the error (if applicable)
	Path string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Path != "" {
		msg = msg + ": " + e.Path
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is matching. They carry no path.
var (
	MalformedAddress     = &Error{Code: ErrMalformedAddress}
	InvalidPath          = &Error{Code: ErrInvalidPath}
	NodeTypeNotSupported = &Error{Code: ErrNodeTypeNotSupported}
	FileNotFound         = &Error{Code: ErrFileNotFound}
	DirectoryNotFound    = &Error{Code: ErrDirectoryNotFound}
	Connection           = &Error{Code: ErrConnection}
	ReadOnly             = &Error{Code: ErrReadOnly}
	Closed               = &Error{Code: ErrClosed}
	NotSupported         = &Error{Code: ErrNotSupported}
	AlreadyExists        = &Error{Code: ErrAlreadyExists}
	NotEmpty             = &Error{Code: ErrNotEmpty}
)

// New creates an error with the given code, message and path.
func New(code ErrorCode, message, path string) *Error {
	return &Error{Code: code, Message: message, Path: path}
}

// Wrap creates an error with the given code that wraps cause.
func Wrap(code ErrorCode, cause error, path string) *Error {
	return &Error{Code: code, Path: path, Err: cause}
}

func NewMalformedAddress(uri, reason string) *Error {
	return &Error{Code: ErrMalformedAddress, Message: "malformed address (" + reason + ")", Path: uri}
}

func NewInvalidPath(path, reason string) *Error {
	return &Error{Code: ErrInvalidPath, Message: reason, Path: path}
}

func NewNodeTypeNotSupported(path string, nodeType fmt.Stringer) *Error {
	return &Error{Code: ErrNodeTypeNotSupported, Message: "node type " + nodeType.String() + " not supported", Path: path}
}

func NewFileNotFound(path string) *Error {
	return &Error{Code: ErrFileNotFound, Path: path}
}

func NewDirectoryNotFound(path string) *Error {
	return &Error{Code: ErrDirectoryNotFound, Path: path}
}

func NewConnection(endpoint string, cause error) *Error {
	return &Error{Code: ErrConnection, Message: "cannot connect", Path: endpoint, Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsNotFound reports whether err is a file or directory not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, FileNotFound) || errors.Is(err, DirectoryNotFound)
}
