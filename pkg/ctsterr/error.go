// Package ctsterr defines the error taxonomy shared by every containust
// package: a small set of kinds (spec.md §7) plus an optional diagnostic
// code for composition-file errors and warnings (spec.md §4.1).
package ctsterr

import "fmt"

// Kind classifies an error into one of the taxonomy buckets from spec.md §7.
type Kind string

const (
	KindIO             Kind = "io"
	KindConfig         Kind = "config"
	KindNotFound       Kind = "not_found"
	KindHashMismatch   Kind = "hash_mismatch"
	KindPermission     Kind = "permission_denied"
	KindSerialization  Kind = "serialization"
	KindInvalidState   Kind = "invalid_state"
)

// Error is the typed error carried across package boundaries. Code is a
// short diagnostic identifier (E001, R006, I002, S001, ...); it is empty
// for errors that don't correspond to a named diagnostic.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Code != "" {
		prefix = e.Code
	}
	if e.Path != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (%s): %v", prefix, e.Message, e.Path, e.Err)
		}
		return fmt.Sprintf("%s: %s (%s)", prefix, e.Message, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func WithPath(kind Kind, code, message, path string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Path: path, Err: err}
}

// NotFound builds a KindNotFound error naming the resource kind and id,
// matching spec.md §3's "carries kind and id" requirement.
func NotFound(resourceKind, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", resourceKind, id)}
}

// HashMismatch builds the I002 integrity-check error from spec.md §4.3/§7.
func HashMismatch(resource, expected, actual string) *Error {
	return &Error{
		Kind:    KindHashMismatch,
		Code:    "I002",
		Message: fmt.Sprintf("hash mismatch for %s: expected %s, got %s", resource, expected, actual),
	}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	if e, ok := err.(*Error); ok {
		return e.Kind == kind
	}
	return false
}

// Code extracts the diagnostic code from err, if any.
func Code(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
