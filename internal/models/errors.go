package models

import (
	"errors"
	"fmt"
)

// Kind classifies a workflow failure for callers at the HTTP boundary.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindPersistence       Kind = "persistence"
	KindBroadcast         Kind = "broadcast"
)

// ErrorClassifier lets an error declare its Kind.
type ErrorClassifier interface {
	ErrorKind() string
}

// Error is the structured failure returned by workflow operations.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorKind() string { return string(e.Kind) }

func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func InvalidTransition(op, msg string) *Error {
	return &Error{Kind: KindInvalidTransition, Op: op, Msg: msg}
}

func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func Conflict(op, msg string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Msg: msg, Err: err}
}

func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// KindOf extracts the classification of err. Unclassified errors are
// treated as persistence failures since they originate below the core.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return Kind(classifier.ErrorKind())
	}
	return KindPersistence
}

// IsKind reports whether err is classified as k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
