package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure independently of where it happened.
type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "invalid_input"
	KindUnsupportedCapability ErrorKind = "unsupported_capability"
	KindParseFailure          ErrorKind = "parse_failure"
	KindProcessFailure        ErrorKind = "process_failure"
	KindCancelled             ErrorKind = "cancelled"
	KindTimeout               ErrorKind = "timeout"
	KindStorageFailure        ErrorKind = "storage_failure"
	KindInternal              ErrorKind = "internal"
)

// Error is the structured error carried across the adapter boundary. Manager,
// Task and Action name what the error was about; Attribute fills them in when
// the producer left them empty.
type Error struct {
	Kind    ErrorKind
	Manager ID
	Task    TaskKind
	Action  Action
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Manager != "" {
		b.WriteString(string(e.Manager))
		if e.Action != "" {
			b.WriteString(" ")
			b.WriteString(string(e.Action))
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		if e.Message != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind and message. A nil err yields nil.
func Wrap(kind ErrorKind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Bare context
// errors map to cancelled and timeout; anything else is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err is of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Attribute returns err as an *Error whose empty manager, task kind and action
// fields are filled from the request context. Fields the producer already set
// are kept.
func Attribute(err error, id ID, action Action) *Error {
	if err == nil {
		return nil
	}
	var src *Error
	if errors.As(err, &src) {
		out := *src
		if out.Manager == "" {
			out.Manager = id
		}
		if out.Action == "" {
			out.Action = action
		}
		if out.Task == "" {
			out.Task = out.Action.TaskKind()
		}
		return &out
	}
	return &Error{
		Kind:    KindOf(err),
		Manager: id,
		Task:    action.TaskKind(),
		Action:  action,
		Err:     err,
	}
}

// Unsupported returns the error adapters report for an undeclared capability.
func Unsupported(id ID, action Action) *Error {
	return &Error{
		Kind:    KindUnsupportedCapability,
		Manager: id,
		Task:    action.TaskKind(),
		Action:  action,
		Message: "capability not supported",
	}
}
