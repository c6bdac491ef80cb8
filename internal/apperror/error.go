// Package apperror defines the structured application error used across the
// registration API, the catalog of named error descriptors, and the factory
// that normalizes arbitrary Go errors into that shape.
//
// This file holds the error model itself. An *Error is always built from a
// Descriptor (a catalog entry) plus optional typed overrides:
//
//	err := apperror.New(apperror.EmailAlreadyTaken,
//	    apperror.WithMeta("analytics", map[string]any{"source": "registration"}),
//	)
//
// Invariants:
//   - Code is never empty (falls back to UNKNOWN_ERROR).
//   - StatusCode is always a valid HTTP status; 500 when the descriptor omits it.
//   - Meta and StatusCode are server-side only. The envelope package never
//     serializes them.
package apperror

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Type classifies the origin of an error.
type Type string

const (
	// TypeApplication marks errors defined by this application (domain rules,
	// validation, unknown failures).
	TypeApplication Type = "APPLICATION"
	// TypeNetwork marks protocol-level errors that mirror an HTTP status class.
	TypeNetwork Type = "NETWORK"
)

// Descriptor is a catalog entry: the complete, static description of an error.
type Descriptor struct {
	Type       Type
	Code       string
	Message    string
	StatusCode int
	// Meta is free-form server-side context (flags, analytics, offending input).
	Meta map[string]any
	// Errors lists sub-violations, e.g. individual field failures.
	Errors []string
}

// Error is the runtime application error. Instances are created per failed
// request and discarded once the response has been written.
type Error struct {
	Type       Type
	Code       string
	Message    string
	StatusCode int
	Meta       map[string]any
	Errors     []string

	// Stack is captured where the error was constructed. It is only sent to
	// clients when stack exposure is enabled.
	Stack string

	cause error
}

// Override customizes an Error during construction. Overrides are applied in
// order; later overrides win.
type Override func(*Error)

// WithMessage replaces the human-readable message.
func WithMessage(msg string) Override {
	return func(e *Error) { e.Message = msg }
}

// WithErrors replaces the sub-violation list.
func WithErrors(errs ...string) Override {
	return func(e *Error) { e.Errors = append([]string(nil), errs...) }
}

// WithStatus replaces the HTTP status.
func WithStatus(status int) Override {
	return func(e *Error) { e.StatusCode = status }
}

// WithMeta adds one key to Meta. The map is copied so descriptors and other
// errors sharing it are never mutated.
func WithMeta(key string, value any) Override {
	return func(e *Error) {
		m := make(map[string]any, len(e.Meta)+1)
		for k, v := range e.Meta {
			m[k] = v
		}
		m[key] = value
		e.Meta = m
	}
}

// WithCause attaches the underlying error for errors.Is / errors.As and logs.
func WithCause(err error) Override {
	return func(e *Error) { e.cause = err }
}

// New builds an Error from d with the given overrides applied on top.
func New(d Descriptor, overrides ...Override) *Error {
	e := &Error{
		Type:       d.Type,
		Code:       d.Code,
		Message:    d.Message,
		StatusCode: d.StatusCode,
		Meta:       d.Meta,
		Errors:     d.Errors,
		Stack:      callers(3),
	}
	for _, o := range overrides {
		if o != nil {
			o(e)
		}
	}
	e.normalize()
	return e
}

// With returns a copy of e with overrides applied. The receiver is unchanged.
func (e *Error) With(overrides ...Override) *Error {
	cp := *e
	for _, o := range overrides {
		if o != nil {
			o(&cp)
		}
	}
	cp.normalize()
	return &cp
}

func (e *Error) normalize() {
	if strings.TrimSpace(e.Code) == "" {
		e.Code = UnknownError.Code
		if e.Message == "" {
			e.Message = UnknownError.Message
		}
	}
	if e.Type == "" {
		e.Type = TypeApplication
	}
	if e.StatusCode < 100 || e.StatusCode > 599 {
		e.StatusCode = http.StatusInternalServerError
	}
}

// Error implements the error interface as "<CODE>: <message>".
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// callers renders the call stack above New as "func\n\tfile:line" lines.
func callers(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		f, more := frames.Next()
		if f.Function != "" {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
