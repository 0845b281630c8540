package types

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// FAILURE TAXONOMY
// =============================================================================
//
// Every stage of the snippet pipeline (rewrite, transpile, bind, execute,
// display) reports problems as a *Failure. The executor boundary converts
// anything else (goja exceptions, Go panics, context errors) into one, so the
// render host only ever sees a RenderOutcome.

// FailureKind classifies where and how a snippet failed.
type FailureKind string

const (
	SyntaxFailure        FailureKind = "syntax"         // rewrite/transpile stage
	MissingEntityFailure FailureKind = "missing_entity" // no evaluable entity produced a value
	RuntimeFailure       FailureKind = "runtime"        // execution, network fetch, persistence
	ObjectRenderFailure  FailureKind = "object_render"  // plain data reached the display boundary
)

// Location is a 1-based line / 0-based column position inside compiled or raw source.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (l Location) String() string {
	return fmt.Sprintf("line %d, column %d", l.Line, l.Column)
}

// Failure is the structured error carried by a Failed outcome.
type Failure struct {
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Location *Location   `json:"location,omitempty"`
	Stack    string      `json:"stack,omitempty"`
	// Keys lists the enumerable keys of the offending value for ObjectRenderFailure.
	Keys  []string `json:"keys,omitempty"`
	cause error
}

func (f *Failure) Error() string {
	if f.Location != nil {
		return fmt.Sprintf("%s: %s (at %s)", f.Kind, f.Message, f.Location)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.cause }

// NewFailure builds a Failure of the given kind.
func NewFailure(kind FailureKind, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapFailure builds a Failure that keeps err reachable through errors.Is/As.
func WrapFailure(kind FailureKind, err error) *Failure {
	if err == nil {
		return nil
	}
	var existing *Failure
	if errors.As(err, &existing) {
		return existing
	}
	return &Failure{Kind: kind, Message: err.Error(), cause: err}
}

// WithLocation returns f with a source location attached.
func (f *Failure) WithLocation(line, column int) *Failure {
	f.Location = &Location{Line: line, Column: column}
	return f
}

// WithStack returns f with a stack trace attached.
func (f *Failure) WithStack(stack string) *Failure {
	f.Stack = strings.TrimSpace(stack)
	return f
}

// AsFailure extracts a *Failure from err, classifying unknown errors as fallback.
func AsFailure(err error, fallback FailureKind) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return WrapFailure(fallback, err)
}

// IsKind reports whether err carries a Failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}

// =============================================================================
// RENDER OUTCOME
// =============================================================================

// RenderOutcome is the tagged result of one pipeline pass: either a renderable
// value or a failure record, never both.
type RenderOutcome struct {
	Value   interface{}
	Failure *Failure
}

// Rendered wraps a successful value.
func Rendered(value interface{}) RenderOutcome {
	return RenderOutcome{Value: value}
}

// Failed wraps a failure.
func Failed(f *Failure) RenderOutcome {
	return RenderOutcome{Failure: f}
}

// OK reports whether the outcome is Rendered.
func (o RenderOutcome) OK() bool {
	return o.Failure == nil
}

// Kind returns the failure kind, or "" for Rendered outcomes.
func (o RenderOutcome) Kind() FailureKind {
	if o.Failure == nil {
		return ""
	}
	return o.Failure.Kind
}
