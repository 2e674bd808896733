// Package diag defines the compile errors reported by the pipeline compiler.
//
// Every error is an *Error carrying one of the sentinel kinds below, the
// compilation phase that detected it and the id of the offending entity.
// Callers match kinds with errors.Is.
package diag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidDefinition   = errors.New("pipeline: invalid definition")
	ErrUnresolvedParameter = errors.New("pipeline: unresolved parameter")
	ErrCyclicParameter     = errors.New("pipeline: cyclic parameter")
	ErrInvalidStepOrder    = errors.New("pipeline: invalid step order")
	ErrUnknownAxisToken    = errors.New("pipeline: unknown axis token")
	ErrDuplicateJobID      = errors.New("pipeline: duplicate job id")
	ErrUnknownTemplate     = errors.New("pipeline: unknown template")
	ErrEmptyPipeline       = errors.New("pipeline: empty pipeline")
	ErrUnsupportedFeature  = errors.New("pipeline: unsupported feature")
)

// Phase names a step of the compilation state machine.
type Phase string

const (
	PhaseParse      Phase = "parse"
	PhaseParameters Phase = "parameters"
	PhaseTemplates  Phase = "templates"
	PhaseMatrix     Phase = "matrix"
	PhaseGraph      Phase = "graph"
	PhaseEmit       Phase = "emit"
)

// Error is a compile error. Kind is one of the package sentinels.
type Error struct {
	Kind   error
	Phase  Phase
	Entity string
	// Names lists the parameters, axes or step ids involved, when relevant.
	Names  []string
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", e.Kind, e.Phase)
	if e.Entity != "" {
		fmt.Fprintf(&b, " %s", e.Entity)
	}
	if len(e.Names) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Names, ", "))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// New builds an *Error.
func New(kind error, phase Phase, entity string, names ...string) *Error {
	return &Error{Kind: kind, Phase: phase, Entity: entity, Names: names}
}

// WithDetail sets a human readable detail and returns e.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithEntity returns a copy of err with Entity set when err is an *Error
// that does not name one yet. Other errors are returned unchanged.
func WithEntity(err error, entity string) error {
	var de *Error
	if !errors.As(err, &de) || de.Entity != "" {
		return err
	}
	cp := *de
	cp.Entity = entity
	return &cp
}

// PhaseOf reports the phase recorded on err, if any.
func PhaseOf(err error) (Phase, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Phase, true
	}
	return "", false
}
