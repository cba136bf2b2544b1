// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds reported by Compile.
// They can be tested with errors.Is.
var (
	// ErrCycle means that the graph has a cycle.
	ErrCycle = errors.New("graph: cycle")

	// ErrConstraint means that an image usage could not
	// be given a specification that satisfies every
	// constraint placed on it.
	ErrConstraint = errors.New("graph: unsatisfiable image constraint")

	// ErrUnsupported means that the graph requires a feature
	// that is not currently supported (e.g., copying between
	// images of incompatible specifications).
	ErrUnsupported = errors.New("graph: not currently supported")

	// ErrBuilder means that the Graph was used incorrectly
	// while describing a frame.
	ErrBuilder = errors.New("graph: invalid graph description")
)

// CompileError is the error returned by Compile.
// Stage names the compilation step that failed and Kind
// is one of the Err* values.
type CompileError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *CompileError) Error() string { return fmt.Sprintf("graph: %s: %v", e.Stage, e.Err) }
func (e *CompileError) Unwrap() []error { return []error{e.Kind, e.Err} }

func compileErr(stage string, kind, err error) error {
	return &CompileError{Stage: stage, Kind: kind, Err: err}
}

func compileErrf(stage string, kind error, format string, a ...any) error {
	return compileErr(stage, kind, fmt.Errorf(format, a...))
}

// CycleError describes a cycle found while ordering nodes.
// Nodes lists the names of the nodes in the cycle, starting
// and ending at the same node.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return "cycle through nodes " + strings.Join(e.Nodes, " -> ")
}

// ConstraintError identifies the image usage whose constraint
// could not be satisfied.
type ConstraintError struct {
	Image    string
	Consumer string
	State    Constraint
	Reason   string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("image '%s' used by '%s' cannot be placed into a form that satisfies constraints (%s): %v",
		e.Image, e.Consumer, e.Reason, e.State)
}

func newBuilderErr(s string) error { return errors.New("graph: " + s) }
