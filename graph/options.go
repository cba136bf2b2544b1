// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"github.com/go-logr/logr"
)

// Options is used to configure Compile.
type Options struct {
	// Log receives the compiler's diagnostics.
	// Stage summaries are logged at V(1) and individual
	// decisions at V(2).
	//
	// Default is logr.Discard().
	Log logr.Logger

	// Merge decides which graphics nodes execute as
	// subpasses of a common render pass.
	//
	// Default is NeverMerge.
	Merge MergePolicy

	// Metrics, if not nil, is updated on every call to
	// Compile.
	//
	// Default is nil.
	Metrics *Metrics
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Log:     logr.Discard(),
		Merge:   NeverMerge,
		Metrics: nil,
	}
}

// fill replaces unset fields of o with defaults.
func (o Options) fill() Options {
	if o.Log.GetSink() == nil {
		o.Log = logr.Discard()
	}
	if o.Merge == nil {
		o.Merge = NeverMerge
	}
	return o
}
