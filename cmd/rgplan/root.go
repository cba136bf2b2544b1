// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package main

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gviegas/rgraph/graph"
	"github.com/gviegas/rgraph/internal/frame"
)

type rootOptions struct {
	verbosity int
	merge     string
	log       logr.Logger
	sync      func()
}

// newRootCmd creates the rgplan command.
// If log is nil, a zap logger writing to stderr is
// created from the verbosity flag.
func newRootCmd(log *logr.Logger) *cobra.Command {
	o := &rootOptions{sync: func() {}}
	cmd := &cobra.Command{
		Use:           "rgplan",
		Short:         "rgplan compiles render graph frame descriptions",
		SilenceUsage:  true,
		SilenceErrors: log != nil,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if log != nil {
				o.log = *log
				return nil
			}
			l, sync, err := newLogger(o.verbosity)
			if err != nil {
				return err
			}
			o.log, o.sync = l, sync
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) { o.sync() },
	}
	cmd.PersistentFlags().IntVarP(&o.verbosity, "verbosity", "v", 0, "log verbosity (1 for stage summaries, 2 for every decision)")
	cmd.PersistentFlags().StringVar(&o.merge, "merge", "", `merge policy overriding the frame's ("never" or "attachment")`)

	cmd.AddCommand(newCompileCmd(o), newReplayCmd(o))
	return cmd
}

func newLogger(verbosity int) (logr.Logger, func(), error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	cfg.DisableStacktrace = true
	z, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return zapr.NewLogger(z), func() { _ = z.Sync() }, nil
}

// load reads a frame file and builds its graph.
func (o *rootOptions) load(path string, body frame.BodyFunc) (*frame.Frame, *graph.Graph, graph.MergePolicy, error) {
	f, err := frame.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}
	if o.merge != "" {
		f.Merge = o.merge
	}
	mp, err := f.MergePolicy()
	if err != nil {
		return nil, nil, nil, err
	}
	g, err := f.Graph(body)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build graph: %w", err)
	}
	return f, g, mp, nil
}
