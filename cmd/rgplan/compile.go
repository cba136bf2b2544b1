// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/gviegas/rgraph/driver"
	"github.com/gviegas/rgraph/graph"
)

// planDoc is the printed form of a graph.Plan.
type planDoc struct {
	Culled  int                    `json:"culled"`
	Images  []graph.PhysicalImage  `json:"images"`
	Buffers []graph.PhysicalBuffer `json:"buffers,omitempty"`
	Passes  []passDoc              `json:"passes"`
	Post    *graph.BarrierSet      `json:"post,omitempty"`
}

type passDoc struct {
	Kind         string              `json:"kind"`
	Nodes        []string            `json:"nodes"`
	Extents      driver.Dim3D        `json:"extents"`
	Layers       int                 `json:"layers,omitempty"`
	Pre          *graph.BarrierSet   `json:"pre,omitempty"`
	Attachments  []graph.Attachment  `json:"attachments,omitempty"`
	Subpasses    []driver.Subpass    `json:"subpasses,omitempty"`
	Dependencies []driver.Dependency `json:"dependencies,omitempty"`
}

func newPlanDoc(p *graph.Plan) *planDoc {
	d := &planDoc{
		Culled:  p.Culled(),
		Images:  p.Images,
		Buffers: p.Buffers,
		Passes:  make([]passDoc, len(p.Passes)),
		Post:    p.Post,
	}
	for i := range p.Passes {
		ps := &p.Passes[i]
		names := make([]string, len(ps.Nodes))
		for j, n := range ps.Nodes {
			names[j] = p.NodeName(n)
		}
		d.Passes[i] = passDoc{
			Kind:         ps.Kind.String(),
			Nodes:        names,
			Extents:      ps.Extents,
			Layers:       ps.Layers,
			Pre:          ps.Pre,
			Attachments:  ps.Attachments,
			Subpasses:    ps.Subpasses,
			Dependencies: ps.Dependencies,
		}
	}
	return d
}

// writePlan writes p to w in the given format.
func writePlan(w io.Writer, p *graph.Plan, format string) error {
	switch format {
	case "yaml":
		b, err := yaml.Marshal(newPlanDoc(p))
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case "json":
		b, err := json.MarshalIndent(newPlanDoc(p), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	case "dump":
		p.Dump(funcr.New(func(_, args string) { fmt.Fprintln(w, args) }, funcr.Options{}))
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

func newCompileCmd(o *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compile FILE",
		Short: "Compile a frame description and print the plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, g, mp, err := o.load(args[0], nil)
			if err != nil {
				return err
			}
			p, err := graph.Compile(g, f.SurfaceInfo(), &graph.Options{Log: o.log, Merge: mp})
			if err != nil {
				return err
			}
			o.log.V(1).Info("compiled frame", "file", args[0], "passes", len(p.Passes), "images", len(p.Images))
			return writePlan(cmd.OutOrStdout(), p, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml, json or dump")
	return cmd
}
