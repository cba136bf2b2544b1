// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package replay records compiled render graphs into
// command buffers.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/gviegas/rgraph/driver"
	"github.com/gviegas/rgraph/graph"
)

func newReplayErr(s string) error { return errors.New("replay: " + s) }

// Executor records plans into command buffers.
// Render passes are created on demand and kept until
// Destroy is called, so that plans that repeat across
// frames reuse them.
// It is not safe for concurrent use.
type Executor struct {
	gpu    driver.GPU
	log    logr.Logger
	passes map[string]driver.RenderPass
}

// New creates a new Executor that creates render passes
// using gpu.
func New(gpu driver.GPU, log logr.Logger) *Executor {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Executor{
		gpu:    gpu,
		log:    log.WithName("replay"),
		passes: make(map[string]driver.RenderPass),
	}
}

// Frame holds the framebuffers created to record a plan.
// It must be destroyed once the GPU is done executing the
// recorded commands.
type Frame struct {
	fbs []driver.Framebuf
}

// Destroy implements driver.Destroyer.
func (f *Frame) Destroy() {
	for _, fb := range f.fbs {
		fb.Destroy()
	}
	f.fbs = nil
}

// passKey identifies a render pass description.
func passKey(p *graph.Pass) string {
	var sb strings.Builder
	for _, a := range p.Attachments {
		fmt.Fprintf(&sb, "a%v/%d/%v/%v/%v/%v;", a.Format, a.Samples, a.Load, a.Store, a.InitialLayout, a.FinalLayout)
	}
	for _, s := range p.Subpasses {
		fmt.Fprintf(&sb, "s%v/%d/%v/%t;", s.Color, s.DS, s.MSR, s.DSRead)
	}
	for _, d := range p.Dependencies {
		fmt.Fprintf(&sb, "d%d/%d/%d/%d/%d/%d;", d.SrcSubpass, d.DstSubpass, d.SyncBefore, d.SyncAfter, d.AccessBefore, d.AccessAfter)
	}
	return sb.String()
}

func (e *Executor) renderPass(p *graph.Pass) (driver.RenderPass, error) {
	key := passKey(p)
	if rp, ok := e.passes[key]; ok {
		return rp, nil
	}
	att := make([]driver.Attachment, len(p.Attachments))
	for i := range p.Attachments {
		att[i] = p.Attachments[i].Attachment
	}
	rp, err := e.gpu.NewRenderPass(att, p.Subpasses, p.Dependencies)
	if err != nil {
		return nil, err
	}
	e.passes[key] = rp
	e.log.V(1).Info("created render pass", "attachments", len(att), "subpasses", len(p.Subpasses))
	return rp, nil
}

// barriers records a barrier set.
func barriers(cb driver.CmdBuffer, b *graph.BarrierSet, res graph.Resources) {
	if len(b.Images) == 0 {
		cb.Barrier([]driver.Barrier{b.Global})
		return
	}
	xs := make([]driver.Transition, len(b.Images))
	for i, ib := range b.Images {
		xs[i] = driver.Transition{
			Barrier:      ib.Barrier,
			LayoutBefore: ib.LayoutBefore,
			LayoutAfter:  ib.LayoutAfter,
			IView:        res.ImageView(ib.Image),
		}
	}
	cb.Transition(xs)
}

// Execute records p into cb.
// res provides the resources bound to the physical images
// and buffers of p. Every physical image must have a view,
// including external ones.
// Node bodies are called in execution order. If a body
// fails, the current pass is ended and the error is
// returned.
func (e *Executor) Execute(ctx context.Context, cb driver.CmdBuffer, p *graph.Plan, res graph.Resources) (*Frame, error) {
	for i := range p.Images {
		if res.ImageView(graph.PhysicalID(i)) == nil {
			return nil, newReplayErr(fmt.Sprintf("no image view bound to physical image %d", i))
		}
	}
	f := new(Frame)
	for i := range p.Passes {
		if err := ctx.Err(); err != nil {
			f.Destroy()
			return nil, err
		}
		pass := &p.Passes[i]
		if pass.Pre != nil {
			barriers(cb, pass.Pre, res)
		}
		var err error
		switch pass.Kind {
		case graph.RenderPass:
			err = e.render(f, cb, p, i, res)
		case graph.ComputePass:
			cb.BeginWork(false)
			err = e.record(cb, p, pass.Nodes[0], i, 0, res)
			cb.EndWork()
		}
		if err != nil {
			f.Destroy()
			return nil, err
		}
	}
	if p.Post != nil {
		barriers(cb, p.Post, res)
	}
	e.log.V(2).Info("recorded plan", "passes", len(p.Passes))
	return f, nil
}

func (e *Executor) render(f *Frame, cb driver.CmdBuffer, p *graph.Plan, index int, res graph.Resources) error {
	pass := &p.Passes[index]
	rp, err := e.renderPass(pass)
	if err != nil {
		return err
	}
	views := make([]driver.ImageView, len(pass.Attachments))
	clear := make([]driver.ClearValue, len(pass.Attachments))
	for i := range pass.Attachments {
		views[i] = res.ImageView(pass.Attachments[i].Image)
		clear[i] = pass.Attachments[i].Clear
	}
	fb, err := rp.NewFB(views, pass.Extents.Width, pass.Extents.Height, pass.Layers)
	if err != nil {
		return err
	}
	f.fbs = append(f.fbs, fb)

	cb.BeginPass(rp, fb, clear)
	defer cb.EndPass()
	for si, n := range pass.Nodes {
		if si > 0 {
			cb.NextSubpass()
		}
		if err := e.record(cb, p, n, index, si, res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) record(cb driver.CmdBuffer, p *graph.Plan, n graph.NodeID, pass, subpass int, res graph.Resources) error {
	body := p.Body(n)
	if body == nil {
		return nil
	}
	err := body.Record(&graph.Context{
		Cmd:       cb,
		Plan:      p,
		Node:      n,
		Pass:      pass,
		Subpass:   subpass,
		Resources: res,
	})
	if err != nil {
		return fmt.Errorf("replay: node '%s': %w", p.NodeName(n), err)
	}
	return nil
}

// Destroy destroys the render passes created by e.
func (e *Executor) Destroy() {
	for k, rp := range e.passes {
		rp.Destroy()
		delete(e.passes, k)
	}
}

// Len returns the number of render passes held by e.
func (e *Executor) Len() int { return len(e.passes) }

var errNoPlan = newReplayErr("nil plan")

// Run records p and destroys the framebuffers of the frame
// as soon as recording is done.
// It is meant for drivers that execute commands as they
// are recorded, such as package null.
func (e *Executor) Run(ctx context.Context, cb driver.CmdBuffer, p *graph.Plan, res graph.Resources) error {
	if p == nil {
		return errNoPlan
	}
	f, err := e.Execute(ctx, cb, p, res)
	if err != nil {
		return err
	}
	f.Destroy()
	return nil
}
