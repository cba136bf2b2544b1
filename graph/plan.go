// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/gviegas/rgraph/driver"
)

// SurfaceInfo describes the presentation surface.
// Images whose extents are SurfaceExtents (or unset) get
// the surface size, and outputs whose format is unset get
// the surface format.
type SurfaceInfo struct {
	Extents driver.Dim3D
	Format  driver.PixelFmt
}

// Plan is the result of compiling a Graph.
type Plan struct {
	// Passes contains the passes to execute, in order.
	Passes []Pass
	// Images and Buffers describe the resources that must
	// be allocated. They are indexed by PhysicalID and
	// PhysicalBufferID, respectively.
	Images  []PhysicalImage
	Buffers []PhysicalBuffer
	// Post, if not nil, must be recorded after the last
	// pass. It transitions outputs into their final layouts.
	Post *BarrierSet

	passOf    map[NodeID][2]int
	usagePhys map[UsageID]PhysicalID
	usageBuf  map[BufferID]PhysicalBufferID
	names     []string
	bodies    []Body
	culled    int
	barriers  int
}

// PassOf returns the pass and subpass in which node n
// executes. ok is false if n was culled.
func (p *Plan) PassOf(n NodeID) (pass, subpass int, ok bool) {
	x, ok := p.passOf[n]
	return x[0], x[1], ok
}

// Image returns the physical image bound to usage u.
func (p *Plan) Image(u UsageID) (PhysicalID, bool) {
	id, ok := p.usagePhys[u]
	return id, ok
}

// Buffer returns the physical buffer bound to usage b.
func (p *Plan) Buffer(b BufferID) (PhysicalBufferID, bool) {
	id, ok := p.usageBuf[b]
	return id, ok
}

// Body returns the body of node n, or nil if it has none.
func (p *Plan) Body(n NodeID) Body {
	if n < 0 || int(n) >= len(p.bodies) {
		return nil
	}
	return p.bodies[n]
}

// NodeName returns the name of node n.
func (p *Plan) NodeName(n NodeID) string {
	if n < 0 || int(n) >= len(p.names) {
		return "output"
	}
	return p.names[n]
}

// Culled returns the number of nodes that were removed
// because they contribute to no output.
func (p *Plan) Culled() int { return p.culled }

// Dump logs a description of the plan.
func (p *Plan) Dump(log logr.Logger) {
	for i := range p.Images {
		img := &p.Images[i]
		log.Info("image", "id", i, "spec", img.Spec.String(), "output", img.Output, "external", img.External, "final", img.FinalLayout)
	}
	for i := range p.Buffers {
		b := &p.Buffers[i]
		log.Info("buffer", "id", i, "name", b.Name, "size", b.Spec.Size, "output", b.Output)
	}
	for i := range p.Passes {
		ps := &p.Passes[i]
		if ps.Pre != nil {
			log.Info("barrier", "pass", i, "set", ps.Pre.String())
		}
		names := make([]string, len(ps.Nodes))
		for j, n := range ps.Nodes {
			names[j] = p.NodeName(n)
		}
		log.Info("pass", "index", i, "kind", ps.Kind, "nodes", names)
		for j := range ps.Attachments {
			a := &ps.Attachments[j]
			log.Info("attachment", "pass", i, "index", j, "image", a.Image, "format", a.Format,
				"load", a.Load[0], "store", a.Store[0], "initial", a.InitialLayout, "final", a.FinalLayout)
		}
		for _, d := range ps.Dependencies {
			log.Info("dependency", "pass", i, "src", d.SrcSubpass, "dst", d.DstSubpass,
				"syncBefore", d.SyncBefore, "syncAfter", d.SyncAfter,
				"accessBefore", d.AccessBefore, "accessAfter", d.AccessAfter)
		}
	}
	if p.Post != nil {
		log.Info("barrier", "pass", "post", "set", p.Post.String())
	}
}

// compiler holds the state of a single compilation.
type compiler struct {
	g       *Graph
	log     logr.Logger
	surface SurfaceInfo
	merge   MergePolicy

	order []NodeID

	state map[UsageID]*Constraint
	specs map[UsageID]Spec

	virt  map[UsageID]VirtualID
	nvirt int

	passes []Pass

	phys      []physImage
	usagePhys map[UsageID]PhysicalID

	bufPhys  map[int]PhysicalBufferID
	usageBuf map[BufferID]PhysicalBufferID
	buffers  []PhysicalBuffer

	post *BarrierSet
}

// Compile compiles g into a Plan.
// g is not modified and can be compiled again.
// If opts is nil, DefaultOptions is used.
// Errors are of type *CompileError.
func Compile(g *Graph, surface SurfaceInfo, opts *Options) (*Plan, error) {
	start := time.Now()
	o := DefaultOptions()
	if opts != nil {
		o = opts.fill()
	}
	p, err := compile(g, surface, o)
	if err != nil {
		o.Log.Error(err, "compilation failed")
	}
	o.Metrics.observe(start, p, err)
	return p, err
}

func compile(g *Graph, surface SurfaceInfo, o Options) (*Plan, error) {
	if err := g.Err(); err != nil {
		return nil, compileErr("builder", ErrBuilder, err)
	}
	if err := g.validate(); err != nil {
		return nil, compileErr("builder", ErrBuilder, err)
	}
	if surface.Extents.Width <= 0 || surface.Extents.Height <= 0 {
		return nil, compileErrf("builder", ErrBuilder, "invalid surface extents %v", surface.Extents)
	}
	if surface.Extents.Depth <= 0 {
		surface.Extents.Depth = 1
	}

	c := &compiler{
		g:       g.clone(),
		log:     o.Log,
		surface: surface,
		merge:   o.Merge,
	}
	order, err := orderNodes(c.g, c.merge, c.log.WithName("order"))
	if err != nil {
		return nil, compileErr("order", ErrCycle, err)
	}
	c.order = order

	if err := c.propagate(); err != nil {
		return nil, err
	}
	c.insertResolves()
	if err := c.assignVirtual(); err != nil {
		return nil, err
	}
	c.buildPasses()
	c.assignPhysical()
	c.assignBuffers()
	if err := c.synthesize(); err != nil {
		return nil, err
	}
	return c.plan(), nil
}

// plan assembles the result of the compilation.
func (c *compiler) plan() *Plan {
	p := &Plan{
		Passes:    c.passes,
		Images:    make([]PhysicalImage, len(c.phys)),
		Buffers:   c.buffers,
		Post:      c.post,
		passOf:    make(map[NodeID][2]int, len(c.order)),
		usagePhys: c.usagePhys,
		usageBuf:  c.usageBuf,
		names:     make([]string, len(c.g.nodes)),
		bodies:    make([]Body, len(c.g.nodes)),
		culled:    len(c.g.nodes) - len(c.order),
		barriers:  c.barrierCount(),
	}
	for i := range c.phys {
		p.Images[i] = c.phys[i].PhysicalImage
	}
	for i := range c.passes {
		for j, n := range c.passes[i].Nodes {
			p.passOf[n] = [2]int{i, j}
		}
	}
	for i := range c.g.nodes {
		p.names[i] = c.g.nodes[i].name
		p.bodies[i] = c.g.nodes[i].body
	}
	c.log.V(1).Info("compiled graph", "passes", len(p.Passes), "images", len(p.Images),
		"buffers", len(p.Buffers), "barriers", p.barriers, "culled", p.culled)
	return p
}
