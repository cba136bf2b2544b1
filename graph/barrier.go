// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"fmt"
	"slices"

	"github.com/go-logr/logr"

	"github.com/gviegas/rgraph/driver"
)

// ImageBarrier is a layout transition of a physical image.
type ImageBarrier struct {
	driver.Barrier

	Image        PhysicalID
	LayoutBefore driver.Layout
	LayoutAfter  driver.Layout
}

// BarrierSet is a set of barriers recorded outside of
// render passes.
// Global applies to all memory, and Images contains the
// layout transitions that must happen together with it.
type BarrierSet struct {
	Global driver.Barrier
	Images []ImageBarrier
}

// scope is a pair of access and synchronization masks.
type scope struct {
	access driver.Access
	sync   driver.Sync
}

func (s *scope) add(a driver.Access, y driver.Sync) {
	s.access |= a
	s.sync |= y
}

// req is what a node requires of one resource.
type req struct {
	layout     driver.Layout
	invalidate scope
	flush      scope
	attachment bool
	// shader is set for images that shaders access
	// outside of attachments.
	shader bool
}

// resState is the synchronization state of a physical resource.
type resState struct {
	layout  driver.Layout
	pending scope
	// pendingSub is the subpass of the current pass that
	// wrote the resource, or driver.External.
	pendingSub  int
	invalidated [driver.NStage]driver.Access
}

const stageBarriers = "barriers"

// shaderStage returns the stage in which node n accesses
// sampled images.
func (c *compiler) shaderStage(n NodeID) driver.Sync {
	if c.g.nodes[n].queue == Compute {
		return driver.SComputeShading
	}
	return driver.SFragmentShading
}

// imageReqs returns the requirements of node n for each
// physical image it uses, sorted by physical id.
func (c *compiler) imageReqs(n NodeID) ([]PhysicalID, map[PhysicalID]*req, error) {
	nd := &c.g.nodes[n]
	reqs := make(map[PhysicalID]*req)
	var ids []PhysicalID
	var err error
	get := func(u UsageID, layout driver.Layout) *req {
		p := c.usagePhys[u]
		r, ok := reqs[p]
		if !ok {
			r = &req{layout: layout}
			reqs[p] = r
			ids = append(ids, p)
		} else if r.layout != layout && err == nil {
			err = compileErrf(stageBarriers, ErrUnsupported,
				"node '%s' uses image '%s' in layouts %v and %v", nd.name, c.g.usageName(u), r.layout, layout)
		}
		return r
	}
	for i := range nd.color {
		ca := &nd.color[i]
		if !ca.used {
			continue
		}
		r := get(ca.target(), driver.LColorTarget)
		r.attachment = true
		if ca.read != noUsage {
			r.invalidate.add(driver.AColorRead|driver.AColorWrite, driver.SColorOutput)
		}
		if ca.write != noUsage {
			r.flush.add(driver.AColorWrite, driver.SColorOutput)
		}
	}
	for _, u := range nd.resolve {
		if u == noUsage {
			continue
		}
		r := get(u, driver.LColorTarget)
		r.attachment = true
		r.flush.add(driver.AColorWrite, driver.SColorOutput)
	}
	if da := nd.depth; da != nil {
		layout := driver.LDSTarget
		if da.write == noUsage {
			layout = driver.LDSRead
		}
		r := get(da.target(), layout)
		r.attachment = true
		switch {
		case da.read != noUsage && da.write != noUsage:
			r.invalidate.add(driver.ADSRead|driver.ADSWrite, driver.SDSOutput)
			r.flush.add(driver.ADSWrite, driver.SDSOutput)
		case da.read != noUsage:
			r.invalidate.add(driver.ADSRead, driver.SDSOutput)
		default:
			r.flush.add(driver.ADSWrite, driver.SDSOutput)
		}
	}
	for _, u := range nd.sampled {
		r := get(u, driver.LShaderRead)
		r.shader = true
		r.invalidate.add(driver.AShaderRead, c.shaderStage(n))
	}
	for _, su := range nd.storage {
		u := su.out
		if su.in != noUsage {
			u = su.in
		}
		r := get(u, driver.LCommon)
		r.shader = true
		stage := c.shaderStage(n)
		switch {
		case su.in != noUsage && su.out != noUsage:
			r.invalidate.add(driver.AShaderRead|driver.AShaderWrite, stage)
			r.flush.add(driver.AShaderWrite, stage)
		case su.in != noUsage:
			r.invalidate.add(driver.AShaderRead, stage)
		default:
			r.flush.add(driver.AShaderWrite, stage)
		}
	}
	slices.Sort(ids)
	return ids, reqs, err
}

// bufferReqs is the buffer counterpart of imageReqs.
func (c *compiler) bufferReqs(n NodeID) ([]PhysicalBufferID, map[PhysicalBufferID]*req) {
	g := c.g
	nd := &g.nodes[n]
	stage := driver.SComputeShading
	if nd.queue == Graphics {
		stage = driver.SVertexShading | driver.SFragmentShading
	}
	reqs := make(map[PhysicalBufferID]*req)
	var ids []PhysicalBufferID
	get := func(b BufferID) *req {
		p := c.usageBuf[b]
		r, ok := reqs[p]
		if !ok {
			r = new(req)
			reqs[p] = r
			ids = append(ids, p)
		}
		return r
	}
	for _, b := range nd.bufCreates {
		get(b).flush.add(driver.AShaderWrite, stage)
	}
	for _, b := range nd.bufReads {
		r := get(b)
		switch g.bufUsages[b].acc {
		case bVertex:
			r.invalidate.add(driver.AVertexBufRead, driver.SVertexInput)
		case bIndex:
			r.invalidate.add(driver.AIndexBufRead, driver.SVertexInput)
		case bIndirect:
			r.invalidate.add(driver.AIndirectRead, driver.SDrawIndirect)
		case bConst:
			r.invalidate.add(driver.AConstRead, stage)
		default:
			r.invalidate.add(driver.AShaderRead, stage)
		}
	}
	for _, m := range nd.bufModifies {
		r := get(m.in)
		r.invalidate.add(driver.AShaderRead|driver.AShaderWrite, stage)
		r.flush.add(driver.AShaderWrite, stage)
	}
	slices.Sort(ids)
	return ids, reqs
}

// synth holds the state of barrier synthesis.
type synth struct {
	c      *compiler
	log    logr.Logger
	images []resState
	bufs   []resState
	// Per subpass.
	src map[int]*scope
	dst scope
}

// source returns the source scope of dependencies on
// writes made by subpass sub.
func (s *synth) source(sub int) *scope {
	x, ok := s.src[sub]
	if !ok {
		x = new(scope)
		s.src[sub] = x
	}
	return x
}

// touch accumulates the synchronization needed before a
// resource in state st can be used as r requires.
// It reports whether a layout transition is needed.
func (s *synth) touch(st *resState, r *req, hasLayout bool) bool {
	src := s.source(st.pendingSub)
	src.add(st.pending.access, st.pending.sync)

	// Layout transitions and writes must wait for
	// earlier reads to complete.
	change := hasLayout && st.layout != r.layout
	if change || r.flush.access != 0 {
		for i, a := range st.invalidated {
			if a != 0 {
				src.sync |= driver.StageAt(i)
				st.invalidated[i] = 0
			}
		}
	}

	need := r.invalidate
	need.add(r.flush.access, r.flush.sync)
	for i, x := range need.sync.Stages() {
		if st.invalidated[i].Contains(need.access) {
			need.sync &^= x
		}
	}
	if need.sync == driver.SNone {
		need.access = driver.ANone
	}
	s.dst.add(need.access, need.sync)
	return change
}

// update records the effects of a subpass on a resource it
// touched.
func (s *synth) update(st *resState, r *req, sub int, hasLayout bool) {
	st.pending = scope{}
	for i := range s.dst.sync.Stages() {
		st.invalidated[i] |= s.dst.access
	}
	if hasLayout {
		st.layout = r.layout
	}
	if r.flush.access != 0 {
		st.pending = r.flush
		st.pendingSub = sub
		st.invalidated = [driver.NStage]driver.Access{}
	}
}

func srcBarrier(src *scope, dst scope) driver.Barrier {
	b := driver.Barrier{
		SyncBefore:   src.sync,
		SyncAfter:    dst.sync,
		AccessBefore: src.access,
		AccessAfter:  dst.access,
	}
	if b.SyncBefore == driver.SNone {
		b.SyncBefore = driver.STop
	}
	if b.SyncAfter == driver.SNone {
		b.SyncAfter = driver.SBottom
	}
	return b
}

// synthesize walks the passes in order and computes their
// dependencies, pre-pass barriers and attachment layouts.
func (c *compiler) synthesize() error {
	s := &synth{
		c:      c,
		log:    c.log.WithName(stageBarriers),
		images: make([]resState, len(c.phys)),
		bufs:   make([]resState, len(c.buffers)),
	}
	for i := range c.phys {
		s.images[i].layout = c.phys[i].InitialLayout
	}

	// The last render pass that uses each output or external
	// image as an attachment stores it in its final layout.
	lastAtt := make(map[PhysicalID]int)
	for pi := range c.passes {
		for _, a := range c.passes[pi].Attachments {
			if c.phys[a.Image].pinned() {
				lastAtt[a.Image] = pi
			}
		}
	}

	for pi := range c.passes {
		p := &c.passes[pi]
		for i := range s.images {
			s.images[i].pendingSub = driver.External
		}
		for i := range s.bufs {
			s.bufs[i].pendingSub = driver.External
		}
		initial := make([]bool, len(p.Attachments))

		for si, n := range p.Nodes {
			ids, reqs, err := c.imageReqs(n)
			if err != nil {
				return err
			}
			bids, breqs := c.bufferReqs(n)
			s.src = make(map[int]*scope)
			s.dst = scope{}

			external := p.Kind == RenderPass
			for _, id := range ids {
				if r := reqs[id]; r.shader && s.images[id].layout != r.layout {
					external = false
					break
				}
			}
			if !external && p.Kind == RenderPass && si > 0 {
				return compileErrf(stageBarriers, ErrUnsupported,
					"subpass '%s' reads an image in shaders that needs a layout transition", c.g.nodes[n].name)
			}
			s.log.V(2).Info("subpass", "pass", pi, "subpass", si, "node", c.g.nodes[n].name, "external", external)

			var trans []ImageBarrier
			for _, id := range ids {
				r, st := reqs[id], &s.images[id]
				before := st.layout
				if s.touch(st, r, true) {
					s.log.V(2).Info("layout change", "image", id, "from", before, "to", r.layout)
					if !external {
						trans = append(trans, ImageBarrier{Image: id, LayoutBefore: before, LayoutAfter: r.layout})
					}
				}
				if !r.attachment {
					continue
				}
				for ai := range p.Attachments {
					a := &p.Attachments[ai]
					if a.Image != id {
						continue
					}
					if !initial[ai] {
						initial[ai] = true
						if external {
							a.InitialLayout = before
						} else {
							a.InitialLayout = r.layout
						}
					}
					a.FinalLayout = r.layout
					break
				}
			}
			for _, id := range bids {
				s.touch(&s.bufs[id], breqs[id], false)
			}

			switch {
			case p.Kind == RenderPass && external && si == 0:
				p.Dependencies = append(p.Dependencies, driver.Dependency{
					Barrier:    srcBarrier(s.source(driver.External), s.dst),
					SrcSubpass: driver.External,
					DstSubpass: 0,
				})
			case p.Kind == RenderPass && external:
				keys := make([]int, 0, len(s.src))
				for k, x := range s.src {
					if *x != (scope{}) {
						keys = append(keys, k)
					}
				}
				slices.Sort(keys)
				for _, k := range keys {
					p.Dependencies = append(p.Dependencies, driver.Dependency{
						Barrier:    srcBarrier(s.src[k], s.dst),
						SrcSubpass: k,
						DstSubpass: si,
					})
				}
			default:
				src := s.source(driver.External)
				if len(trans) == 0 && *src == (scope{}) {
					break
				}
				b := srcBarrier(src, s.dst)
				for i := range trans {
					trans[i].Barrier = b
				}
				p.Pre = &BarrierSet{Global: b, Images: trans}
			}

			for _, id := range ids {
				s.update(&s.images[id], reqs[id], si, true)
			}
			for _, id := range bids {
				s.update(&s.bufs[id], breqs[id], si, false)
			}
		}

		for ai := range p.Attachments {
			a := &p.Attachments[ai]
			ph := &c.phys[a.Image]
			if !ph.pinned() || lastAtt[a.Image] != pi {
				continue
			}
			a.Store[0] = driver.SStore
			if a.Format.HasStencil() {
				a.Store[1] = driver.SStore
			}
			if ph.FinalLayout != driver.LUndefined {
				a.FinalLayout = ph.FinalLayout
				s.images[a.Image].layout = ph.FinalLayout
			}
		}
	}

	// Outputs and external images whose last use left them
	// in another layout are transitioned once the frame is
	// done.
	var post BarrierSet
	for id := range c.phys {
		ph := &c.phys[id]
		st := &s.images[id]
		if !ph.pinned() || ph.FinalLayout == driver.LUndefined || st.layout == ph.FinalLayout {
			continue
		}
		post.Global.SyncBefore |= st.pending.sync
		post.Global.AccessBefore |= st.pending.access
		for i, a := range st.invalidated {
			if a != 0 {
				post.Global.SyncBefore |= driver.StageAt(i)
			}
		}
		post.Images = append(post.Images, ImageBarrier{
			Image:        PhysicalID(id),
			LayoutBefore: st.layout,
			LayoutAfter:  ph.FinalLayout,
		})
	}
	if len(post.Images) > 0 {
		post.Global = srcBarrier(&scope{post.Global.AccessBefore, post.Global.SyncBefore}, scope{})
		for i := range post.Images {
			post.Images[i].Barrier = post.Global
		}
		c.post = &post
	}
	return nil
}

// count returns the number of dependencies and barrier sets
// in the passes.
func (c *compiler) barrierCount() int {
	n := 0
	for i := range c.passes {
		n += len(c.passes[i].Dependencies)
		if c.passes[i].Pre != nil {
			n++
		}
	}
	if c.post != nil {
		n++
	}
	return n
}

func (b *BarrierSet) String() string {
	return fmt.Sprintf("%v -> %v (%v -> %v), %d transitions",
		b.Global.SyncBefore, b.Global.SyncAfter, b.Global.AccessBefore, b.Global.AccessAfter, len(b.Images))
}
