// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"github.com/gviegas/rgraph/driver"
)

// PhysicalID identifies an image to be allocated for the
// execution of a Plan.
type PhysicalID int

// PhysicalBufferID identifies a buffer to be allocated for
// the execution of a Plan.
type PhysicalBufferID int

// PhysicalImage describes an image to be allocated.
type PhysicalImage struct {
	Spec Spec
	// Output indicates that the image is a frame output.
	// Outputs are never shared with other images and are
	// left in FinalLayout.
	Output bool
	// External indicates that the image is imported or
	// exported, so it is provided by the caller instead of
	// being allocated. External images are never shared
	// with other images. Imported ones are expected to be
	// in InitialLayout when the plan executes.
	External      bool
	InitialLayout driver.Layout
	FinalLayout   driver.Layout
}

// pinned returns whether the contents of the image must
// outlive the frame.
func (p *PhysicalImage) pinned() bool { return p.Output || p.External }

// PhysicalBuffer describes a buffer to be allocated.
type PhysicalBuffer struct {
	Name   string
	Spec   BufferSpec
	Output bool
}

// lifetime is the range of passes in which a virtual image
// is used.
type lifetime struct {
	virt        VirtualID
	first, last int
	spec        Spec
}

type physImage struct {
	PhysicalImage
	last     int
	reusable bool
	lives    []lifetime
}

// lifetimes returns the lifetime of every virtual image,
// sorted by first use.
func (c *compiler) lifetimes() []lifetime {
	g := c.g
	var lives []lifetime
	index := make(map[VirtualID]int)
	add := func(pass int, u UsageID) {
		v := c.virt[u]
		s := c.specs[u]
		if i, ok := index[v]; ok {
			lives[i].last = pass
			lives[i].spec.Usage |= s.Usage
			return
		}
		index[v] = len(lives)
		lives = append(lives, lifetime{virt: v, first: pass, last: pass, spec: s})
	}
	for pi := range c.passes {
		for _, n := range c.passes[pi].Nodes {
			nd := &g.nodes[n]
			for _, m := range nd.modifies {
				add(pi, m.in)
				add(pi, m.out)
			}
			for _, u := range nd.reads {
				add(pi, u)
			}
			for _, u := range nd.creates {
				add(pi, u)
			}
		}
	}
	return lives
}

// assignPhysical maps virtual images to physical images.
// Imports and outputs get dedicated images that live for
// the whole frame. Every other virtual image reuses the first
// physical image whose last use precedes its first use and
// whose spec matches, or gets a new one.
func (c *compiler) assignPhysical() {
	g := c.g
	log := c.log.WithName("physical")
	lives := c.lifetimes()
	v2p := make([]PhysicalID, c.nvirt)
	for i := range v2p {
		v2p[i] = -1
	}
	var phys []physImage
	end := len(c.passes) - 1

	whole := func(v VirtualID, spec Spec) (Spec, []lifetime) {
		var lv []lifetime
		for _, l := range lives {
			if l.virt == v {
				spec.Usage |= l.spec.Usage
				l.first, l.last = 0, end
				lv = append(lv, l)
			}
		}
		return spec, lv
	}

	for _, imp := range g.imports {
		v, ok := c.virt[imp.usage]
		if !ok {
			continue
		}
		spec, lv := whole(v, imp.spec)
		v2p[v] = PhysicalID(len(phys))
		phys = append(phys, physImage{
			PhysicalImage: PhysicalImage{
				Spec:          spec,
				External:      true,
				InitialLayout: imp.initial,
				FinalLayout:   imp.final,
			},
			last:  end,
			lives: lv,
		})
		log.V(2).Info("imported image", "virtual", v, "physical", v2p[v])
	}

	for _, out := range g.outputs {
		v, ok := c.virt[out.usage]
		if !ok {
			continue
		}
		if id := v2p[v]; id != -1 {
			// An output of an imported image takes over its
			// final layout.
			if p := &phys[id]; p.External && !p.Output {
				p.Output = true
				p.FinalLayout = out.final
			}
			continue
		}
		spec, lv := whole(v, c.specs[out.usage])
		v2p[v] = PhysicalID(len(phys))
		phys = append(phys, physImage{
			PhysicalImage: PhysicalImage{Spec: spec, Output: true, External: out.external, FinalLayout: out.final},
			last:          end,
			lives:         lv,
		})
		log.V(2).Info("output image", "virtual", v, "physical", v2p[v], "first", 0, "last", end)
	}

	for _, l := range lives {
		if v2p[l.virt] != -1 {
			continue
		}
		id := PhysicalID(-1)
		for i := range phys {
			p := &phys[i]
			if p.reusable && p.last < l.first && p.Spec.tryMerge(l.spec) {
				p.last = l.last
				p.lives = append(p.lives, l)
				id = PhysicalID(i)
				log.V(2).Info("reuse image", "virtual", l.virt, "physical", id, "first", l.first, "last", l.last)
				break
			}
		}
		if id < 0 {
			id = PhysicalID(len(phys))
			phys = append(phys, physImage{
				PhysicalImage: PhysicalImage{Spec: l.spec},
				last:          l.last,
				reusable:      true,
				lives:         []lifetime{l},
			})
			log.V(2).Info("new image", "virtual", l.virt, "physical", id, "first", l.first, "last", l.last)
		}
		v2p[l.virt] = id
	}

	c.phys = phys
	c.usagePhys = make(map[UsageID]PhysicalID, len(c.virt))
	for u, v := range c.virt {
		c.usagePhys[u] = v2p[v]
	}
	for pi := range c.passes {
		p := &c.passes[pi]
		for i, v := range p.virt {
			p.Attachments[i].Image = v2p[v]
		}
	}
	log.V(1).Info("assigned physical images", "virtual", c.nvirt, "physical", len(phys))
}

// assignBuffers gives each buffer used by a scheduled node
// or declared as output its own physical buffer.
func (c *compiler) assignBuffers() {
	g := c.g
	c.bufPhys = make(map[int]PhysicalBufferID)
	c.usageBuf = make(map[BufferID]PhysicalBufferID)
	add := func(b BufferID) {
		res := g.bufUsages[b].buf
		id, ok := c.bufPhys[res]
		if !ok {
			id = PhysicalBufferID(len(c.buffers))
			c.bufPhys[res] = id
			c.buffers = append(c.buffers, PhysicalBuffer{Name: g.buffers[res].name, Spec: g.buffers[res].spec})
		}
		c.usageBuf[b] = id
	}
	for _, n := range c.order {
		nd := &g.nodes[n]
		for _, b := range nd.bufCreates {
			add(b)
		}
		for _, b := range nd.bufReads {
			add(b)
		}
		for _, m := range nd.bufModifies {
			add(m.in)
			add(m.out)
		}
	}
	for _, b := range g.bufOutputs {
		add(b)
		c.buffers[c.usageBuf[b]].Output = true
	}
}
