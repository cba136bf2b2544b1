// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"github.com/gviegas/rgraph/driver"
)

// PassKind is the type of a Pass.
type PassKind int

// Pass kinds.
const (
	// RenderPass passes execute one or more graphics nodes
	// as subpasses of a driver.RenderPass.
	RenderPass PassKind = iota
	// ComputePass passes execute a single compute node.
	ComputePass
)

func (k PassKind) String() string {
	if k == ComputePass {
		return "compute"
	}
	return "render"
}

// MarshalText implements encoding.TextMarshaler.
func (k PassKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Attachment is a render pass attachment bound to a
// physical image.
type Attachment struct {
	driver.Attachment

	Image PhysicalID
	Clear driver.ClearValue
}

// Pass is a group of nodes that execute together.
type Pass struct {
	Kind PassKind
	// Nodes contains the nodes of the pass. For render
	// passes, the node at index i is executed as the
	// subpass at index i.
	Nodes []NodeID
	// Attachments, Subpasses and Dependencies describe
	// the driver.RenderPass of render passes. They are
	// empty for compute passes.
	Attachments  []Attachment
	Subpasses    []driver.Subpass
	Dependencies []driver.Dependency
	// Pre, if not nil, must be recorded before the pass
	// begins.
	Pre *BarrierSet
	// Extents and Layers give the framebuffer size of
	// render passes.
	Extents driver.Dim3D
	Layers  int

	virt []VirtualID
}

const stagePasses = "passes"

// attachmentExtents returns the size of the first attachment
// of node n. ok is false if n has no attachments.
func (c *compiler) attachmentExtents(n NodeID) (ext driver.Dim3D, layers int, ok bool) {
	nd := &c.g.nodes[n]
	var u UsageID = noUsage
	for i := range nd.color {
		if nd.color[i].used {
			u = nd.color[i].target()
			break
		}
	}
	if u == noUsage && nd.depth != nil {
		u = nd.depth.target()
	}
	if u == noUsage {
		return c.surface.Extents, 1, false
	}
	s := c.specs[u]
	return s.Extents, s.Layers, true
}

// groupNodes splits the execution order into passes.
func (c *compiler) groupNodes() [][]NodeID {
	g := c.g
	var groups [][]NodeID
	var cur []NodeID
	for _, n := range c.order {
		add := len(cur) > 0 && g.nodes[n].queue == Graphics
		if add {
			ext, lay, _ := c.attachmentExtents(n)
			for _, x := range cur {
				xext, xlay, _ := c.attachmentExtents(x)
				if g.nodes[x].queue != Graphics || xext != ext || xlay != lay || !c.merge.CanMerge(g, x, n) {
					add = false
					break
				}
			}
		}
		if add {
			cur = append(cur, n)
			continue
		}
		if len(cur) > 0 {
			groups = append(groups, cur)
		}
		cur = []NodeID{n}
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// hasReaders returns whether the version written by w is
// read by a scheduled usage other than those of node except.
func (c *compiler) hasReaders(w UsageID, except NodeID) bool {
	for _, r := range c.g.versionOf(w).reads {
		if _, ok := c.specs[r]; ok && (c.g.usages[r].node != except || c.g.usages[r].kind == uOutput) {
			return true
		}
	}
	return false
}

func storeOp(b bool) driver.StoreOp {
	if b {
		return driver.SStore
	}
	return driver.SDontCare
}

// buildPasses groups the ordered nodes into passes and
// describes their attachments and subpasses.
// Attachments refer to virtual images at this point.
func (c *compiler) buildPasses() {
	g := c.g
	log := c.log.WithName(stagePasses)
	for _, group := range c.groupNodes() {
		p := Pass{Kind: RenderPass, Nodes: group}
		if g.nodes[group[0]].queue == Compute {
			p.Kind = ComputePass
			c.passes = append(c.passes, p)
			log.V(2).Info("compute pass", "node", g.nodes[group[0]].name)
			continue
		}
		p.Extents, p.Layers, _ = c.attachmentExtents(group[0])

		find := func(u UsageID) (int, bool) {
			v := c.virt[u]
			for i, x := range p.virt {
				if x == v {
					return i, false
				}
			}
			s := c.specs[u]
			p.virt = append(p.virt, v)
			p.Attachments = append(p.Attachments, Attachment{
				Attachment: driver.Attachment{Format: s.Format, Samples: s.Samples},
			})
			return len(p.Attachments) - 1, true
		}

		for _, n := range group {
			nd := &g.nodes[n]
			sub := driver.Subpass{DS: -1}
			for slot := range nd.color {
				ca := &nd.color[slot]
				if !ca.used {
					sub.Color = append(sub.Color, -1)
					continue
				}
				i, first := find(ca.target())
				sub.Color = append(sub.Color, i)
				a := &p.Attachments[i]
				if first {
					switch {
					case ca.read != noUsage:
						a.Load[0] = driver.LLoad
					case ca.clear != nil:
						a.Load[0] = driver.LClear
						a.Clear.Color = ca.clear.Color
					}
				}
				if ca.write != noUsage {
					a.Store[0] = storeOp(c.hasReaders(ca.write, n))
				} else {
					a.Store[0] = storeOp(c.hasReaders(ca.read, n))
				}
			}

			if len(nd.resolve) > 0 {
				sub.MSR = make([]int, len(sub.Color))
				for i := range sub.MSR {
					sub.MSR[i] = -1
				}
				for slot, u := range nd.resolve {
					if u == noUsage || slot >= len(sub.MSR) {
						continue
					}
					i, _ := find(u)
					sub.MSR[slot] = i
					p.Attachments[i].Store[0] = storeOp(c.hasReaders(u, n))
				}
			}

			if da := nd.depth; da != nil {
				i, first := find(da.target())
				sub.DS = i
				sub.DSRead = da.write == noUsage
				a := &p.Attachments[i]
				f := a.Format
				if first {
					var op driver.LoadOp
					switch {
					case da.read != noUsage:
						op = driver.LLoad
					case da.clear != nil:
						op = driver.LClear
						a.Clear.Depth = da.clear.Depth
						a.Clear.Stencil = da.clear.Stencil
					}
					if f.HasDepth() {
						a.Load[0] = op
					}
					if f.HasStencil() {
						a.Load[1] = op
					}
				}
				var st driver.StoreOp
				if da.write != noUsage {
					st = storeOp(c.hasReaders(da.write, n))
				} else {
					st = storeOp(c.hasReaders(da.read, n))
				}
				if f.HasDepth() {
					a.Store[0] = st
				}
				if f.HasStencil() {
					a.Store[1] = st
				}
			}
			p.Subpasses = append(p.Subpasses, sub)
		}
		log.V(2).Info("render pass", "nodes", len(group), "attachments", len(p.Attachments))
		c.passes = append(c.passes, p)
	}
	log.V(1).Info("built passes", "count", len(c.passes))
}
