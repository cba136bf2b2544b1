// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"strconv"

	"github.com/gviegas/rgraph/driver"
)

func (g *Graph) addUsage(kind usageKind, img ImageID, ver int, n NodeID, c Constraint) UsageID {
	id := UsageID(len(g.usages))
	g.usages = append(g.usages, usage{kind: kind, image: img, ver: ver, node: n, c: c})
	return id
}

// addCreate creates a new logical image whose first version
// is produced by node n.
func (g *Graph) addCreate(n NodeID, c Constraint) UsageID {
	img := ImageID(len(g.images))
	u := g.addUsage(uCreate, img, 0, n, c)
	g.images = append(g.images, imageRes{
		name:     "image" + strconv.Itoa(int(img)),
		versions: []version[UsageID]{{creator: n, create: u}},
	})
	g.nodes[n].creates = append(g.nodes[n].creates, u)
	return u
}

// addRead adds a read of the version that img refers to.
func (g *Graph) addRead(n NodeID, img UsageID, c Constraint) UsageID {
	src := g.usages[img]
	u := g.addUsage(uRead, src.image, src.ver, n, c)
	v := &g.images[src.image].versions[src.ver]
	v.reads = append(v.reads, u)
	g.nodes[n].reads = append(g.nodes[n].reads, u)
	return u
}

// addModify reads the version that img refers to and
// produces a new version of the same logical image.
func (g *Graph) addModify(n NodeID, img UsageID, c Constraint) (in, out UsageID) {
	src := g.usages[img]
	res := &g.images[src.image]
	if src.ver != len(res.versions)-1 {
		g.fail("image '" + res.name + "' modified from a version that is not the most recent")
	}
	in = g.addUsage(uModifyRead, src.image, src.ver, n, c)
	res.versions[src.ver].reads = append(res.versions[src.ver].reads, in)
	ver := len(res.versions)
	out = g.addUsage(uModifyWrite, src.image, ver, n, c)
	res.versions = append(res.versions, version[UsageID]{creator: n, create: out})
	g.nodes[n].modifies = append(g.nodes[n].modifies, modify{in, out})
	return
}

func (g *Graph) graphicsNode(n NodeID, what string) bool {
	if !g.validNode(n) {
		return false
	}
	if g.nodes[n].queue != Graphics {
		g.fail(what + " in compute node '" + g.nodes[n].name + "'")
		return false
	}
	return true
}

func (g *Graph) setColor(n NodeID, slot int, ca colorAttach) {
	nd := &g.nodes[n]
	if len(nd.color) <= slot {
		nd.color = append(nd.color, make([]colorAttach, slot+1-len(nd.color))...)
	}
	if nd.color[slot].used {
		g.fail("color slot " + strconv.Itoa(slot) + " of node '" + nd.name + "' set twice")
		return
	}
	ca.used = true
	nd.color[slot] = ca
}

func (g *Graph) setDepth(n NodeID, da depthAttach) {
	nd := &g.nodes[n]
	if nd.depth != nil {
		g.fail("depth/stencil target of node '" + nd.name + "' set twice")
		return
	}
	nd.depth = &da
}

func (g *Graph) checkSlot(slot int) bool {
	if slot < 0 {
		g.fail("negative attachment slot " + strconv.Itoa(slot))
		return false
	}
	return true
}

// CreateColor creates a new image that node n writes as the
// color attachment at slot. If clear is not nil, the image is
// cleared to clear.Color before the node executes.
func (g *Graph) CreateColor(n NodeID, slot int, clear *driver.ClearValue, c Constraint) UsageID {
	if !g.graphicsNode(n, "color attachment") || !g.checkSlot(slot) {
		return noUsage
	}
	c.Usage |= driver.URenderTarget
	u := g.addCreate(n, c)
	g.setColor(n, slot, colorAttach{read: noUsage, write: u, clear: clear})
	return u
}

// CreateDepth creates a new image that node n writes as its
// depth/stencil attachment. If clear is not nil, the image is
// cleared to clear.Depth/clear.Stencil.
func (g *Graph) CreateDepth(n NodeID, clear *driver.ClearValue, c Constraint) UsageID {
	if !g.graphicsNode(n, "depth/stencil attachment") {
		return noUsage
	}
	c.Usage |= driver.URenderTarget
	u := g.addCreate(n, c)
	g.setDepth(n, depthAttach{read: noUsage, write: u, clear: clear})
	return u
}

// CreateResolve creates a new image into which node n resolves
// the multisample color attachment at slot.
func (g *Graph) CreateResolve(n NodeID, slot int, c Constraint) UsageID {
	if !g.graphicsNode(n, "resolve attachment") || !g.checkSlot(slot) {
		return noUsage
	}
	nd := &g.nodes[n]
	if slot < len(nd.resolve) && nd.resolve[slot] != noUsage {
		g.fail("resolve slot " + strconv.Itoa(slot) + " of node '" + nd.name + "' set twice")
		return noUsage
	}
	c.Usage |= driver.URenderTarget
	u := g.addCreate(n, c)
	for len(nd.resolve) <= slot {
		nd.resolve = append(nd.resolve, noUsage)
	}
	nd.resolve[slot] = u
	return u
}

// ReadColor makes node n use the image version img as the
// color attachment at slot without writing to it.
func (g *Graph) ReadColor(n NodeID, img UsageID, slot int, c Constraint) UsageID {
	if !g.graphicsNode(n, "color attachment") || !g.validUsage(img) || !g.checkSlot(slot) {
		return noUsage
	}
	c.Usage |= driver.URenderTarget
	u := g.addRead(n, img, c)
	g.setColor(n, slot, colorAttach{read: u, write: noUsage})
	return u
}

// ReadDepth makes node n use the image version img as its
// read-only depth/stencil attachment.
func (g *Graph) ReadDepth(n NodeID, img UsageID, c Constraint) UsageID {
	if !g.graphicsNode(n, "depth/stencil attachment") || !g.validUsage(img) {
		return noUsage
	}
	c.Usage |= driver.URenderTarget
	u := g.addRead(n, img, c)
	g.setDepth(n, depthAttach{read: u, write: noUsage})
	return u
}

// ModifyColor makes node n read and write the image version
// img as the color attachment at slot.
// It returns the usage that identifies the new version.
func (g *Graph) ModifyColor(n NodeID, img UsageID, slot int, c Constraint) UsageID {
	if !g.graphicsNode(n, "color attachment") || !g.validUsage(img) || !g.checkSlot(slot) {
		return noUsage
	}
	c.Usage |= driver.URenderTarget
	in, out := g.addModify(n, img, c)
	g.setColor(n, slot, colorAttach{read: in, write: out})
	return out
}

// ModifyDepth makes node n read and write the image version
// img as its depth/stencil attachment.
// It returns the usage that identifies the new version.
func (g *Graph) ModifyDepth(n NodeID, img UsageID, c Constraint) UsageID {
	if !g.graphicsNode(n, "depth/stencil attachment") || !g.validUsage(img) {
		return noUsage
	}
	c.Usage |= driver.URenderTarget
	in, out := g.addModify(n, img, c)
	g.setDepth(n, depthAttach{read: in, write: out})
	return out
}

// Sample makes node n sample the image version img in
// shaders.
func (g *Graph) Sample(n NodeID, img UsageID, c Constraint) UsageID {
	if !g.validNode(n) || !g.validUsage(img) {
		return noUsage
	}
	c.Usage |= driver.UShaderSample
	u := g.addRead(n, img, c)
	g.nodes[n].sampled = append(g.nodes[n].sampled, u)
	return u
}

// CreateStorageImage creates a new image that node n writes
// in shaders rather than through an attachment. The image
// is in the driver.LCommon layout while n executes.
func (g *Graph) CreateStorageImage(n NodeID, c Constraint) UsageID {
	if !g.validNode(n) {
		return noUsage
	}
	c.Usage |= driver.UShaderWrite
	u := g.addCreate(n, c)
	g.nodes[n].storage = append(g.nodes[n].storage, storageUse{in: noUsage, out: u})
	return u
}

// ReadStorageImage makes node n read the image version img
// as a storage image in shaders.
func (g *Graph) ReadStorageImage(n NodeID, img UsageID, c Constraint) UsageID {
	if !g.validNode(n) || !g.validUsage(img) {
		return noUsage
	}
	c.Usage |= driver.UShaderRead
	u := g.addRead(n, img, c)
	g.nodes[n].storage = append(g.nodes[n].storage, storageUse{in: u, out: noUsage})
	return u
}

// ModifyStorageImage makes node n read and write the image
// version img as a storage image in shaders.
// It returns the usage that identifies the new version.
func (g *Graph) ModifyStorageImage(n NodeID, img UsageID, c Constraint) UsageID {
	if !g.validNode(n) || !g.validUsage(img) {
		return noUsage
	}
	c.Usage |= driver.UShaderRead | driver.UShaderWrite
	in, out := g.addModify(n, img, c)
	g.nodes[n].storage = append(g.nodes[n].storage, storageUse{in: in, out: out})
	return out
}

// externalSpec validates the spec of an image provided by
// the caller. Zero depth, layer and level counts become one.
func (g *Graph) externalSpec(what string, s Spec) (Spec, bool) {
	if s.Format == driver.FUndefined || s.Samples <= 0 || s.Extents.Width <= 0 || s.Extents.Height <= 0 {
		g.fail(what + " has an incomplete spec")
		return s, false
	}
	s.Extents.Depth = max(s.Extents.Depth, 1)
	s.Layers = max(s.Layers, 1)
	s.Levels = max(s.Levels, 1)
	return s, true
}

// ImportImage adds an image whose contents come from outside
// of the frame, such as the history of a temporal filter.
// The image is provided by the caller when the plan executes.
// It is in the initial layout when the frame begins and is
// left in the final layout once the frame completes. If final
// is driver.LUndefined, it is left in the layout of its last
// use. Every usage of the image must agree with spec.
// It returns the usage that identifies the imported version.
func (g *Graph) ImportImage(name string, spec Spec, initial, final driver.Layout) UsageID {
	spec, ok := g.externalSpec("imported image '"+name+"'", spec)
	if !ok {
		return noUsage
	}
	img := ImageID(len(g.images))
	if name == "" {
		name = "image" + strconv.Itoa(int(img))
	}
	u := g.addUsage(uImport, img, 0, -1, spec.Constraint())
	g.images = append(g.images, imageRes{
		name:     name,
		versions: []version[UsageID]{{creator: -1, create: u}},
	})
	g.imports = append(g.imports, imported{usage: u, spec: spec, initial: initial, final: final})
	return u
}

// ExportImage declares the image version img as an output of
// the frame that is provided by the caller, such as a
// swapchain image. It behaves as SetOutput, except that
// the output must match spec and no image is allocated for it.
func (g *Graph) ExportImage(img UsageID, spec Spec, final driver.Layout) UsageID {
	if !g.validUsage(img) {
		return noUsage
	}
	spec, ok := g.externalSpec("exported image '"+g.usageName(img)+"'", spec)
	if !ok {
		return noUsage
	}
	u := g.SetOutput(img, spec.Constraint(), final)
	g.outputs[len(g.outputs)-1].external = true
	return u
}

// SetOutput declares the image version img as an output of
// the frame. The output must satisfy c and is left in the
// final layout once the frame completes.
// An unset c.Format is taken from the image, or from the
// surface if no usage of the image sets it. An unset
// c.Samples is taken to be 1, so that multisample images
// are resolved into the output.
// Nodes that do not contribute to any output are culled.
// It returns the usage that identifies the output.
func (g *Graph) SetOutput(img UsageID, c Constraint, final driver.Layout) UsageID {
	if !g.validUsage(img) {
		return noUsage
	}
	src := g.usages[img]
	u := g.addUsage(uOutput, src.image, src.ver, -1, c)
	v := &g.images[src.image].versions[src.ver]
	v.reads = append(v.reads, u)
	g.outputs = append(g.outputs, output{usage: u, final: final})
	return u
}

// SetImageName names the logical image that img refers to.
func (g *Graph) SetImageName(img UsageID, name string) {
	if g.validUsage(img) {
		g.images[g.usages[img].image].name = name
	}
}

// validate reports misuse that can only be detected once
// the graph is complete.
func (g *Graph) validate() error {
	for i := range g.nodes {
		nd := &g.nodes[i]
		for slot, u := range nd.resolve {
			if u == noUsage {
				continue
			}
			if slot >= len(nd.color) || !nd.color[slot].used {
				return newBuilderErr("resolve slot " + strconv.Itoa(slot) + " of node '" + nd.name + "' has no color attachment")
			}
		}
	}
	return nil
}

// clone returns a copy of g that can be modified during
// compilation without affecting g.
func (g *Graph) clone() *Graph {
	c := &Graph{
		nodes:      make([]node, len(g.nodes)),
		images:     make([]imageRes, len(g.images)),
		usages:     append([]usage(nil), g.usages...),
		outputs:    append([]output(nil), g.outputs...),
		imports:    g.imports,
		buffers:    g.buffers,
		bufUsages:  g.bufUsages,
		bufOutputs: g.bufOutputs,
		err:        g.err,
	}
	for i := range g.images {
		c.images[i].name = g.images[i].name
		c.images[i].versions = make([]version[UsageID], len(g.images[i].versions))
		for j, v := range g.images[i].versions {
			v.reads = append([]UsageID(nil), v.reads...)
			c.images[i].versions[j] = v
		}
	}
	for i := range g.nodes {
		nd := g.nodes[i]
		nd.color = append([]colorAttach(nil), nd.color...)
		nd.resolve = append([]UsageID(nil), nd.resolve...)
		nd.creates = append([]UsageID(nil), nd.creates...)
		c.nodes[i] = nd
	}
	return c
}
