// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package null implements a driver that creates no GPU
// resources and records commands as text.
// It is used to inspect and test the execution of plans
// without a GPU.
//
// Importing this package registers the driver under the
// name "null".
package null

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gviegas/rgraph/driver"
)

// Name is the name of the driver.
const Name = "null"

// Driver implements driver.Driver.
type Driver struct {
	mu  sync.Mutex
	gpu *GPU
}

func init() { driver.Register(new(Driver)) }

// Open implements driver.Driver.
func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu == nil {
		d.gpu = new(GPU)
	}
	return d.gpu, nil
}

// Name implements driver.Driver.
func (*Driver) Name() string { return Name }

// Close implements driver.Driver.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gpu = nil
}

// GPU implements driver.GPU.
// It counts the resources that are alive.
type GPU struct {
	mu      sync.Mutex
	passes  int
	images  int
	buffers int
	// Fail, if not nil, is returned by every creation
	// method.
	Fail error
}

// Live returns the number of render passes, images and
// buffers that have not been destroyed.
func (g *GPU) Live() (passes, images, buffers int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.passes, g.images, g.buffers
}

func (g *GPU) add(n *int, d int) {
	g.mu.Lock()
	*n += d
	g.mu.Unlock()
}

// NewRenderPass implements driver.GPU.
func (g *GPU) NewRenderPass(att []driver.Attachment, sub []driver.Subpass, dep []driver.Dependency) (driver.RenderPass, error) {
	if g.Fail != nil {
		return nil, g.Fail
	}
	if len(sub) == 0 {
		return nil, fmt.Errorf("null: render pass with no subpasses")
	}
	for _, s := range sub {
		for _, i := range s.Color {
			if i >= len(att) {
				return nil, fmt.Errorf("null: color attachment %d out of range", i)
			}
		}
		if s.DS >= len(att) {
			return nil, fmt.Errorf("null: depth/stencil attachment %d out of range", s.DS)
		}
		if len(s.MSR) > 0 && len(s.MSR) != len(s.Color) {
			return nil, fmt.Errorf("null: resolve list length mismatch")
		}
	}
	g.add(&g.passes, 1)
	return &RenderPass{gpu: g, Attachments: att, Subpasses: sub, Dependencies: dep}, nil
}

// NewImage implements driver.GPU.
func (g *GPU) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	if g.Fail != nil {
		return nil, g.Fail
	}
	if pf == driver.FUndefined || size.Width <= 0 || size.Height <= 0 || layers <= 0 || levels <= 0 || samples <= 0 {
		return nil, fmt.Errorf("null: invalid image parameters")
	}
	g.add(&g.images, 1)
	return &Image{gpu: g, Format: pf, Size: size, Layers: layers, Levels: levels, Samples: samples, Usage: usg}, nil
}

// NewBuffer implements driver.GPU.
func (g *GPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	if g.Fail != nil {
		return nil, g.Fail
	}
	if size <= 0 {
		return nil, fmt.Errorf("null: invalid buffer size")
	}
	g.add(&g.buffers, 1)
	return &Buffer{gpu: g, size: size}, nil
}

// RenderPass implements driver.RenderPass.
type RenderPass struct {
	gpu          *GPU
	Attachments  []driver.Attachment
	Subpasses    []driver.Subpass
	Dependencies []driver.Dependency
}

// NewFB implements driver.RenderPass.
func (p *RenderPass) NewFB(iv []driver.ImageView, width, height, layers int) (driver.Framebuf, error) {
	if len(iv) != len(p.Attachments) {
		return nil, fmt.Errorf("null: framebuffer has %d views, want %d", len(iv), len(p.Attachments))
	}
	return &Framebuf{Views: iv, Width: width, Height: height, Layers: layers}, nil
}

// Destroy implements driver.Destroyer.
func (p *RenderPass) Destroy() {
	if p.gpu != nil {
		p.gpu.add(&p.gpu.passes, -1)
		p.gpu = nil
	}
}

// Framebuf implements driver.Framebuf.
type Framebuf struct {
	Views                 []driver.ImageView
	Width, Height, Layers int
}

// Destroy implements driver.Destroyer.
func (*Framebuf) Destroy() {}

// Image implements driver.Image.
type Image struct {
	gpu     *GPU
	Format  driver.PixelFmt
	Size    driver.Dim3D
	Layers  int
	Levels  int
	Samples int
	Usage   driver.Usage
}

// NewView implements driver.Image.
func (i *Image) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	if layer+layers > i.Layers || level+levels > i.Levels {
		return nil, fmt.Errorf("null: view out of range")
	}
	return &ImageView{Image: i, Type: typ}, nil
}

// Destroy implements driver.Destroyer.
func (i *Image) Destroy() {
	if i.gpu != nil {
		i.gpu.add(&i.gpu.images, -1)
		i.gpu = nil
	}
}

// ImageView implements driver.ImageView.
type ImageView struct {
	Image *Image
	Type  driver.ViewType
}

// Destroy implements driver.Destroyer.
func (*ImageView) Destroy() {}

// Buffer implements driver.Buffer.
type Buffer struct {
	gpu  *GPU
	size int64
}

// Cap implements driver.Buffer.
func (b *Buffer) Cap() int64 { return b.size }

// Destroy implements driver.Destroyer.
func (b *Buffer) Destroy() {
	if b.gpu != nil {
		b.gpu.add(&b.gpu.buffers, -1)
		b.gpu = nil
	}
}

// CmdBuffer implements driver.CmdBuffer.
// Each command is recorded as a line of text.
type CmdBuffer struct {
	Cmds []string
	pass bool
	work bool
}

func (cb *CmdBuffer) rec(format string, a ...any) {
	cb.Cmds = append(cb.Cmds, fmt.Sprintf(format, a...))
}

// BeginPass implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginPass(pass driver.RenderPass, fb driver.Framebuf, clear []driver.ClearValue) {
	if cb.pass || cb.work {
		panic("null: BeginPass inside a block")
	}
	cb.pass = true
	cb.rec("BeginPass %d", len(pass.(*RenderPass).Subpasses))
}

// NextSubpass implements driver.CmdBuffer.
func (cb *CmdBuffer) NextSubpass() {
	if !cb.pass {
		panic("null: NextSubpass outside of render pass")
	}
	cb.rec("NextSubpass")
}

// EndPass implements driver.CmdBuffer.
func (cb *CmdBuffer) EndPass() {
	if !cb.pass {
		panic("null: EndPass outside of render pass")
	}
	cb.pass = false
	cb.rec("EndPass")
}

// BeginWork implements driver.CmdBuffer.
func (cb *CmdBuffer) BeginWork(wait bool) {
	if cb.pass || cb.work {
		panic("null: BeginWork inside a block")
	}
	cb.work = true
	cb.rec("BeginWork %t", wait)
}

// EndWork implements driver.CmdBuffer.
func (cb *CmdBuffer) EndWork() {
	if !cb.work {
		panic("null: EndWork outside of compute work")
	}
	cb.work = false
	cb.rec("EndWork")
}

// Barrier implements driver.CmdBuffer.
func (cb *CmdBuffer) Barrier(b []driver.Barrier) {
	if cb.pass {
		panic("null: Barrier inside render pass")
	}
	for _, x := range b {
		cb.rec("Barrier %v->%v %v->%v", x.SyncBefore, x.SyncAfter, x.AccessBefore, x.AccessAfter)
	}
}

// Transition implements driver.CmdBuffer.
func (cb *CmdBuffer) Transition(t []driver.Transition) {
	if cb.pass {
		panic("null: Transition inside render pass")
	}
	for _, x := range t {
		cb.rec("Transition %v->%v", x.LayoutBefore, x.LayoutAfter)
	}
}

// Draw records a command of a node body.
func (cb *CmdBuffer) Draw(name string) { cb.rec("Draw %s", name) }

// String returns the recorded commands, one per line.
func (cb *CmdBuffer) String() string { return strings.Join(cb.Cmds, "\n") }
