// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"github.com/gviegas/rgraph/driver"
)

// Body records the commands of a node.
type Body interface {
	// Record is called while a plan executes, after
	// the pass or subpass of the node has begun.
	Record(ctx *Context) error
}

// BodyFunc is an adapter to allow the use of functions
// as a Body.
type BodyFunc func(ctx *Context) error

// Record calls f(ctx).
func (f BodyFunc) Record(ctx *Context) error { return f(ctx) }

// Resources provides the driver resources backing the
// physical resources of a plan.
type Resources interface {
	// ImageView returns a view of the whole physical
	// image id.
	ImageView(id PhysicalID) driver.ImageView

	// Buffer returns the physical buffer id.
	Buffer(id PhysicalBufferID) driver.Buffer
}

// Context is the execution context of a node body.
type Context struct {
	Cmd     driver.CmdBuffer
	Plan    *Plan
	Node    NodeID
	Pass    int
	Subpass int

	Resources Resources
}

// View returns the image view bound to the usage u of the
// context's node. It returns nil if u has no physical image.
func (c *Context) View(u UsageID) driver.ImageView {
	id, ok := c.Plan.Image(u)
	if !ok || c.Resources == nil {
		return nil
	}
	return c.Resources.ImageView(id)
}

// Buffer returns the buffer bound to the usage b of the
// context's node. It returns nil if b has no physical buffer.
func (c *Context) Buffer(b BufferID) driver.Buffer {
	id, ok := c.Plan.Buffer(b)
	if !ok || c.Resources == nil {
		return nil
	}
	return c.Resources.Buffer(id)
}
