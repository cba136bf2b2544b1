// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package cache keeps the GPU resources that back compiled
// render graphs alive across frames.
// Since a graph is compiled every frame, the physical
// images of consecutive plans tend to have the same
// specifications. A Cache hands out the images and buffers
// of earlier frames when their specifications match, and
// destroys the ones that go unused for too long.
package cache

import (
	"errors"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/gviegas/rgraph/driver"
	"github.com/gviegas/rgraph/graph"
	"github.com/gviegas/rgraph/internal/bitvec"
)

func newCacheErr(s string) error { return errors.New("cache: " + s) }

// Config is used to configure a Cache.
type Config struct {
	// The number of frames that a resource can go unused
	// before it is destroyed.
	//
	// Default is 3.
	MaxAge int

	// Log receives cache diagnostics.
	//
	// Default is logr.Discard().
	Log logr.Logger
}

const dflMaxAge = 3

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxAge: dflMaxAge,
		Log:    logr.Discard(),
	}
}

type imageEntry struct {
	spec graph.Spec
	img  driver.Image
	view driver.ImageView
	last int64
}

type bufferEntry struct {
	spec graph.BufferSpec
	buf  driver.Buffer
	last int64
}

// Cache is a cross-frame cache of images and buffers.
// It is not safe for concurrent use.
type Cache struct {
	gpu   driver.GPU
	cfg   Config
	frame int64

	images []imageEntry
	// Occupied slots of images/bufs.
	imgSlots *bitvec.V[uint32]
	bufs     []bufferEntry
	bufSlots *bitvec.V[uint32]
}

// New creates a new Cache that creates resources using gpu.
// If cfg is nil, DefaultConfig is used.
func New(gpu driver.GPU, cfg *Config) *Cache {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.MaxAge > 0 {
			c.MaxAge = cfg.MaxAge
		}
		if cfg.Log.GetSink() != nil {
			c.Log = cfg.Log
		}
	}
	return &Cache{
		gpu:      gpu,
		cfg:      c,
		imgSlots: new(bitvec.V[uint32]),
		bufSlots: new(bitvec.V[uint32]),
	}
}

// Frame binds the physical resources of a single Plan to
// cached GPU resources. It implements graph.Resources.
// External images are not cached. They must be bound
// with BindImage before the plan is replayed.
type Frame struct {
	c *Cache
	// Slots of c.images, or -1 for external images.
	images []int
	bufs   []int
	ext    map[graph.PhysicalID]boundImage
}

type boundImage struct {
	img  driver.Image
	view driver.ImageView
}

// BindImage binds img and view to the external physical
// image id for the duration of the frame.
func (f *Frame) BindImage(id graph.PhysicalID, img driver.Image, view driver.ImageView) error {
	if id < 0 || int(id) >= len(f.images) || f.images[id] != -1 {
		return newCacheErr("physical image " + strconv.Itoa(int(id)) + " is not external")
	}
	if img == nil || view == nil {
		return newCacheErr("nil image bound to physical image " + strconv.Itoa(int(id)))
	}
	f.ext[id] = boundImage{img, view}
	return nil
}

// ImageView implements graph.Resources.
// It returns nil for unknown and unbound images.
func (f *Frame) ImageView(id graph.PhysicalID) driver.ImageView {
	if id < 0 || int(id) >= len(f.images) {
		return nil
	}
	if i := f.images[id]; i >= 0 {
		return f.c.images[i].view
	}
	if b, ok := f.ext[id]; ok {
		return b.view
	}
	return nil
}

// Image returns the image bound to the physical image id,
// or nil.
func (f *Frame) Image(id graph.PhysicalID) driver.Image {
	if id < 0 || int(id) >= len(f.images) {
		return nil
	}
	if i := f.images[id]; i >= 0 {
		return f.c.images[i].img
	}
	if b, ok := f.ext[id]; ok {
		return b.img
	}
	return nil
}

// Buffer implements graph.Resources.
func (f *Frame) Buffer(id graph.PhysicalBufferID) driver.Buffer {
	return f.c.bufs[f.bufs[id]].buf
}

// ViewType returns the view type used for images of a
// given spec.
func ViewType(s *graph.Spec) driver.ViewType {
	switch {
	case s.Extents.Depth > 1:
		return driver.IView3D
	case s.Samples > 1 && s.Layers > 1:
		return driver.IView2DMSArray
	case s.Samples > 1:
		return driver.IView2DMS
	case s.Layers > 1:
		return driver.IView2DArray
	}
	return driver.IView2D
}

// Begin starts a new frame and binds every physical
// resource of p, except for external images.
// Resources used by the previous frame are not handed out
// again until they are released by a later call to Begin,
// so that the GPU can still be using them.
func (c *Cache) Begin(p *graph.Plan) (*Frame, error) {
	c.frame++
	c.evict()
	f := &Frame{
		c:      c,
		images: make([]int, len(p.Images)),
		bufs:   make([]int, len(p.Buffers)),
		ext:    make(map[graph.PhysicalID]boundImage),
	}
	taken := bitvec.New[uint32](len(c.images))
	for i := range p.Images {
		if p.Images[i].External {
			f.images[i] = -1
			continue
		}
		idx, err := c.image(&p.Images[i].Spec, taken)
		if err != nil {
			return nil, err
		}
		f.images[i] = idx
	}
	taken = bitvec.New[uint32](len(c.bufs))
	for i := range p.Buffers {
		idx, err := c.buffer(&p.Buffers[i], taken)
		if err != nil {
			return nil, err
		}
		f.bufs[i] = idx
	}
	c.cfg.Log.V(1).Info("began frame", "frame", c.frame, "images", c.imgSlots.Count(), "buffers", c.bufSlots.Count())
	return f, nil
}

// reusable returns whether a resource last used in frame
// last can be handed out in the current frame.
func (c *Cache) reusable(last int64) bool { return last < c.frame-1 }

func (c *Cache) image(s *graph.Spec, taken *bitvec.V[uint32]) (int, error) {
	for i := range c.imgSlots.All() {
		e := &c.images[i]
		if taken.IsSet(i) || e.spec != *s || !c.reusable(e.last) {
			continue
		}
		taken.Set(i)
		e.last = c.frame
		c.cfg.Log.V(2).Info("reuse image", "slot", i, "spec", s.String())
		return i, nil
	}

	ext := s.Extents
	img, err := c.gpu.NewImage(s.Format, ext, s.Layers, s.Levels, s.Samples, s.Usage)
	if err != nil {
		return 0, err
	}
	view, err := img.NewView(ViewType(s), 0, s.Layers, 0, s.Levels)
	if err != nil {
		img.Destroy()
		return 0, err
	}
	e := imageEntry{spec: *s, img: img, view: view, last: c.frame}
	i, ok := c.imgSlots.Search()
	if !ok {
		i = c.imgSlots.Grow(1)
	}
	c.imgSlots.Set(i)
	if i < len(c.images) {
		c.images[i] = e
	} else {
		c.images = append(c.images, make([]imageEntry, i+1-len(c.images))...)
		c.images[i] = e
	}
	taken.Ensure(i + 1)
	taken.Set(i)
	c.cfg.Log.V(2).Info("new image", "slot", i, "spec", s.String())
	return i, nil
}

func (c *Cache) buffer(b *graph.PhysicalBuffer, taken *bitvec.V[uint32]) (int, error) {
	if b.Spec.Size <= 0 {
		return 0, newCacheErr("buffer '" + b.Name + "' has invalid size")
	}
	for i := range c.bufSlots.All() {
		e := &c.bufs[i]
		if taken.IsSet(i) || e.spec != b.Spec || !c.reusable(e.last) {
			continue
		}
		taken.Set(i)
		e.last = c.frame
		return i, nil
	}

	buf, err := c.gpu.NewBuffer(b.Spec.Size, false, b.Spec.Usage)
	if err != nil {
		return 0, err
	}
	e := bufferEntry{spec: b.Spec, buf: buf, last: c.frame}
	i, ok := c.bufSlots.Search()
	if !ok {
		i = c.bufSlots.Grow(1)
	}
	c.bufSlots.Set(i)
	if i >= len(c.bufs) {
		c.bufs = append(c.bufs, make([]bufferEntry, i+1-len(c.bufs))...)
	}
	c.bufs[i] = e
	taken.Ensure(i + 1)
	taken.Set(i)
	c.cfg.Log.V(2).Info("new buffer", "slot", i, "name", b.Name, "size", b.Spec.Size)
	return i, nil
}

// evict destroys the resources that have not been used in
// the last MaxAge frames.
func (c *Cache) evict() {
	age := int64(c.cfg.MaxAge)
	for i := range c.imgSlots.All() {
		e := &c.images[i]
		if c.frame-e.last <= age {
			continue
		}
		e.view.Destroy()
		e.img.Destroy()
		*e = imageEntry{}
		c.imgSlots.Unset(i)
		c.cfg.Log.V(2).Info("evict image", "slot", i)
	}
	for i := range c.bufSlots.All() {
		e := &c.bufs[i]
		if c.frame-e.last <= age {
			continue
		}
		e.buf.Destroy()
		*e = bufferEntry{}
		c.bufSlots.Unset(i)
		c.cfg.Log.V(2).Info("evict buffer", "slot", i)
	}
}

// Len returns the number of cached images and buffers.
func (c *Cache) Len() (images, buffers int) {
	return c.imgSlots.Count(), c.bufSlots.Count()
}

// Destroy destroys every cached resource.
func (c *Cache) Destroy() {
	for i := range c.imgSlots.All() {
		c.images[i].view.Destroy()
		c.images[i].img.Destroy()
	}
	for i := range c.bufSlots.All() {
		c.bufs[i].buf.Destroy()
	}
	c.images = nil
	c.bufs = nil
	c.imgSlots.Clear()
	c.bufSlots.Clear()
}
