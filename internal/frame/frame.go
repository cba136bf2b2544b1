// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package frame loads frame descriptions written in YAML
// and builds render graphs from them.
//
// A frame lists the nodes in declaration order. Each node
// uses images and buffers by name; an operation that writes
// (create, modify) rebinds the name to the new version, and
// an operation that reads refers to the version currently
// bound to the name.
package frame

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"

	"github.com/gviegas/rgraph/driver"
	"github.com/gviegas/rgraph/graph"
)

// Frame is the root of a frame description.
type Frame struct {
	Surface Surface `json:"surface"`
	// Merge is either "never" (the default) or
	// "attachment".
	Merge         string   `json:"merge,omitempty"`
	Imports       []Import `json:"imports,omitempty"`
	Nodes         []Node   `json:"nodes"`
	Outputs       []Output `json:"outputs,omitempty"`
	BufferOutputs []string `json:"bufferOutputs,omitempty"`
}

// Surface describes the presentation surface.
type Surface struct {
	Width  int             `json:"width"`
	Height int             `json:"height"`
	Format driver.PixelFmt `json:"format"`
}

// Node describes a node of the graph.
type Node struct {
	Name string `json:"name"`
	// Queue is either "graphics" (the default) or
	// "compute".
	Queue string `json:"queue,omitempty"`
	Uses  []Use  `json:"uses,omitempty"`
}

// Operations of Use.
const (
	OpCreateColor   = "create-color"
	OpCreateDepth   = "create-depth"
	OpCreateResolve = "create-resolve"
	OpReadColor     = "read-color"
	OpReadDepth     = "read-depth"
	OpModifyColor   = "modify-color"
	OpModifyDepth   = "modify-depth"
	OpSample        = "sample"
	OpCreateBuffer  = "create-buffer"
	OpReadVertex    = "read-vertex"
	OpReadIndex     = "read-index"
	OpReadConst     = "read-const"
	OpReadStorage   = "read-storage"
	OpModifyStorage = "modify-storage"
	OpReadIndirect  = "read-indirect"

	OpCreateStorageImage = "create-storage-image"
	OpReadStorageImage   = "read-storage-image"
	OpModifyStorageImage = "modify-storage-image"
)

// Import declares an image whose contents come from
// outside of the frame.
// Unset samples default to 1 and unset sizes to the size
// of the surface.
type Import struct {
	Image   string          `json:"image"`
	Format  driver.PixelFmt `json:"format"`
	Samples int             `json:"samples,omitempty"`
	Width   int             `json:"width,omitempty"`
	Height  int             `json:"height,omitempty"`
	Layers  int             `json:"layers,omitempty"`
	Levels  int             `json:"levels,omitempty"`
	// The image is in InitialLayout when the frame begins.
	InitialLayout driver.Layout `json:"initialLayout,omitempty"`
	// FinalLayout is the layout the image is left in.
	// If unset, the image is left in the layout of its
	// last use.
	FinalLayout driver.Layout `json:"finalLayout,omitempty"`
}

// Use describes a single image or buffer usage of a node.
// Image operations set Image and buffer operations set
// Buffer.
type Use struct {
	Op     string             `json:"op"`
	Image  string             `json:"image,omitempty"`
	Buffer string             `json:"buffer,omitempty"`
	Slot   int                `json:"slot,omitempty"`
	Clear  *driver.ClearValue `json:"clear,omitempty"`

	Format      driver.PixelFmt `json:"format,omitempty"`
	Samples     int             `json:"samples,omitempty"`
	SurfaceSize bool            `json:"surfaceSize,omitempty"`
	Width       int             `json:"width,omitempty"`
	Height      int             `json:"height,omitempty"`
	Depth       int             `json:"depth,omitempty"`
	Layers      int             `json:"layers,omitempty"`
	Levels      int             `json:"levels,omitempty"`

	// Bytes is the size of a created buffer.
	Bytes int64 `json:"bytes,omitempty"`
}

// Output declares an image output of the frame.
type Output struct {
	Image   string          `json:"image"`
	Format  driver.PixelFmt `json:"format,omitempty"`
	Samples int             `json:"samples,omitempty"`
	// Layout is the layout the image is left in.
	// Default is "present".
	Layout driver.Layout `json:"layout,omitempty"`
	// External outputs are provided by the caller, as
	// swapchain images are. Their format defaults to the
	// surface format and their size to the surface size.
	External bool `json:"external,omitempty"`
	Width    int  `json:"width,omitempty"`
	Height   int  `json:"height,omitempty"`
}

// constraint returns the image constraint of u.
func (u *Use) constraint() graph.Constraint {
	c := graph.Constraint{
		Format:  u.Format,
		Samples: u.Samples,
		Layers:  u.Layers,
		Levels:  u.Levels,
	}
	switch {
	case u.SurfaceSize:
		c.Extents = graph.SurfaceExtents()
	case u.Width > 0 || u.Height > 0:
		c.Extents = graph.Size2D(u.Width, u.Height)
		if u.Depth > 1 {
			c.Extents.Size.Depth = u.Depth
		}
	}
	return c
}

// Parse decodes a frame description.
// Unknown fields are rejected.
func Parse(data []byte) (*Frame, error) {
	var f Frame
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if len(f.Nodes) == 0 {
		return nil, fmt.Errorf("frame has no nodes")
	}
	return &f, nil
}

// Load reads and decodes the frame description at path.
func Load(path string) (*Frame, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path %q is a directory, provide a path to a frame file (.yaml or .yml)", path)
	}
	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("file %q must have a .yaml or .yml extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Marshal encodes f as YAML.
func Marshal(f *Frame) ([]byte, error) { return yaml.Marshal(f) }

// spec completes the spec of an external image with the
// surface of f.
func (f *Frame) spec(format driver.PixelFmt, samples, width, height, layers, levels int) graph.Spec {
	if format == driver.FUndefined {
		format = f.Surface.Format
	}
	if samples <= 0 {
		samples = 1
	}
	if width <= 0 {
		width = f.Surface.Width
	}
	if height <= 0 {
		height = f.Surface.Height
	}
	return graph.Spec{
		Format:  format,
		Samples: samples,
		Extents: driver.Dim3D{Width: width, Height: height, Depth: 1},
		Layers:  layers,
		Levels:  levels,
	}
}

// SurfaceInfo returns the surface of f.
func (f *Frame) SurfaceInfo() graph.SurfaceInfo {
	return graph.SurfaceInfo{
		Extents: driver.Dim3D{Width: f.Surface.Width, Height: f.Surface.Height, Depth: 1},
		Format:  f.Surface.Format,
	}
}

// MergePolicy returns the merge policy named by f.Merge.
func (f *Frame) MergePolicy() (graph.MergePolicy, error) {
	switch f.Merge {
	case "", "never":
		return graph.NeverMerge, nil
	case "attachment":
		return graph.AttachmentMerge{}, nil
	}
	return nil, fmt.Errorf("unknown merge policy %q", f.Merge)
}

// BodyFunc creates the body of the node with a given name.
type BodyFunc func(node string) graph.Body

// builder tracks the version bound to each name.
type builder struct {
	g       *graph.Graph
	images  map[string]graph.UsageID
	buffers map[string]graph.BufferID
}

func (b *builder) image(node, name string) (graph.UsageID, error) {
	u, ok := b.images[name]
	if !ok {
		return 0, fmt.Errorf("node %q: unknown image %q", node, name)
	}
	return u, nil
}

func (b *builder) buffer(node, name string) (graph.BufferID, error) {
	x, ok := b.buffers[name]
	if !ok {
		return 0, fmt.Errorf("node %q: unknown buffer %q", node, name)
	}
	return x, nil
}

func (b *builder) bindImage(node, name string, u graph.UsageID, create bool) error {
	if name == "" {
		return fmt.Errorf("node %q: image operation without an image name", node)
	}
	if _, dup := b.images[name]; dup && create {
		return fmt.Errorf("node %q: image %q created twice", node, name)
	}
	if create {
		b.g.SetImageName(u, name)
	}
	b.images[name] = u
	return nil
}

func (b *builder) use(n graph.NodeID, node string, u *Use) error {
	g := b.g
	c := u.constraint()
	switch u.Op {
	case OpCreateColor:
		return b.bindImage(node, u.Image, g.CreateColor(n, u.Slot, u.Clear, c), true)
	case OpCreateDepth:
		return b.bindImage(node, u.Image, g.CreateDepth(n, u.Clear, c), true)
	case OpCreateResolve:
		return b.bindImage(node, u.Image, g.CreateResolve(n, u.Slot, c), true)
	case OpCreateStorageImage:
		return b.bindImage(node, u.Image, g.CreateStorageImage(n, c), true)
	case OpReadColor, OpReadDepth, OpModifyColor, OpModifyDepth, OpSample,
		OpReadStorageImage, OpModifyStorageImage:
		img, err := b.image(node, u.Image)
		if err != nil {
			return err
		}
		switch u.Op {
		case OpReadColor:
			g.ReadColor(n, img, u.Slot, c)
		case OpReadDepth:
			g.ReadDepth(n, img, c)
		case OpModifyColor:
			b.images[u.Image] = g.ModifyColor(n, img, u.Slot, c)
		case OpModifyDepth:
			b.images[u.Image] = g.ModifyDepth(n, img, c)
		case OpSample:
			g.Sample(n, img, c)
		case OpReadStorageImage:
			g.ReadStorageImage(n, img, c)
		case OpModifyStorageImage:
			b.images[u.Image] = g.ModifyStorageImage(n, img, c)
		}
		return nil
	case OpCreateBuffer:
		if u.Buffer == "" {
			return fmt.Errorf("node %q: buffer operation without a buffer name", node)
		}
		if _, dup := b.buffers[u.Buffer]; dup {
			return fmt.Errorf("node %q: buffer %q created twice", node, u.Buffer)
		}
		x := g.CreateBuffer(n, graph.BufferSpec{Size: u.Bytes})
		g.SetBufferName(x, u.Buffer)
		b.buffers[u.Buffer] = x
		return nil
	case OpReadVertex, OpReadIndex, OpReadIndirect, OpReadConst, OpReadStorage, OpModifyStorage:
		x, err := b.buffer(node, u.Buffer)
		if err != nil {
			return err
		}
		switch u.Op {
		case OpReadVertex:
			g.ReadVertexBuffer(n, x)
		case OpReadIndex:
			g.ReadIndexBuffer(n, x)
		case OpReadIndirect:
			g.ReadIndirectBuffer(n, x)
		case OpReadConst:
			g.ReadConstBuffer(n, x)
		case OpReadStorage:
			g.ReadStorageBuffer(n, x)
		case OpModifyStorage:
			b.buffers[u.Buffer] = g.ModifyStorageBuffer(n, x)
		}
		return nil
	}
	return fmt.Errorf("node %q: unknown operation %q", node, u.Op)
}

// Graph builds the render graph described by f.
// If body is not nil, it is called once per node to
// create the node's body.
// Errors in the frame description itself (unknown names
// or operations) are returned here; misuse of the graph
// API is reported by graph.Compile.
func (f *Frame) Graph(body BodyFunc) (*graph.Graph, error) {
	b := &builder{
		g:       graph.New(),
		images:  make(map[string]graph.UsageID),
		buffers: make(map[string]graph.BufferID),
	}
	for i := range f.Imports {
		im := &f.Imports[i]
		spec := f.spec(im.Format, im.Samples, im.Width, im.Height, im.Layers, im.Levels)
		u := b.g.ImportImage(im.Image, spec, im.InitialLayout, im.FinalLayout)
		if err := b.bindImage("import", im.Image, u, true); err != nil {
			return nil, err
		}
	}
	for i := range f.Nodes {
		nd := &f.Nodes[i]
		var q graph.Queue
		switch nd.Queue {
		case "", "graphics":
			q = graph.Graphics
		case "compute":
			q = graph.Compute
		default:
			return nil, fmt.Errorf("node %q: unknown queue %q", nd.Name, nd.Queue)
		}
		n := b.g.AddNode(nd.Name, q)
		for j := range nd.Uses {
			if err := b.use(n, nd.Name, &nd.Uses[j]); err != nil {
				return nil, err
			}
		}
		if body != nil {
			b.g.SetBody(n, body(nd.Name))
		}
	}
	for _, o := range f.Outputs {
		img, err := b.image("output", o.Image)
		if err != nil {
			return nil, err
		}
		layout := o.Layout
		if layout == driver.LUndefined {
			layout = driver.LPresent
		}
		if o.External {
			b.g.ExportImage(img, f.spec(o.Format, o.Samples, o.Width, o.Height, 1, 1), layout)
		} else {
			b.g.SetOutput(img, graph.Constraint{Format: o.Format, Samples: o.Samples}, layout)
		}
	}
	for _, name := range f.BufferOutputs {
		x, err := b.buffer("output", name)
		if err != nil {
			return nil, err
		}
		b.g.SetOutputBuffer(x)
	}
	return b.g, nil
}
