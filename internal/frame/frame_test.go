// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package frame

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/rgraph/driver"
	"github.com/gviegas/rgraph/graph"
)

const deferred = `
surface:
  width: 1280
  height: 720
  format: BGRA8sRGB
nodes:
  - name: gbuffer
    uses:
      - op: create-color
        image: albedo
        format: RGBA8un
        samples: 1
        surfaceSize: true
        clear:
          color: [0, 0, 0, 1]
      - op: create-depth
        image: depth
        format: D32f
        samples: 1
        clear:
          depth: 1
  - name: cull
    queue: compute
    uses:
      - op: create-buffer
        buffer: visible
        bytes: 4096
  - name: lighting
    uses:
      - op: sample
        image: albedo
      - op: read-depth
        image: depth
      - op: read-storage
        buffer: visible
      - op: create-color
        image: hdr
        format: RGBA16f
        samples: 1
  - name: tonemap
    uses:
      - op: sample
        image: hdr
      - op: create-color
        image: swapchain
  - name: unused
    uses:
      - op: create-color
        image: debug
        format: RGBA8un
        samples: 1
outputs:
  - image: swapchain
    layout: present
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(deferred))
	require.NoError(t, err)
	assert.Equal(t, driver.BGRA8sRGB, f.Surface.Format)
	require.Len(t, f.Nodes, 5)
	assert.Equal(t, "compute", f.Nodes[1].Queue)
	gb := f.Nodes[0].Uses
	require.Len(t, gb, 2)
	require.NotNil(t, gb[0].Clear)
	assert.Equal(t, [4]float32{0, 0, 0, 1}, gb[0].Clear.Color)
	assert.True(t, gb[0].SurfaceSize)
	assert.Equal(t, driver.D32f, gb[1].Format)
	assert.Equal(t, float32(1), gb[1].Clear.Depth)
	assert.Equal(t, int64(4096), f.Nodes[1].Uses[0].Bytes)
	require.Len(t, f.Outputs, 1)
	assert.Equal(t, driver.LPresent, f.Outputs[0].Layout)

	mp, err := f.MergePolicy()
	require.NoError(t, err)
	assert.IsType(t, graph.MergeFunc(nil), mp)
	assert.False(t, mp.CanMerge(nil, 0, 1))
	assert.Equal(t, driver.Dim3D{Width: 1280, Height: 720, Depth: 1}, f.SurfaceInfo().Extents)
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		msg  string
	}{
		{"unknown field", "nodes:\n  - name: a\n    color: red\n", "unmarshal"},
		{"bad format", "nodes:\n  - name: a\n    uses:\n      - op: create-color\n        image: x\n        format: RGB565\n", "unmarshal"},
		{"no nodes", "surface:\n  width: 1\n  height: 1\n", "no nodes"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.doc))
			assert.ErrorContains(t, err, c.msg)
		})
	}
}

func TestGraph(t *testing.T) {
	f, err := Parse([]byte(deferred))
	require.NoError(t, err)

	var bodies []string
	g, err := f.Graph(func(node string) graph.Body {
		bodies = append(bodies, node)
		return graph.BodyFunc(func(*graph.Context) error { return nil })
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gbuffer", "cull", "lighting", "tonemap", "unused"}, bodies)
	assert.Equal(t, 5, g.NodeCount())
	assert.Equal(t, graph.Compute, g.Queue(1))

	p, err := graph.Compile(g, f.SurfaceInfo(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Culled())
	require.Len(t, p.Passes, 4)
	var compute int
	for _, pass := range p.Passes {
		if pass.Kind == graph.ComputePass {
			compute++
		}
	}
	assert.Equal(t, 1, compute)
	last := p.Passes[len(p.Passes)-1]
	assert.Equal(t, "tonemap", p.NodeName(last.Nodes[0]))
	require.Len(t, last.Attachments, 1)
	assert.Equal(t, driver.BGRA8sRGB, last.Attachments[0].Format)
	assert.Equal(t, driver.LPresent, last.Attachments[0].FinalLayout)
	require.Len(t, p.Buffers, 1)
	assert.Equal(t, "visible", p.Buffers[0].Name)
	assert.NotNil(t, p.Body(last.Nodes[0]))
}

func TestGraphErrors(t *testing.T) {
	cases := []struct {
		name string
		f    Frame
		msg  string
	}{
		{
			"unknown image",
			Frame{Nodes: []Node{{Name: "a", Uses: []Use{{Op: OpSample, Image: "x"}}}}},
			`node "a": unknown image "x"`,
		},
		{
			"unknown buffer",
			Frame{Nodes: []Node{{Name: "a", Uses: []Use{{Op: OpReadConst, Buffer: "b"}}}}},
			`node "a": unknown buffer "b"`,
		},
		{
			"unknown op",
			Frame{Nodes: []Node{{Name: "a", Uses: []Use{{Op: "blit", Image: "x"}}}}},
			`unknown operation "blit"`,
		},
		{
			"unknown queue",
			Frame{Nodes: []Node{{Name: "a", Queue: "transfer"}}},
			`unknown queue "transfer"`,
		},
		{
			"duplicate image",
			Frame{Nodes: []Node{
				{Name: "a", Uses: []Use{{Op: OpCreateColor, Image: "x"}}},
				{Name: "b", Uses: []Use{{Op: OpCreateColor, Image: "x"}}},
			}},
			`image "x" created twice`,
		},
		{
			"unnamed image",
			Frame{Nodes: []Node{{Name: "a", Uses: []Use{{Op: OpCreateDepth}}}}},
			"without an image name",
		},
		{
			"unknown output",
			Frame{Nodes: []Node{{Name: "a"}}, Outputs: []Output{{Image: "y"}}},
			`unknown image "y"`,
		},
		{
			"duplicate import",
			Frame{
				Imports: []Import{{Image: "h", Format: driver.RGBA8un}, {Image: "h", Format: driver.RGBA8un}},
				Nodes:   []Node{{Name: "a"}},
			},
			`node "import": image "h" created twice`,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := c.f.Graph(nil)
			assert.ErrorContains(t, err, c.msg)
		})
	}

	_, err := (&Frame{Merge: "always"}).MergePolicy()
	assert.ErrorContains(t, err, `unknown merge policy "always"`)
	mp, err := (&Frame{Merge: "attachment"}).MergePolicy()
	require.NoError(t, err)
	assert.Equal(t, graph.AttachmentMerge{}, mp)
}

func TestModifyRebinds(t *testing.T) {
	f := &Frame{
		Surface: Surface{Width: 64, Height: 64, Format: driver.RGBA8un},
		Nodes: []Node{
			{Name: "a", Uses: []Use{{Op: OpCreateColor, Image: "x", Format: driver.RGBA8un, Samples: 1}}},
			{Name: "b", Uses: []Use{{Op: OpModifyColor, Image: "x"}}},
		},
		Outputs: []Output{{Image: "x", Layout: driver.LShaderRead}},
	}
	g, err := f.Graph(nil)
	require.NoError(t, err)
	p, err := graph.Compile(g, f.SurfaceInfo(), nil)
	require.NoError(t, err)
	require.Len(t, p.Passes, 2)
	assert.Equal(t, "b", p.NodeName(p.Passes[1].Nodes[0]))
	assert.Equal(t, driver.LLoad, p.Passes[1].Attachments[0].Load[0])
	assert.Equal(t, driver.LShaderRead, p.Passes[1].Attachments[0].FinalLayout)
}

const external = `
surface:
  width: 640
  height: 480
  format: BGRA8un
imports:
  - image: history
    format: RGBA16f
    initialLayout: shader-read
    finalLayout: shader-read
nodes:
  - name: cull
    queue: compute
    uses:
      - op: create-buffer
        buffer: args
        bytes: 64
      - op: create-storage-image
        image: mask
        format: R32f
        samples: 1
        surfaceSize: true
  - name: refine
    queue: compute
    uses:
      - op: modify-storage-image
        image: mask
  - name: draw
    uses:
      - op: read-indirect
        buffer: args
      - op: sample
        image: history
      - op: read-storage-image
        image: mask
      - op: create-color
        image: frame
outputs:
  - image: frame
    external: true
`

func TestExternalImages(t *testing.T) {
	f, err := Parse([]byte(external))
	require.NoError(t, err)
	require.Len(t, f.Imports, 1)
	assert.Equal(t, driver.LShaderRead, f.Imports[0].InitialLayout)
	assert.True(t, f.Outputs[0].External)

	g, err := f.Graph(nil)
	require.NoError(t, err)
	p, err := graph.Compile(g, f.SurfaceInfo(), nil)
	require.NoError(t, err)
	require.Len(t, p.Passes, 3)
	assert.Equal(t, "draw", p.NodeName(p.Passes[2].Nodes[0]))
	require.Len(t, p.Images, 3)

	var imported, exported, storage *graph.PhysicalImage
	for i := range p.Images {
		switch im := &p.Images[i]; {
		case im.External && im.Output:
			exported = im
		case im.External:
			imported = im
		default:
			storage = im
		}
	}
	require.NotNil(t, imported)
	assert.Equal(t, driver.RGBA16f, imported.Spec.Format)
	assert.Equal(t, driver.Dim3D{Width: 640, Height: 480, Depth: 1}, imported.Spec.Extents)
	assert.Equal(t, driver.LShaderRead, imported.InitialLayout)
	assert.Equal(t, driver.LShaderRead, imported.FinalLayout)
	require.NotNil(t, exported)
	assert.Equal(t, driver.BGRA8un, exported.Spec.Format)
	assert.Equal(t, driver.LPresent, exported.FinalLayout)
	require.NotNil(t, storage)
	assert.Equal(t, driver.R32f, storage.Spec.Format)
	assert.NotZero(t, storage.Spec.Usage&driver.UShaderWrite)
	assert.NotZero(t, storage.Spec.Usage&driver.UShaderRead)

	require.Len(t, p.Buffers, 1)
	assert.NotZero(t, p.Buffers[0].Spec.Usage&driver.UIndirectData)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.yaml")
	require.NoError(t, os.WriteFile(path, []byte(deferred), 0o644))
	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Nodes, 5)

	data, err := Marshal(f)
	require.NoError(t, err)
	f2, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, f, f2)

	txt := filepath.Join(dir, "frame.txt")
	require.NoError(t, os.WriteFile(txt, []byte(deferred), 0o644))
	_, err = Load(txt)
	assert.ErrorContains(t, err, "must have a .yaml or .yml extension")
	_, err = Load(dir)
	assert.ErrorContains(t, err, "is a directory")
	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to access file")
}
