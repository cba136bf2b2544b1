// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/rgraph/driver"
)

// findBarrier returns the image barrier of set that
// transitions id, or nil.
func findBarrier(set *BarrierSet, id PhysicalID) *ImageBarrier {
	if set == nil {
		return nil
	}
	for i := range set.Images {
		if set.Images[i].Image == id {
			return &set.Images[i]
		}
	}
	return nil
}

func TestStorageImage(t *testing.T) {
	g := New()
	hiz := g.AddNode("hiz", Compute)
	pyr0 := g.CreateStorageImage(hiz, Constraint{
		Format:  driver.R32f,
		Samples: 1,
		Extents: Size2D(640, 360),
	})
	g.SetImageName(pyr0, "pyramid")
	blur := g.AddNode("blur", Compute)
	pyr1 := g.ModifyStorageImage(blur, pyr0, Constraint{})
	draw := g.AddNode("draw", Graphics)
	g.Sample(draw, pyr1, Constraint{})
	col := g.CreateColor(draw, 0, clearBlack, rgba8())
	g.SetOutput(col, Constraint{}, driver.LPresent)
	stats := g.AddNode("stats", Compute)
	g.ReadStorageImage(stats, pyr1, Constraint{})
	g.Sample(stats, col, Constraint{})
	g.SetOutputBuffer(g.CreateBuffer(stats, BufferSpec{Size: 64}))

	assert.Empty(t, g.StorageReads(hiz))
	assert.Len(t, g.StorageReads(blur), 1)
	assert.Len(t, g.StorageReads(stats), 1)

	p := compileTest(t, g, nil)
	checkOrder(t, g, p)
	require.Len(t, p.Passes, 4)
	assert.Equal(t, ComputePass, p.Passes[0].Kind)
	assert.Equal(t, ComputePass, p.Passes[1].Kind)
	assert.Equal(t, RenderPass, p.Passes[2].Kind)
	assert.Equal(t, ComputePass, p.Passes[3].Kind)

	id, ok := p.Image(pyr0)
	require.True(t, ok)
	id1, _ := p.Image(pyr1)
	assert.Equal(t, id, id1)
	spec := p.Images[id].Spec
	assert.Equal(t, driver.R32f, spec.Format)
	assert.Equal(t, driver.Dim3D{Width: 640, Height: 360, Depth: 1}, spec.Extents)
	assert.NotZero(t, spec.Usage&driver.UShaderWrite)
	assert.NotZero(t, spec.Usage&driver.UShaderSample)

	pre := p.Passes[0].Pre
	require.NotNil(t, pre)
	require.Len(t, pre.Images, 1)
	assert.Equal(t, driver.LUndefined, pre.Images[0].LayoutBefore)
	assert.Equal(t, driver.LCommon, pre.Images[0].LayoutAfter)
	assert.Equal(t, driver.STop, pre.Global.SyncBefore)
	assert.Equal(t, driver.SComputeShading, pre.Global.SyncAfter)
	assert.Equal(t, driver.AShaderWrite, pre.Global.AccessAfter)

	pre = p.Passes[1].Pre
	require.NotNil(t, pre)
	assert.Empty(t, pre.Images)
	assert.Equal(t, driver.SComputeShading, pre.Global.SyncBefore)
	assert.Equal(t, driver.AShaderWrite, pre.Global.AccessBefore)
	assert.Equal(t, driver.AShaderRead|driver.AShaderWrite, pre.Global.AccessAfter)

	b := findBarrier(p.Passes[2].Pre, id)
	require.NotNil(t, b)
	assert.Equal(t, driver.LCommon, b.LayoutBefore)
	assert.Equal(t, driver.LShaderRead, b.LayoutAfter)
	assert.Equal(t, driver.SComputeShading, b.SyncBefore)
	assert.Equal(t, driver.AShaderWrite, b.AccessBefore)

	b = findBarrier(p.Passes[3].Pre, id)
	require.NotNil(t, b)
	assert.Equal(t, driver.LShaderRead, b.LayoutBefore)
	assert.Equal(t, driver.LCommon, b.LayoutAfter)
	assert.NotZero(t, b.SyncBefore&driver.SFragmentShading)
}

func TestImportExport(t *testing.T) {
	g := New()
	hist := g.ImportImage("history", Spec{
		Format:  driver.RGBA16f,
		Samples: 1,
		Extents: driver.Dim3D{Width: 1280, Height: 720},
	}, driver.LShaderRead, driver.LShaderRead)
	g.ImportImage("", Spec{
		Format:  driver.RGBA8un,
		Samples: 1,
		Extents: driver.Dim3D{Width: 64, Height: 64},
	}, driver.LShaderRead, driver.LUndefined)
	scene := g.AddNode("scene", Graphics)
	cur := g.CreateColor(scene, 0, clearBlack, Constraint{Format: driver.RGBA16f, Samples: 1})
	taa := g.AddNode("taa", Graphics)
	g.Sample(taa, hist, Constraint{})
	g.Sample(taa, cur, Constraint{})
	res := g.CreateColor(taa, 0, nil, Constraint{})
	out := g.ExportImage(res, Spec{
		Format:  driver.RGBA16f,
		Samples: 1,
		Extents: driver.Dim3D{Width: 1280, Height: 720},
	}, driver.LShaderRead)
	require.NoError(t, g.Err())
	assert.Equal(t, "history", g.ImageName(g.ImageOf(hist)))
	assert.Equal(t, NodeID(-1), g.Creator(hist))

	p := compileTest(t, g, nil)
	checkOrder(t, g, p)
	require.Len(t, p.Passes, 2)
	require.Len(t, p.Images, 3)

	hid, ok := p.Image(hist)
	require.True(t, ok)
	assert.True(t, p.Images[hid].External)
	assert.False(t, p.Images[hid].Output)
	assert.Equal(t, driver.LShaderRead, p.Images[hid].InitialLayout)
	assert.Equal(t, driver.RGBA16f, p.Images[hid].Spec.Format)
	assert.NotZero(t, p.Images[hid].Spec.Usage&driver.UShaderSample)
	assert.Nil(t, findBarrier(p.Passes[1].Pre, hid))

	oid, ok := p.Image(out)
	require.True(t, ok)
	assert.True(t, p.Images[oid].External)
	assert.True(t, p.Images[oid].Output)
	assert.Equal(t, driver.LShaderRead, p.Images[oid].FinalLayout)
	assert.Equal(t, driver.RGBA16f, p.Images[oid].Spec.Format)

	cid, _ := p.Image(cur)
	assert.False(t, p.Images[cid].External)

	pass := &p.Passes[1]
	require.Len(t, pass.Attachments, 1)
	a := pass.Attachments[0]
	assert.Equal(t, oid, a.Image)
	assert.Equal(t, driver.LShaderRead, a.FinalLayout)
	assert.Equal(t, driver.SStore, a.Store[0])
	assert.Nil(t, p.Post)
}

func TestImportModify(t *testing.T) {
	for _, final := range []driver.Layout{driver.LUndefined, driver.LCommon} {
		t.Run(final.String(), func(t *testing.T) {
			g := New()
			accum := g.ImportImage("accum", Spec{
				Format:  driver.RGBA32f,
				Samples: 1,
				Extents: driver.Dim3D{Width: 320, Height: 240},
			}, driver.LShaderRead, final)
			n := g.AddNode("accumulate", Graphics)
			acc1 := g.ModifyColor(n, accum, 0, Constraint{})
			view := g.AddNode("view", Graphics)
			g.Sample(view, acc1, Constraint{})
			g.SetOutput(g.CreateColor(view, 0, nil, rgba8()), Constraint{}, driver.LPresent)

			p := compileTest(t, g, nil)
			checkOrder(t, g, p)
			require.Len(t, p.Passes, 2)
			id, ok := p.Image(accum)
			require.True(t, ok)
			id1, _ := p.Image(acc1)
			assert.Equal(t, id, id1)
			assert.True(t, p.Images[id].External)

			require.Len(t, p.Passes[0].Attachments, 1)
			a := p.Passes[0].Attachments[0]
			assert.Equal(t, driver.LLoad, a.Load[0])
			assert.Equal(t, driver.LShaderRead, a.InitialLayout)
			assert.Equal(t, driver.SStore, a.Store[0])

			switch final {
			case driver.LUndefined:
				assert.Equal(t, driver.LColorTarget, a.FinalLayout)
				assert.Nil(t, p.Post)
			case driver.LCommon:
				assert.Equal(t, driver.LCommon, a.FinalLayout)
				require.NotNil(t, p.Post)
				require.Len(t, p.Post.Images, 1)
				b := p.Post.Images[0]
				assert.Equal(t, id, b.Image)
				assert.Equal(t, driver.LShaderRead, b.LayoutBefore)
				assert.Equal(t, driver.LCommon, b.LayoutAfter)
				assert.NotZero(t, b.SyncBefore&driver.SFragmentShading)
			}
		})
	}
}

func TestImportConflict(t *testing.T) {
	g := New()
	hist := g.ImportImage("history", Spec{
		Format:  driver.RGBA16f,
		Samples: 1,
		Extents: driver.Dim3D{Width: 1280, Height: 720},
	}, driver.LShaderRead, driver.LShaderRead)
	n := g.AddNode("n", Graphics)
	g.Sample(n, hist, Constraint{Format: driver.RGBA8un})
	g.SetOutput(g.CreateColor(n, 0, nil, rgba8()), Constraint{}, driver.LPresent)

	_, err := Compile(g, testSurface, testOptions(t, nil))
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestIndirectBuffer(t *testing.T) {
	g := New()
	cull := g.AddNode("cull", Compute)
	args := g.CreateBuffer(cull, BufferSpec{Size: 256})
	draw := g.AddNode("draw", Graphics)
	rd := g.ReadIndirectBuffer(draw, args)
	g.SetOutput(g.CreateColor(draw, 0, clearBlack, rgba8()), Constraint{}, driver.LPresent)

	p := compileTest(t, g, nil)
	checkOrder(t, g, p)
	require.Len(t, p.Passes, 2)
	require.Len(t, p.Buffers, 1)
	id, ok := p.Buffer(rd)
	require.True(t, ok)
	assert.NotZero(t, p.Buffers[id].Spec.Usage&driver.UIndirectData)

	require.Len(t, p.Passes[1].Dependencies, 1)
	dep := p.Passes[1].Dependencies[0]
	assert.Equal(t, driver.SComputeShading, dep.SyncBefore)
	assert.Equal(t, driver.AShaderWrite, dep.AccessBefore)
	assert.Equal(t, driver.SDrawIndirect|driver.SColorOutput, dep.SyncAfter)
	assert.True(t, dep.AccessAfter.Contains(driver.AIndirectRead))
}
