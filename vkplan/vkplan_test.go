// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package vkplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"github.com/gviegas/rgraph/driver"
	"github.com/gviegas/rgraph/graph"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		pf   driver.PixelFmt
		want vk.Format
	}{
		{driver.FUndefined, vk.FormatUndefined},
		{driver.RGBA8un, vk.FormatR8g8b8a8Unorm},
		{driver.BGRA8sRGB, vk.FormatB8g8r8a8Srgb},
		{driver.RGBA16f, vk.FormatR16g16b16a16Sfloat},
		{driver.R32f, vk.FormatR32Sfloat},
		{driver.D32f, vk.FormatD32Sfloat},
		{driver.D24unS8ui, vk.FormatD24UnormS8Uint},
	}
	for _, c := range cases {
		if have := Format(c.pf); have != c.want {
			t.Fatalf("Format(%v):\nhave %v\nwant %v", c.pf, have, c.want)
		}
	}
}

func TestLayout(t *testing.T) {
	cases := []struct {
		l    driver.Layout
		want vk.ImageLayout
	}{
		{driver.LUndefined, vk.ImageLayoutUndefined},
		{driver.LCommon, vk.ImageLayoutGeneral},
		{driver.LColorTarget, vk.ImageLayoutColorAttachmentOptimal},
		{driver.LDSTarget, vk.ImageLayoutDepthStencilAttachmentOptimal},
		{driver.LDSRead, vk.ImageLayoutDepthStencilReadOnlyOptimal},
		{driver.LShaderRead, vk.ImageLayoutShaderReadOnlyOptimal},
		{driver.LPresent, vk.ImageLayoutPresentSrc},
	}
	for _, c := range cases {
		if have := Layout(c.l); have != c.want {
			t.Fatalf("Layout(%v):\nhave %v\nwant %v", c.l, have, c.want)
		}
	}
}

func TestStagesAndAccess(t *testing.T) {
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), Stages(driver.STop))
	assert.Equal(t,
		vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit|vk.PipelineStageLateFragmentTestsBit|vk.PipelineStageFragmentShaderBit),
		Stages(driver.SDSOutput|driver.SFragmentShading))
	assert.Zero(t, Stages(driver.SNone))
	assert.Equal(t,
		vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit|vk.PipelineStageComputeShaderBit),
		Stages(driver.SDrawIndirect|driver.SComputeShading))

	assert.Equal(t,
		vk.AccessFlags(vk.AccessColorAttachmentWriteBit|vk.AccessShaderReadBit),
		Access(driver.AColorWrite|driver.AShaderRead))
	assert.Equal(t, vk.AccessFlags(vk.AccessMemoryWriteBit), Access(driver.AAnyWrite))
	assert.Zero(t, Access(driver.ANone))
	assert.Equal(t, vk.AccessFlags(vk.AccessIndirectCommandReadBit), Access(driver.AIndirectRead))
	assert.Equal(t,
		vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit|vk.BufferUsageStorageBufferBit),
		BufferUsage(driver.UIndirectData|driver.UShaderWrite))
}

func TestAspect(t *testing.T) {
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), Aspect(driver.RGBA8un))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), Aspect(driver.D32f))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectStencilBit), Aspect(driver.S8ui))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), Aspect(driver.D24unS8ui))
}

func TestRenderPass(t *testing.T) {
	p := &graph.Pass{
		Kind:  graph.RenderPass,
		Nodes: []graph.NodeID{0, 1},
		Attachments: []graph.Attachment{
			{Attachment: driver.Attachment{
				Format:        driver.RGBA8un,
				Samples:       4,
				Load:          [2]driver.LoadOp{driver.LClear, driver.LDontCare},
				InitialLayout: driver.LUndefined,
				FinalLayout:   driver.LColorTarget,
			}},
			{Attachment: driver.Attachment{
				Format:        driver.RGBA8un,
				Samples:       1,
				Store:         [2]driver.StoreOp{driver.SStore, driver.SDontCare},
				InitialLayout: driver.LUndefined,
				FinalLayout:   driver.LPresent,
			}},
			{Attachment: driver.Attachment{
				Format:        driver.D32f,
				Samples:       4,
				Load:          [2]driver.LoadOp{driver.LClear, driver.LDontCare},
				InitialLayout: driver.LUndefined,
				FinalLayout:   driver.LDSTarget,
			}},
		},
		Subpasses: []driver.Subpass{
			{Color: []int{0}, DS: 2, MSR: []int{1}},
			{Color: []int{0}, DS: -1},
		},
		Dependencies: []driver.Dependency{
			{
				Barrier:    driver.Barrier{SyncBefore: driver.STop, SyncAfter: driver.SColorOutput, AccessAfter: driver.AColorWrite},
				SrcSubpass: driver.External,
				DstSubpass: 0,
			},
			{
				Barrier: driver.Barrier{
					SyncBefore:   driver.SColorOutput,
					SyncAfter:    driver.SColorOutput,
					AccessBefore: driver.AColorWrite,
					AccessAfter:  driver.AColorRead | driver.AColorWrite,
				},
				SrcSubpass: 0,
				DstSubpass: 1,
			},
		},
	}

	info, err := RenderPass(p)
	require.NoError(t, err)
	assert.Equal(t, vk.StructureTypeRenderPassCreateInfo, info.SType)
	require.Len(t, info.PAttachments, 3)
	assert.Equal(t, uint32(3), info.AttachmentCount)

	a0 := info.PAttachments[0]
	assert.Equal(t, vk.SampleCount4Bit, a0.Samples)
	assert.Equal(t, vk.AttachmentLoadOpClear, a0.LoadOp)
	assert.Equal(t, vk.AttachmentStoreOpDontCare, a0.StoreOp)
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, a0.FinalLayout)
	a1 := info.PAttachments[1]
	assert.Equal(t, vk.AttachmentStoreOpStore, a1.StoreOp)
	assert.Equal(t, vk.ImageLayoutPresentSrc, a1.FinalLayout)
	assert.Equal(t, vk.FormatD32Sfloat, info.PAttachments[2].Format)

	require.Len(t, info.PSubpasses, 2)
	s0 := info.PSubpasses[0]
	assert.Equal(t, vk.PipelineBindPointGraphics, s0.PipelineBindPoint)
	assert.Equal(t, uint32(1), s0.ColorAttachmentCount)
	require.Len(t, s0.PResolveAttachments, 1)
	assert.Equal(t, uint32(1), s0.PResolveAttachments[0].Attachment)
	require.NotNil(t, s0.PDepthStencilAttachment)
	assert.Equal(t, uint32(2), s0.PDepthStencilAttachment.Attachment)
	assert.Equal(t, vk.ImageLayoutDepthStencilAttachmentOptimal, s0.PDepthStencilAttachment.Layout)
	assert.Zero(t, s0.PreserveAttachmentCount)

	s1 := info.PSubpasses[1]
	assert.Nil(t, s1.PDepthStencilAttachment)
	assert.Nil(t, s1.PResolveAttachments)
	assert.Equal(t, []uint32{1, 2}, s1.PPreserveAttachments)

	require.Len(t, info.PDependencies, 2)
	d0 := info.PDependencies[0]
	assert.Equal(t, uint32(vk.SubpassExternal), d0.SrcSubpass)
	assert.Equal(t, uint32(0), d0.DstSubpass)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), d0.SrcStageMask)
	assert.Zero(t, d0.DependencyFlags)
	d1 := info.PDependencies[1]
	assert.Equal(t, uint32(1), d1.DstSubpass)
	assert.Equal(t, vk.DependencyFlags(vk.DependencyByRegionBit), d1.DependencyFlags)
	assert.Equal(t, vk.AccessFlags(vk.AccessColorAttachmentReadBit|vk.AccessColorAttachmentWriteBit), d1.DstAccessMask)
}

func TestRenderPassErrors(t *testing.T) {
	_, err := RenderPass(&graph.Pass{Kind: graph.ComputePass})
	assert.ErrorIs(t, err, errComputePass)

	_, err = RenderPass(&graph.Pass{
		Kind:        graph.RenderPass,
		Attachments: []graph.Attachment{{Attachment: driver.Attachment{Format: driver.RGBA8un, Samples: 1}}},
		Subpasses:   []driver.Subpass{{Color: []int{1}, DS: -1}},
	})
	assert.ErrorContains(t, err, "out of range")

	_, err = RenderPass(&graph.Pass{
		Kind:        graph.RenderPass,
		Attachments: []graph.Attachment{{Attachment: driver.Attachment{Format: driver.RGBA8un, Samples: 1}}},
		Subpasses:   []driver.Subpass{{Color: []int{0}, DS: -1, MSR: []int{0, 0}}},
	})
	assert.ErrorContains(t, err, "length mismatch")
}

func TestImageAndBuffer(t *testing.T) {
	img := Image(&graph.PhysicalImage{Spec: graph.Spec{
		Format:  driver.D24unS8ui,
		Samples: 4,
		Extents: driver.Dim3D{Width: 1280, Height: 720, Depth: 1},
		Layers:  1,
		Levels:  1,
		Usage:   driver.URenderTarget | driver.UShaderSample,
	}})
	assert.Equal(t, vk.ImageType2d, img.ImageType)
	assert.Equal(t, vk.Extent3D{Width: 1280, Height: 720, Depth: 1}, img.Extent)
	assert.Equal(t, vk.SampleCount4Bit, img.Samples)
	assert.Equal(t,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit|vk.ImageUsageSampledBit),
		img.Usage)

	vol := Image(&graph.PhysicalImage{Spec: graph.Spec{
		Format:  driver.R16f,
		Samples: 1,
		Extents: driver.Dim3D{Width: 64, Height: 64, Depth: 32},
		Usage:   driver.UShaderWrite,
	}})
	assert.Equal(t, vk.ImageType3d, vol.ImageType)
	assert.Equal(t, uint32(32), vol.Extent.Depth)
	assert.Equal(t, uint32(1), vol.ArrayLayers)
	assert.Equal(t, vk.ImageUsageFlags(vk.ImageUsageStorageBit), vol.Usage)

	buf := Buffer(&graph.PhysicalBuffer{Spec: graph.BufferSpec{
		Size:  4096,
		Usage: driver.UShaderWrite | driver.UVertexData,
	}})
	assert.Equal(t, vk.DeviceSize(4096), buf.Size)
	assert.Equal(t,
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit|vk.BufferUsageVertexBufferBit),
		buf.Usage)
}

func TestBarriers(t *testing.T) {
	p := &graph.Plan{Images: []graph.PhysicalImage{
		{Spec: graph.Spec{Format: driver.RGBA8un, Samples: 1, Layers: 1, Levels: 1}},
		{Spec: graph.Spec{Format: driver.D32f, Samples: 1, Layers: 2, Levels: 3}},
	}}

	global := &graph.BarrierSet{Global: driver.Barrier{
		SyncBefore:   driver.SComputeShading,
		SyncAfter:    driver.SVertexInput,
		AccessBefore: driver.AShaderWrite,
		AccessAfter:  driver.AVertexBufRead,
	}}
	x, err := Barriers(p, global, nil)
	require.NoError(t, err)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), x.SrcStage)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageVertexInputBit), x.DstStage)
	require.Len(t, x.Memory, 1)
	assert.Empty(t, x.Images)
	assert.Equal(t, vk.AccessFlags(vk.AccessShaderWriteBit), x.Memory[0].SrcAccessMask)
	assert.Equal(t, vk.AccessFlags(vk.AccessVertexAttributeReadBit), x.Memory[0].DstAccessMask)

	set := &graph.BarrierSet{
		Global: driver.Barrier{SyncBefore: driver.SDSOutput, SyncAfter: driver.SFragmentShading},
		Images: []graph.ImageBarrier{{
			Barrier: driver.Barrier{
				SyncBefore:   driver.SDSOutput,
				SyncAfter:    driver.SFragmentShading,
				AccessBefore: driver.ADSWrite,
				AccessAfter:  driver.AShaderRead,
			},
			Image:        1,
			LayoutBefore: driver.LDSTarget,
			LayoutAfter:  driver.LShaderRead,
		}},
	}
	images := make([]vk.Image, 2)
	x, err = Barriers(p, set, images)
	require.NoError(t, err)
	assert.Empty(t, x.Memory)
	require.Len(t, x.Images, 1)
	ib := x.Images[0]
	assert.Equal(t, vk.ImageLayoutDepthStencilAttachmentOptimal, ib.OldLayout)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, ib.NewLayout)
	assert.Equal(t, vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit), ib.SrcAccessMask)
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), ib.SubresourceRange.AspectMask)
	assert.Equal(t, uint32(3), ib.SubresourceRange.LevelCount)
	assert.Equal(t, uint32(2), ib.SubresourceRange.LayerCount)
	assert.Equal(t, uint32(vk.QueueFamilyIgnored), ib.SrcQueueFamilyIndex)

	_, err = Barriers(p, set, images[:1])
	assert.ErrorContains(t, err, "no image bound")
}

func TestCompiledPlan(t *testing.T) {
	g := graph.New()
	a := g.AddNode("a", graph.Graphics)
	x := g.CreateColor(a, 0, nil, graph.Constraint{Format: driver.RGBA16f, Samples: 1})
	b := g.AddNode("b", graph.Graphics)
	g.Sample(b, x, graph.Constraint{})
	g.SetOutput(g.CreateColor(b, 0, nil, graph.Constraint{}), graph.Constraint{}, driver.LPresent)
	p, err := graph.Compile(g, graph.SurfaceInfo{
		Extents: driver.Dim3D{Width: 800, Height: 600, Depth: 1},
		Format:  driver.BGRA8sRGB,
	}, nil)
	require.NoError(t, err)
	require.Len(t, p.Passes, 2)

	for i := range p.Passes {
		info, err := RenderPass(&p.Passes[i])
		require.NoError(t, err)
		assert.Len(t, info.PSubpasses, 1)
	}
	last, _ := RenderPass(&p.Passes[1])
	assert.Equal(t, vk.FormatB8g8r8a8Srgb, last.PAttachments[0].Format)
	assert.Equal(t, vk.ImageLayoutPresentSrc, last.PAttachments[0].FinalLayout)

	require.NotNil(t, p.Passes[1].Pre)
	bar, err := Barriers(p, p.Passes[1].Pre, make([]vk.Image, len(p.Images)))
	require.NoError(t, err)
	var sampled bool
	for _, ib := range bar.Images {
		if ib.NewLayout == vk.ImageLayoutShaderReadOnlyOptimal {
			sampled = true
			assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, ib.OldLayout)
		}
	}
	assert.True(t, sampled)
	assert.NotZero(t, bar.DstStage&vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
}
