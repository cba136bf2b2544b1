// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package vkplan translates compiled render graphs into
// Vulkan create infos and barriers.
//
// No Vulkan calls are made here. The structures produced
// are meant to be passed to vk.CreateRenderPass,
// vk.CreateImage, vk.CreateBuffer and vk.CmdPipelineBarrier
// by the caller.
package vkplan

import (
	"errors"
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"github.com/gviegas/rgraph/driver"
	"github.com/gviegas/rgraph/graph"
)

func newPlanErr(s string) error { return errors.New("vkplan: " + s) }

var errComputePass = newPlanErr("compute passes have no render pass")

// Format converts a driver.PixelFmt to a vk.Format.
func Format(pf driver.PixelFmt) vk.Format {
	switch pf {
	case driver.RGBA8un:
		return vk.FormatR8g8b8a8Unorm
	case driver.RGBA8n:
		return vk.FormatR8g8b8a8Snorm
	case driver.RGBA8sRGB:
		return vk.FormatR8g8b8a8Srgb
	case driver.BGRA8un:
		return vk.FormatB8g8r8a8Unorm
	case driver.BGRA8sRGB:
		return vk.FormatB8g8r8a8Srgb
	case driver.RG8un:
		return vk.FormatR8g8Unorm
	case driver.RG8n:
		return vk.FormatR8g8Snorm
	case driver.R8un:
		return vk.FormatR8Unorm
	case driver.R8n:
		return vk.FormatR8Snorm

	case driver.RGBA16f:
		return vk.FormatR16g16b16a16Sfloat
	case driver.RG16f:
		return vk.FormatR16g16Sfloat
	case driver.R16f:
		return vk.FormatR16Sfloat

	case driver.RGBA32f:
		return vk.FormatR32g32b32a32Sfloat
	case driver.RG32f:
		return vk.FormatR32g32Sfloat
	case driver.R32f:
		return vk.FormatR32Sfloat

	case driver.D16un:
		return vk.FormatD16Unorm
	case driver.D32f:
		return vk.FormatD32Sfloat
	case driver.S8ui:
		return vk.FormatS8Uint
	case driver.D24unS8ui:
		return vk.FormatD24UnormS8Uint
	case driver.D32fS8ui:
		return vk.FormatD32SfloatS8Uint
	}
	return vk.FormatUndefined
}

// Samples converts a sample count to a vk.SampleCountFlagBits.
// Invalid counts yield zero.
func Samples(n int) vk.SampleCountFlagBits {
	switch n {
	case 1:
		return vk.SampleCount1Bit
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	case 16:
		return vk.SampleCount16Bit
	case 32:
		return vk.SampleCount32Bit
	case 64:
		return vk.SampleCount64Bit
	}
	return 0
}

// Layout converts a driver.Layout to a vk.ImageLayout.
func Layout(l driver.Layout) vk.ImageLayout {
	switch l {
	case driver.LCommon:
		return vk.ImageLayoutGeneral
	case driver.LColorTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case driver.LDSTarget:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case driver.LDSRead:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case driver.LCopySrc:
		return vk.ImageLayoutTransferSrcOptimal
	case driver.LCopyDst:
		return vk.ImageLayoutTransferDstOptimal
	case driver.LShaderRead:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case driver.LPresent:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

// stages maps stage indices of driver.Sync to
// pipeline stage bits.
var stages = [driver.NStage]vk.PipelineStageFlagBits{
	vk.PipelineStageTopOfPipeBit,
	vk.PipelineStageDrawIndirectBit,
	vk.PipelineStageVertexInputBit,
	vk.PipelineStageVertexShaderBit,
	vk.PipelineStageFragmentShaderBit,
	vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit,
	vk.PipelineStageColorAttachmentOutputBit,
	vk.PipelineStageComputeShaderBit,
	vk.PipelineStageTransferBit,
	vk.PipelineStageBottomOfPipeBit,
}

// Stages converts a driver.Sync to a vk.PipelineStageFlags.
func Stages(s driver.Sync) (flags vk.PipelineStageFlags) {
	for i := range s.Stages() {
		flags |= vk.PipelineStageFlags(stages[i])
	}
	return
}

// Access converts a driver.Access to a vk.AccessFlags.
func Access(a driver.Access) (flags vk.AccessFlags) {
	conv := [...]struct {
		from driver.Access
		to   vk.AccessFlagBits
	}{
		{driver.AVertexBufRead, vk.AccessVertexAttributeReadBit},
		{driver.AIndexBufRead, vk.AccessIndexReadBit},
		{driver.AIndirectRead, vk.AccessIndirectCommandReadBit},
		{driver.AConstRead, vk.AccessUniformReadBit},
		{driver.AColorRead, vk.AccessColorAttachmentReadBit},
		{driver.AColorWrite, vk.AccessColorAttachmentWriteBit},
		{driver.ADSRead, vk.AccessDepthStencilAttachmentReadBit},
		{driver.ADSWrite, vk.AccessDepthStencilAttachmentWriteBit},
		{driver.ACopyRead, vk.AccessTransferReadBit},
		{driver.ACopyWrite, vk.AccessTransferWriteBit},
		{driver.AShaderRead, vk.AccessShaderReadBit},
		{driver.AShaderWrite, vk.AccessShaderWriteBit},
		{driver.AAnyRead, vk.AccessMemoryReadBit},
		{driver.AAnyWrite, vk.AccessMemoryWriteBit},
	}
	for _, c := range conv {
		if a&c.from != 0 {
			flags |= vk.AccessFlags(c.to)
		}
	}
	return
}

// Aspect returns the image aspects of pf.
func Aspect(pf driver.PixelFmt) (flags vk.ImageAspectFlags) {
	if !pf.IsDS() {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	if pf.HasDepth() {
		flags |= vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if pf.HasStencil() {
		flags |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return
}

// ImageUsage converts a driver.Usage of an image with
// format pf to a vk.ImageUsageFlags.
func ImageUsage(u driver.Usage, pf driver.PixelFmt) (flags vk.ImageUsageFlags) {
	if u&driver.UShaderSample != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if u&(driver.UShaderRead|driver.UShaderWrite) != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	if u&driver.URenderTarget != 0 {
		if pf.IsDS() {
			flags |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		} else {
			flags |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
		}
	}
	return
}

// BufferUsage converts a driver.Usage to a vk.BufferUsageFlags.
func BufferUsage(u driver.Usage) (flags vk.BufferUsageFlags) {
	if u&(driver.UShaderRead|driver.UShaderWrite) != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	}
	if u&driver.UShaderConst != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	}
	if u&driver.UVertexData != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if u&driver.UIndexData != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if u&driver.UIndirectData != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit)
	}
	return
}

func loadOp(op driver.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case driver.LClear:
		return vk.AttachmentLoadOpClear
	case driver.LLoad:
		return vk.AttachmentLoadOpLoad
	}
	return vk.AttachmentLoadOpDontCare
}

func storeOp(op driver.StoreOp) vk.AttachmentStoreOp {
	if op == driver.SStore {
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}

func subpassIndex(i int) uint32 {
	if i == driver.External {
		return vk.SubpassExternal
	}
	return uint32(i)
}

// RenderPass returns the create info of the render pass
// described by p.
// Attachments not referenced by a subpass are preserved
// through it.
func RenderPass(p *graph.Pass) (*vk.RenderPassCreateInfo, error) {
	if p.Kind != graph.RenderPass {
		return nil, errComputePass
	}
	att := make([]vk.AttachmentDescription, len(p.Attachments))
	for i := range p.Attachments {
		a := &p.Attachments[i]
		att[i] = vk.AttachmentDescription{
			Format:         Format(a.Format),
			Samples:        Samples(a.Samples),
			LoadOp:         loadOp(a.Load[0]),
			StoreOp:        storeOp(a.Store[0]),
			StencilLoadOp:  loadOp(a.Load[1]),
			StencilStoreOp: storeOp(a.Store[1]),
			InitialLayout:  Layout(a.InitialLayout),
			FinalLayout:    Layout(a.FinalLayout),
		}
	}

	sub := make([]vk.SubpassDescription, len(p.Subpasses))
	for i := range p.Subpasses {
		s := &p.Subpasses[i]
		used := make([]bool, len(att))
		desc := vk.SubpassDescription{PipelineBindPoint: vk.PipelineBindPointGraphics}
		if len(s.Color) > 0 {
			color := make([]vk.AttachmentReference, len(s.Color))
			for j, k := range s.Color {
				if k < 0 || k >= len(att) {
					return nil, newPlanErr(fmt.Sprintf("subpass %d: color attachment %d out of range", i, k))
				}
				color[j] = vk.AttachmentReference{
					Attachment: uint32(k),
					Layout:     vk.ImageLayoutColorAttachmentOptimal,
				}
				used[k] = true
			}
			desc.ColorAttachmentCount = uint32(len(color))
			desc.PColorAttachments = color
		}
		if len(s.MSR) > 0 {
			if len(s.MSR) != len(s.Color) {
				return nil, newPlanErr(fmt.Sprintf("subpass %d: resolve list length mismatch", i))
			}
			res := make([]vk.AttachmentReference, len(s.MSR))
			for j, k := range s.MSR {
				if k < 0 || k >= len(att) {
					res[j] = vk.AttachmentReference{
						Attachment: vk.AttachmentUnused,
						Layout:     vk.ImageLayoutUndefined,
					}
					continue
				}
				res[j] = vk.AttachmentReference{
					Attachment: uint32(k),
					Layout:     vk.ImageLayoutColorAttachmentOptimal,
				}
				used[k] = true
			}
			desc.PResolveAttachments = res
		}
		if s.DS >= 0 && s.DS < len(att) {
			ds := vk.AttachmentReference{
				Attachment: uint32(s.DS),
				Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
			}
			if s.DSRead {
				ds.Layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
			}
			desc.PDepthStencilAttachment = &ds
			used[s.DS] = true
		}
		var pre []uint32
		for j, u := range used {
			if !u {
				pre = append(pre, uint32(j))
			}
		}
		if len(pre) > 0 {
			desc.PreserveAttachmentCount = uint32(len(pre))
			desc.PPreserveAttachments = pre
		}
		sub[i] = desc
	}

	var dep []vk.SubpassDependency
	if len(p.Dependencies) > 0 {
		dep = make([]vk.SubpassDependency, len(p.Dependencies))
		for i, d := range p.Dependencies {
			dep[i] = vk.SubpassDependency{
				SrcSubpass:    subpassIndex(d.SrcSubpass),
				DstSubpass:    subpassIndex(d.DstSubpass),
				SrcStageMask:  Stages(d.SyncBefore),
				DstStageMask:  Stages(d.SyncAfter),
				SrcAccessMask: Access(d.AccessBefore),
				DstAccessMask: Access(d.AccessAfter),
			}
			if d.SrcSubpass != driver.External && d.DstSubpass != driver.External {
				dep[i].DependencyFlags = vk.DependencyFlags(vk.DependencyByRegionBit)
			}
		}
	}

	return &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(att)),
		PAttachments:    att,
		SubpassCount:    uint32(len(sub)),
		PSubpasses:      sub,
		DependencyCount: uint32(len(dep)),
		PDependencies:   dep,
	}, nil
}

// Image returns the create info of a physical image.
func Image(pi *graph.PhysicalImage) *vk.ImageCreateInfo {
	s := &pi.Spec
	typ := vk.ImageType2d
	depth := 1
	if s.Extents.Depth > 1 {
		typ = vk.ImageType3d
		depth = s.Extents.Depth
	}
	layers, levels := max(s.Layers, 1), max(s.Levels, 1)
	return &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: typ,
		Format:    Format(s.Format),
		Extent: vk.Extent3D{
			Width:  uint32(s.Extents.Width),
			Height: uint32(s.Extents.Height),
			Depth:  uint32(depth),
		},
		MipLevels:     uint32(levels),
		ArrayLayers:   uint32(layers),
		Samples:       Samples(s.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         ImageUsage(s.Usage, s.Format),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
}

// Buffer returns the create info of a physical buffer.
func Buffer(pb *graph.PhysicalBuffer) *vk.BufferCreateInfo {
	return &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(pb.Spec.Size),
		Usage:       BufferUsage(pb.Spec.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
}

// Barrier holds the arguments of a vk.CmdPipelineBarrier
// call.
type Barrier struct {
	SrcStage vk.PipelineStageFlags
	DstStage vk.PipelineStageFlags
	Memory   []vk.MemoryBarrier
	Images   []vk.ImageMemoryBarrier
}

// Barriers converts b into a pipeline barrier.
// images is indexed by graph.PhysicalID and provides the
// vk.Image bound to each physical image of p.
// The global barrier is emitted as a memory barrier only
// when b has no image transitions, since those carry the
// same access masks.
func Barriers(p *graph.Plan, b *graph.BarrierSet, images []vk.Image) (*Barrier, error) {
	x := &Barrier{
		SrcStage: Stages(b.Global.SyncBefore),
		DstStage: Stages(b.Global.SyncAfter),
	}
	if len(b.Images) == 0 {
		x.Memory = []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: Access(b.Global.AccessBefore),
			DstAccessMask: Access(b.Global.AccessAfter),
		}}
		return x, nil
	}
	x.Images = make([]vk.ImageMemoryBarrier, len(b.Images))
	for i, ib := range b.Images {
		id := int(ib.Image)
		if id < 0 || id >= len(p.Images) || id >= len(images) {
			return nil, newPlanErr(fmt.Sprintf("no image bound to physical image %d", id))
		}
		spec := &p.Images[id].Spec
		x.SrcStage |= Stages(ib.SyncBefore)
		x.DstStage |= Stages(ib.SyncAfter)
		x.Images[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       Access(ib.AccessBefore),
			DstAccessMask:       Access(ib.AccessAfter),
			OldLayout:           Layout(ib.LayoutBefore),
			NewLayout:           Layout(ib.LayoutAfter),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               images[id],
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     Aspect(spec.Format),
				BaseMipLevel:   0,
				LevelCount:     uint32(max(spec.Levels, 1)),
				BaseArrayLayer: 0,
				LayerCount:     uint32(max(spec.Layers, 1)),
			},
		}
	}
	return x, nil
}
