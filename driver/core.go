// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package driver defines the GPU vocabulary in which
// compiled render graphs are expressed, and the subset
// of GPU functionality needed to replay them.
// It is designed to allow platform-specific APIs to be
// targeted in a mostly straightforward manner.
package driver

import (
	"iter"
	"math/bits"
)

// GPU is the interface through which the resources that
// a compiled render graph refers to are created.
type GPU interface {
	// NewRenderPass creates a new render pass.
	// Dependencies in dep whose SrcSubpass or DstSubpass
	// is External refer to commands recorded outside of
	// the render pass.
	NewRenderPass(att []Attachment, sub []Subpass, dep []Dependency) (RenderPass, error)

	// NewImage creates a new image.
	NewImage(pf PixelFmt, size Dim3D, layers, levels, samples int, usg Usage) (Image, error)

	// NewBuffer creates a new buffer.
	NewBuffer(size int64, visible bool, usg Usage) (Buffer, error)
}

// Destroyer is the interface that wraps the Destroy method.
// Types that implement this interface may allocate external
// memory that is not managed by GC, so Destroy must be
// called explicitly to ensure such memory is deallocated.
type Destroyer interface {
	Destroy()
}

// CmdBuffer is the interface that defines the commands
// a render graph executor records.
// Recording is separate into logical blocks containing
// either rendering or compute commands:
//
// To record commands for a render pass:
//  1. call BeginPass
//  2. record the commands of the first subpass
//  3. call NextSubpass (if using multiple subpasses)
//  4. repeat 2-3 as needed
//  5. call EndPass
//
// To record compute commands:
//  1. call BeginWork
//  2. record compute commands
//  3. call EndWork
//
// Barrier and Transition must not be called between
// BeginPass and EndPass.
type CmdBuffer interface {
	// BeginPass begins the first subpass of a given
	// render pass.
	BeginPass(pass RenderPass, fb Framebuf, clear []ClearValue)

	// NextSubpass ends the current subpass and begins
	// the next one.
	// It must not be called in the last subpass.
	NextSubpass()

	// EndPass ends the current render pass.
	EndPass()

	// BeginWork begins compute work.
	// If wait is set, compute work only starts when
	// all previous commands recorded in the same
	// command buffer are done executing.
	BeginWork(wait bool)

	// EndWork ends the current compute work.
	EndWork()

	// Barrier inserts a number of global barriers
	// in the command buffer.
	Barrier(b []Barrier)

	// Transition inserts a number of image layout
	// transitions in the command buffer.
	Transition(t []Transition)
}

// Sync is the type of a synchronization scope.
// Each single-bit value is a pipeline stage, ordered
// from the top to the bottom of the pipeline.
type Sync int

// Synchronization scopes.
const (
	STop Sync = 1 << iota
	SDrawIndirect
	SVertexInput
	SVertexShading
	SFragmentShading
	SDSOutput
	SColorOutput
	SComputeShading
	SCopy
	SBottom
	SAll  Sync = 1<<iota - 1
	SNone Sync = 0
)

// NStage is the number of pipeline stages in Sync.
const NStage = 10

// stageTable maps stage indices to Sync bits.
// Invalidation state is kept in arrays of length
// NStage indexed through this table rather than
// through the bit positions of a native API.
var stageTable = [NStage]Sync{
	STop,
	SDrawIndirect,
	SVertexInput,
	SVertexShading,
	SFragmentShading,
	SDSOutput,
	SColorOutput,
	SComputeShading,
	SCopy,
	SBottom,
}

// StageAt returns the pipeline stage at index i.
func StageAt(i int) Sync { return stageTable[i] }

// Index returns the stage index of s.
// s must be a single pipeline stage.
func (s Sync) Index() int {
	for i, x := range stageTable {
		if x == s {
			return i
		}
	}
	panic("driver: Sync.Index called on a non-stage value")
}

// Stages returns an iterator over the pipeline stages
// set in s. It yields the stage index and the stage.
func (s Sync) Stages() iter.Seq2[int, Sync] {
	return func(yield func(int, Sync) bool) {
		for i, x := range stageTable {
			if s&x != 0 && !yield(i, x) {
				return
			}
		}
	}
}

// Len returns the number of pipeline stages in s.
func (s Sync) Len() int { return bits.OnesCount(uint(s & SAll)) }

// Access is the type of a memory access scope.
type Access int

// Memory access scopes.
const (
	AVertexBufRead Access = 1 << iota
	AIndexBufRead
	AIndirectRead
	AConstRead
	AColorRead
	AColorWrite
	ADSRead
	ADSWrite
	ACopyRead
	ACopyWrite
	AShaderRead
	AShaderWrite
	AAnyRead
	AAnyWrite
	ANone Access = 0
)

// Contains returns whether every access in b is
// also in a.
func (a Access) Contains(b Access) bool { return a&b == b }

// IsWrite returns whether a includes any write access.
func (a Access) IsWrite() bool {
	return a&(AColorWrite|ADSWrite|ACopyWrite|AShaderWrite|AAnyWrite) != 0
}

// Layout is the type of an image layout.
type Layout int

// Image layouts.
const (
	LUndefined Layout = iota
	LCommon
	LColorTarget
	LDSTarget
	LDSRead
	LCopySrc
	LCopyDst
	LShaderRead
	LPresent
)

// Barrier represents a synchronization barrier.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// Transition represents a layout transition on a
// specific image subresource.
type Transition struct {
	Barrier

	LayoutBefore Layout
	LayoutAfter  Layout
	IView        ImageView
}

// LoadOp is the type of an attachment's load operation.
type LoadOp int

// Load operations.
const (
	LDontCare LoadOp = iota
	LClear
	LLoad
)

// StoreOp is the type of an attachment's store operation.
type StoreOp int

// Store operations.
const (
	SDontCare StoreOp = iota
	SStore
)

// Attachment describes the configuration of a single
// render target for use in a render pass.
// Load[0] and Store[0] refer to the color or depth
// aspect, while Load[1] and Store[1] refer to the
// stencil aspect.
type Attachment struct {
	Format        PixelFmt
	Samples       int
	Load          [2]LoadOp
	Store         [2]StoreOp
	InitialLayout Layout
	FinalLayout   Layout
}

// Subpass defines a subpass of a render pass.
// Render passes are split into a number of subpasses.
// The Color, DS (depth/stencil) and MSR (multisample resolve)
// fields contain indices in the render pass' attachment list
// indicating a subset of the render targets that the subpass
// will use. DS is -1 if the subpass has no depth/stencil
// target. DSRead indicates that the depth/stencil target is
// only read from. MSR, when not empty, must have the same
// length as Color; an MSR index of -1 means that the color
// target at the same position is not resolved.
type Subpass struct {
	Color  []int
	DS     int
	MSR    []int
	DSRead bool
}

// External identifies commands outside of a render pass
// in a Dependency.
const External = -1

// Dependency is an execution and memory dependency
// between two subpasses of a render pass.
type Dependency struct {
	Barrier

	SrcSubpass int
	DstSubpass int
}

// RenderPass is the interface that defines a render pass
// into which draw commands operate.
type RenderPass interface {
	Destroyer

	// NewFB creates a new framebuffer.
	// Each image view in iv correspond to the render pass'
	// attachment of same index.
	NewFB(iv []ImageView, width, height, layers int) (Framebuf, error)
}

// Framebuf is the interface that defines the render targets
// of a render pass.
type Framebuf interface {
	Destroyer
}

// ClearValue defines clear values for color or depth/stencil
// aspects of a render target.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// Usage is a mask indicating valid uses for a resource.
type Usage int

// Usage flags for Buffer and Image.
const (
	// The resource can be read in shaders.
	UShaderRead Usage = 1 << iota
	// The resource can be written in shaders.
	UShaderWrite
	// The resource can provide constant data for shaders.
	// Valid only for Buffer.
	UShaderConst
	// The resource can be sampled in shaders.
	// Valid only for Image.
	UShaderSample
	// The resource can provide vertex data for draw calls.
	// Valid only for Buffer.
	UVertexData
	// The resource can provide index data for draw calls.
	// Valid only for Buffer.
	UIndexData
	// The resource can provide parameters for indirect
	// draw and dispatch calls.
	// Valid only for Buffer.
	UIndirectData
	// The resource can be used as render target.
	// Valid only for Image.
	URenderTarget
	// The resource can be used for any purpose.
	UGeneric Usage = 1<<iota - 1
)

// Buffer is the interface that defines a GPU buffer.
type Buffer interface {
	Destroyer

	// Cap returns the capacity of the buffer in bytes.
	Cap() int64
}

// Dim3D is a three-dimensional size.
type Dim3D struct {
	Width, Height, Depth int
}

// Image is the interface that defines a GPU image.
type Image interface {
	Destroyer

	// NewView creates a new image view.
	// All views created from a given image must be
	// detroyed before the image itself is destroyed.
	NewView(typ ViewType, layer, layers, level, levels int) (ImageView, error)
}

// ViewType is the type of a resource view.
type ViewType int

// View types.
const (
	IView1D ViewType = iota
	IView2D
	IView3D
	IViewCube
	IView1DArray
	IView2DArray
	IViewCubeArray
	IView2DMS
	IView2DMSArray
)

// ImageView is the interface that defines a typed view of
// an Image resource.
type ImageView interface {
	Destroyer
}
