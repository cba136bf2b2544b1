// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"strconv"

	"github.com/gviegas/rgraph/driver"
)

// BufferSpec is a buffer specification.
type BufferSpec struct {
	Size  int64
	Usage driver.Usage
}

type bufAccess int

const (
	bCreate bufAccess = iota
	bVertex
	bIndex
	bIndirect
	bConst
	bStorageRead
	bStorageModifyRead
	bStorageModifyWrite
	bOutput
)

type bufUsage struct {
	acc  bufAccess
	buf  int
	ver  int
	node NodeID
}

type bufferRes struct {
	name     string
	spec     BufferSpec
	versions []version[BufferID]
}

type bufModify struct {
	in, out BufferID
}

func (g *Graph) validBuffer(b BufferID) bool {
	if b < 0 || int(b) >= len(g.bufUsages) {
		g.fail("unknown buffer usage id " + strconv.Itoa(int(b)))
		return false
	}
	return true
}

func (g *Graph) addBufUsage(acc bufAccess, buf, ver int, n NodeID) BufferID {
	id := BufferID(len(g.bufUsages))
	g.bufUsages = append(g.bufUsages, bufUsage{acc: acc, buf: buf, ver: ver, node: n})
	return id
}

// CreateBuffer creates a new buffer that node n writes in
// shaders. spec.Size must be greater than zero.
func (g *Graph) CreateBuffer(n NodeID, spec BufferSpec) BufferID {
	if !g.validNode(n) {
		return -1
	}
	if spec.Size <= 0 {
		g.fail("buffer created by node '" + g.nodes[n].name + "' has invalid size")
		return -1
	}
	spec.Usage |= driver.UShaderWrite
	buf := len(g.buffers)
	b := g.addBufUsage(bCreate, buf, 0, n)
	g.buffers = append(g.buffers, bufferRes{
		name:     "buffer" + strconv.Itoa(buf),
		spec:     spec,
		versions: []version[BufferID]{{creator: n, create: b}},
	})
	g.nodes[n].bufCreates = append(g.nodes[n].bufCreates, b)
	return b
}

func (g *Graph) readBuffer(n NodeID, b BufferID, acc bufAccess, usg driver.Usage) BufferID {
	if !g.validNode(n) || !g.validBuffer(b) {
		return -1
	}
	src := g.bufUsages[b]
	res := &g.buffers[src.buf]
	res.spec.Usage |= usg
	u := g.addBufUsage(acc, src.buf, src.ver, n)
	res.versions[src.ver].reads = append(res.versions[src.ver].reads, u)
	g.nodes[n].bufReads = append(g.nodes[n].bufReads, u)
	return u
}

// ReadVertexBuffer makes node n read the buffer version b
// as vertex data.
func (g *Graph) ReadVertexBuffer(n NodeID, b BufferID) BufferID {
	return g.readBuffer(n, b, bVertex, driver.UVertexData)
}

// ReadIndexBuffer makes node n read the buffer version b
// as index data.
func (g *Graph) ReadIndexBuffer(n NodeID, b BufferID) BufferID {
	return g.readBuffer(n, b, bIndex, driver.UIndexData)
}

// ReadIndirectBuffer makes node n read the buffer version b
// as parameters of indirect draw or dispatch calls.
func (g *Graph) ReadIndirectBuffer(n NodeID, b BufferID) BufferID {
	return g.readBuffer(n, b, bIndirect, driver.UIndirectData)
}

// ReadConstBuffer makes node n read the buffer version b
// as constant shader data.
func (g *Graph) ReadConstBuffer(n NodeID, b BufferID) BufferID {
	return g.readBuffer(n, b, bConst, driver.UShaderConst)
}

// ReadStorageBuffer makes node n read the buffer version b
// in shaders.
func (g *Graph) ReadStorageBuffer(n NodeID, b BufferID) BufferID {
	return g.readBuffer(n, b, bStorageRead, driver.UShaderRead)
}

// ModifyStorageBuffer makes node n read and write the buffer
// version b in shaders.
// It returns the usage that identifies the new version.
func (g *Graph) ModifyStorageBuffer(n NodeID, b BufferID) BufferID {
	if !g.validNode(n) || !g.validBuffer(b) {
		return -1
	}
	src := g.bufUsages[b]
	res := &g.buffers[src.buf]
	if src.ver != len(res.versions)-1 {
		g.fail("buffer '" + res.name + "' modified from a version that is not the most recent")
	}
	res.spec.Usage |= driver.UShaderRead | driver.UShaderWrite
	in := g.addBufUsage(bStorageModifyRead, src.buf, src.ver, n)
	res.versions[src.ver].reads = append(res.versions[src.ver].reads, in)
	out := g.addBufUsage(bStorageModifyWrite, src.buf, len(res.versions), n)
	res.versions = append(res.versions, version[BufferID]{creator: n, create: out})
	g.nodes[n].bufModifies = append(g.nodes[n].bufModifies, bufModify{in, out})
	return out
}

// SetOutputBuffer declares the buffer version b as an output
// of the frame.
func (g *Graph) SetOutputBuffer(b BufferID) BufferID {
	if !g.validBuffer(b) {
		return -1
	}
	src := g.bufUsages[b]
	u := g.addBufUsage(bOutput, src.buf, src.ver, -1)
	v := &g.buffers[src.buf].versions[src.ver]
	v.reads = append(v.reads, u)
	g.bufOutputs = append(g.bufOutputs, u)
	return u
}

// SetBufferName names the buffer that b refers to.
func (g *Graph) SetBufferName(b BufferID, name string) {
	if g.validBuffer(b) {
		g.buffers[g.bufUsages[b].buf].name = name
	}
}

// bufCreator returns the node that produced the buffer
// version used by b.
func (g *Graph) bufCreator(b BufferID) NodeID {
	bu := &g.bufUsages[b]
	return g.buffers[bu.buf].versions[bu.ver].creator
}
