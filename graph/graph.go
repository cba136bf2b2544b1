// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package graph implements a render graph compiler.
//
// A frame is described by adding nodes to a Graph and
// declaring how each node uses images and buffers. Compile
// then orders and culls the nodes, infers complete image
// specifications, inserts multisample resolves, assigns
// physical resources (aliasing images whose lifetimes do
// not overlap) and synthesizes the barriers, attachment
// operations and layouts needed to execute the frame.
// The resulting Plan is immutable.
package graph

import (
	"strconv"

	"github.com/gviegas/rgraph/driver"
)

// NodeID identifies a node in a Graph.
type NodeID int

// UsageID identifies a usage of an image by a node.
// Usages that write an image also identify the image
// version that they produce, so they can be passed to
// the methods that read or modify images.
type UsageID int

// ImageID identifies a logical image in a Graph.
type ImageID int

// BufferID identifies a usage of a buffer by a node.
type BufferID int

// Queue is the type of a node's queue.
type Queue int

// Queues.
const (
	// Graphics nodes execute in render passes.
	Graphics Queue = iota
	// Compute nodes execute outside of render passes and
	// are always preceded by explicit barriers.
	Compute
)

func (q Queue) String() string {
	if q == Compute {
		return "compute"
	}
	return "graphics"
}

const noUsage UsageID = -1

type usageKind int

const (
	uCreate usageKind = iota
	uRead
	uModifyRead
	uModifyWrite
	uOutput
	uImport
)

// readOnly returns whether the usage leaves the image
// contents unchanged.
func (k usageKind) readOnly() bool { return k == uRead || k == uOutput }

// version is one version of a logical resource.
// Every write produces a new version, so that versions
// form a linear chain.
type version[U ~int] struct {
	creator NodeID
	create  U
	reads   []U
}

type imageRes struct {
	name     string
	versions []version[UsageID]
}

type usage struct {
	kind  usageKind
	image ImageID
	ver   int
	// node is -1 for output usages.
	node NodeID
	c    Constraint
}

type colorAttach struct {
	used  bool
	read  UsageID
	write UsageID
	clear *driver.ClearValue
}

type depthAttach struct {
	read  UsageID
	write UsageID
	clear *driver.ClearValue
}

type modify struct {
	in, out UsageID
}

// storageUse is an image that a node accesses in shaders
// as a storage image. in is noUsage for creations and out
// is noUsage for reads.
type storageUse struct {
	in, out UsageID
}

type node struct {
	name    string
	queue   Queue
	color   []colorAttach
	resolve []UsageID
	depth   *depthAttach
	sampled []UsageID
	storage []storageUse

	creates  []UsageID
	reads    []UsageID
	modifies []modify

	bufCreates  []BufferID
	bufReads    []BufferID
	bufModifies []bufModify

	body Body
}

type output struct {
	usage    UsageID
	final    driver.Layout
	external bool
}

type imported struct {
	usage   UsageID
	spec    Spec
	initial driver.Layout
	final   driver.Layout
}

// Graph accumulates the nodes and resource usages of a
// frame. The zero value is not usable; call New instead.
// Incorrect use of the Graph (e.g., passing an unknown
// id) is recorded and reported by Err and Compile.
// A Graph must not be modified while it is being compiled.
type Graph struct {
	nodes   []node
	images  []imageRes
	usages  []usage
	outputs []output
	imports []imported

	buffers    []bufferRes
	bufUsages  []bufUsage
	bufOutputs []BufferID

	err error
}

// New creates an empty Graph.
func New() *Graph { return &Graph{} }

// Err returns the first error caused by incorrect use
// of g, if any.
func (g *Graph) Err() error { return g.err }

func (g *Graph) fail(s string) {
	if g.err == nil {
		g.err = newBuilderErr(s)
	}
}

func (g *Graph) validNode(n NodeID) bool {
	if n < 0 || int(n) >= len(g.nodes) {
		g.fail("unknown node id " + strconv.Itoa(int(n)))
		return false
	}
	return true
}

func (g *Graph) validUsage(u UsageID) bool {
	if u < 0 || int(u) >= len(g.usages) {
		g.fail("unknown image usage id " + strconv.Itoa(int(u)))
		return false
	}
	return true
}

// AddNode adds a new node.
// name is used for diagnostics only.
func (g *Graph) AddNode(name string, q Queue) NodeID {
	id := NodeID(len(g.nodes))
	if name == "" {
		name = "node" + strconv.Itoa(int(id))
	}
	g.nodes = append(g.nodes, node{name: name, queue: q})
	return id
}

// SetBody sets the body of node n.
// The body is invoked when the compiled plan is executed.
func (g *Graph) SetBody(n NodeID, b Body) {
	if g.validNode(n) {
		g.nodes[n].body = b
	}
}

// SetNodeName renames node n.
func (g *Graph) SetNodeName(n NodeID, name string) {
	if g.validNode(n) {
		g.nodes[n].name = name
	}
}

// NodeName returns the name of node n.
func (g *Graph) NodeName(n NodeID) string {
	if n < 0 || int(n) >= len(g.nodes) {
		return "output"
	}
	return g.nodes[n].name
}

func (g *Graph) hasNode(n NodeID) bool { return n >= 0 && int(n) < len(g.nodes) }

func (g *Graph) hasUsage(u UsageID) bool { return u >= 0 && int(u) < len(g.usages) }

// Queue returns the queue of node n.
// Unknown nodes are reported as Graphics.
func (g *Graph) Queue(n NodeID) Queue {
	if !g.hasNode(n) {
		return Graphics
	}
	return g.nodes[n].queue
}

// NodeCount returns the number of nodes in g.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// ImageOf returns the logical image used by u,
// or -1 if u is unknown.
func (g *Graph) ImageOf(u UsageID) ImageID {
	if !g.hasUsage(u) {
		return -1
	}
	return g.usages[u].image
}

// ImageName returns the name of a logical image.
func (g *Graph) ImageName(img ImageID) string {
	if img < 0 || int(img) >= len(g.images) {
		return ""
	}
	return g.images[img].name
}

// Creator returns the node that produced the image
// version used by u. It returns -1 for imported images
// and unknown usages.
func (g *Graph) Creator(u UsageID) NodeID {
	if !g.hasUsage(u) {
		return -1
	}
	us := &g.usages[u]
	return g.images[us.image].versions[us.ver].creator
}

// Attachments returns the logical images that node n
// uses as color or depth/stencil attachments.
func (g *Graph) Attachments(n NodeID) []ImageID {
	if !g.hasNode(n) {
		return nil
	}
	var imgs []ImageID
	nd := &g.nodes[n]
	for _, ca := range nd.color {
		if ca.used {
			imgs = append(imgs, g.usages[ca.target()].image)
		}
	}
	if nd.depth != nil {
		imgs = append(imgs, g.usages[nd.depth.target()].image)
	}
	return imgs
}

// DepthImage returns the logical image that node n uses
// as depth/stencil attachment, if any.
func (g *Graph) DepthImage(n NodeID) (ImageID, bool) {
	if !g.hasNode(n) {
		return 0, false
	}
	if d := g.nodes[n].depth; d != nil {
		return g.usages[d.target()].image, true
	}
	return 0, false
}

// Sampled returns the sampling usages of node n.
func (g *Graph) Sampled(n NodeID) []UsageID {
	if !g.hasNode(n) {
		return nil
	}
	return g.nodes[n].sampled
}

// StorageReads returns the usages through which node n
// reads storage images, including the reads of the storage
// images it modifies.
func (g *Graph) StorageReads(n NodeID) []UsageID {
	if !g.hasNode(n) {
		return nil
	}
	var us []UsageID
	for _, su := range g.nodes[n].storage {
		if su.in != noUsage {
			us = append(us, su.in)
		}
	}
	return us
}

// target returns the usage through which the attachment
// refers to its image.
func (a *colorAttach) target() UsageID {
	if a.read != noUsage {
		return a.read
	}
	return a.write
}

func (a *depthAttach) target() UsageID {
	if a.read != noUsage {
		return a.read
	}
	return a.write
}

// versionOf returns the version that u refers to.
func (g *Graph) versionOf(u UsageID) *version[UsageID] {
	us := &g.usages[u]
	return &g.images[us.image].versions[us.ver]
}

// usageName describes u for diagnostics.
func (g *Graph) usageName(u UsageID) string {
	us := &g.usages[u]
	return g.images[us.image].name + "@" + strconv.Itoa(us.ver)
}
