// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

// MergePolicy decides whether two nodes can execute as
// subpasses of the same render pass.
// CanMerge is called with nodes in execution order, so
// before always executes earlier than after. It is also
// consulted while ordering nodes, to place merge candidates
// next to each other.
type MergePolicy interface {
	CanMerge(g *Graph, before, after NodeID) bool
}

// MergeFunc is an adapter to allow the use of functions
// as a MergePolicy.
type MergeFunc func(g *Graph, before, after NodeID) bool

// CanMerge calls f(g, before, after).
func (f MergeFunc) CanMerge(g *Graph, before, after NodeID) bool { return f(g, before, after) }

// NeverMerge is a MergePolicy that never merges nodes.
// Every node becomes a separate pass.
var NeverMerge MergePolicy = MergeFunc(func(*Graph, NodeID, NodeID) bool { return false })

// AttachmentMerge is a MergePolicy that merges graphics
// nodes that share an attachment.
// Nodes are not merged if they use different depth/stencil
// images, or if after reads an image produced by before in
// shaders.
type AttachmentMerge struct{}

// CanMerge implements MergePolicy.
func (AttachmentMerge) CanMerge(g *Graph, before, after NodeID) bool {
	if g.Queue(before) != Graphics || g.Queue(after) != Graphics {
		return false
	}
	for _, u := range g.Sampled(after) {
		if g.Creator(u) == before {
			return false
		}
	}
	for _, u := range g.StorageReads(after) {
		if g.Creator(u) == before {
			return false
		}
	}
	d0, ok0 := g.DepthImage(before)
	d1, ok1 := g.DepthImage(after)
	if ok0 && ok1 && d0 != d1 {
		return false
	}
	for _, a := range g.Attachments(before) {
		for _, b := range g.Attachments(after) {
			if a == b {
				return true
			}
		}
	}
	return false
}
