// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"github.com/go-logr/logr"

	"github.com/gviegas/rgraph/internal/bitvec"
)

// orderer computes the execution order of the nodes.
type orderer struct {
	g        *Graph
	merge    MergePolicy
	log      logr.Logger
	live     *bitvec.V[uint64]
	visited  *bitvec.V[uint64]
	visiting *bitvec.V[uint64]
	stack    []NodeID
	order    []NodeID
}

// roots returns the nodes that produce the frame outputs,
// in declaration order. Outputs that are imported images
// left unchanged have no node.
func (o *orderer) roots() []NodeID {
	var r []NodeID
	for _, out := range o.g.outputs {
		if n := o.g.Creator(out.usage); n >= 0 {
			r = append(r, n)
		}
	}
	for _, b := range o.g.bufOutputs {
		r = append(r, o.g.bufCreator(b))
	}
	return r
}

// deps calls f with the creator of every resource version
// that node n consumes.
func (o *orderer) deps(n NodeID, f func(NodeID)) {
	nd := &o.g.nodes[n]
	img := func(u UsageID) {
		if c := o.g.Creator(u); c >= 0 {
			f(c)
		}
	}
	for _, u := range nd.reads {
		img(u)
	}
	for _, m := range nd.modifies {
		img(m.in)
	}
	for _, b := range nd.bufReads {
		f(o.g.bufCreator(b))
	}
	for _, m := range nd.bufModifies {
		f(o.g.bufCreator(m.in))
	}
}

// markLive marks every node that contributes to an output.
func (o *orderer) markLive() {
	work := o.roots()
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		if o.live.IsSet(int(n)) {
			continue
		}
		o.live.Set(int(n))
		o.deps(n, func(d NodeID) {
			if !o.live.IsSet(int(d)) {
				work = append(work, d)
			}
		})
	}
}

// overwritten calls f with every live node, other than n,
// that reads a version that n modifies in place. Such
// nodes must execute before n.
func (o *orderer) overwritten(n NodeID, f func(NodeID)) {
	nd := &o.g.nodes[n]
	for _, m := range nd.modifies {
		for _, r := range o.g.versionOf(m.in).reads {
			us := &o.g.usages[r]
			if us.kind == uRead && us.node != n && o.live.IsSet(int(us.node)) {
				f(us.node)
			}
		}
	}
	for _, m := range nd.bufModifies {
		bu := &o.g.bufUsages[m.in]
		for _, r := range o.g.buffers[bu.buf].versions[bu.ver].reads {
			ru := &o.g.bufUsages[r]
			if ru.acc != bOutput && ru.acc != bStorageModifyRead && ru.node != n && o.live.IsSet(int(ru.node)) {
				f(ru.node)
			}
		}
	}
}

// mergeCandidates returns the creators of the attachments
// that node n reads, if they can merge with n.
func (o *orderer) mergeCandidates(n NodeID) []NodeID {
	if o.merge == nil {
		return nil
	}
	var cand []NodeID
	add := func(u UsageID) {
		if u == noUsage {
			return
		}
		up := o.g.Creator(u)
		if up < 0 {
			return
		}
		for _, c := range cand {
			if c == up {
				return
			}
		}
		if o.merge.CanMerge(o.g, up, n) {
			cand = append(cand, up)
		}
	}
	nd := &o.g.nodes[n]
	if nd.depth != nil {
		add(nd.depth.read)
	}
	for i := range nd.color {
		if nd.color[i].used {
			add(nd.color[i].read)
		}
	}
	return cand
}

func (o *orderer) visit(n NodeID) error {
	if o.visited.IsSet(int(n)) {
		return nil
	}
	if o.visiting.IsSet(int(n)) {
		cyc := &CycleError{}
		i := len(o.stack) - 1
		for ; i >= 0 && o.stack[i] != n; i-- {
		}
		for _, x := range o.stack[max(i, 0):] {
			cyc.Nodes = append(cyc.Nodes, o.g.nodes[x].name)
		}
		cyc.Nodes = append(cyc.Nodes, o.g.nodes[n].name)
		o.log.V(1).Info("found cycle", "nodes", cyc.Nodes)
		return cyc
	}
	o.visiting.Set(int(n))
	o.stack = append(o.stack, n)

	// Merge candidates are visited last so that they end
	// up right before n in the order.
	cand := o.mergeCandidates(n)
	delayed := func(d NodeID) bool {
		for _, c := range cand {
			if c == d {
				return true
			}
		}
		return false
	}
	var err error
	visit := func(d NodeID) {
		if err == nil && !delayed(d) {
			err = o.visit(d)
		}
	}
	o.deps(n, visit)
	o.overwritten(n, visit)
	for _, c := range cand {
		if err == nil {
			err = o.visit(c)
		}
	}
	if err != nil {
		return err
	}

	o.order = append(o.order, n)
	o.visited.Set(int(n))
	o.stack = o.stack[:len(o.stack)-1]
	o.visiting.Unset(int(n))
	return nil
}

// orderNodes returns the nodes that contribute to some output,
// in an order such that every node appears after the nodes
// that produce the resources it consumes.
func orderNodes(g *Graph, merge MergePolicy, log logr.Logger) ([]NodeID, error) {
	n := len(g.nodes)
	o := &orderer{
		g:        g,
		merge:    merge,
		log:      log,
		live:     bitvec.New[uint64](n),
		visited:  bitvec.New[uint64](n),
		visiting: bitvec.New[uint64](n),
	}
	o.markLive()
	for _, r := range o.roots() {
		log.V(2).Info("traversing dependencies of output", "node", g.nodes[r].name)
		if err := o.visit(r); err != nil {
			return nil, err
		}
	}
	log.V(1).Info("ordered nodes", "count", len(o.order), "culled", n-len(o.order))
	return o.order, nil
}
