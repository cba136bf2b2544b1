// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import "slices"

// insertResolves looks for multisample color attachments
// whose readers expect a single-sample image, and makes the
// writer resolve into a new image that those readers then
// consume instead.
// Only readers whose spec equals the spec of the attachment
// with a sample count of one are moved. Other mismatches are
// logged and left as is.
func (c *compiler) insertResolves() {
	g := c.g
	log := c.log.WithName("resolve")
	for _, n := range c.order {
		nd := &g.nodes[n]
		for slot := range nd.color {
			ca := nd.color[slot]
			if !ca.used || ca.write == noUsage {
				continue
			}
			ws := c.specs[ca.write]
			if ws.Samples <= 1 {
				continue
			}
			rs := ws
			rs.Samples = 1

			var move []UsageID
			for _, r := range g.versionOf(ca.write).reads {
				spec, ok := c.specs[r]
				if !ok || spec.matches(ws) {
					continue
				}
				if k := g.usages[r].kind; spec.matches(rs) && (k == uRead || k == uOutput) {
					move = append(move, r)
					continue
				}
				log.Info("incompatibility cannot be fixed via renderpass resolve",
					"node", nd.name, "image", g.usageName(ca.write), "reader", g.NodeName(g.usages[r].node),
					"resolve", rs.String(), "read", spec.String())
			}
			if len(move) == 0 {
				continue
			}

			var t UsageID
			if slot < len(nd.resolve) && nd.resolve[slot] != noUsage {
				t = nd.resolve[slot]
				if !c.specs[t].matches(rs) {
					log.Info("existing resolve attachment does not match", "node", nd.name, "slot", slot)
					continue
				}
			} else {
				name := g.images[g.usages[ca.write].image].name
				t = g.CreateResolve(n, slot, rs.Constraint())
				g.images[g.usages[t].image].name = name + "/resolved"
				c.specs[t] = rs
				log.V(1).Info("added resolve", "node", nd.name, "slot", slot, "image", g.usageName(t))
			}
			for _, r := range move {
				c.moveRead(r, t)
				spec := c.specs[t]
				spec.Usage |= c.specs[r].Usage
				c.specs[t] = spec
				log.V(2).Info("moved read", "reader", g.NodeName(g.usages[r].node), "to", g.usageName(t))
			}
		}
	}
}

// moveRead makes the read usage r refer to the version that
// to refers to.
func (c *compiler) moveRead(r, to UsageID) {
	g := c.g
	from := g.versionOf(r)
	if i := slices.Index(from.reads, r); i >= 0 {
		from.reads = slices.Delete(from.reads, i, i+1)
	}
	dst := g.versionOf(to)
	dst.reads = append(dst.reads, r)
	g.usages[r].image = g.usages[to].image
	g.usages[r].ver = g.usages[to].ver
}
