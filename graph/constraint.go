// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import "github.com/gviegas/rgraph/driver"

const stageConstraints = "constraints"

// versionState returns the accumulated constraint of the
// version that u refers to.
func (c *compiler) versionState(u UsageID) *Constraint {
	k := c.g.versionOf(u).create
	s, ok := c.state[k]
	if !ok {
		s = new(Constraint)
		c.state[k] = s
	}
	return s
}

func (c *compiler) constraintErr(u UsageID, consumer NodeID, state Constraint, reason string) error {
	return compileErr(stageConstraints, ErrConstraint, &ConstraintError{
		Image:    c.g.images[c.g.usages[u].image].name,
		Consumer: c.g.NodeName(consumer),
		State:    state,
		Reason:   reason,
	})
}

// propagate assigns a Spec to every usage of the scheduled
// nodes and to every output.
// Imported images are fully specified and seed the state of
// the versions they identify. Constraints of writes are propagated forward into the
// versions they produce, then constraints of reads and
// outputs are propagated backward into the versions they
// consume. Sample count conflicts between a version and its
// reads are left to the resolve step.
func (c *compiler) propagate() error {
	g := c.g
	log := c.log.WithName(stageConstraints)
	c.state = make(map[UsageID]*Constraint)
	c.specs = make(map[UsageID]Spec)

	for i := range g.usages {
		g.usages[i].c.Extents = g.usages[i].c.Extents.resolve(c.surface.Extents)
	}

	for _, imp := range g.imports {
		c.versionState(imp.usage).partialMerge(&g.usages[imp.usage].c)
		c.specs[imp.usage] = imp.spec
		log.V(2).Info("import", "image", g.usageName(imp.usage), "spec", imp.spec)
	}

	for _, n := range c.order {
		nd := &g.nodes[n]
		for _, u := range nd.creates {
			s := c.versionState(u)
			if !s.tryMerge(&g.usages[u].c) {
				return c.constraintErr(u, n, *s, "conflicting constraints on creation")
			}
			log.V(2).Info("forward create", "node", nd.name, "image", g.usageName(u), "state", s)
		}
		for _, m := range nd.modifies {
			mc := g.usages[m.in].c
			if !mc.partialMerge(c.versionState(m.in)) {
				log.V(2).Info("modify conflicts with its input", "node", nd.name, "image", g.usageName(m.in))
			}
			s := c.versionState(m.out)
			if !s.partialMerge(&mc) {
				log.V(2).Info("modify conflicts with its output", "node", nd.name, "image", g.usageName(m.out))
			}
			log.V(2).Info("forward modify", "node", nd.name, "image", g.usageName(m.out), "state", s)
		}
	}

	for _, out := range g.outputs {
		oc := &g.usages[out.usage].c
		if oc.Samples == 0 {
			oc.Samples = 1
		}
		s := c.versionState(out.usage)
		if reason := s.conflict(oc, true); reason != "" {
			return c.constraintErr(out.usage, -1, *s, reason+" differs from output")
		}
		s.partialMerge(oc)
		if s.Format == driver.FUndefined {
			s.Format = c.surface.Format
		}
		if s.Samples == 0 {
			s.Samples = 1
		}
		oc.partialMerge(s)
		spec, ok := oc.spec(c.surface.Extents)
		if !ok {
			return c.constraintErr(out.usage, -1, *oc, "output not fully specified")
		}
		c.specs[out.usage] = spec
	}

	for i := len(c.order) - 1; i >= 0; i-- {
		n := c.order[i]
		nd := &g.nodes[n]
		for _, u := range nd.reads {
			rc := g.usages[u].c
			s := c.versionState(u)
			if reason := s.conflict(&rc, true); reason != "" {
				return c.constraintErr(u, n, *s, reason+" differs from read")
			}
			s.partialMerge(&rc)
			rc.partialMerge(s)
			spec, ok := rc.spec(c.surface.Extents)
			if !ok {
				return c.constraintErr(u, n, rc, "not enough information")
			}
			c.specs[u] = spec
			log.V(2).Info("backward read", "node", nd.name, "image", g.usageName(u), "spec", spec)
		}
		for _, m := range nd.modifies {
			out := *c.versionState(m.out)
			in := c.versionState(m.in)
			if reason := in.conflict(&out, false); reason != "" {
				return c.constraintErr(m.in, n, *in, reason+" differs from modify")
			}
			in.partialMerge(&out)
			spec, ok := out.spec(c.surface.Extents)
			if !ok {
				return c.constraintErr(m.in, n, out, "not enough information")
			}
			c.specs[m.in] = spec
			log.V(2).Info("backward modify", "node", nd.name, "image", g.usageName(m.in), "spec", spec)
		}
	}

	for _, n := range c.order {
		nd := &g.nodes[n]
		writes := append([]UsageID(nil), nd.creates...)
		for _, m := range nd.modifies {
			writes = append(writes, m.out)
		}
		for _, u := range writes {
			s := c.versionState(u)
			spec, ok := s.spec(c.surface.Extents)
			if !ok {
				return c.constraintErr(u, n, *s, "not enough information")
			}
			c.specs[u] = spec
		}
	}
	log.V(1).Info("propagated constraints", "usages", len(c.specs))
	return nil
}
