// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import "fmt"

// VirtualID identifies a virtual image: a set of image
// usages that share the same storage.
type VirtualID int

const stageVirtual = "virtual"

// assignVirtual maps every image usage of the scheduled nodes
// to a virtual image.
// Each image version shares the virtual image of its writer
// with the downstream usages that have the same spec, as long
// as they are either read-only usages or the version has at
// most one writer downstream.
// Imported images that some scheduled usage consumes get a
// virtual image of their own.
func (c *compiler) assignVirtual() error {
	g := c.g
	log := c.log.WithName(stageVirtual)
	c.virt = make(map[UsageID]VirtualID)
	nvirt := 0
	alloc := func() VirtualID {
		nvirt++
		return VirtualID(nvirt - 1)
	}

	share := func(w UsageID) error {
		reads := g.versionOf(w).reads
		var nread, nwrite int
		for _, r := range reads {
			if g.usages[r].kind.readOnly() {
				nread++
			} else {
				nwrite++
			}
		}
		ws := c.specs[w]
		wv := c.virt[w]
		for _, r := range reads {
			rs, ok := c.specs[r]
			if !ok {
				// Culled reader.
				continue
			}
			match := ws.matches(rs)
			shared := (nread > 0 && g.usages[r].kind.readOnly()) || nwrite <= 1
			if match && shared {
				c.virt[r] = wv
				continue
			}
			log.V(1).Info("usage cannot share storage with its writer",
				"image", g.usageName(w), "reader", g.NodeName(g.usages[r].node),
				"match", match, "shared", shared, "written", ws.String(), "read", rs.String())
			return compileErr(stageVirtual, ErrUnsupported, fmt.Errorf(
				"copy from image '%s' (%v) to the usage of '%s' (%v) is required",
				g.usageName(w), ws, g.NodeName(g.usages[r].node), rs))
		}
		return nil
	}

	for _, imp := range g.imports {
		used := false
		for _, r := range g.versionOf(imp.usage).reads {
			if _, ok := c.specs[r]; ok {
				used = true
				break
			}
		}
		if !used {
			log.V(2).Info("unused import", "image", g.usageName(imp.usage))
			continue
		}
		v := alloc()
		c.virt[imp.usage] = v
		log.V(2).Info("import", "image", g.usageName(imp.usage), "virtual", v)
		if err := share(imp.usage); err != nil {
			return err
		}
	}

	for _, n := range c.order {
		nd := &g.nodes[n]
		var written []UsageID
		for _, u := range nd.creates {
			v := alloc()
			c.virt[u] = v
			written = append(written, u)
			log.V(2).Info("create", "node", nd.name, "image", g.usageName(u), "virtual", v)
		}
		for _, m := range nd.modifies {
			v, ok := c.virt[m.in]
			if !ok {
				return compileErrf(stageVirtual, ErrUnsupported, "modify of '%s' by '%s' has no storage", g.usageName(m.in), nd.name)
			}
			c.virt[m.out] = v
			written = append(written, m.out)
			log.V(2).Info("modify", "node", nd.name, "image", g.usageName(m.out), "virtual", v)
		}
		for _, w := range written {
			if err := share(w); err != nil {
				return err
			}
		}
	}
	c.nvirt = nvirt
	log.V(1).Info("assigned virtual images", "count", nvirt)
	return nil
}
