// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"fmt"

	"github.com/gviegas/rgraph/driver"
)

// Extents describes the size of an image.
// The zero value means that the size is not constrained.
type Extents struct {
	// Surface indicates that the image must have the
	// same size as the presentation surface.
	Surface bool
	// Size is an explicit size. It is ignored when
	// Surface is set.
	Size driver.Dim3D
}

// SurfaceExtents returns Extents that match the surface.
func SurfaceExtents() Extents { return Extents{Surface: true} }

// Size2D returns Extents of a given two-dimensional size.
func Size2D(width, height int) Extents {
	return Extents{Size: driver.Dim3D{Width: width, Height: height, Depth: 1}}
}

// IsSet returns whether e constrains the size of an image.
func (e Extents) IsSet() bool { return e.Surface || e.Size != driver.Dim3D{} }

// resolve replaces a surface-relative size with the
// surface size.
func (e Extents) resolve(surface driver.Dim3D) Extents {
	if e.Surface {
		return Extents{Size: surface}
	}
	return e
}

// Constraint is a partial image specification.
// Every field whose value is the zero value is unset.
// Usage accumulates and never conflicts.
type Constraint struct {
	Format  driver.PixelFmt
	Samples int
	Extents Extents
	Layers  int
	Levels  int
	Usage   driver.Usage
}

// Spec is a complete image specification.
type Spec struct {
	Format  driver.PixelFmt
	Samples int
	Extents driver.Dim3D
	Layers  int
	Levels  int
	Usage   driver.Usage
}

func (s Spec) String() string {
	return fmt.Sprintf("%v x%d %dx%dx%d layers=%d levels=%d",
		s.Format, s.Samples, s.Extents.Width, s.Extents.Height, s.Extents.Depth, s.Layers, s.Levels)
}

// Constraint returns s as a Constraint.
func (s Spec) Constraint() Constraint {
	return Constraint{
		Format:  s.Format,
		Samples: s.Samples,
		Extents: Extents{Size: s.Extents},
		Layers:  s.Layers,
		Levels:  s.Levels,
		Usage:   s.Usage,
	}
}

// matches returns whether s and other describe the same
// image storage. Usage is not compared.
func (s Spec) matches(other Spec) bool {
	s.Usage = other.Usage
	return s == other
}

// tryMerge merges other into s if they match.
// Usage flags are combined.
func (s *Spec) tryMerge(other Spec) bool {
	if !s.matches(other) {
		return false
	}
	s.Usage |= other.Usage
	return true
}

func (c Constraint) String() string {
	f := func(set bool, v any) string {
		if !set {
			return "?"
		}
		return fmt.Sprint(v)
	}
	ext := "?"
	switch {
	case c.Extents.Surface:
		ext = "surface"
	case c.Extents.IsSet():
		ext = fmt.Sprintf("%dx%dx%d", c.Extents.Size.Width, c.Extents.Size.Height, c.Extents.Size.Depth)
	}
	return fmt.Sprintf("format=%s samples=%s extents=%s layers=%s levels=%s",
		f(c.Format != driver.FUndefined, c.Format), f(c.Samples != 0, c.Samples), ext,
		f(c.Layers != 0, c.Layers), f(c.Levels != 0, c.Levels))
}

// conflict names the first field that is set in both c and
// other with different values. It returns an empty string
// if there is no conflict.
// Samples is not considered when ignoreSamples is set.
func (c *Constraint) conflict(other *Constraint, ignoreSamples bool) string {
	switch {
	case c.Format != 0 && other.Format != 0 && c.Format != other.Format:
		return "format"
	case !ignoreSamples && c.Samples != 0 && other.Samples != 0 && c.Samples != other.Samples:
		return "samples"
	case c.Extents.IsSet() && other.Extents.IsSet() && c.Extents != other.Extents:
		return "extents"
	case c.Layers != 0 && other.Layers != 0 && c.Layers != other.Layers:
		return "layers"
	case c.Levels != 0 && other.Levels != 0 && c.Levels != other.Levels:
		return "levels"
	}
	return ""
}

// partialMerge sets every field of c that is unset with
// the value from other. Fields that are set in both and
// differ keep the value from c and cause partialMerge to
// return false.
func (c *Constraint) partialMerge(other *Constraint) bool {
	ok := true
	if other.Format != 0 {
		if c.Format == 0 {
			c.Format = other.Format
		} else if c.Format != other.Format {
			ok = false
		}
	}
	if other.Samples != 0 {
		if c.Samples == 0 {
			c.Samples = other.Samples
		} else if c.Samples != other.Samples {
			ok = false
		}
	}
	if other.Extents.IsSet() {
		if !c.Extents.IsSet() {
			c.Extents = other.Extents
		} else if c.Extents != other.Extents {
			ok = false
		}
	}
	if other.Layers != 0 {
		if c.Layers == 0 {
			c.Layers = other.Layers
		} else if c.Layers != other.Layers {
			ok = false
		}
	}
	if other.Levels != 0 {
		if c.Levels == 0 {
			c.Levels = other.Levels
		} else if c.Levels != other.Levels {
			ok = false
		}
	}
	c.Usage |= other.Usage
	return ok
}

// tryMerge merges other into c only if they do not conflict.
func (c *Constraint) tryMerge(other *Constraint) bool {
	if c.conflict(other, false) != "" {
		return false
	}
	c.partialMerge(other)
	return true
}

// spec converts c into a Spec.
// Format and Samples must be set. Missing extents default
// to the surface size, and missing layer/level counts
// default to one.
func (c *Constraint) spec(surface driver.Dim3D) (Spec, bool) {
	if c.Format == driver.FUndefined || c.Samples == 0 {
		return Spec{}, false
	}
	s := Spec{
		Format:  c.Format,
		Samples: c.Samples,
		Extents: c.Extents.resolve(surface).Size,
		Layers:  max(c.Layers, 1),
		Levels:  max(c.Levels, 1),
		Usage:   c.Usage,
	}
	if !c.Extents.IsSet() {
		s.Extents = surface
	}
	return s, true
}
