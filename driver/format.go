// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package driver

import (
	"errors"
	"strings"
)

// PixelFmt describes the format of a pixel.
// The zero value is FUndefined, which is not a valid
// format for image creation.
type PixelFmt int

// Pixel formats.
const (
	FUndefined PixelFmt = iota
	// Color, 8-bit channels.
	RGBA8un
	RGBA8n
	RGBA8sRGB
	BGRA8un
	BGRA8sRGB
	RG8un
	RG8n
	R8un
	R8n
	// Color, 16-bit channels.
	RGBA16f
	RG16f
	R16f
	// Color, 32-bit channels.
	RGBA32f
	RG32f
	R32f
	// Depth/Stencil.
	D16un
	D32f
	S8ui
	D24unS8ui
	D32fS8ui
)

// HasDepth returns whether f has a depth aspect.
func (f PixelFmt) HasDepth() bool {
	switch f {
	case D16un, D32f, D24unS8ui, D32fS8ui:
		return true
	}
	return false
}

// HasStencil returns whether f has a stencil aspect.
func (f PixelFmt) HasStencil() bool {
	switch f {
	case S8ui, D24unS8ui, D32fS8ui:
		return true
	}
	return false
}

// IsDS returns whether f is a depth/stencil format.
func (f PixelFmt) IsDS() bool { return f.HasDepth() || f.HasStencil() }

var fmtNames = [...]string{
	FUndefined: "undefined",
	RGBA8un:    "RGBA8un",
	RGBA8n:     "RGBA8n",
	RGBA8sRGB:  "RGBA8sRGB",
	BGRA8un:    "BGRA8un",
	BGRA8sRGB:  "BGRA8sRGB",
	RG8un:      "RG8un",
	RG8n:       "RG8n",
	R8un:       "R8un",
	R8n:        "R8n",
	RGBA16f:    "RGBA16f",
	RG16f:      "RG16f",
	R16f:       "R16f",
	RGBA32f:    "RGBA32f",
	RG32f:      "RG32f",
	R32f:       "R32f",
	D16un:      "D16un",
	D32f:       "D32f",
	S8ui:       "S8ui",
	D24unS8ui:  "D24unS8ui",
	D32fS8ui:   "D32fS8ui",
}

var layoutNames = [...]string{
	LUndefined:   "undefined",
	LCommon:      "common",
	LColorTarget: "color-target",
	LDSTarget:    "ds-target",
	LDSRead:      "ds-read",
	LCopySrc:     "copy-src",
	LCopyDst:     "copy-dst",
	LShaderRead:  "shader-read",
	LPresent:     "present",
}

var loadNames = [...]string{LDontCare: "dont-care", LClear: "clear", LLoad: "load"}

var storeNames = [...]string{SDontCare: "dont-care", SStore: "store"}

var syncNames = [NStage]string{
	"top",
	"draw-indirect",
	"vertex-input",
	"vertex-shading",
	"fragment-shading",
	"ds-output",
	"color-output",
	"compute-shading",
	"copy",
	"bottom",
}

var accessNames = [...]string{
	"vertex-buf-read",
	"index-buf-read",
	"indirect-read",
	"const-read",
	"color-read",
	"color-write",
	"ds-read",
	"ds-write",
	"copy-read",
	"copy-write",
	"shader-read",
	"shader-write",
	"any-read",
	"any-write",
}

func newFmtErr(s string) error { return errors.New("driver: " + s) }

func name(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "invalid"
	}
	return names[i]
}

func parse(names []string, s, what string) (int, error) {
	for i, x := range names {
		if strings.EqualFold(x, s) {
			return i, nil
		}
	}
	return 0, newFmtErr("unknown " + what + " '" + s + "'")
}

func (f PixelFmt) String() string { return name(fmtNames[:], int(f)) }

// MarshalText implements encoding.TextMarshaler.
func (f PixelFmt) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *PixelFmt) UnmarshalText(b []byte) error {
	i, err := parse(fmtNames[:], string(b), "pixel format")
	*f = PixelFmt(i)
	return err
}

func (l Layout) String() string { return name(layoutNames[:], int(l)) }

// MarshalText implements encoding.TextMarshaler.
func (l Layout) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Layout) UnmarshalText(b []byte) error {
	i, err := parse(layoutNames[:], string(b), "layout")
	*l = Layout(i)
	return err
}

func (op LoadOp) String() string { return name(loadNames[:], int(op)) }

// MarshalText implements encoding.TextMarshaler.
func (op LoadOp) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

func (op StoreOp) String() string { return name(storeNames[:], int(op)) }

// MarshalText implements encoding.TextMarshaler.
func (op StoreOp) MarshalText() ([]byte, error) { return []byte(op.String()), nil }

// flagString joins the names of the bits set in x.
func flagString(names []string, x int) string {
	if x == 0 {
		return "none"
	}
	var sb strings.Builder
	for i := range names {
		if x&(1<<i) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(names[i])
	}
	return sb.String()
}

func (s Sync) String() string { return flagString(syncNames[:], int(s)) }

// MarshalText implements encoding.TextMarshaler.
func (s Sync) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (a Access) String() string { return flagString(accessNames[:], int(a)) }

// MarshalText implements encoding.TextMarshaler.
func (a Access) MarshalText() ([]byte, error) { return []byte(a.String()), nil }
