// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	"github.com/gviegas/rgraph/driver"
)

const postprocess = `
surface:
  width: 640
  height: 480
  format: BGRA8un
nodes:
  - name: scene
    uses:
      - op: create-color
        image: color
        format: RGBA16f
        samples: 1
  - name: bloom
    uses:
      - op: sample
        image: color
      - op: create-color
        image: glow
        format: RGBA16f
        samples: 1
        width: 320
        height: 240
  - name: composite
    uses:
      - op: sample
        image: color
      - op: sample
        image: glow
      - op: create-color
        image: swapchain
outputs:
  - image: swapchain
`

func writeFrame(t *testing.T, doc string) string {
	path := filepath.Join(t.TempDir(), "frame.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	log := testr.New(t)
	cmd := newRootCmd(&log)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCompileYAML(t *testing.T) {
	out, err := run(t, "compile", writeFrame(t, postprocess))
	require.NoError(t, err)

	var doc struct {
		Culled int
		Images []map[string]any
		Passes []struct {
			Kind    string
			Nodes   []string
			Extents driver.Dim3D
		}
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Passes, 3)
	assert.Equal(t, []string{"scene"}, doc.Passes[0].Nodes)
	assert.Equal(t, []string{"composite"}, doc.Passes[2].Nodes)
	assert.Equal(t, "render", doc.Passes[0].Kind)
	assert.Equal(t, 320, doc.Passes[1].Extents.Width)
	assert.Len(t, doc.Images, 3)
	assert.Zero(t, doc.Culled)
}

func TestCompileJSON(t *testing.T) {
	out, err := run(t, "compile", "-o", "json", writeFrame(t, postprocess))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	passes, ok := doc["passes"].([]any)
	require.True(t, ok)
	assert.Len(t, passes, 3)
	assert.Contains(t, out, `"FinalLayout": "present"`)
}

func TestCompileDump(t *testing.T) {
	out, err := run(t, "compile", "-o", "dump", writeFrame(t, postprocess))
	require.NoError(t, err)
	assert.Contains(t, out, `"msg"="pass"`)
	assert.Contains(t, out, `"nodes"=["composite"]`)
}

func TestCompileErrors(t *testing.T) {
	path := writeFrame(t, postprocess)

	_, err := run(t, "compile", "-o", "xml", path)
	assert.ErrorContains(t, err, `unknown output format "xml"`)

	_, err = run(t, "compile", "--merge", "always", path)
	assert.ErrorContains(t, err, `unknown merge policy "always"`)

	_, err = run(t, "compile", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to access file")

	cyclic := writeFrame(t, `
surface: {width: 8, height: 8, format: RGBA8un}
nodes:
  - name: a
    uses:
      - op: create-color
        image: x
        format: RGBA8un
        samples: 1
      - op: sample
        image: x
outputs:
  - image: x
`)
	_, err = run(t, "compile", cyclic)
	assert.Error(t, err)

	_, err = run(t, "compile")
	assert.Error(t, err)
}

func TestReplay(t *testing.T) {
	out, err := run(t, "replay", "--frames", "2", writeFrame(t, postprocess))
	require.NoError(t, err)
	assert.Contains(t, out, "# frame 0\n")
	assert.Contains(t, out, "# frame 1\n")
	assert.Equal(t, 2, strings.Count(out, "Draw composite"))

	frames := strings.Split(out, "# frame ")
	require.Len(t, frames, 3)
	assert.Equal(t, strings.TrimPrefix(frames[1], "0"), strings.TrimPrefix(frames[2], "1"))

	_, err = run(t, "replay", "--frames", "0", writeFrame(t, postprocess))
	assert.ErrorContains(t, err, "invalid frame count")
}

const temporal = `
surface:
  width: 640
  height: 480
  format: BGRA8un
imports:
  - image: history
    format: RGBA16f
    initialLayout: shader-read
    finalLayout: shader-read
nodes:
  - name: scene
    uses:
      - op: create-color
        image: color
        format: RGBA16f
        samples: 1
  - name: taa
    uses:
      - op: sample
        image: color
      - op: sample
        image: history
      - op: create-color
        image: swapchain
outputs:
  - image: swapchain
    external: true
`

func TestReplayExternal(t *testing.T) {
	out, err := run(t, "replay", "--frames", "2", writeFrame(t, temporal))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Draw taa"))

	out, err = run(t, "compile", "-o", "json", writeFrame(t, temporal))
	require.NoError(t, err)
	var doc struct {
		Images []struct {
			External    bool
			Output      bool
			FinalLayout driver.Layout
		}
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Len(t, doc.Images, 3)
	var external int
	for _, im := range doc.Images {
		if im.External {
			external++
		}
	}
	assert.Equal(t, 2, external)
}
