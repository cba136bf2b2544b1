// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gviegas/rgraph/cache"
	"github.com/gviegas/rgraph/driver"
	"github.com/gviegas/rgraph/driver/null"
	"github.com/gviegas/rgraph/graph"
	"github.com/gviegas/rgraph/replay"
)

type replayOptions struct {
	frames      int
	maxAge      int
	metricsAddr string
}

// drawBody records the name of the node in null command
// buffers.
func drawBody(node string) graph.Body {
	return graph.BodyFunc(func(ctx *graph.Context) error {
		if cb, ok := ctx.Cmd.(*null.CmdBuffer); ok {
			cb.Draw(node)
		}
		return nil
	})
}

// externals stands in for the images that an application
// provides to the frame, such as swapchain images.
type externals struct {
	gpu    driver.GPU
	images map[graph.PhysicalID]externalImage
}

type externalImage struct {
	spec graph.Spec
	img  driver.Image
	view driver.ImageView
}

// bind binds an image to every external image of p.
func (x *externals) bind(p *graph.Plan, frame *cache.Frame) error {
	for i := range p.Images {
		if !p.Images[i].External {
			continue
		}
		id := graph.PhysicalID(i)
		spec := &p.Images[i].Spec
		e, ok := x.images[id]
		if !ok || e.spec != *spec {
			if ok {
				e.view.Destroy()
				e.img.Destroy()
				delete(x.images, id)
			}
			img, err := x.gpu.NewImage(spec.Format, spec.Extents, spec.Layers, spec.Levels, spec.Samples, spec.Usage)
			if err != nil {
				return err
			}
			view, err := img.NewView(cache.ViewType(spec), 0, spec.Layers, 0, spec.Levels)
			if err != nil {
				img.Destroy()
				return err
			}
			e = externalImage{*spec, img, view}
			x.images[id] = e
		}
		if err := frame.BindImage(id, e.img, e.view); err != nil {
			return err
		}
	}
	return nil
}

// Destroy implements driver.Destroyer.
func (x *externals) Destroy() {
	for id, e := range x.images {
		e.view.Destroy()
		e.img.Destroy()
		delete(x.images, id)
	}
}

func newReplayCmd(o *rootOptions) *cobra.Command {
	var ro replayOptions
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Compile a frame description and record it on the null driver",
		Long: `Compile a frame description once per frame and record each plan
on the null driver, printing the recorded commands.
Physical images are kept in a cache across frames. Imported and
external output images are created once and bound to every frame.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd, o, &ro, args[0])
		},
	}
	cmd.Flags().IntVarP(&ro.frames, "frames", "n", 3, "number of frames to record")
	cmd.Flags().IntVar(&ro.maxAge, "max-age", 3, "frames after which unused cached resources are destroyed")
	cmd.Flags().StringVar(&ro.metricsAddr, "metrics-addr", "", "if set, serve compile metrics on this address after recording")
	return cmd
}

func runReplay(ctx context.Context, cmd *cobra.Command, o *rootOptions, ro *replayOptions, path string) error {
	if ro.frames <= 0 {
		return fmt.Errorf("invalid frame count %d", ro.frames)
	}
	f, g, mp, err := o.load(path, drawBody)
	if err != nil {
		return err
	}

	drv, ok := driver.Lookup(null.Name)
	if !ok {
		return fmt.Errorf("driver %q not registered", null.Name)
	}
	gpu, err := drv.Open()
	if err != nil {
		return err
	}
	defer drv.Close()

	reg := prometheus.NewRegistry()
	opts := &graph.Options{Log: o.log, Merge: mp, Metrics: graph.NewMetrics(reg)}
	res := cache.New(gpu, &cache.Config{MaxAge: ro.maxAge, Log: o.log})
	defer res.Destroy()
	exec := replay.New(gpu, o.log)
	defer exec.Destroy()
	ext := &externals{gpu: gpu, images: make(map[graph.PhysicalID]externalImage)}
	defer ext.Destroy()

	out := cmd.OutOrStdout()
	for i := range ro.frames {
		p, err := graph.Compile(g, f.SurfaceInfo(), opts)
		if err != nil {
			return err
		}
		frame, err := res.Begin(p)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		if err := ext.bind(p, frame); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		cb := new(null.CmdBuffer)
		if err := exec.Run(ctx, cb, p, frame); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		fmt.Fprintf(out, "# frame %d\n%s\n", i, cb)
	}
	images, buffers := res.Len()
	o.log.Info("replayed frames", "frames", ro.frames, "images", images, "buffers", buffers, "renderPasses", exec.Len())

	if ro.metricsAddr == "" {
		return nil
	}
	return serveMetrics(ctx, ro.metricsAddr, reg, o)
}

// serveMetrics serves the metrics in reg until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, o *rootOptions) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	o.log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
