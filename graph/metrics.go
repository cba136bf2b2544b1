// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects statistics about compilations.
// A nil *Metrics discards everything.
type Metrics struct {
	compiles *prometheus.CounterVec
	duration prometheus.Histogram
	passes   prometheus.Gauge
	images   prometheus.Gauge
	barriers prometheus.Gauge
	culled   prometheus.Gauge
}

// NewMetrics creates the compiler metrics and registers
// them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		compiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rgraph_compile_total",
				Help: "Total number of graph compilations, by result",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rgraph_compile_duration_seconds",
				Help:    "Duration of graph compilations in seconds",
				Buckets: prometheus.ExponentialBuckets(1e-5, 4, 10),
			},
		),
		passes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rgraph_passes",
			Help: "Number of passes in the last compiled plan",
		}),
		images: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rgraph_physical_images",
			Help: "Number of physical images in the last compiled plan",
		}),
		barriers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rgraph_barriers",
			Help: "Number of dependencies and barrier sets in the last compiled plan",
		}),
		culled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rgraph_culled_nodes",
			Help: "Number of nodes culled from the last compiled graph",
		}),
	}
	reg.MustRegister(m.compiles, m.duration, m.passes, m.images, m.barriers, m.culled)
	return m
}

// result returns the label under which err is counted.
func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCycle):
		return "cycle"
	case errors.Is(err, ErrConstraint):
		return "constraint"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrBuilder):
		return "builder"
	}
	return "other"
}

func (m *Metrics) observe(start time.Time, p *Plan, err error) {
	if m == nil {
		return
	}
	m.compiles.WithLabelValues(result(err)).Inc()
	m.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		return
	}
	m.passes.Set(float64(len(p.Passes)))
	m.images.Set(float64(len(p.Images)))
	m.barriers.Set(float64(p.barriers))
	m.culled.Set(float64(p.culled))
}
