// Package metrics exposes Prometheus metrics for the kernel on a
// dedicated registry (never the global default, to avoid collisions with
// other instrumented libraries sharing the process).
//
// Metric naming convention: pressurefield_<subsystem>_<name>_<unit>.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every metric descriptor the kernel records.
type Metrics struct {
	registry *prometheus.Registry

	// Tick lifecycle.
	TickDuration  prometheus.Histogram
	TickTotal     prometheus.Counter
	PhaseDuration *prometheus.HistogramVec
	TotalPressure prometheus.Gauge

	// Regions.
	RegionsActivated prometheus.Gauge
	RegionPressure   *prometheus.GaugeVec
	RegionFitness    *prometheus.GaugeVec
	RegionConfidence *prometheus.GaugeVec

	// Patches.
	PatchesAppliedTotal  prometheus.Counter
	PatchesRejectedTotal *prometheus.CounterVec

	// Correlation plumbing.
	CorrelationsPurgedTotal *prometheus.CounterVec
	ProtocolViolationsTotal prometheus.Counter

	startTime time.Time
}

// New creates and registers all kernel metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pressurefield",
			Subsystem: "coordinator",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of a full tick, phase 1 through phase 7.",
			Buckets:   prometheus.DefBuckets,
		}),
		TickTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pressurefield",
			Subsystem: "coordinator",
			Name:      "ticks_total",
			Help:      "Total ticks completed.",
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pressurefield",
			Subsystem: "coordinator",
			Name:      "phase_duration_seconds",
			Help:      "Per-phase duration within a tick.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		TotalPressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pressurefield",
			Subsystem: "coordinator",
			Name:      "total_pressure",
			Help:      "Sum of per-region pressure queried in the most recent tick's Phase 3.",
		}),

		RegionsActivated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pressurefield",
			Subsystem: "region",
			Name:      "activated",
			Help:      "Number of regions activated in the most recent tick.",
		}),
		RegionPressure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pressurefield",
			Subsystem: "region",
			Name:      "pressure",
			Help:      "Current pressure per region.",
		}, []string{"region"}),
		RegionFitness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pressurefield",
			Subsystem: "region",
			Name:      "fitness",
			Help:      "Current fitness per region.",
		}, []string{"region"}),
		RegionConfidence: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pressurefield",
			Subsystem: "region",
			Name:      "confidence",
			Help:      "Current confidence per region.",
		}, []string{"region"}),

		PatchesAppliedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pressurefield",
			Subsystem: "patch",
			Name:      "applied_total",
			Help:      "Total patches accepted and applied.",
		}),
		PatchesRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pressurefield",
			Subsystem: "patch",
			Name:      "rejected_total",
			Help:      "Total patches rejected, by reason.",
		}, []string{"reason"}),

		CorrelationsPurgedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pressurefield",
			Subsystem: "correlation",
			Name:      "purged_total",
			Help:      "Total correlation ids purged at a phase deadline without a reply, by phase.",
		}, []string{"phase"}),
		ProtocolViolationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pressurefield",
			Subsystem: "correlation",
			Name:      "protocol_violations_total",
			Help:      "Total replies received with an unknown or duplicate correlation id.",
		}),
	}

	reg.MustRegister(
		m.TickDuration,
		m.TickTotal,
		m.PhaseDuration,
		m.TotalPressure,
		m.RegionsActivated,
		m.RegionPressure,
		m.RegionFitness,
		m.RegionConfidence,
		m.PatchesAppliedTotal,
		m.PatchesRejectedTotal,
		m.CorrelationsPurgedTotal,
		m.ProtocolViolationsTotal,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Serve starts the Prometheus HTTP endpoint on addr, blocking until ctx is
// cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
	return nil
}
