// Package metrics exposes scan counters for Prometheus scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the scanner's Prometheus collectors on a private registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pagesTotal      *prometheus.CounterVec
	findingsTotal   *prometheus.CounterVec
	phaseFailures   *prometheus.CounterVec
	activeScans     prometheus.Gauge
}

func NewRecorder() (*Recorder, error) {
	r := &Recorder{registry: prometheus.NewRegistry()}

	r.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webvuln_http_requests_total",
			Help: "HTTP requests sent to targets, by phase and status code",
		},
		[]string{"phase", "status"},
	)
	r.requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webvuln_http_request_errors_total",
			Help: "HTTP requests that failed at the transport level",
		},
		[]string{"phase"},
	)
	r.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webvuln_http_request_duration_seconds",
			Help:    "Response time distribution in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"phase"},
	)
	r.pagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webvuln_pages_crawled_total",
			Help: "Pages visited by the crawler, by outcome",
		},
		[]string{"outcome"},
	)
	r.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webvuln_findings_total",
			Help: "Findings reported, by tester and severity",
		},
		[]string{"tester", "severity"},
	)
	r.phaseFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webvuln_phase_failures_total",
			Help: "Scan phases that ended with an error",
		},
		[]string{"phase"},
	)
	r.activeScans = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "webvuln_active_scans",
		Help: "Scans currently running",
	})

	collectors := []prometheus.Collector{
		r.requestsTotal,
		r.requestErrors,
		r.requestDuration,
		r.pagesTotal,
		r.findingsTotal,
		r.phaseFailures,
		r.activeScans,
	}
	for _, c := range collectors {
		if err := r.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return r, nil
}

func (r *Recorder) ObserveRequest(phase string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(phase, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (r *Recorder) ObserveRequestError(phase string) {
	if r == nil {
		return
	}
	r.requestErrors.WithLabelValues(phase).Inc()
}

// ObservePage records a crawled page. outcome is "ok", "failed" or "skipped".
func (r *Recorder) ObservePage(outcome string) {
	if r == nil {
		return
	}
	r.pagesTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveFinding(tester, severity string) {
	if r == nil {
		return
	}
	r.findingsTotal.WithLabelValues(tester, severity).Inc()
}

func (r *Recorder) ObservePhaseFailure(phase string) {
	if r == nil {
		return
	}
	r.phaseFailures.WithLabelValues(phase).Inc()
}

func (r *Recorder) ScanStarted() {
	if r == nil {
		return
	}
	r.activeScans.Inc()
}

func (r *Recorder) ScanFinished() {
	if r == nil {
		return
	}
	r.activeScans.Dec()
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
