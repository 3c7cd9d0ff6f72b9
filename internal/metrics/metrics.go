// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/logger"
)

var log = logger.For("Metrics")

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesCaptured  atomic.Uint64
	FramesProcessed atomic.Uint64
	CaptureGaps     atomic.Uint64

	// Error counters
	CaptureErrors        atomic.Uint64
	InferenceErrors      atomic.Uint64
	ClassificationErrors atomic.Uint64
	RenderErrors         atomic.Uint64
	HardwareErrors       atomic.Uint64
	EventErrors          atomic.Uint64

	// Detections kept by the filter
	Detections atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64
	ProcessLatencyMs   atomic.Uint64

	// Indicator state
	BuzzerOn          atomic.Uint64 // 0 = off, 1 = on
	BuzzerActivations atomic.Uint64
	Transitions       atomic.Uint64

	presence *prometheus.GaugeVec
	leds     *prometheus.GaugeVec
	latency  prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	// Register Prometheus gauges
	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Frame metrics
	m.counter("alert_frames_captured_total", "Total frames read from the capture source", &m.FramesCaptured)
	m.counter("alert_frames_processed_total", "Total frames run through detection", &m.FramesProcessed)
	m.counter("alert_capture_gaps_total", "Iterations skipped because no frame was available", &m.CaptureGaps)
	m.counter("alert_detections_total", "Detections kept by the filter", &m.Detections)

	// Error metrics
	m.counter("alert_capture_errors_total", "Capture source errors", &m.CaptureErrors)
	m.counter("alert_inference_errors_total", "Failed detector exchanges", &m.InferenceErrors)
	m.counter("alert_classification_errors_total", "Detections with an unknown class index", &m.ClassificationErrors)
	m.counter("alert_render_errors_total", "Overlay render failures", &m.RenderErrors)
	m.counter("alert_hardware_errors_total", "Indicator write failures", &m.HardwareErrors)
	m.counter("alert_event_errors_total", "Transition events that failed to publish", &m.EventErrors)

	// Latency metrics
	m.gauge("alert_inference_latency_ms", "Last detector round trip in milliseconds", &m.InferenceLatencyMs)
	m.gauge("alert_process_latency_ms", "Last full frame iteration in milliseconds", &m.ProcessLatencyMs)

	m.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "alert_frame_duration_seconds",
		Help:    "Duration of one frame iteration",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	m.registry.MustRegister(m.latency)

	// Indicator metrics
	m.gauge("alert_buzzer_on", "Buzzer state (0=off, 1=on)", &m.BuzzerOn)
	m.counter("alert_buzzer_activations_total", "Times the buzzer switched on", &m.BuzzerActivations)
	m.counter("alert_indicator_transitions_total", "Indicator state changes", &m.Transitions)

	m.presence = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alert_class_presence",
		Help: "Detections of each tracked class in the last processed frame",
	}, []string{"class"})
	m.leds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alert_led_on",
		Help: "LED state per tracked class (0=off, 1=on)",
	}, []string{"class"})
	m.registry.MustRegister(m.presence, m.leds)
}

// ObservePresence records the per-class counts of the last frame.
func (m *Metrics) ObservePresence(counts map[string]int) {
	for class, n := range counts {
		m.presence.WithLabelValues(class).Set(float64(n))
	}
}

// ObserveIndicators records LED and buzzer states.
func (m *Metrics) ObserveIndicators(leds map[string]bool, buzzer bool) {
	for class, on := range leds {
		m.leds.WithLabelValues(class).Set(boolToFloat(on))
	}
	if buzzer {
		if m.BuzzerOn.Swap(1) == 0 {
			m.BuzzerActivations.Add(1)
		}
	} else {
		m.BuzzerOn.Store(0)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// UpdateInferenceLatency records the last detector round trip
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateProcessLatency records one full frame iteration
func (m *Metrics) UpdateProcessLatency(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
	m.latency.Observe(d.Seconds())
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts a dedicated metrics HTTP server
func (m *Metrics) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error: %v", err)
		}
	}()
	return srv
}
