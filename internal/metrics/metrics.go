// Package metrics exposes Prometheus collectors for the conversation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "companion"

// States reported by the conversation_state gauge.
var States = []string{"idle", "listening", "thinking", "speaking"}

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns              *prometheus.CounterVec
	generationFailures *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	synthesisSkips     *prometheus.CounterVec
	playbackOutcomes   *prometheus.CounterVec
	duckTransitions    *prometheus.CounterVec
	recognitionEvents  *prometheus.CounterVec
	state              *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome",
		}, []string{"outcome"}), // outcome: replied, fallback, interrupted, stale
		generationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Reply generation failures",
		}, []string{"depth"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Duration of reply generation calls in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"depth"}),
		synthesisSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_skips_total",
			Help:      "Replies or segments that produced no audio",
		}, []string{"reason"}), // reason: muted, empty, error
		playbackOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_total",
			Help:      "Speech playbacks by outcome",
		}, []string{"outcome"}),
		duckTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duck_transitions_total",
			Help:      "Ambient ducking assertions and releases",
		}, []string{"direction"}),
		recognitionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_events_total",
			Help:      "Speech recognition events by kind",
		}, []string{"kind"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_state",
			Help:      "1 for the current conversation state",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.turns,
		m.generationFailures,
		m.generationDuration,
		m.synthesisSkips,
		m.playbackOutcomes,
		m.duckTransitions,
		m.recognitionEvents,
		m.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.SetState("idle")
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WatchAmbientVoices registers a gauge sampled from fn at scrape time.
func (m *Metrics) WatchAmbientVoices(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ambient_voices",
		Help:      "Live voices on the ambient bus",
	}, func() float64 { return float64(fn()) }))
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Generation(depth string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.generationDuration.WithLabelValues(depth).Observe(d.Seconds())
	if err != nil {
		m.generationFailures.WithLabelValues(depth).Inc()
	}
}

func (m *Metrics) SynthesisSkipped(reason string) {
	if m == nil {
		return
	}
	m.synthesisSkips.WithLabelValues(reason).Inc()
}

func (m *Metrics) Playback(outcome string) {
	if m == nil {
		return
	}
	m.playbackOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Duck(on bool) {
	if m == nil {
		return
	}
	dir := "release"
	if on {
		dir = "duck"
	}
	m.duckTransitions.WithLabelValues(dir).Inc()
}

func (m *Metrics) Recognition(kind string) {
	if m == nil {
		return
	}
	m.recognitionEvents.WithLabelValues(kind).Inc()
}

// SetState marks state as current and clears the others.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}
