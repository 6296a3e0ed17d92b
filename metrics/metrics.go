// Package metrics provides Prometheus instrumentation for completion streams.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trickle"

// Outcome labels of StreamsFinished.
const (
	OutcomeCompleted = "completed"
	OutcomeErrored   = "errored"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the stream collectors. A nil *Metrics records nothing.
type Metrics struct {
	// StreamsStarted counts streams whose request was accepted by the service.
	StreamsStarted *prometheus.CounterVec
	// ActiveStreams tracks the number of currently registered streams.
	ActiveStreams prometheus.Gauge
	// StreamsFinished counts terminal transitions by outcome and, for
	// errors, by error kind.
	StreamsFinished *prometheus.CounterVec
	// TokensTotal counts token deltas delivered to callers.
	TokensTotal *prometheus.CounterVec
	// UsageTokensTotal counts tokens the service reported as billed.
	UsageTokensTotal *prometheus.CounterVec
	// SkippedFrames counts frames dropped because they could not be decoded.
	SkippedFrames prometheus.Counter
	// StreamDuration tracks the time from start to terminal transition.
	StreamDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StreamsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_started_total",
				Help:      "Total number of completion streams started.",
			},
			[]string{"model"},
		),
		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_streams",
				Help:      "Number of completion streams currently in flight.",
			},
		),
		StreamsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "streams_finished_total",
				Help:      "Total number of completion streams that ended, by outcome.",
			},
			[]string{"outcome", "kind"}, // kind is empty unless outcome is "errored"
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_deltas_total",
				Help:      "Total number of token deltas delivered.",
			},
			[]string{"model"},
		),
		UsageTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "usage_tokens_total",
				Help:      "Total number of tokens reported by the service.",
			},
			[]string{"model", "direction"}, // direction: "input" or "output"
		),
		SkippedFrames: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_frames_total",
				Help:      "Total number of stream frames that could not be decoded.",
			},
		),
		StreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stream_duration_seconds",
				Help:      "Time from stream start to its terminal transition.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
	}
}

// RecordStart records a stream that became active.
func (m *Metrics) RecordStart(model string) {
	if m == nil {
		return
	}
	m.StreamsStarted.WithLabelValues(model).Inc()
	m.ActiveStreams.Inc()
}

// RecordToken records one token delta.
func (m *Metrics) RecordToken(model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues(model).Inc()
}

// RecordSkip records one undecodable frame.
func (m *Metrics) RecordSkip() {
	if m == nil {
		return
	}
	m.SkippedFrames.Inc()
}

// RecordUsage records the token usage the service reported.
func (m *Metrics) RecordUsage(model string, prompt, completion int) {
	if m == nil {
		return
	}
	m.UsageTokensTotal.WithLabelValues(model, "input").Add(float64(prompt))
	m.UsageTokensTotal.WithLabelValues(model, "output").Add(float64(completion))
}

// RecordFinish records the terminal transition of a stream started at start.
// kind is only used for the errored outcome.
func (m *Metrics) RecordFinish(outcome, kind string, start time.Time) {
	if m == nil {
		return
	}
	if outcome != OutcomeErrored {
		kind = ""
	}
	m.ActiveStreams.Dec()
	m.StreamsFinished.WithLabelValues(outcome, kind).Inc()
	m.StreamDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
