// Package metrics exposes Prometheus collectors for the advisor.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/freezone-advisor/internal/slots"
)

const namespace = "freezone"

// Metrics holds the advisor's collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal         *prometheus.CounterVec
	turnErrorsTotal    *prometheus.CounterVec
	coercionDropsTotal *prometheus.CounterVec
	extractionSeconds  *prometheus.HistogramVec
	extractionErrors   *prometheus.CounterVec
}

// New creates the collectors together with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: action (ask_for, suggest)
		turnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "turns_total",
			Help:      "Completed conversation turns by resulting action",
		}, []string{"action"}),

		// Labels: reason (extraction_timeout, extraction_failed, store_unavailable, schema_mismatch, unknown_session, other)
		turnErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "turn_errors_total",
			Help:      "Failed conversation turns by reason",
		}, []string{"reason"}),

		// Labels: slot
		coercionDropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "coercion_drops_total",
			Help:      "Extracted slot values dropped because they failed type coercion",
		}, []string{"slot"}),

		// Labels: extractor (rules, openai, anthropic)
		extractionSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "Extraction latency",
			Buckets:   []float64{0.005, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"extractor"}),

		// Labels: extractor, kind (timeout, error)
		extractionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "errors_total",
			Help:      "Extraction calls that returned an error",
		}, []string{"extractor", "kind"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveResult records a completed turn.
func (m *Metrics) ObserveResult(res *slots.Result) {
	if res == nil {
		return
	}
	m.turnsTotal.WithLabelValues(string(res.Action.Kind)).Inc()
	for _, name := range res.Action.Dropped {
		m.coercionDropsTotal.WithLabelValues(name).Inc()
	}
}

// ObserveError records a failed turn.
func (m *Metrics) ObserveError(err error) {
	m.turnErrorsTotal.WithLabelValues(errorReason(err)).Inc()
}

// InstrumentExtractor wraps next so every call is timed and failures counted.
func (m *Metrics) InstrumentExtractor(name string, next slots.Extractor) slots.Extractor {
	return slots.ExtractorFunc(func(ctx context.Context, text string, schema slots.Schema, history []slots.Turn) (map[string]any, error) {
		start := time.Now()
		partial, err := next.Extract(ctx, text, schema, history)
		m.extractionSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			kind := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				kind = "timeout"
			}
			m.extractionErrors.WithLabelValues(name, kind).Inc()
		}
		return partial, err
	})
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, slots.ErrExtractionTimeout):
		return "extraction_timeout"
	case errors.Is(err, slots.ErrExtractionFailed):
		return "extraction_failed"
	case errors.Is(err, slots.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, slots.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, slots.ErrUnknownSession):
		return "unknown_session"
	default:
		return "other"
	}
}
