package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for event handling. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Inbound events by kind and message type
	Events *prometheus.CounterVec

	// Handling outcomes: found, not_found, validation categories, lookup_failed, ignored, receipt
	Outcomes *prometheus.CounterVec

	// Lookup call latency by result
	LookupLatency *prometheus.HistogramVec

	// Outbound sends by result
	Sends *prometheus.CounterVec

	// Acknowledgements by mode and result
	Acks *prometheus.CounterVec

	// In-flight event handlings
	InFlight prometheus.Gauge
}

// New creates a Metrics instance registered on reg. A nil registerer leaves
// the collectors unregistered, which suits tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onvotar_events_total",
			Help: "Inbound protocol events by kind and message type",
		}, []string{"kind", "type"}),

		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onvotar_outcomes_total",
			Help: "Event handling outcomes",
		}, []string{"outcome"}),

		LookupLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onvotar_lookup_duration_seconds",
			Help:    "Duration of external lookup calls by result",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"result"}),

		Sends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onvotar_sends_total",
			Help: "Outbound replies by result",
		}, []string{"result"}),

		Acks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onvotar_acks_total",
			Help: "Acknowledgements issued by mode and result",
		}, []string{"mode", "result"}),

		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "onvotar_events_in_flight",
			Help: "Events currently being handled",
		}),
	}
}

// IncrementEvent records an inbound event.
func (m *Metrics) IncrementEvent(kind, typ string) {
	if m != nil {
		m.Events.WithLabelValues(kind, typ).Inc()
	}
}

// IncrementOutcome records how an event was resolved.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveLookup records the duration of a lookup call.
func (m *Metrics) ObserveLookup(result string, d time.Duration) {
	if m != nil {
		m.LookupLatency.WithLabelValues(result).Observe(d.Seconds())
	}
}

// IncrementSend records an outbound send attempt.
func (m *Metrics) IncrementSend(err error) {
	if m != nil {
		m.Sends.WithLabelValues(resultLabel(err)).Inc()
	}
}

// IncrementAck records an acknowledgement attempt.
func (m *Metrics) IncrementAck(mode string, err error) {
	if m != nil {
		m.Acks.WithLabelValues(mode, resultLabel(err)).Inc()
	}
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
