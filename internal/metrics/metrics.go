package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed cycles and enrichments.
	OutcomeSuccess = "success"
	// OutcomeError labels failed cycles and enrichments.
	OutcomeError = "error"
)

// Sink labels for sink failure counters.
const (
	SinkAck       = "ack"
	SinkNotify    = "notify"
	SinkBroadcast = "broadcast"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertdeck",
			Name:      "poll_cycles_total",
			Help:      "Total poll cycles executed, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	enrichmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertdeck",
			Name:      "enrichments_total",
			Help:      "Total AI enrichment attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	enrichmentSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "alertdeck",
			Name:      "enrichment_seconds",
			Help:      "Enrichment latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	sinkFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alertdeck",
			Name:      "sink_failures_total",
			Help:      "Delivery failures, partitioned by sink.",
		},
		[]string{"sink"},
	)

	tokensUsedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "alertdeck",
			Name:      "tokens_used_total",
			Help:      "Cumulative enrichment provider tokens consumed.",
		},
	)

	connectedSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alertdeck",
			Name:      "dashboard_sessions",
			Help:      "Currently connected realtime dashboard sessions.",
		},
	)
)

// Register attaches alertdeck collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		enrichmentsTotal,
		enrichmentSeconds,
		sinkFailuresTotal,
		tokensUsedTotal,
		connectedSessions,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle counts one poll cycle by outcome.
func ObserveCycle(outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnrichment records an enrichment attempt's duration and outcome.
func ObserveEnrichment(duration time.Duration, outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	enrichmentsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	enrichmentSeconds.Observe(duration.Seconds())
}

// SinkFailure counts one delivery failure for the named sink.
func SinkFailure(sink string) {
	sinkFailuresTotal.WithLabelValues(sink).Inc()
}

// AddTokens accumulates provider token usage.
func AddTokens(n int) {
	if n > 0 {
		tokensUsedTotal.Add(float64(n))
	}
}

// SessionConnected increments the connected-sessions gauge.
func SessionConnected() { connectedSessions.Inc() }

// SessionDisconnected decrements the connected-sessions gauge.
func SessionDisconnected() { connectedSessions.Dec() }
