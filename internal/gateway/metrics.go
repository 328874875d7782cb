package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for the gateway.
type Metrics struct {
	requests   *prometheus.CounterVec
	rejections *prometheus.CounterVec
	tokens     *prometheus.CounterVec
	cost       prometheus.Counter
	duration   prometheus.Histogram
}

// NewMetrics registers gateway collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_gateway_requests_total",
				Help: "Total requests handled, by outcome and tier",
			},
			[]string{"outcome", "tier"},
		),

		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_gateway_guardrail_rejections_total",
				Help: "Total guardrail rejections, by guardrail name",
			},
			[]string{"guardrail"},
		),

		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policy_gateway_tokens_total",
				Help: "Total tokens consumed, by direction",
			},
			[]string{"direction"},
		),

		cost: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "policy_gateway_cost_usd_total",
				Help: "Total accumulated cost in USD",
			},
		),

		duration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "policy_gateway_request_duration_seconds",
				Help:    "End-to-end request handling latency",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (m *Metrics) observeRequest(outcome, tier string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome, tier).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) observeRejection(guardrail string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(guardrail).Inc()
}

func (m *Metrics) observeUsage(promptTokens, completionTokens int, cost float64) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("prompt").Add(float64(promptTokens))
	m.tokens.WithLabelValues("completion").Add(float64(completionTokens))
	m.cost.Add(cost)
}
