package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scholardex",
		Subsystem: "bridge",
		Name:      "in_flight_requests",
		Help:      "Number of requests currently waiting for a response.",
	})
	requestsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholardex",
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "Requests submitted, by kind.",
		},
		[]string{"kind"},
	)
	responsesResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholardex",
			Subsystem: "bridge",
			Name:      "responses_total",
			Help:      "Responses delivered to waiting callers, by kind.",
		},
		[]string{"kind"},
	)
	requestTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholardex",
			Subsystem: "bridge",
			Name:      "timeouts_total",
			Help:      "Requests that expired without a response, by kind.",
		},
		[]string{"kind"},
	)
	decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholardex",
			Subsystem: "bridge",
			Name:      "decode_failures_total",
			Help:      "Response payloads dropped as undecodable, by kind.",
		},
		[]string{"kind"},
	)
	unknownResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scholardex",
			Subsystem: "bridge",
			Name:      "unknown_responses_total",
			Help:      "Responses with no pending request, by kind.",
		},
		[]string{"kind"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scholardex",
			Subsystem: "bridge",
			Name:      "request_duration_seconds",
			Help:      "Time from publish to resolution for answered requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	_ = prometheus.Register(requestsInFlight)
	_ = prometheus.Register(requestsSubmitted)
	_ = prometheus.Register(responsesResolved)
	_ = prometheus.Register(requestTimeouts)
	_ = prometheus.Register(decodeFailures)
	_ = prometheus.Register(unknownResponses)
	_ = prometheus.Register(requestDuration)
}
