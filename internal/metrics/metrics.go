// Package metrics exposes the gateway's Prometheus instrumentation.
// Rejection reasons get their own counter dimension so abuse patterns
// (traversal attempts vs. expired tokens vs. rate limiting) can be told
// apart on a dashboard without parsing the audit files.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ImagesServed prometheus.Counter
	Rejections   *prometheus.CounterVec
	TokensIssued *prometheus.CounterVec
	RateLimited  *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ImagesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagegate_images_served_total",
			Help: "Image responses that passed every gate.",
		}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imagegate_rejections_total",
			Help: "Rejected image requests by reason code.",
		}, []string{"reason"}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imagegate_tokens_issued_total",
			Help: "Image access tokens issued, by endpoint.",
		}, []string{"endpoint"}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imagegate_rate_limited_total",
			Help: "Requests denied by the fixed-window limiter, by class.",
		}, []string{"class"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagegate_request_duration_seconds",
			Help:    "Request latency by route group.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}
