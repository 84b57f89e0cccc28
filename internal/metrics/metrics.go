// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Punches counts punch attempts by entry mode, direction and outcome code.
	Punches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "punch_attempts_total",
		Help:      "Punch attempts by mode, direction and result.",
	}, []string{"mode", "direction", "result"})

	// GroupFaces counts per-face outcomes of group captures.
	GroupFaces = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "group_capture_faces_total",
		Help:      "Faces processed in group captures by outcome status.",
	}, []string{"status"})

	// FaceLinks counts biometric cross-reference repairs.
	FaceLinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "face_links_total",
		Help:      "Biometric id cache repairs by result.",
	}, []string{"result"})

	// ExternalCalls times calls to the recognition service and object storage.
	ExternalCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "external_call_duration_seconds",
		Help:      "Latency of external calls by service, operation and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "op", "outcome"})
)

// ObserveCall records the latency of one external call started at start.
func ObserveCall(service, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ExternalCalls.WithLabelValues(service, op, outcome).Observe(time.Since(start).Seconds())
}
