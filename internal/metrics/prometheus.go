package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates the collectors and registers them with reg.
// A nil reg uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusRecorder{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "story_backend_requests_total",
				Help: "Total number of refinement backend requests by endpoint and outcome",
			},
			[]string{"endpoint", "code", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "story_backend_request_duration_seconds",
				Help:    "Duration of refinement backend requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"endpoint"},
		),
	}
	reg.MustRegister(p.requestsTotal, p.requestDuration)
	return p
}

// ObserveRequest records metrics for a completed backend call.
func (p *PrometheusRecorder) ObserveRequest(endpoint string, status int, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	p.requestsTotal.WithLabelValues(endpoint, code, outcome).Inc()
	p.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
