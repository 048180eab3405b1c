package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP holds transport-level Prometheus metrics shared by every route.
type HTTP struct {
	RequestDuration *prometheus.HistogramVec
}

// NewHTTP creates and registers the transport metrics on reg.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	return &HTTP{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sso_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route pattern, method and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

// ObserveRequest records one request. Safe on a nil receiver.
func (m *HTTP) ObserveRequest(route, method, status string, seconds float64) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route, method, status).Observe(seconds)
	}
}
