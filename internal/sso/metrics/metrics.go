package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the protocol counters.
const (
	OutcomeSuccess  = "success"
	OutcomePrompt   = "prompt"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics provides observability for the broker protocol.
// All methods are safe on a nil receiver so tests can omit metrics.
type Metrics struct {
	Logins        *prometheus.CounterVec
	Exchanges     *prometheus.CounterVec
	Logouts       *prometheus.CounterVec
	SignDuration  prometheus.Histogram
	TokensMinted  prometheus.Counter
	TokensPruned  prometheus.Counter
	TokensRevoked prometheus.Counter
}

// New creates the broker metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_logins_total",
			Help: "Login calls by outcome",
		}, []string{"outcome"}),
		Exchanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_exchanges_total",
			Help: "Exchange token redemptions by outcome",
		}, []string{"outcome"}),
		Logouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_logouts_total",
			Help: "Global logouts by outcome",
		}, []string{"outcome"}),
		SignDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sso_assertion_sign_duration_seconds",
			Help:    "Duration of assertion signing",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		TokensMinted: f.NewCounter(prometheus.CounterOpts{
			Name: "sso_exchange_tokens_minted_total",
			Help: "Exchange tokens issued on handoff",
		}),
		TokensPruned: f.NewCounter(prometheus.CounterOpts{
			Name: "sso_exchange_tokens_pruned_total",
			Help: "Expired exchange tokens removed by the janitor",
		}),
		TokensRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "sso_exchange_tokens_revoked_total",
			Help: "Pending exchange tokens deleted by logout",
		}),
	}
}

func (m *Metrics) IncLogin(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncExchange(outcome string) {
	if m != nil {
		m.Exchanges.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncLogout(outcome string) {
	if m != nil {
		m.Logouts.WithLabelValues(outcome).Inc()
	}
}

// ObserveSign records signing latency. Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSign(start time.Time) {
	if m != nil {
		m.SignDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncTokensMinted() {
	if m != nil {
		m.TokensMinted.Inc()
	}
}

func (m *Metrics) AddTokensPruned(n int) {
	if m != nil && n > 0 {
		m.TokensPruned.Add(float64(n))
	}
}

func (m *Metrics) AddTokensRevoked(n int) {
	if m != nil && n > 0 {
		m.TokensRevoked.Add(float64(n))
	}
}
