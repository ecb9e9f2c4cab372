package authn

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeRateLimited = "rate_limited"
	outcomeError       = "error"
)

// Metrics holds the auth counters. A nil *Metrics records nothing.
type Metrics struct {
	Logins          *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	Authentications *prometheus.CounterVec
	RefreshReuse    prometheus.Counter
	SessionsSwept   prometheus.Counter
	PasswordVerify  prometheus.Histogram
}

// NewMetrics creates and registers the auth metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_logins_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_refreshes_total",
				Help: "Refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		Authentications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_authentications_total",
				Help: "Bearer token resolutions by outcome",
			},
			[]string{"outcome"},
		),
		RefreshReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_refresh_reuse_total",
			Help: "Rejected refresh tokens whose session was revoked in response",
		}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_sessions_swept_total",
			Help: "Dead session records purged by the sweeper",
		}),
		PasswordVerify: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auth_password_verify_seconds",
			Help:    "Argon2id verification latency",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}

	reg.MustRegister(
		m.Logins,
		m.Refreshes,
		m.Authentications,
		m.RefreshReuse,
		m.SessionsSwept,
		m.PasswordVerify,
	)
	return m
}

func (m *Metrics) login(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) refresh(outcome string) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) authenticate(outcome string) {
	if m != nil {
		m.Authentications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) reuse() {
	if m != nil {
		m.RefreshReuse.Inc()
	}
}

func (m *Metrics) verified(start time.Time) {
	if m != nil {
		m.PasswordVerify.Observe(time.Since(start).Seconds())
	}
}

// Swept adds n purged sessions. It fits session.Sweeper.OnSwept.
func (m *Metrics) Swept(n int) {
	if m != nil && n > 0 {
		m.SessionsSwept.Add(float64(n))
	}
}
