package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts security relevant outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Authentications *prometheus.CounterVec
	TokenDecodes    *prometheus.CounterVec
	Authorizations  *prometheus.CounterVec
	TOTP            *prometheus.CounterVec
	Revocations     prometheus.Counter
}

// NewMetrics creates and registers the counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_authentications_total",
			Help: "Authentication attempts by result",
		}, []string{"result"}),
		TokenDecodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_token_decodes_total",
			Help: "Token decodes by expected kind and result",
		}, []string{"kind", "result"}),
		Authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_authorizations_total",
			Help: "Role policy evaluations by policy and result",
		}, []string{"policy", "result"}),
		TOTP: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_totp_verifications_total",
			Help: "TOTP verifications by result",
		}, []string{"result"}),
		Revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_revocations_total",
			Help: "Tokens revoked",
		}),
	}

	reg.MustRegister(m.Authentications, m.TokenDecodes, m.Authorizations, m.TOTP, m.Revocations)
	return m
}

func (m *Metrics) authentication(result string) {
	if m == nil {
		return
	}
	m.Authentications.WithLabelValues(result).Inc()
}

func (m *Metrics) decode(kind, result string) {
	if m == nil {
		return
	}
	m.TokenDecodes.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) authorization(policy, result string) {
	if m == nil {
		return
	}
	m.Authorizations.WithLabelValues(policy, result).Inc()
}

func (m *Metrics) totp(result string) {
	if m == nil {
		return
	}
	m.TOTP.WithLabelValues(result).Inc()
}

func (m *Metrics) revoked() {
	if m == nil {
		return
	}
	m.Revocations.Inc()
}
