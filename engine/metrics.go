package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine activity for the serve endpoint.
type Metrics struct {
	SessionsStarted      *prometheus.CounterVec
	Advances             *prometheus.CounterVec
	VerificationFailures *prometheus.CounterVec
	RemediationLoops     *prometheus.CounterVec
	Halts                *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "sessions_started_total",
			Help:      "Workflow sessions started.",
		}, []string{"workflow"}),
		Advances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "advances_total",
			Help:      "Successful phase advances.",
		}, []string{"workflow"}),
		VerificationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "verification_failures_total",
			Help:      "Advance calls rejected because the phase artifact did not verify.",
		}, []string{"workflow"}),
		RemediationLoops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "remediation_loops_total",
			Help:      "Remediation loop-backs taken.",
		}, []string{"workflow"}),
		Halts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagehand",
			Name:      "halts_total",
			Help:      "Workflows halted, by reason class.",
		}, []string{"workflow", "reason"}),
	}
}
