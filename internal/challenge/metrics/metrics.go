package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChallengesIssued   *prometheus.CounterVec
	ChallengesConsumed prometheus.Counter
	ConsumeRejected    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ChallengesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_challenge_issued_total",
			Help: "Total number of proof challenges issued, by circuit type",
		}, []string{"circuit_type"}),
		ChallengesConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attesto_challenge_consumed_total",
			Help: "Total number of proof challenges consumed exactly once",
		}),
		ConsumeRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attesto_challenge_consume_rejected_total",
			Help: "Total number of consume attempts for unknown, expired or already used nonces",
		}),
	}
}
