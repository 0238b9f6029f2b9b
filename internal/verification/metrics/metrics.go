package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	DocumentsPrepared  *prometheus.CounterVec
	DuplicateDocuments prometheus.Counter
	LivenessChecks     *prometheus.CounterVec

	JobsStarted   prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	ClaimFailures *prometheus.CounterVec
	FHEFailures   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		DocumentsPrepared: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_documents_prepared_total",
			Help: "Total document intake runs, by outcome",
		}, []string{"outcome"}),
		DuplicateDocuments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attesto_duplicate_documents_total",
			Help: "Total documents flagged as duplicates of an existing commitment",
		}),
		LivenessChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_liveness_checks_total",
			Help: "Total liveness scoring runs, by outcome",
		}, []string{"outcome"}),
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attesto_verification_jobs_started_total",
			Help: "Total finalization jobs claimed by a worker",
		}),
		JobsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_verification_jobs_finished_total",
			Help: "Total finalization jobs finished, by terminal status",
		}, []string{"status"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attesto_verification_job_duration_seconds",
			Help:    "Wall-clock duration of finalization job processing",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ClaimFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_signed_claim_failures_total",
			Help: "Total claim signing failures, by claim type",
		}, []string{"claim_type"}),
		FHEFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_fhe_failures_total",
			Help: "Total FHE batch encryption failures, by failure kind",
		}, []string{"kind"}),
	}
}
