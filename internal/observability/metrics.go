package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK        = "ok"
	OutcomeSoftFail  = "soft_fail"
	OutcomeFailed    = "failed"
	OutcomeDegraded  = "degraded"
	OutcomeTruncated = "truncated"
	OutcomeMalformed = "malformed"
)

var (
	metricStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storescout",
		Subsystem: "crawl",
		Name:      "stages_total",
		Help:      "Crawl stages executed, by stage and outcome.",
	}, []string{"stage", "outcome"})

	metricStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storescout",
		Subsystem: "crawl",
		Name:      "stage_duration_seconds",
		Help:      "Wall time spent per crawl stage.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"stage"})

	metricCommentary = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storescout",
		Subsystem: "analysis",
		Name:      "commentaries_total",
		Help:      "Per-stage commentaries produced, by outcome.",
	}, []string{"outcome"})

	metricReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storescout",
		Subsystem: "analysis",
		Name:      "reports_total",
		Help:      "Audit reports attempted, by outcome.",
	}, []string{"outcome"})

	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "storescout",
		Subsystem: "session",
		Name:      "active",
		Help:      "Audit sessions currently running.",
	})
)

// ObserveStage records the outcome and duration of one crawl stage.
func ObserveStage(stage, outcome string, took time.Duration) {
	metricStages.WithLabelValues(stage, outcome).Inc()
	metricStageDuration.WithLabelValues(stage).Observe(took.Seconds())
}

func ObserveCommentary(outcome string) {
	metricCommentary.WithLabelValues(outcome).Inc()
}

func ObserveReport(outcome string) {
	metricReports.WithLabelValues(outcome).Inc()
}

// SessionStarted bumps the active-session gauge; call the returned func
// when the session ends.
func SessionStarted() func() {
	metricActiveSessions.Inc()
	return metricActiveSessions.Dec
}
