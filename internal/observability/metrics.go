package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the counters and histograms exported on /metrics.
type Metrics struct {
	webhooks   *prometheus.CounterVec
	runs       *prometheus.CounterVec
	stages     *prometheus.HistogramVec
	prs        *prometheus.CounterVec
	reviewTime *prometheus.HistogramVec
	failures   *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_qa_webhooks_total",
		Help: "Webhook deliveries by event type and outcome.",
	}, []string{"event", "outcome"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_qa_pipeline_runs_total",
		Help: "Pipeline runs by terminal status.",
	}, []string{"status"})
	stages := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delta_qa_stage_duration_seconds",
		Help:    "Pipeline stage latency by stage and outcome.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage", "outcome"})
	prs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_qa_pr_total",
		Help: "Pull request events by repository, action and merged flag.",
	}, []string{"repository", "action", "merged"})
	reviewTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delta_qa_pr_review_time_seconds",
		Help:    "End-to-end analysis time per pull request.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"repository"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delta_qa_failures_total",
		Help: "Failures by type.",
	}, []string{"type"})

	return &Metrics{
		webhooks:   registerCounterVec(registerer, webhooks),
		runs:       registerCounterVec(registerer, runs),
		stages:     registerHistogramVec(registerer, stages),
		prs:        registerCounterVec(registerer, prs),
		reviewTime: registerHistogramVec(registerer, reviewTime),
		failures:   registerCounterVec(registerer, failures),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) IncWebhook(event, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) IncRun(status string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil || m.stages == nil {
		return
	}
	m.stages.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

func (m *Metrics) IncPR(repository, action string, merged bool) {
	if m == nil || m.prs == nil {
		return
	}
	mergedLabel := "false"
	if merged {
		mergedLabel = "true"
	}
	m.prs.WithLabelValues(repository, action, mergedLabel).Inc()
}

func (m *Metrics) ObserveReview(repository string, d time.Duration) {
	if m == nil || m.reviewTime == nil {
		return
	}
	m.reviewTime.WithLabelValues(repository).Observe(d.Seconds())
}

func (m *Metrics) IncFailure(kind string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}

func registerHistogramVec(registerer prometheus.Registerer, histogram *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := registerer.Register(histogram); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
	}
	return histogram
}
