package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type orchestratorMetricsProvider struct {
	ingested    *prometheus.CounterVec
	malformed   prometheus.Counter
	lost        prometheus.Counter
	tasksClosed *prometheus.CounterVec
	summaries   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	stale       prometheus.Counter
}

func newOrchestratorMetricsProvider(registry *prometheus.Registry) *orchestratorMetricsProvider {
	if registry == nil {
		return nil
	}

	provider := &orchestratorMetricsProvider{
		ingested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crumbeez_events_ingested_total",
				Help: "Total number of semantic events durably appended, by kind",
			},
			[]string{"kind"},
		),
		malformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crumbeez_events_malformed_total",
				Help: "Total number of host events rejected as malformed",
			},
		),
		lost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crumbeez_events_lost_total",
				Help: "Total number of events dropped after append retries failed",
			},
		),
		tasksClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crumbeez_tasks_closed_total",
				Help: "Total number of tasks that left the open state, by close reason",
			},
			[]string{"reason"},
		),
		summaries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crumbeez_summaries_total",
				Help: "Total number of finished summarization attempts, by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crumbeez_summarize_duration_seconds",
				Help:    "Wall time of one summarization dispatch including retries",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"backend"},
		),
		stale: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crumbeez_stale_responses_total",
				Help: "Total number of backend responses discarded for a stale dispatch token",
			},
		),
	}

	registry.MustRegister(
		provider.ingested,
		provider.malformed,
		provider.lost,
		provider.tasksClosed,
		provider.summaries,
		provider.duration,
		provider.stale,
	)

	return provider
}

func (p *orchestratorMetricsProvider) IncrementIngested(kind string) {
	if p != nil && p.ingested != nil {
		p.ingested.WithLabelValues(kind).Inc()
	}
}

func (p *orchestratorMetricsProvider) IncrementMalformed() {
	if p != nil && p.malformed != nil {
		p.malformed.Inc()
	}
}

func (p *orchestratorMetricsProvider) IncrementLost() {
	if p != nil && p.lost != nil {
		p.lost.Inc()
	}
}

func (p *orchestratorMetricsProvider) IncrementTasksClosed(reason string) {
	if p != nil && p.tasksClosed != nil {
		p.tasksClosed.WithLabelValues(reason).Inc()
	}
}

func (p *orchestratorMetricsProvider) ObserveSummarization(backend, outcome string, elapsed time.Duration) {
	if p == nil {
		return
	}
	if p.summaries != nil {
		p.summaries.WithLabelValues(backend, outcome).Inc()
	}
	if p.duration != nil {
		p.duration.WithLabelValues(backend).Observe(elapsed.Seconds())
	}
}

func (p *orchestratorMetricsProvider) IncrementStale() {
	if p != nil && p.stale != nil {
		p.stale.Inc()
	}
}
