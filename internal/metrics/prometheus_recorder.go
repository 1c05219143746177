package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	syncDuration  *prom.HistogramVec
	syncResults   *prom.CounterVec
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	runDuration   prom.Histogram
	runOutcomes   *prom.CounterVec
	deploys       *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the release metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		syncDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "igrelease",
			Name:      "repo_sync_duration_seconds",
			Help:      "Duration of individual repository clone/update operations",
			Buckets:   prom.DefBuckets,
		}, []string{"repo", "result"}),
		syncResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "igrelease",
			Name:      "repo_sync_results_total",
			Help:      "Repository sync results by success/failure",
		}, []string{"result"}),
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "igrelease",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual release stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "igrelease",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "igrelease",
			Name:      "run_duration_seconds",
			Help:      "Total build-run duration",
			Buckets:   prom.DefBuckets,
		}),
		runOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "igrelease",
			Name:      "run_outcomes_total",
			Help:      "Build-run outcomes by terminal state",
		}, []string{"outcome"}),
		deploys: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "igrelease",
			Name:      "deploys_total",
			Help:      "Deployment attempts by kind and result",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(pr.syncDuration, pr.syncResults, pr.stageDuration, pr.stageResults, pr.runDuration, pr.runOutcomes, pr.deploys)
	return pr
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

func (p *PrometheusRecorder) ObserveSyncDuration(repo string, d time.Duration, success bool) {
	if p == nil || p.syncDuration == nil {
		return
	}
	p.syncDuration.WithLabelValues(repo, resultLabel(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncSyncResult(success bool) {
	if p == nil || p.syncResults == nil {
		return
	}
	p.syncResults.WithLabelValues(resultLabel(success)).Inc()
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRunOutcome(outcome OutcomeLabel) {
	if p == nil || p.runOutcomes == nil {
		return
	}
	p.runOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncDeploy(kind string, success bool) {
	if p == nil || p.deploys == nil {
		return
	}
	p.deploys.WithLabelValues(kind, resultLabel(success)).Inc()
}
