// Package metrics defines the Recorder interface the release workflow reports
// into. Components default to NoopRecorder; a Prometheus-backed recorder is
// injected when the daemon exposes a metrics endpoint.
package metrics

import "time"

// ResultLabel classifies a stage outcome for counting.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// OutcomeLabel is a terminal build-run outcome.
type OutcomeLabel string

const (
	OutcomePrebuilt         OutcomeLabel = "prebuilt_ready"
	OutcomeBuilt            OutcomeLabel = "built_ready"
	OutcomeValidationFailed OutcomeLabel = "validation_failed"
	OutcomeBuildFailed      OutcomeLabel = "build_failed"
)

// Recorder receives observations from sync, build, and deploy operations.
type Recorder interface {
	ObserveSyncDuration(repo string, d time.Duration, success bool)
	IncSyncResult(success bool)
	ObserveStageDuration(stage string, d time.Duration)
	IncStageResult(stage string, result ResultLabel)
	ObserveRunDuration(d time.Duration)
	IncRunOutcome(outcome OutcomeLabel)
	IncDeploy(kind string, success bool)
}

// NoopRecorder is the default implementation; every method does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveSyncDuration(string, time.Duration, bool) {}
func (NoopRecorder) IncSyncResult(bool)                              {}
func (NoopRecorder) ObserveStageDuration(string, time.Duration)      {}
func (NoopRecorder) IncStageResult(string, ResultLabel)              {}
func (NoopRecorder) ObserveRunDuration(time.Duration)                {}
func (NoopRecorder) IncRunOutcome(OutcomeLabel)                      {}
func (NoopRecorder) IncDeploy(string, bool)                          {}
