package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is a build-run state-machine node.
type State string

const (
	StateIdle                State = "idle"
	StateFetching            State = "fetching"
	StateProbingArtifact     State = "probing_artifact"
	StatePrebuiltDeployReady State = "prebuilt_deploy_ready"
	StateValidating          State = "validating"
	StateValidationFailed    State = "validation_failed"
	StateBuilding            State = "building"
	StateBuildFailed         State = "build_failed"
	StateBuiltDeployReady    State = "built_deploy_ready"
)

// Deployment variants a run can be marked with.
const (
	DeployKindBuilt    = "built"
	DeployKindPrebuilt = "prebuilt"
)

// IsTerminal reports whether a state ends the run.
func (s State) IsTerminal() bool {
	switch s {
	case StatePrebuiltDeployReady, StateValidationFailed, StateBuildFailed, StateBuiltDeployReady:
		return true
	}
	return false
}

// IsSuccess reports whether a terminal state is a deploy-ready outcome.
func (s State) IsSuccess() bool {
	return s == StatePrebuiltDeployReady || s == StateBuiltDeployReady
}

// StageOutcome records one completed stage of a run.
type StageOutcome struct {
	State    State
	Duration time.Duration
	Err      error
}

// BuildRun is the handle for one orchestration. It is created per Run call
// and discarded after the caller has observed the outcome.
type BuildRun struct {
	ID        string
	SourceURL string
	WorkDir   string
	StartedAt time.Time

	mu       sync.RWMutex
	state    State
	progress int
	stages   []StageOutcome
	err      error
	deployed string

	done chan struct{}
}

func newBuildRun(id, sourceURL, workDir string) *BuildRun {
	return &BuildRun{
		ID:        id,
		SourceURL: sourceURL,
		WorkDir:   workDir,
		StartedAt: time.Now(),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (r *BuildRun) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Progress returns the current progress percentage. Values only ever grow.
func (r *BuildRun) Progress() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress
}

// Err returns the failure that ended the run, if any.
func (r *BuildRun) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Stages returns the recorded stage outcomes in order.
func (r *BuildRun) Stages() []StageOutcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StageOutcome, len(r.stages))
	copy(out, r.stages)
	return out
}

// Done is closed when the run reaches a terminal state.
func (r *BuildRun) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or the context is canceled.
func (r *BuildRun) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkDeployed records which deployment variant was applied for this run.
// A second, different deployment for the same run is rejected.
func (r *BuildRun) MarkDeployed(kind string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deployed != "" {
		return fmt.Errorf("run %s already deployed as %s", r.ID, r.deployed)
	}
	r.deployed = kind
	return nil
}

// Deployed returns the recorded deployment variant, empty when none.
func (r *BuildRun) Deployed() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deployed
}

// setState transitions the run and bumps progress, keeping it monotonic.
func (r *BuildRun) setState(to State, progress int) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	from := r.state
	r.state = to
	if progress > r.progress {
		r.progress = progress
	}
	return from
}

func (r *BuildRun) recordStage(s State, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, StageOutcome{State: s, Duration: d, Err: err})
}

func (r *BuildRun) finish(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	close(r.done)
}
