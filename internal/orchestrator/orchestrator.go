// Package orchestrator sequences a release build run: repository fetch,
// prebuilt-artifact probe, manifest validation, and the external publisher
// invocation. Callers observe progress through the event bus rather than the
// orchestrator reaching into any presentation layer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fhirops/igrelease/internal/artifact"
	igerrors "github.com/fhirops/igrelease/internal/errors"
	"github.com/fhirops/igrelease/internal/events"
	"github.com/fhirops/igrelease/internal/gitclient"
	"github.com/fhirops/igrelease/internal/logfields"
	"github.com/fhirops/igrelease/internal/metrics"
	"github.com/fhirops/igrelease/internal/pubrequest"
	"github.com/fhirops/igrelease/internal/publisher"
	"github.com/fhirops/igrelease/internal/reposet"
)

// RepoSyncer is the repository-set surface the orchestrator needs.
type RepoSyncer interface {
	SyncAll(ctx context.Context, timeoutPerRepo time.Duration, progress reposet.ProgressFunc) map[reposet.Name]reposet.SyncResult
	LocalPath(name reposet.Name) string
}

// ArtifactProber checks for a prebuilt artifact on the preview branch.
type ArtifactProber interface {
	HasPrebuilt(ctx context.Context, remoteURL string) artifact.PreviewStatus
}

// PrebuiltFetcher brings the preview branch into a local checkout.
type PrebuiltFetcher interface {
	FetchPrebuiltBranch(ctx context.Context, remoteURL, destPath string, timeout time.Duration) error
}

// ToolRunner is the external publisher tool surface.
type ToolRunner interface {
	EnsureTool(ctx context.Context) error
	BuildIG(ctx context.Context, igSourcePath string, onLine publisher.LineFunc) (publisher.Result, error)
	GoPublish(ctx context.Context, p publisher.GoPublishParams, onLine publisher.LineFunc) (publisher.Result, error)
}

// RunStore persists run transitions; satisfied by history.Store.
type RunStore interface {
	RecordStart(ctx context.Context, runID, ref, state string) error
	UpdateState(ctx context.Context, runID, state string) error
	RecordFinish(ctx context.Context, runID, state, outcome, detail string) error
}

// Workspace cleans derived directories before a build.
type Workspace interface {
	CleanSubdir(name string) error
}

// Deployer applies a finished run's content to the web-content checkout;
// satisfied by deploy.Manager.
type Deployer interface {
	DeployBuilt(ctx context.Context, webContentPath string) (gitclient.PushOutcome, error)
	DeployPrebuilt(ctx context.Context, webContentPath, workDir string) error
}

// BuildRequest triggers one orchestration.
type BuildRequest struct {
	SourceURL        string
	WorkDir          string
	TimeoutPerRepo   time.Duration
	CleanBeforeBuild bool
}

// Orchestrator owns the build-run state machine.
type Orchestrator struct {
	repos     RepoSyncer
	probe     ArtifactProber
	fetcher   PrebuiltFetcher
	tool      ToolRunner
	ws        Workspace
	deployer  Deployer
	bus       *Bus
	store     RunStore
	publisher events.Publisher
	recorder  metrics.Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunStore persists run transitions to a history store.
func WithRunStore(s RunStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithEventPublisher forwards stage transitions to an external event sink.
func WithEventPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithWorkspace wires the work-root manager used for clean-before-build.
func WithWorkspace(ws Workspace) Option {
	return func(o *Orchestrator) { o.ws = ws }
}

// WithDeployer enables deploying a finished run through its handle.
func WithDeployer(d Deployer) Option {
	return func(o *Orchestrator) { o.deployer = d }
}

// New assembles an orchestrator from its collaborators.
func New(repos RepoSyncer, probe ArtifactProber, fetcher PrebuiltFetcher, tool ToolRunner, bus *Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repos:     repos,
		probe:     probe,
		fetcher:   fetcher,
		tool:      tool,
		bus:       bus,
		publisher: events.NoopPublisher{},
		recorder:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = NewBus()
	}
	return o
}

// Bus returns the event bus runs publish into.
func (o *Orchestrator) Bus() *Bus { return o.bus }

// Run starts a build run on a background goroutine and returns its handle
// immediately. The caller observes completion via the handle or the bus.
func (o *Orchestrator) Run(ctx context.Context, req BuildRequest) *BuildRun {
	run := newBuildRun(uuid.NewString(), req.SourceURL, req.WorkDir)

	if o.store != nil {
		if err := o.store.RecordStart(ctx, run.ID, req.SourceURL, string(StateFetching)); err != nil {
			slog.Warn("Run history write failed", logfields.RunID(run.ID), logfields.Error(err))
		}
	}

	go o.execute(ctx, run, req)
	return run
}

func (o *Orchestrator) execute(ctx context.Context, run *BuildRun, req BuildRequest) {
	start := time.Now()

	// Fetching
	o.transition(ctx, run, StateFetching, 10)
	stageStart := time.Now()
	if req.CleanBeforeBuild && o.ws != nil {
		if err := o.ws.CleanSubdir(reposet.FolderName(reposet.WorkFolder)); err != nil {
			slog.Warn("Work area clean failed", logfields.RunID(run.ID), logfields.Error(err))
		}
	}
	results := o.repos.SyncAll(ctx, req.TimeoutPerRepo, func(completed, total int) {
		o.bus.Publish(SyncProgressEvent{RunID: run.ID, Completed: completed, Total: total})
	})
	for name, res := range results {
		if res.Err != nil {
			// Best-effort fetch: log, keep going.
			slog.Warn("Repository fetch failed",
				logfields.RunID(run.ID),
				logfields.Repository(string(name)),
				logfields.Error(res.Err))
		}
	}
	run.recordStage(StateFetching, time.Since(stageStart), nil)
	o.recorder.ObserveStageDuration(string(StateFetching), time.Since(stageStart))

	// ProbingArtifact
	o.transition(ctx, run, StateProbingArtifact, 20)
	stageStart = time.Now()
	status := o.probe.HasPrebuilt(ctx, req.SourceURL)
	run.recordStage(StateProbingArtifact, time.Since(stageStart), nil)
	o.recorder.ObserveStageDuration(string(StateProbingArtifact), time.Since(stageStart))

	if status.Exists {
		// A prebuilt artifact makes the expensive external build redundant.
		destPath := o.repos.LocalPath(reposet.SourceIG)
		if err := o.fetcher.FetchPrebuiltBranch(ctx, req.SourceURL, destPath, req.TimeoutPerRepo); err != nil {
			wrapped := igerrors.WrapError(err, igerrors.CategoryGit, "fetching prebuilt preview branch failed")
			o.fail(ctx, run, StateBuildFailed, metrics.OutcomeBuildFailed, wrapped, start)
			return
		}
		o.succeed(ctx, run, StatePrebuiltDeployReady, metrics.OutcomePrebuilt, start)
		return
	}

	if err := o.tool.EnsureTool(ctx); err != nil {
		wrapped := igerrors.WrapError(err, igerrors.CategoryBuild, "failed to acquire publisher tool")
		o.fail(ctx, run, StateBuildFailed, metrics.OutcomeBuildFailed, wrapped, start)
		return
	}

	// Validating
	o.transition(ctx, run, StateValidating, 30)
	stageStart = time.Now()
	srcPath := o.repos.LocalPath(reposet.SourceIG)
	result := pubrequest.Validate(pubrequest.Load(srcPath))
	run.recordStage(StateValidating, time.Since(stageStart), result.Err)
	o.recorder.ObserveStageDuration(string(StateValidating), time.Since(stageStart))
	if !result.OK {
		o.fail(ctx, run, StateValidationFailed, metrics.OutcomeValidationFailed, result.Err, start)
		return
	}

	// Building
	o.transition(ctx, run, StateBuilding, 40)
	stageStart = time.Now()
	onLine := func(line string) {
		o.bus.Publish(OutputLineEvent{RunID: run.ID, Line: line})
	}
	if _, err := o.tool.BuildIG(ctx, srcPath, onLine); err != nil {
		run.recordStage(StateBuilding, time.Since(stageStart), err)
		o.fail(ctx, run, StateBuildFailed, metrics.OutcomeBuildFailed, err, start)
		return
	}
	run.setState(StateBuilding, 65)

	webPath := o.repos.LocalPath(reposet.WebContent)
	params := publisher.GoPublishParams{
		Source:    srcPath,
		Web:       webPath,
		Temp:      o.repos.LocalPath(reposet.WorkFolder),
		Registry:  filepath.Join(o.repos.LocalPath(reposet.Registry), reposet.RegistryFileName),
		History:   o.repos.LocalPath(reposet.HistoryTemplate),
		Templates: filepath.Join(webPath, "templates"),
	}
	if _, err := o.tool.GoPublish(ctx, params, onLine); err != nil {
		run.recordStage(StateBuilding, time.Since(stageStart), err)
		o.fail(ctx, run, StateBuildFailed, metrics.OutcomeBuildFailed, err, start)
		return
	}
	run.recordStage(StateBuilding, time.Since(stageStart), nil)
	o.recorder.ObserveStageDuration(string(StateBuilding), time.Since(stageStart))
	run.setState(StateBuilding, 90)

	o.succeed(ctx, run, StateBuiltDeployReady, metrics.OutcomeBuilt, start)
}

// Deploy applies the variant a deploy-ready run produced. The run handle
// records the variant before the deployment runs, so a second deployment for
// the same run is rejected regardless of which variant it asks for.
func (o *Orchestrator) Deploy(ctx context.Context, run *BuildRun) error {
	if o.deployer == nil {
		return fmt.Errorf("no deployer configured")
	}
	webPath := o.repos.LocalPath(reposet.WebContent)
	switch run.State() {
	case StateBuiltDeployReady:
		if err := run.MarkDeployed(DeployKindBuilt); err != nil {
			return err
		}
		outcome, err := o.deployer.DeployBuilt(ctx, webPath)
		if err != nil {
			return err
		}
		slog.Info("Built content deployed",
			logfields.RunID(run.ID),
			slog.String("commit", outcome.CommitHash))
		return nil
	case StatePrebuiltDeployReady:
		if err := run.MarkDeployed(DeployKindPrebuilt); err != nil {
			return err
		}
		if err := o.deployer.DeployPrebuilt(ctx, webPath, run.WorkDir); err != nil {
			return err
		}
		slog.Info("Prebuilt content deployed", logfields.RunID(run.ID))
		return nil
	default:
		return fmt.Errorf("run %s is not deploy-ready in state %s", run.ID, run.State())
	}
}

func (o *Orchestrator) transition(ctx context.Context, run *BuildRun, to State, progress int) {
	from := run.setState(to, progress)
	slog.Info("Run state changed",
		logfields.RunID(run.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		logfields.Progress(run.Progress()))
	o.bus.Publish(StateChangedEvent{RunID: run.ID, From: from, To: to, Progress: run.Progress()})
	o.recorder.IncStageResult(string(to), metrics.ResultSuccess)
	if o.store != nil {
		if err := o.store.UpdateState(ctx, run.ID, string(to)); err != nil {
			slog.Warn("Run history write failed", logfields.RunID(run.ID), logfields.Error(err))
		}
	}
	o.notify(ctx, run, to, "")
}

func (o *Orchestrator) succeed(ctx context.Context, run *BuildRun, terminal State, outcome metrics.OutcomeLabel, start time.Time) {
	from := run.setState(terminal, 100)
	slog.Info("Run finished",
		logfields.RunID(run.ID),
		slog.String("state", string(terminal)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	o.bus.Publish(StateChangedEvent{RunID: run.ID, From: from, To: terminal, Progress: 100})
	o.bus.Publish(RunFinishedEvent{RunID: run.ID, State: terminal})
	o.recorder.ObserveRunDuration(time.Since(start))
	o.recorder.IncRunOutcome(outcome)
	if o.store != nil {
		if err := o.store.RecordFinish(ctx, run.ID, string(terminal), string(outcome), ""); err != nil {
			slog.Warn("Run history write failed", logfields.RunID(run.ID), logfields.Error(err))
		}
	}
	o.notify(ctx, run, terminal, "")
	run.finish(nil)
}

func (o *Orchestrator) fail(ctx context.Context, run *BuildRun, terminal State, outcome metrics.OutcomeLabel, err error, start time.Time) {
	from := run.setState(terminal, run.Progress())
	slog.Error("Run failed",
		logfields.RunID(run.ID),
		slog.String("state", string(terminal)),
		logfields.Error(err))
	o.bus.Publish(StateChangedEvent{RunID: run.ID, From: from, To: terminal, Progress: run.Progress()})
	o.bus.Publish(RunFinishedEvent{RunID: run.ID, State: terminal, Err: err})
	o.recorder.ObserveRunDuration(time.Since(start))
	o.recorder.IncRunOutcome(outcome)
	o.recorder.IncStageResult(string(terminal), metrics.ResultFailed)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	if o.store != nil {
		if serr := o.store.RecordFinish(ctx, run.ID, string(terminal), string(outcome), detail); serr != nil {
			slog.Warn("Run history write failed", logfields.RunID(run.ID), logfields.Error(serr))
		}
	}
	o.notify(ctx, run, terminal, detail)
	run.finish(err)
}

// notify forwards the transition to the external event sink; delivery failures
// never affect the run.
func (o *Orchestrator) notify(ctx context.Context, run *BuildRun, state State, detail string) {
	ev := events.StageEvent{
		RunID:    run.ID,
		Ref:      run.SourceURL,
		State:    string(state),
		Progress: run.Progress(),
		Detail:   detail,
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("Stage event publish failed", logfields.RunID(run.ID), logfields.Error(err))
	}
}
