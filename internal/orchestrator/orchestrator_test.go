package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fhirops/igrelease/internal/artifact"
	"github.com/fhirops/igrelease/internal/gitclient"
	"github.com/fhirops/igrelease/internal/pubrequest"
	"github.com/fhirops/igrelease/internal/publisher"
	"github.com/fhirops/igrelease/internal/reposet"
)

type fakeRepos struct {
	paths    map[reposet.Name]string
	syncErrs map[reposet.Name]error
}

func (f *fakeRepos) SyncAll(ctx context.Context, timeout time.Duration, progress reposet.ProgressFunc) map[reposet.Name]reposet.SyncResult {
	results := map[reposet.Name]reposet.SyncResult{}
	names := []reposet.Name{reposet.SourceIG, reposet.HistoryTemplate, reposet.Registry, reposet.WebContent}
	for i, name := range names {
		results[name] = reposet.SyncResult{Err: f.syncErrs[name]}
		if progress != nil {
			progress(i+1, len(names))
		}
	}
	return results
}

func (f *fakeRepos) LocalPath(name reposet.Name) string { return f.paths[name] }

type fakeProbe struct{ exists bool }

func (f *fakeProbe) HasPrebuilt(ctx context.Context, remoteURL string) artifact.PreviewStatus {
	return artifact.PreviewStatus{Exists: f.exists, CheckedAt: time.Now()}
}

type fakeFetcher struct {
	called bool
	err    error
}

func (f *fakeFetcher) FetchPrebuiltBranch(ctx context.Context, remoteURL, destPath string, timeout time.Duration) error {
	f.called = true
	return f.err
}

type fakeTool struct {
	mu          sync.Mutex
	ensured     bool
	buildCalled bool
	goPublish   bool
	goParams    publisher.GoPublishParams
	buildErr    error
	publishErr  error
	lines       []string
}

func (f *fakeTool) EnsureTool(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = true
	return nil
}

func (f *fakeTool) BuildIG(ctx context.Context, igSourcePath string, onLine publisher.LineFunc) (publisher.Result, error) {
	f.mu.Lock()
	f.buildCalled = true
	f.mu.Unlock()
	if onLine != nil {
		onLine("generating narrative")
	}
	return publisher.Result{}, f.buildErr
}

func (f *fakeTool) GoPublish(ctx context.Context, p publisher.GoPublishParams, onLine publisher.LineFunc) (publisher.Result, error) {
	f.mu.Lock()
	f.goPublish = true
	f.goParams = p
	f.mu.Unlock()
	return publisher.Result{}, f.publishErr
}

type fakeDeployer struct {
	mu            sync.Mutex
	builtCalls    int
	prebuiltCalls int
	gotWorkDir    string
}

func (f *fakeDeployer) DeployBuilt(ctx context.Context, webContentPath string) (gitclient.PushOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builtCalls++
	return gitclient.PushOutcome{CommitHash: "0123abcd"}, nil
}

func (f *fakeDeployer) DeployPrebuilt(ctx context.Context, webContentPath, workDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prebuiltCalls++
	f.gotWorkDir = workDir
	return nil
}

func newTestRepos(t *testing.T) *fakeRepos {
	t.Helper()
	root := t.TempDir()
	paths := map[reposet.Name]string{}
	for _, name := range []reposet.Name{reposet.SourceIG, reposet.WorkFolder, reposet.HistoryTemplate, reposet.Registry, reposet.WebContent} {
		p := filepath.Join(root, reposet.FolderName(name))
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		paths[name] = p
	}
	return &fakeRepos{paths: paths}
}

func waitRun(t *testing.T, run *BuildRun) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-run.Done():
	case <-ctx.Done():
		t.Fatalf("run did not finish")
	}
}

func TestPrebuiltPathSkipsPublisher(t *testing.T) {
	repos := newTestRepos(t)
	probe := &fakeProbe{exists: true}
	fetcher := &fakeFetcher{}
	tool := &fakeTool{}

	o := New(repos, probe, fetcher, tool, NewBus())
	run := o.Run(context.Background(), BuildRequest{SourceURL: "https://github.com/o/ig.git", WorkDir: t.TempDir()})
	waitRun(t, run)

	if run.State() != StatePrebuiltDeployReady {
		t.Fatalf("state: got %s", run.State())
	}
	if !fetcher.called {
		t.Errorf("preview branch must be fetched")
	}
	if tool.buildCalled || tool.goPublish {
		t.Errorf("publisher must never run on the prebuilt path")
	}
	if run.Progress() != 100 {
		t.Errorf("terminal success must report 100, got %d", run.Progress())
	}
	if run.Err() != nil {
		t.Errorf("unexpected error: %v", run.Err())
	}
}

func TestFullBuildPathRunsBothCommands(t *testing.T) {
	repos := newTestRepos(t)
	tool := &fakeTool{}
	o := New(repos, &fakeProbe{}, &fakeFetcher{}, tool, NewBus())

	run := o.Run(context.Background(), BuildRequest{SourceURL: "https://github.com/o/ig.git", WorkDir: t.TempDir()})
	waitRun(t, run)

	if run.State() != StateBuiltDeployReady {
		t.Fatalf("state: got %s, err %v", run.State(), run.Err())
	}
	if !tool.ensured {
		t.Errorf("tool must be downloaded before validating")
	}
	if !tool.buildCalled || !tool.goPublish {
		t.Errorf("both publisher commands must run")
	}
	if run.Progress() != 100 {
		t.Errorf("progress: got %d", run.Progress())
	}

	wantRegistry := filepath.Join(repos.paths[reposet.Registry], "fhir-ig-list.json")
	if tool.goParams.Registry != wantRegistry {
		t.Errorf("go-publish registry must be the listing file: got %q, want %q", tool.goParams.Registry, wantRegistry)
	}
	if tool.goParams.Temp != repos.paths[reposet.WorkFolder] {
		t.Errorf("go-publish temp must be the work-folder checkout: got %q, want %q", tool.goParams.Temp, repos.paths[reposet.WorkFolder])
	}
	if tool.goParams.Source != repos.paths[reposet.SourceIG] {
		t.Errorf("go-publish source: got %q", tool.goParams.Source)
	}
}

func TestValidationFailureHaltsRun(t *testing.T) {
	repos := newTestRepos(t)
	bad := filepath.Join(repos.paths[reposet.SourceIG], pubrequest.FileName)
	if err := os.WriteFile(bad, []byte(`{"tool":"ig-publisher"`), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	tool := &fakeTool{}
	o := New(repos, &fakeProbe{}, &fakeFetcher{}, tool, NewBus())

	run := o.Run(context.Background(), BuildRequest{SourceURL: "u", WorkDir: t.TempDir()})
	waitRun(t, run)

	if run.State() != StateValidationFailed {
		t.Fatalf("state: got %s", run.State())
	}
	if tool.buildCalled {
		t.Errorf("publisher must not run after failed validation")
	}
	var synErr *pubrequest.SyntaxError
	if !errors.As(run.Err(), &synErr) {
		t.Fatalf("expected *pubrequest.SyntaxError, got %v", run.Err())
	}
	if synErr.Offset <= 0 {
		t.Errorf("syntax error must carry a position")
	}
}

func TestBuildFailureCarriesToolError(t *testing.T) {
	repos := newTestRepos(t)
	toolErr := &publisher.ToolError{Stage: "build", ExitCode: 1, Tail: []string{"boom"}}
	tool := &fakeTool{buildErr: toolErr}
	o := New(repos, &fakeProbe{}, &fakeFetcher{}, tool, NewBus())

	run := o.Run(context.Background(), BuildRequest{SourceURL: "u", WorkDir: t.TempDir()})
	waitRun(t, run)

	if run.State() != StateBuildFailed {
		t.Fatalf("state: got %s", run.State())
	}
	var gotErr *publisher.ToolError
	if !errors.As(run.Err(), &gotErr) {
		t.Fatalf("expected *publisher.ToolError, got %v", run.Err())
	}
	if gotErr.ExitCode != 1 || len(gotErr.Tail) == 0 {
		t.Errorf("tool error must carry exit code and output tail")
	}
	if tool.goPublish {
		t.Errorf("go-publish must not run after a failed build pass")
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	repos := newTestRepos(t)
	bus := NewBus()
	var mu sync.Mutex
	var seen []int
	bus.Subscribe("state.changed", func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.(StateChangedEvent).Progress)
	})

	o := New(repos, &fakeProbe{}, &fakeFetcher{}, &fakeTool{}, bus)
	run := o.Run(context.Background(), BuildRequest{SourceURL: "u", WorkDir: t.TempDir()})
	waitRun(t, run)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatalf("expected progress events")
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress decreased: %v", seen)
		}
	}
	if seen[len(seen)-1] != 100 {
		t.Fatalf("final progress must be 100: %v", seen)
	}
}

func TestSyncFailuresDoNotHaltRun(t *testing.T) {
	repos := newTestRepos(t)
	repos.syncErrs = map[reposet.Name]error{reposet.Registry: errors.New("network down")}
	o := New(repos, &fakeProbe{exists: true}, &fakeFetcher{}, &fakeTool{}, NewBus())

	run := o.Run(context.Background(), BuildRequest{SourceURL: "u", WorkDir: t.TempDir()})
	waitRun(t, run)

	if run.State() != StatePrebuiltDeployReady {
		t.Fatalf("fetch failures must not halt the run, got %s (%v)", run.State(), run.Err())
	}
}

func TestDeployBuiltRunOnlyOnce(t *testing.T) {
	repos := newTestRepos(t)
	dep := &fakeDeployer{}
	o := New(repos, &fakeProbe{}, &fakeFetcher{}, &fakeTool{}, NewBus(), WithDeployer(dep))

	run := o.Run(context.Background(), BuildRequest{SourceURL: "u", WorkDir: t.TempDir()})
	waitRun(t, run)
	if run.State() != StateBuiltDeployReady {
		t.Fatalf("state: got %s, err %v", run.State(), run.Err())
	}

	if err := o.Deploy(context.Background(), run); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if dep.builtCalls != 1 || dep.prebuiltCalls != 0 {
		t.Errorf("built path must use the built variant: %d/%d", dep.builtCalls, dep.prebuiltCalls)
	}
	if run.Deployed() != DeployKindBuilt {
		t.Errorf("deployed: got %s", run.Deployed())
	}

	if err := o.Deploy(context.Background(), run); err == nil {
		t.Fatalf("second deployment for the same run must be rejected")
	}
	if dep.builtCalls != 1 {
		t.Errorf("rejected deployment must not reach the deployer")
	}
}

func TestDeployPrebuiltRunUsesRunWorkDir(t *testing.T) {
	repos := newTestRepos(t)
	dep := &fakeDeployer{}
	o := New(repos, &fakeProbe{exists: true}, &fakeFetcher{}, &fakeTool{}, NewBus(), WithDeployer(dep))

	workDir := t.TempDir()
	run := o.Run(context.Background(), BuildRequest{SourceURL: "u", WorkDir: workDir})
	waitRun(t, run)
	if run.State() != StatePrebuiltDeployReady {
		t.Fatalf("state: got %s, err %v", run.State(), run.Err())
	}

	if err := o.Deploy(context.Background(), run); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if dep.prebuiltCalls != 1 || dep.builtCalls != 0 {
		t.Errorf("prebuilt path must use the prebuilt variant: %d/%d", dep.builtCalls, dep.prebuiltCalls)
	}
	if dep.gotWorkDir != workDir {
		t.Errorf("work dir: got %q, want %q", dep.gotWorkDir, workDir)
	}
	if run.Deployed() != DeployKindPrebuilt {
		t.Errorf("deployed: got %s", run.Deployed())
	}
}

func TestDeployRejectsNonReadyRun(t *testing.T) {
	repos := newTestRepos(t)
	bad := filepath.Join(repos.paths[reposet.SourceIG], pubrequest.FileName)
	if err := os.WriteFile(bad, []byte(`{"tool":"ig-publisher"`), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	dep := &fakeDeployer{}
	o := New(repos, &fakeProbe{}, &fakeFetcher{}, &fakeTool{}, NewBus(), WithDeployer(dep))

	run := o.Run(context.Background(), BuildRequest{SourceURL: "u", WorkDir: t.TempDir()})
	waitRun(t, run)
	if run.State() != StateValidationFailed {
		t.Fatalf("state: got %s", run.State())
	}

	if err := o.Deploy(context.Background(), run); err == nil {
		t.Fatalf("failed run must not deploy")
	}
	if dep.builtCalls != 0 || dep.prebuiltCalls != 0 {
		t.Errorf("deployer must not be reached for a failed run")
	}
}

func TestMarkDeployedRejectsSecondVariant(t *testing.T) {
	run := newBuildRun("id", "u", "w")
	if err := run.MarkDeployed("built"); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	if err := run.MarkDeployed("prebuilt"); err == nil {
		t.Fatalf("second deploy variant must be rejected")
	}
	if run.Deployed() != "built" {
		t.Fatalf("deployed: got %s", run.Deployed())
	}
}

func TestOutputLinesReachBus(t *testing.T) {
	repos := newTestRepos(t)
	bus := NewBus()
	var mu sync.Mutex
	var lines []string
	bus.Subscribe("build.output", func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, e.(OutputLineEvent).Line)
	})

	o := New(repos, &fakeProbe{}, &fakeFetcher{}, &fakeTool{}, bus)
	run := o.Run(context.Background(), BuildRequest{SourceURL: "u", WorkDir: t.TempDir()})
	waitRun(t, run)

	mu.Lock()
	defer mu.Unlock()
	if len(lines) == 0 {
		t.Fatalf("expected streamed output lines on the bus")
	}
}
