// Package reposet owns the fixed set of named repositories the release
// workflow operates on and their local sync state.
package reposet

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fhirops/igrelease/internal/config"
	"github.com/fhirops/igrelease/internal/gitclient"
	"github.com/fhirops/igrelease/internal/logfields"
	"github.com/fhirops/igrelease/internal/metrics"
	"github.com/fhirops/igrelease/internal/retry"
)

// Name identifies one of the fixed repositories in the set.
type Name string

const (
	SourceIG        Name = "SourceIG"
	WorkFolder      Name = "WorkFolder"
	HistoryTemplate Name = "HistoryTemplate"
	Registry        Name = "Registry"
	WebContent      Name = "WebContent"
)

// FolderName returns the fixed checkout folder under the work root for a
// repository. Local paths are always derived from these, never typed per run.
func FolderName(n Name) string {
	switch n {
	case SourceIG:
		return "New_IG_Source"
	case WorkFolder:
		return "Work_Folder"
	case HistoryTemplate:
		return "History_Template"
	case Registry:
		return "IG_Registry"
	case WebContent:
		return "Current_Web_Content"
	default:
		return string(n)
	}
}

// RegistryFileName is the IG listing inside the Registry checkout. The
// publisher's go-publish step takes this file, not the checkout directory.
const RegistryFileName = "fhir-ig-list.json"

// Ref binds a repository name to its remote and derived local path.
type Ref struct {
	Name      Name
	RemoteURL string
	LocalPath string
}

// State tracks the sync lifecycle of one repository. Each repository has its
// own independent state.
type State struct {
	Ref              Ref
	Synced           bool
	CurrentRef       string
	LastSyncDuration time.Duration
}

// SyncResult is the per-repository outcome of SyncAll.
type SyncResult struct {
	Outcome gitclient.SyncOutcome
	Err     error
}

// ProgressFunc receives aggregate progress as completed/total counts.
type ProgressFunc func(completed, total int)

// Manager holds the repository set and performs bulk synchronization.
type Manager struct {
	client   *gitclient.Client
	recorder metrics.Recorder
	policy   retry.Policy

	mu     sync.RWMutex
	states map[Name]*State
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder injects a metrics recorder (default: noop).
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithRetryPolicy overrides the transient-failure retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// NewManager builds the repository set from configuration. Every repository
// state starts unsynced.
func NewManager(cfg *config.Config, client *gitclient.Client, opts ...Option) *Manager {
	m := &Manager{
		client:   client,
		recorder: metrics.NoopRecorder{},
		policy:   retryPolicyFromConfig(cfg.Sync),
		states:   make(map[Name]*State),
	}
	for _, opt := range opts {
		opt(m)
	}

	remotes := map[Name]string{
		SourceIG:        cfg.IGRepo,
		WorkFolder:      "", // local placeholder, no remote
		HistoryTemplate: cfg.HistoryTemplateRepo,
		Registry:        cfg.IGRegistryRepo,
		WebContent:      cfg.CurrentWebContentRepo,
	}
	for name, url := range remotes {
		m.states[name] = &State{Ref: Ref{
			Name:      name,
			RemoteURL: url,
			LocalPath: filepath.Join(cfg.WorkFolder, FolderName(name)),
		}}
	}
	return m
}

func retryPolicyFromConfig(sync config.SyncConfig) retry.Policy {
	initial, _ := time.ParseDuration(sync.RetryInitialDelay)
	max, _ := time.ParseDuration(sync.RetryMaxDelay)
	return retry.NewPolicy(retry.BackoffLinear, initial, max, sync.MaxRetries)
}

// Get returns a snapshot of one repository's state.
func (m *Manager) Get(name Name) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[name]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// LocalPath returns the derived checkout path for a repository.
func (m *Manager) LocalPath(name Name) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[name]; ok {
		return s.Ref.LocalPath
	}
	return ""
}

// Names returns the repositories that carry a remote (everything except the
// work-folder placeholder).
func (m *Manager) Names() []Name {
	return []Name{SourceIG, HistoryTemplate, Registry, WebContent}
}

// SyncAll clones or updates every configured repository except the
// work-folder placeholder. Repositories sync concurrently: each targets a
// disjoint local path and remote. One repository's failure never prevents an
// outcome for another; the returned map always has one entry per name.
func (m *Manager) SyncAll(ctx context.Context, timeoutPerRepo time.Duration, progress ProgressFunc) map[Name]SyncResult {
	names := m.Names()
	results := make(map[Name]SyncResult, len(names))
	var resultsMu sync.Mutex

	total := len(names)
	var completed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			res := m.syncOne(gctx, name, timeoutPerRepo)

			resultsMu.Lock()
			results[name] = res
			resultsMu.Unlock()

			done := int(completed.Add(1))
			if progress != nil {
				progress(done, total)
			}
			// Failures are isolated; never cancel sibling syncs.
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// SyncOne synchronizes a single repository by name.
func (m *Manager) SyncOne(ctx context.Context, name Name, timeout time.Duration) SyncResult {
	return m.syncOne(ctx, name, timeout)
}

func (m *Manager) syncOne(ctx context.Context, name Name, timeout time.Duration) SyncResult {
	m.mu.RLock()
	state, ok := m.states[name]
	m.mu.RUnlock()
	if !ok || state.Ref.RemoteURL == "" {
		err := errors.New("repository has no configured remote")
		return SyncResult{Err: err}
	}

	ref := state.Ref
	var out gitclient.SyncOutcome
	var err error
	for attempt := 0; ; attempt++ {
		out, err = m.client.CloneOrUpdate(ctx, ref.RemoteURL, ref.LocalPath, timeout)
		if err == nil || !m.shouldRetry(err, attempt) {
			break
		}
		delay := m.policy.Delay(attempt + 1)
		slog.Warn("Transient sync failure, retrying",
			logfields.Repository(string(name)),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			logfields.Error(err))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(delay):
			continue
		}
		break
	}

	m.recorder.ObserveSyncDuration(string(name), out.Duration, err == nil)
	m.recorder.IncSyncResult(err == nil)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		state.Synced = false
		slog.Error("Repository sync failed", logfields.Repository(string(name)), logfields.URL(ref.RemoteURL), logfields.Error(err))
		return SyncResult{Err: err}
	}
	state.Synced = true
	state.LastSyncDuration = out.Duration
	if cur, cerr := m.client.CurrentRef(ref.LocalPath); cerr == nil {
		state.CurrentRef = cur
	}
	return SyncResult{Outcome: out}
}

// shouldRetry allows a bounded number of retries for network-class failures
// only; timeouts and invalid repositories are reported immediately.
func (m *Manager) shouldRetry(err error, attempt int) bool {
	if attempt >= m.policy.MaxRetries {
		return false
	}
	var syncErr *gitclient.SyncError
	if !errors.As(err, &syncErr) {
		return false
	}
	return syncErr.Reason == gitclient.ReasonNetwork
}

// SwitchRef checks out refName in the IG source repository and records it.
func (m *Manager) SwitchRef(ctx context.Context, refName string) error {
	path := m.LocalPath(SourceIG)
	if err := m.client.Checkout(ctx, path, refName); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[SourceIG].CurrentRef = refName
	return nil
}
