package gitclient

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"

	"github.com/fhirops/igrelease/internal/logfields"
)

// Client handles Git operations. Safe for concurrent use across distinct
// local paths; operations on the same path are serialized internally.
type Client struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewClient creates a new Git client.
func NewClient() *Client {
	return &Client{locks: make(map[string]*sync.Mutex)}
}

// pathLock returns the mutex guarding a local repository path.
func (c *Client) pathLock(localPath string) *sync.Mutex {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		abs = localPath
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[abs]
	if !ok {
		l = &sync.Mutex{}
		c.locks[abs] = l
	}
	return l
}

// SyncOutcome reports a successful clone or fetch.
type SyncOutcome struct {
	Path     string
	Cloned   bool // true when a fresh clone was performed
	Duration time.Duration
}

// CloneOrUpdate brings localPath to a known state: a full clone when no
// repository metadata exists, otherwise a fetch of all refs. The whole
// operation is bounded by timeout; the underlying transfer is aborted through
// context cancellation when the bound is exceeded, so no transfer keeps
// running in the background after a Timeout failure.
func (c *Client) CloneOrUpdate(ctx context.Context, remoteURL, localPath string, timeout time.Duration) (SyncOutcome, error) {
	lock := c.pathLock(localPath)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if _, err := os.Stat(filepath.Join(localPath, ".git")); err != nil {
		return c.cloneLocked(ctx, remoteURL, localPath, start)
	}
	return c.fetchLocked(ctx, remoteURL, localPath, start)
}

func (c *Client) cloneLocked(ctx context.Context, remoteURL, localPath string, start time.Time) (SyncOutcome, error) {
	slog.Debug("Cloning repository", logfields.URL(remoteURL), logfields.Path(localPath))
	if err := os.MkdirAll(localPath, 0o750); err != nil {
		return SyncOutcome{}, &SyncError{Reason: ReasonInvalidRepo, URL: remoteURL, Err: err}
	}

	repository, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{URL: remoteURL})
	if err != nil {
		return SyncOutcome{}, classifySyncError(remoteURL, err)
	}

	elapsed := time.Since(start)
	if ref, herr := repository.Head(); herr == nil {
		slog.Info("Repository cloned", logfields.URL(remoteURL), slog.String("commit", ref.Hash().String()[:8]), logfields.DurationMS(float64(elapsed.Milliseconds())))
	} else {
		slog.Info("Repository cloned", logfields.URL(remoteURL), logfields.DurationMS(float64(elapsed.Milliseconds())))
	}
	return SyncOutcome{Path: localPath, Cloned: true, Duration: elapsed}, nil
}

func (c *Client) fetchLocked(ctx context.Context, remoteURL, localPath string, start time.Time) (SyncOutcome, error) {
	slog.Debug("Fetching updates", logfields.URL(remoteURL), logfields.Path(localPath))
	repository, err := git.PlainOpen(localPath)
	if err != nil {
		return SyncOutcome{}, &SyncError{Reason: ReasonInvalidRepo, URL: remoteURL, Err: err}
	}

	fetchOpts := &git.FetchOptions{
		RemoteName: "origin",
		Tags:       git.AllTags,
		RefSpecs:   []ggitcfg.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Force:      true,
	}
	if err := repository.FetchContext(ctx, fetchOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return SyncOutcome{}, classifySyncError(remoteURL, err)
	}

	elapsed := time.Since(start)
	slog.Info("Repository updated", logfields.URL(remoteURL), logfields.DurationMS(float64(elapsed.Milliseconds())))
	return SyncOutcome{Path: localPath, Duration: elapsed}, nil
}
