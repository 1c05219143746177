// Package deploy applies a finished build run to the web-content repository:
// either pushing the freshly built content, or overlaying a prebuilt preview
// artifact and pushing it on a review branch.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fhirops/igrelease/internal/artifact"
	"github.com/fhirops/igrelease/internal/gitclient"
	"github.com/fhirops/igrelease/internal/logfields"
	"github.com/fhirops/igrelease/internal/metrics"
	"github.com/fhirops/igrelease/internal/reposet"
)

const (
	builtCommitMessage    = "Deploying built IG"
	prebuiltCommitMessage = "Deploying pre-built IG"

	// PrebuiltBranch is the review branch the prebuilt overlay is pushed on,
	// so the change lands as a proposal instead of directly on main.
	PrebuiltBranch = "new"

	defaultRemote = "origin"
	mainBranch    = "main"
)

// NoArtifactFoundError reports a prebuilt deploy attempted without a
// sitepreview folder in the IG source checkout.
type NoArtifactFoundError struct {
	Path string
}

func (e *NoArtifactFoundError) Error() string {
	return fmt.Sprintf("no prebuilt artifact found at %s", e.Path)
}

// Manager performs deployments through the git client.
type Manager struct {
	client   *gitclient.Client
	recorder metrics.Recorder
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager wraps a git client.
func NewManager(client *gitclient.Client, opts ...Option) *Manager {
	m := &Manager{client: client, recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeployBuilt stages everything in the web-content checkout, commits, and
// pushes main. A missing remote is fatal.
func (m *Manager) DeployBuilt(ctx context.Context, webContentPath string) (gitclient.PushOutcome, error) {
	outcome, err := m.client.CommitAndPush(ctx, webContentPath, builtCommitMessage, defaultRemote, mainBranch)
	m.recorder.IncDeploy("built", err == nil)
	if err != nil {
		return outcome, err
	}
	slog.Info("Deployed built content", logfields.Path(webContentPath), logfields.Branch(mainBranch))
	return outcome, nil
}

// DeployPrebuilt overlays the sitepreview folder from the IG source checkout
// onto the web-content checkout, commits, and pushes the result on the review
// branch. Files already in the web content but absent from the preview are
// left in place.
func (m *Manager) DeployPrebuilt(ctx context.Context, webContentPath, workDir string) error {
	previewPath := filepath.Join(workDir, reposet.FolderName(reposet.SourceIG), artifact.PreviewFolder)
	info, err := os.Stat(previewPath)
	if err != nil || !info.IsDir() {
		m.recorder.IncDeploy("prebuilt", false)
		return &NoArtifactFoundError{Path: previewPath}
	}

	if err := overlayCopy(previewPath, webContentPath); err != nil {
		m.recorder.IncDeploy("prebuilt", false)
		return fmt.Errorf("copy preview content: %w", err)
	}

	if _, err := m.client.Commit(webContentPath, prebuiltCommitMessage); err != nil {
		if !errors.Is(err, gitclient.ErrNothingToCommit) {
			m.recorder.IncDeploy("prebuilt", false)
			return err
		}
		slog.Info("Preview content identical to web content, pushing anyway", logfields.Path(webContentPath))
	}
	if err := m.client.CreateBranch(webContentPath, PrebuiltBranch); err != nil {
		m.recorder.IncDeploy("prebuilt", false)
		return err
	}
	if err := m.client.Push(ctx, webContentPath, defaultRemote, PrebuiltBranch); err != nil {
		m.recorder.IncDeploy("prebuilt", false)
		return err
	}

	m.recorder.IncDeploy("prebuilt", true)
	slog.Info("Deployed prebuilt content", logfields.Path(webContentPath), logfields.Branch(PrebuiltBranch))
	return nil
}

// overlayCopy recursively copies src into dst, overwriting existing files and
// leaving files not present in src untouched.
func overlayCopy(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := overlayCopy(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
