package gitclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fhirops/igrelease/internal/logfields"
)

// PushOutcome reports the result of CommitAndPush.
type PushOutcome struct {
	CommitHash      string
	NothingToCommit bool
}

// committerSignature is used for deploy commits created by the engine.
func committerSignature() *object.Signature {
	return &object.Signature{
		Name:  "IG Release Processor",
		Email: "igrelease@localhost",
		When:  time.Now(),
	}
}

// CommitAndPush stages all changes at localPath, commits them with message,
// and pushes branchName to remoteName. An empty index yields
// ErrNothingToCommit wrapped into the outcome (non-fatal: the push is still
// attempted so previously committed work reaches the remote). A remote
// rejection surfaces as PushRejectedError.
func (c *Client) CommitAndPush(ctx context.Context, localPath, message, remoteName, branchName string) (PushOutcome, error) {
	lock := c.pathLock(localPath)
	lock.Lock()
	defer lock.Unlock()

	repository, err := git.PlainOpen(localPath)
	if err != nil {
		return PushOutcome{}, fmt.Errorf("open repo: %w", err)
	}
	if _, err := repository.Remote(remoteName); err != nil {
		return PushOutcome{}, fmt.Errorf("%w: %s", ErrNoRemote, remoteName)
	}

	wt, err := repository.Worktree()
	if err != nil {
		return PushOutcome{}, fmt.Errorf("worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return PushOutcome{}, fmt.Errorf("stage changes: %w", err)
	}

	outcome := PushOutcome{}
	status, err := wt.Status()
	if err != nil {
		return PushOutcome{}, fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		slog.Info("Nothing to commit, pushing existing history", logfields.Path(localPath), logfields.Branch(branchName))
		outcome.NothingToCommit = true
	} else {
		hash, err := wt.Commit(message, &git.CommitOptions{Author: committerSignature()})
		if err != nil {
			return PushOutcome{}, fmt.Errorf("commit: %w", err)
		}
		outcome.CommitHash = hash.String()
		slog.Info("Committed changes", logfields.Path(localPath), slog.String("commit", hash.String()[:8]))
	}

	refSpec := ggitcfg.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branchName, branchName))
	err = repository.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []ggitcfg.RefSpec{refSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return outcome, &PushRejectedError{Remote: remoteName, Branch: branchName, Err: err}
	}

	slog.Info("Pushed branch", logfields.Path(localPath), logfields.Branch(branchName), slog.String("remote", remoteName))
	return outcome, nil
}

// Commit stages all changes at localPath and commits them with message.
// A clean tree returns ErrNothingToCommit.
func (c *Client) Commit(localPath, message string) (string, error) {
	lock := c.pathLock(localPath)
	lock.Lock()
	defer lock.Unlock()

	repository, err := git.PlainOpen(localPath)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	wt, err := repository.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return "", ErrNothingToCommit
	}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: committerSignature()})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	slog.Info("Committed changes", logfields.Path(localPath), slog.String("commit", hash.String()[:8]))
	return hash.String(), nil
}

// Push pushes branchName to remoteName. Already-up-to-date is not an error;
// any other rejection surfaces as PushRejectedError.
func (c *Client) Push(ctx context.Context, localPath, remoteName, branchName string) error {
	lock := c.pathLock(localPath)
	lock.Lock()
	defer lock.Unlock()

	repository, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	if _, err := repository.Remote(remoteName); err != nil {
		return fmt.Errorf("%w: %s", ErrNoRemote, remoteName)
	}

	refSpec := ggitcfg.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branchName, branchName))
	err = repository.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []ggitcfg.RefSpec{refSpec},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return &PushRejectedError{Remote: remoteName, Branch: branchName, Err: err}
	}
	slog.Info("Pushed branch", logfields.Path(localPath), logfields.Branch(branchName), slog.String("remote", remoteName))
	return nil
}
