package gitclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/fhirops/igrelease/internal/logfields"
)

// Checkout fetches all refs and switches the working tree to refName, which
// may be a branch or a tag. Returns RefNotFoundError when the ref exists
// neither remotely nor locally.
func (c *Client) Checkout(ctx context.Context, localPath, refName string) error {
	lock := c.pathLock(localPath)
	lock.Lock()
	defer lock.Unlock()

	repository, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	fetchOpts := &git.FetchOptions{
		RemoteName: "origin",
		Tags:       git.AllTags,
		RefSpecs:   []ggitcfg.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Force:      true,
	}
	if err := repository.FetchContext(ctx, fetchOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		// Offline checkouts of already-fetched refs still work; log and continue.
		slog.Warn("Fetch before checkout failed", logfields.Path(localPath), logfields.Error(err))
	}

	wt, err := repository.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}

	// Branch known to the remote: ensure a local branch tracking it.
	if remoteRef, rerr := repository.Reference(plumbing.NewRemoteReferenceName("origin", refName), true); rerr == nil {
		localBranch := plumbing.NewBranchReferenceName(refName)
		opts := &git.CheckoutOptions{Branch: localBranch, Force: true}
		if _, lerr := repository.Reference(localBranch, true); lerr != nil {
			opts.Create = true
			opts.Hash = remoteRef.Hash()
		}
		if err := wt.Checkout(opts); err != nil {
			return fmt.Errorf("checkout branch %s: %w", refName, err)
		}
		slog.Info("Switched working tree", logfields.Path(localPath), logfields.Ref(refName))
		return nil
	}

	// Tag: detach at the tagged commit.
	if tagRef, terr := repository.Reference(plumbing.NewTagReferenceName(refName), true); terr == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Hash: tagRef.Hash(), Force: true}); err != nil {
			return fmt.Errorf("checkout tag %s: %w", refName, err)
		}
		slog.Info("Switched working tree", logfields.Path(localPath), logfields.Ref(refName))
		return nil
	}

	// Local-only branch fallback.
	if _, lerr := repository.Reference(plumbing.NewBranchReferenceName(refName), true); lerr == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(refName), Force: true}); err != nil {
			return fmt.Errorf("checkout local branch %s: %w", refName, err)
		}
		slog.Info("Switched working tree", logfields.Path(localPath), logfields.Ref(refName))
		return nil
	}

	return &RefNotFoundError{Ref: refName, Path: localPath}
}

// CurrentRef returns the short name of the currently checked out branch, or
// the abbreviated commit hash when HEAD is detached.
func (c *Client) CurrentRef(localPath string) (string, error) {
	repository, err := git.PlainOpen(localPath)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	head, err := repository.Head()
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return head.Hash().String()[:8], nil
}

// CreateBranch creates a new local branch at HEAD without moving the active
// branch pointer. Used for the pre-built deploy review-branch flow.
func (c *Client) CreateBranch(localPath, branchName string) error {
	lock := c.pathLock(localPath)
	lock.Lock()
	defer lock.Unlock()

	repository, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	head, err := repository.Head()
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branchName), head.Hash())
	if err := repository.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("create branch %s: %w", branchName, err)
	}
	slog.Info("Created branch", logfields.Path(localPath), logfields.Branch(branchName))
	return nil
}
