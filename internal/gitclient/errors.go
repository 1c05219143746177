package gitclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// FailureReason classifies sync failures for callers that branch on them.
type FailureReason string

const (
	ReasonTimeout     FailureReason = "timeout"
	ReasonNetwork     FailureReason = "network"
	ReasonInvalidRepo FailureReason = "invalid_repo"
)

// SyncError is returned by CloneOrUpdate when a repository could not be
// brought into a known state.
type SyncError struct {
	Reason FailureReason
	URL    string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed (%s): %v", e.URL, e.Reason, e.Err)
}
func (e *SyncError) Unwrap() error { return e.Err }

// RefNotFoundError indicates a requested branch or tag exists neither
// remotely nor locally.
type RefNotFoundError struct {
	Ref  string
	Path string
}

func (e *RefNotFoundError) Error() string {
	return fmt.Sprintf("ref %q not found in %s", e.Ref, e.Path)
}

// PushRejectedError indicates the remote refused a push.
type PushRejectedError struct {
	Remote string
	Branch string
	Err    error
}

func (e *PushRejectedError) Error() string {
	return fmt.Sprintf("push of %s to %s rejected: %v", e.Branch, e.Remote, e.Err)
}
func (e *PushRejectedError) Unwrap() error { return e.Err }

// ErrNothingToCommit signals an empty index at commit time. Non-fatal: the
// push is still attempted.
var ErrNothingToCommit = errors.New("nothing to commit")

// ErrNoRemote indicates the working tree has no remote configured; deploys
// fail fatally on this.
var ErrNoRemote = errors.New("no remote configured")

// classifySyncError maps transport/context failures onto a SyncError reason.
func classifySyncError(url string, err error) *SyncError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &SyncError{Reason: ReasonTimeout, URL: url, Err: err}
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return &SyncError{Reason: ReasonInvalidRepo, URL: url, Err: err}
	}
	l := strings.ToLower(err.Error())
	switch {
	case strings.Contains(l, "context deadline exceeded") || strings.Contains(l, "timeout"):
		return &SyncError{Reason: ReasonTimeout, URL: url, Err: err}
	case strings.Contains(l, "not found") || strings.Contains(l, "does not exist") || strings.Contains(l, "repository not found"):
		return &SyncError{Reason: ReasonInvalidRepo, URL: url, Err: err}
	default:
		return &SyncError{Reason: ReasonNetwork, URL: url, Err: err}
	}
}
