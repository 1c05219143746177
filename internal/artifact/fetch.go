package artifact

import (
	"context"
	"time"

	"github.com/fhirops/igrelease/internal/gitclient"
)

// PrebuiltFetcher clones or updates the preview branch of a repository into a
// destination distinct from the default-branch checkout.
type PrebuiltFetcher struct {
	client *gitclient.Client
}

// NewPrebuiltFetcher wraps a git client.
func NewPrebuiltFetcher(client *gitclient.Client) *PrebuiltFetcher {
	return &PrebuiltFetcher{client: client}
}

// FetchPrebuiltBranch brings destPath to the preview branch's latest state:
// clone-or-update followed by a checkout of the well-known preview branch.
func (f *PrebuiltFetcher) FetchPrebuiltBranch(ctx context.Context, remoteURL, destPath string, timeout time.Duration) error {
	if _, err := f.client.CloneOrUpdate(ctx, remoteURL, destPath, timeout); err != nil {
		return err
	}
	return f.client.Checkout(ctx, destPath, PreviewBranch)
}
