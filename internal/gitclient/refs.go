package gitclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
)

// RemoteRef represents a branch or tag advertised by a remote.
type RemoteRef struct {
	Name    string // short name, e.g. "main" or "v1.0.0"
	RefName string // full name, e.g. "refs/heads/main"
	Hash    string // commit SHA
	IsTag   bool
}

// ListRemoteRefs lists branches then tags from a remote repository without
// touching any local state. Ordering within each group follows the remote's
// listing order; no de-duplication is applied. The list is produced fresh on
// every call because remote state can change between invocations.
func (c *Client) ListRemoteRefs(ctx context.Context, remoteURL string) ([]RemoteRef, error) {
	remote := git.NewRemote(memory.NewStorage(), &ggitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{remoteURL},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return nil, classifySyncError(remoteURL, fmt.Errorf("list remote refs: %w", err))
	}

	var branches, tags []RemoteRef
	for _, ref := range refs {
		if ref.Type() == plumbing.SymbolicReference {
			continue
		}
		refName := ref.Name().String()
		switch {
		case strings.HasPrefix(refName, "refs/heads/"):
			branches = append(branches, RemoteRef{
				Name:    strings.TrimPrefix(refName, "refs/heads/"),
				RefName: refName,
				Hash:    ref.Hash().String(),
			})
		case strings.HasPrefix(refName, "refs/tags/"):
			tags = append(tags, RemoteRef{
				Name:    strings.TrimPrefix(refName, "refs/tags/"),
				RefName: refName,
				Hash:    ref.Hash().String(),
				IsTag:   true,
			})
		}
	}

	return append(branches, tags...), nil
}

// RefNames flattens a ref list into short names, branches first.
func RefNames(refs []RemoteRef) []string {
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.Name)
	}
	return names
}
