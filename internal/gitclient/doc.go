// Package gitclient wraps the version-control operations the release engine
// needs: clone-or-update with a hard timeout, read-only remote ref listing,
// checkout of branches and tags, commit-and-push, and branch creation.
//
// Operations against the same local path are serialized through a per-path
// lock; callers may run operations against distinct paths concurrently.
package gitclient
