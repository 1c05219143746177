// Package artifact determines whether a pre-built IG already exists on the
// source repository's preview branch, and fetches that branch when it does.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fhirops/igrelease/internal/logfields"
)

const (
	// PreviewBranch is the well-known branch prebuilt artifacts are published to.
	PreviewBranch = "gh-pages"
	// PreviewFolder is the well-known subfolder holding the prebuilt site.
	PreviewFolder = "sitepreview"
	// defaultPreviewBase serves raw branch content for the hosting provider.
	defaultPreviewBase = "https://raw.githubusercontent.com"
)

// PreviewStatus is the result of a live prebuilt-artifact check.
type PreviewStatus struct {
	Exists    bool
	CheckedAt time.Time
}

// Probe checks remote preview locations. Construct with NewProbe.
type Probe struct {
	httpClient *http.Client
	baseURL    string
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithHTTPClient overrides the HTTP client (useful for tighter timeouts).
func WithHTTPClient(c *http.Client) ProbeOption {
	return func(p *Probe) { p.httpClient = c }
}

// WithBaseURL overrides the preview host base URL. Tests point this at a
// local server.
func WithBaseURL(base string) ProbeOption {
	return func(p *Probe) { p.baseURL = strings.TrimRight(base, "/") }
}

// NewProbe creates a probe with a bounded HTTP client that follows redirects.
func NewProbe(opts ...ProbeOption) *Probe {
	p := &Probe{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultPreviewBase,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OwnerRepo extracts the owner and repository name from a remote URL: the
// last two path segments, with any trailing .git suffix ignored.
func OwnerRepo(remoteURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimRight(remoteURL, "/"), ".git")
	// Normalize scp-like ssh remotes (git@host:owner/repo) into path form.
	if at := strings.Index(trimmed, "@"); at >= 0 && !strings.Contains(trimmed, "://") {
		trimmed = strings.Replace(trimmed[at+1:], ":", "/", 1)
	}
	if u, perr := url.Parse(trimmed); perr == nil && u.Path != "" {
		trimmed = strings.TrimPrefix(u.Path, "/")
	}
	segments := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(segments) < 2 {
		return "", "", fmt.Errorf("cannot derive owner/repo from %q", remoteURL)
	}
	owner = segments[len(segments)-2]
	repo = segments[len(segments)-1]
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("cannot derive owner/repo from %q", remoteURL)
	}
	return owner, repo, nil
}

// PreviewURL derives the preview index URL the probe targets for a remote.
func (p *Probe) PreviewURL(remoteURL string) (string, error) {
	owner, repo, err := OwnerRepo(remoteURL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s/index.html", p.baseURL, owner, repo, PreviewBranch, PreviewFolder), nil
}

// HasPrebuilt reports whether a prebuilt artifact exists for the repository.
// Absence of an artifact is a normal, expected condition: any non-2xx
// response, derivation problem, or network error yields Exists=false and
// never an error.
func (p *Probe) HasPrebuilt(ctx context.Context, remoteURL string) PreviewStatus {
	status := PreviewStatus{CheckedAt: time.Now()}

	target, err := p.PreviewURL(remoteURL)
	if err != nil {
		slog.Debug("Preview URL derivation failed", logfields.URL(remoteURL), logfields.Error(err))
		return status
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return status
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		slog.Debug("Preview probe failed", logfields.URL(target), logfields.Error(err))
		return status
	}
	defer resp.Body.Close()

	status.Exists = resp.StatusCode >= 200 && resp.StatusCode < 300
	slog.Debug("Preview probe", logfields.URL(target), slog.Int("status", resp.StatusCode), slog.Bool("exists", status.Exists))
	return status
}
