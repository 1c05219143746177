// Package publisher drives the external IG publisher tool: ensuring the jar
// is present locally and running its build and go-publish invocations.
package publisher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fhirops/igrelease/internal/config"
	"github.com/fhirops/igrelease/internal/logfields"
)

// tailLimit bounds how many trailing output lines a failed run carries in its
// error for diagnostics.
const tailLimit = 50

// LineFunc receives each output line as the tool produces it.
type LineFunc func(line string)

// ToolError reports a failed tool invocation with its exit code and the tail
// of its combined output.
type ToolError struct {
	Stage    string
	ExitCode int
	Tail     []string
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("publisher %s failed with exit code %d", e.Stage, e.ExitCode)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Result is the outcome of a successful tool invocation.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Runner executes the publisher jar. Arguments are always passed as explicit
// vectors; no shell is involved.
type Runner struct {
	cfg        config.PublisherConfig
	javaBin    string
	httpClient *http.Client
}

// Option configures a Runner.
type Option func(*Runner)

// WithJavaBinary overrides the java executable (tests substitute a script).
func WithJavaBinary(bin string) Option {
	return func(r *Runner) { r.javaBin = bin }
}

// WithHTTPClient overrides the client used for jar downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.httpClient = c }
}

// NewRunner builds a Runner from publisher configuration.
func NewRunner(cfg config.PublisherConfig, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		javaBin:    "java",
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureTool makes sure the publisher jar exists at the configured path,
// downloading it from the release URL when missing. The download lands in a
// temp file first so a partial transfer never masquerades as a usable jar.
func (r *Runner) EnsureTool(ctx context.Context) error {
	if _, err := os.Stat(r.cfg.JarPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat publisher jar: %w", err)
	}

	slog.Info("Downloading publisher tool", logfields.URL(r.cfg.DownloadURL), logfields.Path(r.cfg.JarPath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download publisher jar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download publisher jar: unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(r.cfg.JarPath), 0o755); err != nil {
		return fmt.Errorf("create jar directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.cfg.JarPath), "publisher-*.jar.partial")
	if err != nil {
		return fmt.Errorf("create temp jar: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write publisher jar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp jar: %w", err)
	}
	if err := os.Rename(tmpName, r.cfg.JarPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move publisher jar into place: %w", err)
	}
	return nil
}

// BuildIG runs the publisher build against the IG source checkout.
func (r *Runner) BuildIG(ctx context.Context, igSourcePath string, onLine LineFunc) (Result, error) {
	args := []string{
		"-Xmx" + r.cfg.JavaHeap,
		"-jar", r.cfg.JarPath,
		"publisher",
		"-ig", igSourcePath,
	}
	return r.run(ctx, "build", args, onLine)
}

// GoPublishParams names the directories the go-publish step operates over.
type GoPublishParams struct {
	Source    string
	Web       string
	Temp      string
	Registry  string
	History   string
	Templates string
}

// GoPublish runs the publisher's go-publish step, which assembles the
// versioned web content from a successful build.
func (r *Runner) GoPublish(ctx context.Context, p GoPublishParams, onLine LineFunc) (Result, error) {
	args := []string{
		"-Xmx" + r.cfg.JavaHeap,
		"-jar", r.cfg.JarPath,
		"-go-publish",
		"-source", p.Source,
		"-web", p.Web,
		"-temp", p.Temp,
		"-registry", p.Registry,
		"-history", p.History,
		"-templates", p.Templates,
	}
	return r.run(ctx, "go-publish", args, onLine)
}

func (r *Runner) run(ctx context.Context, stage string, args []string, onLine LineFunc) (Result, error) {
	start := time.Now()
	// #nosec G204 -- fixed binary name, argument vector built from config
	cmd := exec.CommandContext(ctx, r.javaBin, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	tail := newTailBuffer(tailLimit)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			tail.Add(line)
			if onLine != nil {
				onLine(line)
			}
		}
	}()

	slog.Info("Running publisher tool", logfields.Stage(stage))
	err := cmd.Run()
	pw.Close()
	<-scanDone

	res := Result{Duration: time.Since(start)}
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		slog.Error("Publisher tool failed",
			logfields.Stage(stage),
			logfields.ExitCode(exitCode),
			logfields.DurationMS(float64(res.Duration.Milliseconds())),
			logfields.Error(err))
		return res, &ToolError{Stage: stage, ExitCode: exitCode, Tail: tail.Lines(), Err: err}
	}
	slog.Info("Publisher tool finished", logfields.Stage(stage), logfields.DurationMS(float64(res.Duration.Milliseconds())))
	return res, nil
}
