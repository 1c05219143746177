package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/fhirops/igrelease/internal/artifact"
	"github.com/fhirops/igrelease/internal/config"
	"github.com/fhirops/igrelease/internal/daemon"
	"github.com/fhirops/igrelease/internal/deploy"
	"github.com/fhirops/igrelease/internal/events"
	"github.com/fhirops/igrelease/internal/gitclient"
	"github.com/fhirops/igrelease/internal/history"
	"github.com/fhirops/igrelease/internal/metrics"
	"github.com/fhirops/igrelease/internal/orchestrator"
	"github.com/fhirops/igrelease/internal/publisher"
	"github.com/fhirops/igrelease/internal/reposet"
	"github.com/fhirops/igrelease/internal/workspace"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Fetch struct{} `cmd:"" help:"Clone or update every configured repository"`

	Branches struct{} `cmd:"" help:"List remote branches and tags of the IG source repository"`

	Switch struct {
		Ref string `arg:"" help:"Branch or tag to check out in the IG source repository"`
	} `cmd:"" help:"Check out a branch or tag in the IG source repository"`

	Validate struct{} `cmd:"" help:"Validate the publication request of the checked-out IG revision"`

	Build struct {
		Clean  bool `help:"Clean derived work directories before building"`
		Deploy bool `help:"Deploy the result when the run ends deploy-ready"`
	} `cmd:"" help:"Run a full build: fetch, probe, validate, publish"`

	DeployBuilt struct{} `cmd:"" name:"deploy-built" help:"Commit and push the built web content to main"`

	DeployPrebuilt struct{} `cmd:"" name:"deploy-prebuilt" help:"Overlay the prebuilt preview and push it on the review branch"`

	Daemon struct{} `cmd:"" help:"Run as a service with scheduled syncs and a metrics endpoint"`

	History struct {
		Limit int `short:"n" help:"Number of runs to show" default:"20"`
	} `cmd:"" help:"Show recent build runs"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`
}

// app bundles the wired components behind the commands.
type app struct {
	cfg      *config.Config
	client   *gitclient.Client
	repos    *reposet.Manager
	probe    *artifact.Probe
	runner   *publisher.Runner
	deployer *deploy.Manager
	ws       *workspace.Manager
	registry *prom.Registry
	recorder metrics.Recorder
	store    *history.Store
	emitter  events.Publisher
}

func newApp(cfg *config.Config) (*app, error) {
	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)
	client := gitclient.NewClient()

	ws := workspace.NewManager(cfg.WorkFolder)
	if err := ws.Create(); err != nil {
		return nil, fmt.Errorf("prepare work folder: %w", err)
	}

	var store *history.Store
	if cfg.History.DBPath != "" {
		s, err := history.Open(cfg.History.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open run history: %w", err)
		}
		store = s
	}

	emitter, err := events.NewPublisher(cfg.Events)
	if err != nil {
		return nil, fmt.Errorf("connect event publisher: %w", err)
	}

	return &app{
		cfg:      cfg,
		client:   client,
		repos:    reposet.NewManager(cfg, client, reposet.WithRecorder(recorder)),
		probe:    artifact.NewProbe(),
		runner:   publisher.NewRunner(cfg.Publisher),
		deployer: deploy.NewManager(client, deploy.WithRecorder(recorder)),
		ws:       ws,
		registry: registry,
		recorder: recorder,
		store:    store,
		emitter:  emitter,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.emitter != nil {
		a.emitter.Close()
	}
}

func (a *app) orchestrator(bus *orchestrator.Bus) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithRecorder(a.recorder),
		orchestrator.WithEventPublisher(a.emitter),
		orchestrator.WithWorkspace(a.ws),
		orchestrator.WithDeployer(a.deployer),
	}
	if a.store != nil {
		opts = append(opts, orchestrator.WithRunStore(a.store))
	}
	fetcher := artifact.NewPrebuiltFetcher(a.client)
	return orchestrator.New(a.repos, a.probe, fetcher, a.runner, bus, opts...)
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if ctx.Command() == "init" {
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", CLI.Config)
		return
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	a, err := newApp(cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cmdErr error
	switch ctx.Command() {
	case "fetch":
		cmdErr = runFetch(runCtx, a)
	case "branches":
		cmdErr = runBranches(runCtx, a)
	case "switch <ref>":
		cmdErr = runSwitch(runCtx, a, CLI.Switch.Ref)
	case "validate":
		cmdErr = runValidate(a)
	case "build":
		cmdErr = runBuild(runCtx, a, CLI.Build.Clean, CLI.Build.Deploy)
	case "deploy-built":
		cmdErr = runDeployBuilt(runCtx, a)
	case "deploy-prebuilt":
		cmdErr = runDeployPrebuilt(runCtx, a)
	case "daemon":
		cmdErr = runDaemon(runCtx, a)
	case "history":
		cmdErr = runHistory(runCtx, a, CLI.History.Limit)
	default:
		cmdErr = fmt.Errorf("unknown command: %s", ctx.Command())
	}
	if cmdErr != nil {
		slog.Error("Command failed", "error", cmdErr)
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, a *app) error {
	d, err := daemon.New(a.cfg, CLI.Config, a.repos, a.registry)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
