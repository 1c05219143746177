package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fhirops/igrelease/internal/orchestrator"
	"github.com/fhirops/igrelease/internal/pubrequest"
	"github.com/fhirops/igrelease/internal/reposet"
)

const (
	timeRounding = 10 * time.Millisecond
	timeFormat   = "2006-01-02 15:04:05"
)

func runFetch(ctx context.Context, a *app) error {
	timeout := a.cfg.Sync.TimeoutPerRepoDuration()
	results := a.repos.SyncAll(ctx, timeout, func(completed, total int) {
		fmt.Printf("Synced %d/%d repositories\n", completed, total)
	})

	failed := 0
	for name, res := range results {
		if res.Err != nil {
			failed++
			fmt.Printf("  %-16s FAILED: %v\n", name, res.Err)
			continue
		}
		action := "updated"
		if res.Outcome.Cloned {
			action = "cloned"
		}
		fmt.Printf("  %-16s %s in %s\n", name, action, res.Outcome.Duration.Round(timeRounding))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d repositories failed to sync", failed, len(results))
	}
	return nil
}

func runBranches(ctx context.Context, a *app) error {
	refs, err := a.client.ListRemoteRefs(ctx, a.cfg.IGRepo)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		kind := "branch"
		if ref.IsTag {
			kind = "tag"
		}
		fmt.Printf("%-8s %s\n", kind, ref.Name)
	}
	return nil
}

func runSwitch(ctx context.Context, a *app, ref string) error {
	if err := a.repos.SwitchRef(ctx, ref); err != nil {
		return err
	}
	fmt.Printf("Checked out %s\n", ref)
	return nil
}

func runValidate(a *app) error {
	srcPath := a.repos.LocalPath(reposet.SourceIG)
	req := pubrequest.Load(srcPath)
	result := pubrequest.Validate(req)
	if !result.OK {
		return fmt.Errorf("publication request invalid: %w", result.Err)
	}
	fmt.Println("Publication request is valid")
	return nil
}

func runBuild(ctx context.Context, a *app, clean, deployAfter bool) error {
	bus := orchestrator.NewBus()
	bus.Subscribe("state.changed", func(e orchestrator.Event) {
		ev := e.(orchestrator.StateChangedEvent)
		fmt.Printf("[%3d%%] %s\n", ev.Progress, ev.To)
	})
	bus.Subscribe("sync.progress", func(e orchestrator.Event) {
		ev := e.(orchestrator.SyncProgressEvent)
		fmt.Printf("       synced %d/%d repositories\n", ev.Completed, ev.Total)
	})
	bus.Subscribe("build.output", func(e orchestrator.Event) {
		fmt.Printf("       %s\n", e.(orchestrator.OutputLineEvent).Line)
	})

	o := a.orchestrator(bus)
	run := o.Run(ctx, orchestrator.BuildRequest{
		SourceURL:        a.cfg.IGRepo,
		WorkDir:          a.cfg.WorkFolder,
		TimeoutPerRepo:   a.cfg.Sync.TimeoutPerRepoDuration(),
		CleanBeforeBuild: clean,
	})
	if err := run.Wait(ctx); err != nil {
		return fmt.Errorf("run %s ended in %s: %w", run.ID, run.State(), err)
	}
	fmt.Printf("Run %s finished: %s\n", run.ID, run.State())

	if deployAfter {
		if err := o.Deploy(ctx, run); err != nil {
			return err
		}
		fmt.Printf("Deployed %s content\n", run.Deployed())
	}
	return nil
}

func runDeployBuilt(ctx context.Context, a *app) error {
	webPath := a.repos.LocalPath(reposet.WebContent)
	outcome, err := a.deployer.DeployBuilt(ctx, webPath)
	if err != nil {
		return err
	}
	if outcome.NothingToCommit {
		fmt.Println("Nothing new to commit; pushed existing history")
	} else {
		fmt.Printf("Deployed commit %s\n", outcome.CommitHash[:8])
	}
	return nil
}

func runDeployPrebuilt(ctx context.Context, a *app) error {
	webPath := a.repos.LocalPath(reposet.WebContent)
	if err := a.deployer.DeployPrebuilt(ctx, webPath, a.cfg.WorkFolder); err != nil {
		return err
	}
	fmt.Println("Prebuilt content pushed on review branch")
	return nil
}

func runHistory(ctx context.Context, a *app, limit int) error {
	if a.store == nil {
		return fmt.Errorf("run history is disabled; set history.db_path in the configuration")
	}
	records, err := a.store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	for _, r := range records {
		finished := "-"
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Format(timeFormat)
		}
		fmt.Printf("%s  %-22s %-18s started=%s finished=%s\n",
			r.RunID[:8], r.State, r.Outcome, r.StartedAt.Format(timeFormat), finished)
		if r.Detail != "" {
			fmt.Printf("          %s\n", r.Detail)
		}
	}
	return nil
}
