package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openhazard/engine/internal/calc"
	"github.com/openhazard/engine/internal/config"
	"github.com/openhazard/engine/internal/gmpe"
	"github.com/openhazard/engine/internal/parallel"
	"github.com/openhazard/engine/internal/remote"
	"github.com/openhazard/engine/internal/results"
	"github.com/openhazard/engine/internal/sitefilter"
)

var (
	runCalcPath  string
	runModelPath string
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a hazard calculation",
		RunE:  runRun,
	}
	cmd.Flags().StringVar(&runCalcPath, "calculation", "calculation.yaml", "Calculation settings file")
	cmd.Flags().StringVar(&runModelPath, "model", "model.yaml", "Source model file")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(runCalcPath)
	if err != nil {
		return err
	}
	doc, err := config.LoadModel(runModelPath)
	if err != nil {
		return err
	}
	branches, err := calc.BuildBranches(doc)
	if err != nil {
		return err
	}
	ev, err := cfg.Evaluator()
	if err != nil {
		return err
	}
	sites := cfg.SiteCollection()

	runner, closeRunner, err := buildRunner(ctx, cfg, branches, sites, ev)
	if err != nil {
		return err
	}
	defer closeRunner()

	calculator, err := calc.New(calc.Config{
		InvestigationTime: cfg.InvestigationTime,
		ConcurrentTasks:   cfg.ConcurrentTasks,
		Evaluator:         ev,
		MaxDistance:       cfg.IntegrationDistance(),
	}, branches, sites, runner)
	if err != nil {
		return err
	}

	var store results.Store
	var job results.Job
	if cfg.StoreDSN != "" {
		store, err = results.Open(ctx, cfg.StoreDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		job = results.NewJob(cfg.Description, ev.NumLevels(), ev.NumModels(), cfg.InvestigationTime)
		if err := store.CreateJob(ctx, job); err != nil {
			return err
		}
		msg := fmt.Sprintf("run started: %d branches, %d sites", len(branches), sites.Len())
		if err := store.LogEvent(ctx, job.ID, "info", msg); err != nil {
			return err
		}
	}

	out, runErr := calculator.Run(ctx)
	if store != nil {
		if runErr != nil {
			_ = store.LogEvent(ctx, job.ID, "error", runErr.Error())
			_ = store.FinishJob(ctx, job.ID, results.StatusFailed)
		} else {
			if err := store.SaveOutput(ctx, job.ID, out); err != nil {
				return fmt.Errorf("save output for job %s: %w", job.ID, err)
			}
			msg := fmt.Sprintf("run complete: %d groups, %d effective ruptures", len(out.Acc.ByGroup), out.Acc.EffRuptures())
			if err := store.LogEvent(ctx, job.ID, "info", msg); err != nil {
				return err
			}
			if err := store.FinishJob(ctx, job.ID, results.StatusComplete); err != nil {
				return err
			}
		}
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintln(os.Stdout, "Run complete.")
	fmt.Fprintf(os.Stdout, "  Branches:           %d\n", len(branches))
	fmt.Fprintf(os.Stdout, "  Sites:              %d\n", sites.Len())
	fmt.Fprintf(os.Stdout, "  Source groups:      %d\n", len(out.Acc.ByGroup))
	fmt.Fprintf(os.Stdout, "  Effective ruptures: %d\n", out.Acc.EffRuptures())
	fmt.Fprintf(os.Stdout, "  Duration:           %s\n", out.Duration.Round(time.Millisecond))
	if store != nil {
		fmt.Fprintf(os.Stdout, "  Job:                %s\n", job.ID)
	}
	return nil
}

// buildRunner picks local in-process execution unless the calculation
// file names remote workers.
func buildRunner(ctx context.Context, cfg *config.Calculation, branches []calc.Branch, sites *sitefilter.Collection, ev *gmpe.Evaluator) (parallel.Runner, func() error, error) {
	if len(cfg.Workers) == 0 {
		local := calc.NewLocalRunner(branches, sites, ev, cfg.IntegrationDistance())
		return local, func() error { return nil }, nil
	}
	client, err := remote.Dial(cfg.Workers)
	if err != nil {
		return nil, nil, err
	}
	if err := client.CheckShape(ctx, ev.NumLevels(), ev.NumModels()); err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, client.Close, nil
}
