package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openhazard/engine/internal/results"
)

var (
	inspectDSN  string
	inspectJob  string
	inspectLast int
	inspectJSON bool
)

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List stored jobs or show one job in detail",
		RunE:  runInspect,
	}
	cmd.Flags().StringVar(&inspectDSN, "store", "", "Results store DSN (sqlite://path or postgres://...)")
	cmd.Flags().StringVar(&inspectJob, "job", "", "Show a single job in detail")
	cmd.Flags().IntVar(&inspectLast, "last", 20, "Number of most recent jobs to list")
	cmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON instead of a table")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	if inspectDSN == "" {
		return fmt.Errorf("--store is required")
	}
	ctx := context.Background()
	store, err := results.Open(ctx, inspectDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if inspectJob != "" {
		return runJobDetail(ctx, store, inspectJob, inspectJSON)
	}
	return runJobList(ctx, store, inspectLast, inspectJSON)
}

// #region list-mode

type jobRow struct {
	JobID       string  `json:"job_id"`
	Status      string  `json:"status"`
	Curves      int     `json:"curves"`
	Levels      int     `json:"n_levels"`
	Models      int     `json:"n_models"`
	TimeSpan    float64 `json:"time_span"`
	CreatedAt   string  `json:"created_at"`
	Description string  `json:"description"`
}

func runJobList(ctx context.Context, store results.Store, last int, jsonOut bool) error {
	jobs, err := store.ListJobs(ctx, last)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "no jobs found")
		return nil
	}

	rows := make([]jobRow, len(jobs))
	for i, j := range jobs {
		n, err := store.CurveCount(ctx, j.ID)
		if err != nil {
			return err
		}
		rows[i] = jobRow{
			JobID:       j.ID,
			Status:      j.Status,
			Curves:      n,
			Levels:      j.Levels,
			Models:      j.Models,
			TimeSpan:    j.TimeSpan,
			CreatedAt:   j.CreatedAt.Format(time.RFC3339),
			Description: j.Description,
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-8s  %-8s  %6s  %6s  %6s  %6s  %-20s  %s\n",
		"Job", "Status", "Curves", "Levels", "Models", "Span", "Created", "Description")
	fmt.Printf("%-8s+-%-8s+-%6s+-%6s+-%6s+-%6s+-%-20s+-%s\n",
		"--------", "--------", "------", "------", "------", "------", "--------------------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-8s  %-8s  %6d  %6d  %6d  %6.0f  %-20s  %s\n",
			shortID(r.JobID), r.Status, r.Curves, r.Levels, r.Models, r.TimeSpan, r.CreatedAt, r.Description)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type jobDetail struct {
	Job     jobRow         `json:"job"`
	Groups  []groupDetail  `json:"groups"`
	Sources []sourceDetail `json:"sources"`
	Events  []eventDetail  `json:"events,omitempty"`
}

type groupDetail struct {
	GroupID     int     `json:"grp_id"`
	Weight      float64 `json:"weight"`
	EffRuptures int64   `json:"eff_ruptures"`
	Sites       int     `json:"sites"`
}

type sourceDetail struct {
	SourceID string  `json:"source_id"`
	Branch   int     `json:"branch"`
	GroupID  int     `json:"grp_id"`
	Kind     string  `json:"kind"`
	Ruptures int     `json:"ruptures"`
	Serial   int64   `json:"serial"`
	Sites    int     `json:"sites"`
	Seconds  float64 `json:"seconds"`
}

type eventDetail struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func runJobDetail(ctx context.Context, store results.Store, jobID string, jsonOut bool) error {
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	groups, err := store.GroupResults(ctx, jobID)
	if err != nil {
		return err
	}
	sources, err := store.SourceInfo(ctx, jobID)
	if err != nil {
		return err
	}
	events, err := store.Events(ctx, jobID)
	if err != nil {
		return err
	}

	out := jobDetail{
		Job: jobRow{
			JobID:       job.ID,
			Status:      job.Status,
			Levels:      job.Levels,
			Models:      job.Models,
			TimeSpan:    job.TimeSpan,
			CreatedAt:   job.CreatedAt.Format(time.RFC3339),
			Description: job.Description,
		},
	}
	for _, g := range groups {
		out.Job.Curves += len(g.Curves)
		out.Groups = append(out.Groups, groupDetail{
			GroupID:     g.GroupID,
			Weight:      g.Weight,
			EffRuptures: g.EffRuptures,
			Sites:       len(g.Curves),
		})
	}
	for _, s := range sources {
		out.Sources = append(out.Sources, sourceDetail{
			SourceID: s.SourceID,
			Branch:   s.Branch,
			GroupID:  s.GroupID,
			Kind:     string(s.Kind),
			Ruptures: s.NumRuptures,
			Serial:   s.Serial,
			Sites:    s.Sites,
			Seconds:  s.Seconds,
		})
	}
	for _, e := range events {
		out.Events = append(out.Events, eventDetail{
			Level:     e.Level,
			Message:   e.Message,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Job:         %s\n", job.ID)
	fmt.Printf("Description: %s\n", job.Description)
	fmt.Printf("Status:      %s\n", job.Status)
	fmt.Printf("Shape:       %d levels x %d models\n", job.Levels, job.Models)
	fmt.Printf("Time span:   %.0f years\n", job.TimeSpan)
	fmt.Printf("Created:     %s\n", job.CreatedAt.Format(time.RFC3339))
	if !job.StoppedAt.IsZero() {
		fmt.Printf("Stopped:     %s\n", job.StoppedAt.Format(time.RFC3339))
	}

	fmt.Printf("\nGroups:\n")
	fmt.Printf("  %-6s  %8s  %12s  %6s\n", "Group", "Weight", "Eff Rupts", "Sites")
	for _, g := range out.Groups {
		fmt.Printf("  %-6d  %8.4f  %12d  %6d\n", g.GroupID, g.Weight, g.EffRuptures, g.Sites)
	}

	fmt.Printf("\nSources:\n")
	fmt.Printf("  %-14s  %6s  %6s  %-14s  %8s  %6s  %8s\n",
		"Source", "Branch", "Group", "Kind", "Ruptures", "Sites", "Seconds")
	for _, s := range out.Sources {
		fmt.Printf("  %-14s  %6d  %6d  %-14s  %8d  %6d  %8.3f\n",
			s.SourceID, s.Branch, s.GroupID, s.Kind, s.Ruptures, s.Sites, s.Seconds)
	}

	if len(out.Events) > 0 {
		fmt.Printf("\nEvents:\n")
		for _, e := range out.Events {
			fmt.Printf("  %s  %-5s  %s\n", e.CreatedAt, e.Level, e.Message)
		}
	}
	return nil
}

// #endregion detail-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
