package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"milestone-reconciler/internal/app"
	"milestone-reconciler/internal/handler"
	"milestone-reconciler/internal/model"
	"milestone-reconciler/pkg/trace"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newRecomputeCmd(opts *options) *cobra.Command {
	var req handler.RecomputeRequest

	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute one milestone, a task's milestone, a project, or sweep",
		Long: `Recompute milestone progress synchronously.

With no target flag the in_progress milestones are swept, least recently
updated first, up to --limit.`,
		Example: `  reconcilectl recompute --milestone 6f1c...
  reconcilectl recompute --project p1 --json
  reconcilectl recompute --limit 200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer log.Sync()

			stores, err := app.OpenStores(cfg, log)
			if err != nil {
				return err
			}
			defer stores.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx = trace.WithContext(ctx, trace.GenerateTraceID())

			report := run(ctx, app.NewEngine(cfg, stores, nil, log), req)

			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), handler.NewReportResponse(report))
			}
			printReport(cmd, report)
			if !report.Success {
				return fmt.Errorf("%d milestone(s) failed", len(report.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.MilestoneID, "milestone", "", "Milestone ID")
	cmd.Flags().StringVar(&req.TaskID, "task", "", "Task ID; recomputes the milestone it is linked to")
	cmd.Flags().StringVar(&req.ProjectID, "project", "", "Project ID; recomputes all of its milestones")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "Sweep limit (default 50)")
	cmd.MarkFlagsMutuallyExclusive("milestone", "task", "project")
	return cmd
}

func run(ctx context.Context, engine *app.Engine, req handler.RecomputeRequest) model.ReconciliationReport {
	c := engine.Coordinator
	switch {
	case req.MilestoneID != "":
		return c.ByMilestone(ctx, req.MilestoneID)
	case req.TaskID != "":
		return c.ByTask(ctx, req.TaskID)
	case req.ProjectID != "":
		return c.ByProject(ctx, req.ProjectID)
	default:
		return c.Sweep(ctx, req.Limit)
	}
}

func printReport(cmd *cobra.Command, r model.ReconciliationReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Processed %d milestone(s), %d updated\n", r.TotalProcessed, len(r.UpdatedMilestones))

	for _, ch := range r.UpdatedMilestones {
		printStatus(w, "↑", fmt.Sprintf("%s  %d%% → %d%%  (%d/%d tasks done)",
			ch.MilestoneID, ch.OldProgress, ch.NewProgress, ch.CompletedTasks, ch.TaskCount), color.FgGreen)
	}
	for _, e := range r.Errors {
		printStatus(w, "✗", e, color.FgRed)
	}
	if r.Success && len(r.UpdatedMilestones) == 0 {
		printStatus(w, "✓", "Nothing to update", color.FgGreen)
	}
}
