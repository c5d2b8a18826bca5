package cli

import (
	"fmt"
	"text/tabwriter"

	"milestone-reconciler/internal/app"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newDueCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "due",
		Short: "List the milestones the next sweep would visit (read-only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			stores, err := app.OpenStores(cfg, log)
			if err != nil {
				return err
			}
			defer stores.Close()

			if limit <= 0 {
				limit = cfg.Scheduler.Limit
			}
			milestones, count, err := app.NewEngine(cfg, stores, nil, log).Coordinator.Due(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"in_progress_count": count,
					"would_update":      len(milestones),
					"milestones":        milestones,
				})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s in_progress, next sweep visits %d\n",
				color.New(color.Bold).Sprint(count), len(milestones))
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROJECT\tPROGRESS\tUPDATED")
			for _, m := range milestones {
				fmt.Fprintf(tw, "%s\t%s\t%d%%\t%s\n", m.ID, m.ProjectID, m.ProgressPercentage, m.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "How many milestones a sweep visits (default scheduler.limit)")
	return cmd
}
