package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/tflow/internal/triage"
	"github.com/linnemanlabs/tflow/internal/validate"
)

func newRecentCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent assessments and vitals checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 || limit > validate.MaxLimit {
				return fmt.Errorf("--limit must be between 1 and %d, got %d", validate.MaxLimit, limit)
			}
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			recs, err := c.svc.Recent(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Recent assessments (%d)\n", len(recs))
			for i, r := range recs {
				fmt.Fprintf(w, "%d. %-8s %s\n", i+1, r.Level, preview(r.Symptoms, 60))
				fmt.Fprintf(w, "   %s  ai=%t  id=%s\n", r.CreatedAt.Format(time.RFC3339), r.UsedAI, r.ID)
			}

			checks, err := c.svc.RecentVitals(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "\nRecent vitals checks (%d)\n", len(checks))
			for i, r := range checks {
				fmt.Fprintf(w, "%d. %-4s pulse=%s bp=%s/%s\n", i+1, mark(r.Flags.AnyFlag),
					reading(r.Vitals.Pulse), reading(r.Vitals.SystolicBP), reading(r.Vitals.DiastolicBP))
				fmt.Fprintf(w, "   %s  id=%s\n", r.CreatedAt.Format(time.RFC3339), r.ID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", validate.DefaultLimit, "number of records to show (1..100)")
	return cmd
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show assessment and vitals statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Assessments: %d\n", st.TotalAssessments)
			for _, l := range triage.Levels() {
				fmt.Fprintf(w, "  %-8s %d\n", l, st.Levels[l])
			}
			fmt.Fprintf(w, "Vitals checks: %d (flagged %d, %.2f%%)\n", st.TotalVitals, st.FlaggedVitals, st.FlagPercentage())
			return nil
		},
	}
}

func reading(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}
