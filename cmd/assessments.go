package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/flood-cli/internal/export"
	"github.com/sells-group/flood-cli/internal/model"
	"github.com/sells-group/flood-cli/internal/monitoring"
	"github.com/sells-group/flood-cli/internal/store"
)

var assessmentsCmd = &cobra.Command{
	Use:   "assessments",
	Short: "Inspect stored assessments",
	Long:  "Commands for listing and viewing recorded flood assessments.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("assessments")
	},
}

// -- assessments list --

var assessmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assessments, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		name, _ := cmd.Flags().GetString("name")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		list, err := st.ListAssessments(ctx, store.Filter{
			Name:   name,
			Status: model.AssessmentStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "assessments list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No assessments found.")
			return nil
		}

		formatAssessmentsList(os.Stdout, list)
		return nil
	},
}

// -- assessments show --

var assessmentsShowCmd = &cobra.Command{
	Use:   "show <assessment-id>",
	Short: "Show full details of an assessment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a, err := st.GetAssessment(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "assessments show")
		}

		if summary, _ := cmd.Flags().GetBool("summary"); summary {
			formatAssessmentSummary(os.Stdout, a)
			return nil
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	},
}

// -- assessments zones --

var assessmentsZonesCmd = &cobra.Command{
	Use:   "zones <assessment-id>",
	Short: "Print the exposure table of an assessment as CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a, err := st.GetAssessment(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "assessments zones")
		}
		return export.WriteZonalCSV(os.Stdout, a.ZonalRows())
	},
}

// -- assessments stats --

var assessmentsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate assessment statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		snap, err := monitoring.NewCollector(st).Collect(ctx, since)
		if err != nil {
			return eris.Wrap(err, "assessments stats")
		}

		formatAssessmentStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	assessmentsListCmd.Flags().String("name", "", "filter by event name")
	assessmentsListCmd.Flags().String("status", "", "filter by status (complete, failed)")
	assessmentsListCmd.Flags().Int("limit", store.DefaultListLimit, "max number of assessments to display")
	assessmentsListCmd.Flags().Int("offset", 0, "number of assessments to skip")

	assessmentsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 168h; 0 for all)")

	assessmentsShowCmd.Flags().Bool("summary", false, "print a readable summary instead of JSON")

	assessmentsCmd.AddCommand(assessmentsListCmd)
	assessmentsCmd.AddCommand(assessmentsShowCmd)
	assessmentsCmd.AddCommand(assessmentsZonesCmd)
	assessmentsCmd.AddCommand(assessmentsStatsCmd)
	rootCmd.AddCommand(assessmentsCmd)
}

// formatAssessmentsList writes a tabular list of assessments to w.
func formatAssessmentsList(out io.Writer, list []model.Assessment) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTHRESHOLD\tAFFECTED\tCREATED\tFAILED_AT")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t---------\t--------\t-------\t---------")

	for _, a := range list {
		threshold := ""
		if a.Threshold != nil {
			threshold = fmt.Sprintf("%.2f", a.Threshold.Value)
		}

		failedAt := ""
		if a.Failure != nil {
			failedAt = a.Failure.Stage
			if a.Failure.Region != "" {
				failedAt += "/" + a.Failure.Region
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f\t%s\t%s\n",
			truncateID(a.ID),
			truncate(a.Name, 30),
			a.Status,
			threshold,
			a.Affected,
			a.CreatedAt.Format("2006-01-02 15:04"),
			failedAt,
		)
	}
	_ = w.Flush()
}

// formatAssessmentStats writes aggregate stats to w.
func formatAssessmentStats(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total assessments:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "  Approximated:\t%d\n", s.Approximated)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	for _, f := range s.FailedStages {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", f.Stage, f.Count)
	}
	if s.Complete+s.Failed > 0 {
		_, _ = fmt.Fprintf(w, "Fail rate:\t%.1f%%\n", 100*s.FailRate)
	}
	_, _ = fmt.Fprintf(w, "Affected population:\t%.0f of %.0f\n", s.Affected, s.Baseline)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
