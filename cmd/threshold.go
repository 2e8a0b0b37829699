package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/flood-cli/internal/export"
	"github.com/sells-group/flood-cli/internal/flood"
	"github.com/sells-group/flood-cli/internal/pipeline"
)

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Compute the flood threshold of a SAR scene",
	Long: "Runs preprocessing, the area-of-interest histogram and Otsu's method only. " +
		"Population is not read. With --curve, prints the between-class variance of every split as CSV.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ev, err := loadEvent(cmd)
		if err != nil {
			return err
		}
		aoi, err := aoiFlag(cmd)
		if err != nil {
			return err
		}
		required := [][2]string{{"sar", ev.SAR}, {"land-mask", ev.LandMask}}
		if aoi == nil {
			required = append(required, [2]string{"regions", ev.Regions})
		}
		if err := requireInputs(required...); err != nil {
			return err
		}
		ev.Flood.Apply(&cfg.Flood)
		if err := cfg.Validate("threshold"); err != nil {
			return err
		}
		opts, err := cfg.Flood.Options()
		if err != nil {
			return err
		}

		h, t, warnings, err := pipeline.Threshold(ctx, newEventSources(ev).inputs(ev, aoi), opts)
		if err != nil {
			return eris.Wrap(err, "threshold")
		}

		if curve, _ := cmd.Flags().GetBool("curve"); curve {
			return export.WriteVarianceCurve(os.Stdout, h)
		}
		return writeThreshold(os.Stdout, ev.Name, h, t, warnings)
	},
}

// thresholdReport is the JSON output of the threshold command.
type thresholdReport struct {
	Name      string                               `json:"name"`
	Threshold flood.Threshold                      `json:"threshold"`
	Samples   int64                                `json:"samples"`
	Mean      float64                              `json:"mean"`
	Variance  float64                              `json:"variance"`
	Scale     float64                              `json:"scale"`
	Buckets   int                                  `json:"buckets"`
	NonEmpty  int                                  `json:"non_empty_buckets"`
	Warnings  []*flood.ApproximationAppliedWarning `json:"warnings,omitempty"`
}

func writeThreshold(out io.Writer, name string, h *flood.Histogram, t flood.Threshold, warnings []*flood.ApproximationAppliedWarning) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(thresholdReport{
		Name:      name,
		Threshold: t,
		Samples:   h.Samples,
		Mean:      h.Mean,
		Variance:  h.Variance,
		Scale:     h.Scale,
		Buckets:   len(h.Buckets),
		NonEmpty:  h.NonEmpty(),
		Warnings:  warnings,
	})
}

func init() {
	addEventFlags(thresholdCmd)
	thresholdCmd.Flags().Bool("curve", false, "print the variance curve as CSV instead of the threshold")
	rootCmd.AddCommand(thresholdCmd)
}
