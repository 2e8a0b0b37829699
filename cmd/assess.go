package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/flood-cli/internal/export"
	"github.com/sells-group/flood-cli/internal/model"
	"github.com/sells-group/flood-cli/internal/pipeline"
)

var assessCmd = &cobra.Command{
	Use:   "assess",
	Short: "Map flooding and estimate the exposed population",
	Long: "Preprocesses the SAR scene, picks a flood threshold with Otsu's method over the area of interest, " +
		"classifies every pixel and sums baseline and affected population per region. Writes the " +
		"classification raster and the exposure table and records the assessment in the store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ev, err := loadEvent(cmd)
		if err != nil {
			return err
		}
		if err := requireInputs(
			[2]string{"sar", ev.SAR},
			[2]string{"land-mask", ev.LandMask},
			[2]string{"population", ev.Population},
			[2]string{"regions", ev.Regions},
		); err != nil {
			return err
		}
		ev.Flood.Apply(&cfg.Flood)
		if err := cfg.Validate("assess"); err != nil {
			return err
		}
		opts, err := cfg.Flood.Options()
		if err != nil {
			return err
		}
		aoi, err := aoiFlag(cmd)
		if err != nil {
			return err
		}

		noStore, _ := cmd.Flags().GetBool("no-store")
		src := newEventSources(ev)
		res, runErr := pipeline.Assess(ctx, src.inputs(ev, aoi), opts)
		if runErr != nil {
			if !noStore {
				saveFailed(ctx, model.FailedAssessment(ev.Name, opts.Polarity, runErr))
			}
			return eris.Wrap(runErr, "assess")
		}

		if err := export.WriteClassification(ev.ClassificationPath(), res.Classification); err != nil {
			return err
		}
		if err := export.WriteTable(ev.TablePath(), export.Summary{
			Name:      ev.Name,
			Threshold: res.Threshold,
			Histogram: res.Histogram,
			Zonal:     res.Zonal,
			Warnings:  res.Warnings,
		}); err != nil {
			return err
		}

		a, err := model.NewAssessment(ev.Name, opts.Polarity, res, src.regions)
		if err != nil {
			return err
		}
		if !noStore {
			if err := saveAssessment(ctx, a); err != nil {
				return err
			}
		}

		formatAssessmentSummary(os.Stdout, a)
		fmt.Fprintf(os.Stdout, "\nClassification: %s\nTable:          %s\n", ev.ClassificationPath(), ev.TablePath())
		return nil
	},
}

func saveAssessment(ctx context.Context, a *model.Assessment) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.SaveAssessment(ctx, a); err != nil {
		return eris.Wrap(err, "assess: save")
	}
	zap.L().Info("saved assessment", zap.String("id", a.ID), zap.String("status", string(a.Status)))
	return nil
}

// saveFailed records a failed run. The run error is what the caller reports,
// so a store error is only logged.
func saveFailed(ctx context.Context, a *model.Assessment) {
	// The run context may already be cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := saveAssessment(ctx, a); err != nil {
		zap.L().Warn("could not record failed assessment", zap.Error(err))
	}
}

func init() {
	addEventFlags(assessCmd)
	f := assessCmd.Flags()
	f.String("population", "", "population raster, path or URL")
	f.String("output-dir", "", "output directory (default: event name)")
	f.String("classification", "", "classification raster file name (.tif or .asc)")
	f.String("table", "", "exposure table file name (.csv or .xlsx)")
	f.Bool("no-store", false, "do not record the assessment in the store")
	rootCmd.AddCommand(assessCmd)
}

// formatAssessmentSummary writes the threshold, totals and per-region
// exposure of a to out.
func formatAssessmentSummary(out io.Writer, a *model.Assessment) {
	p := message.NewPrinter(language.English)

	_, _ = p.Fprintf(out, "Assessment %s (%s)\n", a.Name, a.Status)
	if a.Failure != nil {
		_, _ = p.Fprintf(out, "Failed at %s", a.Failure.Stage)
		if a.Failure.Region != "" {
			_, _ = p.Fprintf(out, " (region %s)", a.Failure.Region)
		}
		_, _ = p.Fprintf(out, ": %s\n", a.Failure.Message)
		return
	}
	if a.Threshold != nil {
		_, _ = p.Fprintf(out, "Threshold: %.2f (%s, split %d)\n", a.Threshold.Value, a.Polarity, a.Threshold.Split)
	}
	if a.Histogram != nil {
		_, _ = p.Fprintf(out, "Histogram: %d samples, %d of %d buckets used, scale %.1f\n",
			a.Histogram.Samples, a.Histogram.NonEmpty, a.Histogram.Buckets, a.Histogram.Scale)
	}
	_, _ = p.Fprintf(out, "Population: %.0f exposed of %.0f (%.1f%%)\n", a.Affected, a.Baseline, share(a.Affected, a.Baseline))

	if len(a.Zones) > 0 {
		_, _ = fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
		_, _ = fmt.Fprintln(w, "REGION\tNAME\tBASELINE\tAFFECTED\tSHARE\t")
		for _, z := range a.Zones {
			_, _ = p.Fprintf(w, "%s\t%s\t%.0f\t%.0f\t%.1f%%\t\n",
				z.RegionID, truncate(z.RegionName, 30), z.Baseline, z.Affected, share(z.Affected, z.Baseline))
		}
		_ = w.Flush()
	}

	for _, warn := range a.Warnings {
		_, _ = fmt.Fprintf(out, "warning: %s\n", warn.Error())
	}
}

func share(part, whole float64) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * part / whole
}
