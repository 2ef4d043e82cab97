package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/pipeline"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/publish"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the crosswalk, neighbor graph and universal demand matrix",
	Long: "Runs the pipeline stages (" + strings.Join(pipeline.AllStages, ", ") + ") in order. " +
		"Stages that are not selected but feed a selected one are read back from the output directory.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(); err != nil {
			return err
		}

		stages, _ := cmd.Flags().GetStringSlice("stages")
		resume, _ := cmd.Flags().GetBool("resume")
		if _, err := pipeline.ParseStages(stages); err != nil {
			return err
		}

		ledger, err := initLedger(ctx)
		if err != nil {
			return err
		}
		if ledger != nil {
			defer ledger.Close() //nolint:errcheck
		} else if resume {
			return fault.NewConfigurationError("runlog.path", "is required for --resume")
		}

		mirror, err := initMirror(ctx)
		if err != nil {
			return err
		}
		pub, err := publish.New(cfg.Output.Dir, mirror)
		if err != nil {
			return err
		}

		report, err := pipeline.New(cfg, pub, ledger).Run(ctx, pipeline.Options{Stages: stages, Resume: resume})
		if report != nil {
			formatReport(cmd.OutOrStdout(), report)
		}
		return err
	},
}

func init() {
	buildCmd.Flags().StringSlice("stages", nil, "stages to run (default all): "+strings.Join(pipeline.AllStages, ","))
	buildCmd.Flags().Bool("resume", false, "reuse published stage outputs whose inputs are unchanged")
	rootCmd.AddCommand(buildCmd)
}

// formatReport writes the per-stage outcome of a build and, when the merge
// ran or was reused, its headline numbers.
func formatReport(out io.Writer, r *pipeline.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if r.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n\n", r.RunID)
	}
	_, _ = fmt.Fprintln(w, "STAGE\tSTATUS\tFILES\tDURATION")
	_, _ = fmt.Fprintln(w, "-----\t------\t-----\t--------")
	for _, s := range r.Stages {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			s.Name,
			s.Status,
			len(s.Files),
			(time.Duration(s.DurationMs) * time.Millisecond).String(),
		)
	}
	if m := r.Manifest; m != nil {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "Policy:\t%s\n", m.Merge.Policy)
		_, _ = fmt.Fprintf(w, "Sources:\t%s\n", strings.Join(m.Merge.Sources, ", "))
		_, _ = fmt.Fprintf(w, "Pairs:\t%d\n", m.Merge.Entries)
		_, _ = fmt.Fprintf(w, "Demand:\t%g\n", m.Merge.OutputMass)
		if m.Merge.DroppedAdjacent > 0 {
			_, _ = fmt.Fprintf(w, "Dropped adjacent:\t%d (%g)\n", m.Merge.DroppedAdjacent, m.Merge.DroppedAdjacentMass)
		}
	}
	_ = w.Flush()
}
