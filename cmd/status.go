package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/fsds"
	"github.com/sells-group/fsds-cli/internal/runlog"
)

var (
	statusPeriod string
	statusLimit  int
	statusRun    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline run history",
	Long:  "Displays recent runs from the run log, or the per-member outcomes of one run with --run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		period := ""
		if statusPeriod != "" {
			p, err := fsds.ParsePeriod(statusPeriod)
			if err != nil {
				return err
			}
			period = p.String()
		}

		pool, err := warehousePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		rec := runlog.NewRecorder(pool)

		if statusRun != "" {
			id, err := uuid.Parse(statusRun)
			if err != nil {
				return eris.Wrapf(err, "status: invalid run id %q", statusRun)
			}
			members, err := rec.Members(ctx, id)
			if err != nil {
				return eris.Wrap(err, "status")
			}
			formatMemberOutcomes(os.Stdout, members)
			return nil
		}

		runs, err := rec.List(ctx, period, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(runs) == 0 {
			zap.L().Info("no runs found, run 'fsds-cli run <period>' to load a period")
			return nil
		}

		formatRuns(os.Stdout, runs)

		if period != "" {
			last, err := rec.LastSuccess(ctx, period)
			if err != nil {
				return eris.Wrap(err, "status")
			}
			formatLastSuccess(os.Stdout, period, last)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusPeriod, "period", "", "only show runs of this period")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum runs to show")
	statusCmd.Flags().StringVar(&statusRun, "run", "", "show member outcomes of one run id")
	rootCmd.AddCommand(statusCmd)
}

// formatRuns writes a tabular representation of runs to out.
func formatRuns(out io.Writer, runs []runlog.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tPERIOD\tSTATE\tSTARTED\tDURATION\tROWS\tREJECTED\tFAILED\tERROR")
	_, _ = fmt.Fprintln(w, "---\t------\t-----\t-------\t--------\t----\t--------\t------\t-----")

	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		state := r.State
		switch {
		case r.FailedStage != "":
			state = fmt.Sprintf("%s(%s)", r.State, r.FailedStage)
		case r.Degraded:
			state = r.State + "*"
		}

		failed := "-"
		if len(r.FailedMembers) > 0 {
			failed = strings.Join(r.FailedMembers, ",")
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.RunID.String()[:8],
			r.Period,
			state,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.RowsLoaded,
			r.RowsRejected,
			failed,
			truncate(r.Error, 60),
		)
	}
	_ = w.Flush()
}

// formatMemberOutcomes writes the member rows of one run to out.
func formatMemberOutcomes(out io.Writer, members []runlog.MemberOutcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MEMBER\tSTAGE\tSTATUS\tROWS\tREJECTED\tOBJECT\tERROR")
	for _, m := range members {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			m.Member, m.Stage, m.Status, m.RowsLoaded, m.RowsRejected, m.ObjectKey, truncate(m.Error, 60))
	}
	_ = w.Flush()
}

func formatLastSuccess(out io.Writer, period string, last *time.Time) {
	if last == nil {
		_, _ = fmt.Fprintf(out, "\n%s has never loaded successfully\n", period)
		return
	}
	_, _ = fmt.Fprintf(out, "\nlast successful load of %s: %s\n", period, last.Format("2006-01-02 15:04"))
}
