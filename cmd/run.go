package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fsds-cli/internal/fsds"
	"github.com/sells-group/fsds-cli/internal/pipeline"
)

var (
	runFrom        string
	runTo          string
	runMembers     []string
	runConcurrency int
	runStrict      bool
	runJSON        bool
)

var runCmd = &cobra.Command{
	Use:   "run [period...]",
	Short: "Fetch, publish and load data set periods",
	Long: `Runs the full pipeline for each period (e.g. 2023q4). Periods may be given as
arguments, comma separated, or as a --from/--to range. Duplicates are dropped.`,
	Example: "  fsds-cli run 2023q4\n  fsds-cli run --from 2022q1 --to 2023q4 --concurrency 2",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		periods, err := resolvePeriods(args, runFrom, runTo)
		if err != nil {
			return err
		}
		members, err := parseMembers(runMembers)
		if err != nil {
			return err
		}

		opts := pipeline.OptionsFromConfig(cfg.Pipeline)
		opts.Members = members
		if cmd.Flags().Changed("json") {
			opts.PublishJSON = runJSON
		}

		env, err := initPipeline(ctx, opts)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := runConcurrency
		if concurrency < 1 {
			concurrency = 1
		}

		results := make([]*pipeline.Result, len(periods))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for i, p := range periods {
			g.Go(func() error {
				results[i] = env.Orchestrator.Run(gctx, p)
				return nil
			})
		}
		_ = g.Wait()

		formatRunSummary(os.Stdout, results)
		return runOutcome(results, runStrict)
	},
}

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", "", "first period of a range (e.g. 2022q1)")
	runCmd.Flags().StringVar(&runTo, "to", "", "last period of a range, inclusive (defaults to --from)")
	runCmd.Flags().StringSliceVar(&runMembers, "members", nil, "members to process (default num,pre,sub,tag)")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 1, "periods processed in parallel")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "exit non-zero when any member failed")
	runCmd.Flags().BoolVar(&runJSON, "json", true, "also publish the JSON representation (overrides pipeline.publish_json)")
	rootCmd.AddCommand(runCmd)
}

// resolvePeriods merges positional periods with an optional range.
func resolvePeriods(args []string, from, to string) ([]fsds.Period, error) {
	values := append([]string{}, args...)
	if from != "" {
		first, err := fsds.ParsePeriod(from)
		if err != nil {
			return nil, err
		}
		last := first
		if to != "" {
			if last, err = fsds.ParsePeriod(to); err != nil {
				return nil, err
			}
		}
		rng, err := fsds.Range(first, last)
		if err != nil {
			return nil, err
		}
		for _, p := range rng {
			values = append(values, p.String())
		}
	} else if to != "" {
		return nil, eris.New("--to requires --from")
	}

	periods, err := fsds.ParsePeriods(values)
	if err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		return nil, eris.New("no periods given (pass e.g. 2023q4 or --from/--to)")
	}
	return periods, nil
}

func parseMembers(values []string) ([]fsds.Member, error) {
	var out []fsds.Member
	seen := map[fsds.Member]bool{}
	for _, v := range values {
		m, err := fsds.ParseMember(v)
		if err != nil {
			return nil, err
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// runOutcome turns results into the command error: FAILED periods always
// fail the command, degraded ones only in strict mode.
func runOutcome(results []*pipeline.Result, strict bool) error {
	var failed, degraded int
	for _, r := range results {
		if r == nil {
			continue
		}
		switch {
		case r.Failed():
			failed++
		case r.Degraded:
			degraded++
		}
	}
	if failed > 0 {
		return eris.Errorf("%d of %d periods failed", failed, len(results))
	}
	if degraded > 0 {
		if strict {
			return eris.Errorf("%d of %d periods degraded", degraded, len(results))
		}
		zap.L().Warn("some periods loaded with member failures", zap.Int("degraded", degraded))
	}
	return nil
}

// formatRunSummary writes one line per member of every result to out.
func formatRunSummary(out io.Writer, results []*pipeline.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PERIOD\tSTATE\tMEMBER\tSTATUS\tROWS\tREJECTED\tERROR")
	_, _ = fmt.Fprintln(w, "------\t-----\t------\t------\t----\t--------\t-----")

	for _, r := range results {
		if r == nil {
			continue
		}
		state := string(r.State)
		switch {
		case r.Failed():
			state = fmt.Sprintf("FAILED(%s)", r.FailedStage)
		case r.Degraded:
			state = "DONE*"
		}

		if r.Failed() && r.FailedStage != pipeline.StagePublish && r.FailedStage != pipeline.StageLoad {
			_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t%s\n", r.Period, state, truncate(errString(r.Cause), 80))
			continue
		}

		failures := map[fsds.Member]error{}
		for _, f := range r.Failures {
			if _, ok := failures[f.Member]; !ok {
				failures[f.Member] = f.Err
			}
		}
		for _, m := range r.Members {
			status, rows, rejected, msg := "ok", "-", "-", ""
			if m.Load != nil {
				rows = fmt.Sprintf("%d", m.Load.RowsLoaded)
				rejected = fmt.Sprintf("%d", m.Load.RowsRejected)
			}
			if err, ok := failures[m.Member]; ok {
				status = "failed"
				msg = truncate(errString(err), 80)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.Period, state, m.Member.Name(), status, rows, rejected, msg)
		}
		if r.TriggerErr != nil {
			_, _ = fmt.Fprintf(w, "%s\t%s\ttrigger\tfailed\t-\t-\t%s\n", r.Period, state, truncate(r.TriggerErr.Error(), 80))
		}
	}
	_ = w.Flush()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
