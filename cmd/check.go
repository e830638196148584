package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/fsds-cli/internal/fsds"
	"github.com/sells-group/fsds-cli/internal/objstore"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify object storage and warehouse connectivity",
	Long:  "Pings the configured bucket and warehouse without downloading anything.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("check"); err != nil {
			return err
		}

		results := runChecks(ctx, map[string]func(context.Context) error{
			fsds.TargetObjectStore: func(ctx context.Context) error {
				store, err := objstore.NewS3Store(ctx, cfg.Storage)
				if err != nil {
					return err
				}
				return store.Ping(ctx)
			},
			fsds.TargetWarehouse: func(ctx context.Context) error {
				pool, err := warehousePool(ctx)
				if err != nil {
					return err
				}
				pool.Close()
				return nil
			},
		})

		formatChecks(os.Stdout, results)
		for _, r := range results {
			if r.Err != nil {
				return &fsds.ConnectivityError{Target: r.Target, Err: r.Err}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

type checkResult struct {
	Target string
	Err    error
}

// runChecks runs the object store check before the warehouse check.
func runChecks(ctx context.Context, checks map[string]func(context.Context) error) []checkResult {
	var out []checkResult
	for _, target := range []string{fsds.TargetObjectStore, fsds.TargetWarehouse} {
		fn, ok := checks[target]
		if !ok {
			continue
		}
		err := fn(ctx)
		var ce *fsds.ConnectivityError
		if errors.As(err, &ce) {
			err = ce.Err
		}
		out = append(out, checkResult{Target: target, Err: err})
	}
	return out
}

func formatChecks(out io.Writer, results []checkResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TARGET\tSTATUS\tERROR")
	for _, r := range results {
		status, msg := "ok", ""
		if r.Err != nil {
			status, msg = "unreachable", truncate(r.Err.Error(), 100)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Target, status, msg)
	}
	_ = w.Flush()
}
