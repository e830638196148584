package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/extract"
)

var transcodeCmd = &cobra.Command{
	Use:   "transcode <member.txt> [out.json]",
	Short: "Convert a member file to its JSON representation",
	Long:  "Reads a tab-delimited member file with a header row and writes a JSON array of row objects, with NaN cells as null. Writes to stdout when no output path is given.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("transcode"); err != nil {
			return err
		}
		if len(args) == 2 {
			return transcodeToPath(cmd, args[0], args[1])
		}
		return transcodeFile(cmd, args[0], cmd.OutOrStdout())
	},
}

// createOutput opens the JSON destination file.
var createOutput = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func init() {
	rootCmd.AddCommand(transcodeCmd)
}

// transcodeToPath writes the JSON representation of in to outPath. A failed
// close, e.g. on a full disk, fails the command.
func transcodeToPath(cmd *cobra.Command, in, outPath string) (err error) {
	f, err := createOutput(outPath)
	if err != nil {
		return eris.Wrap(err, "transcode: create output")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "transcode: close output")
		}
	}()
	return transcodeFile(cmd, in, f)
}

func transcodeFile(cmd *cobra.Command, path string, out io.Writer) error {
	in, err := os.Open(path)
	if err != nil {
		return eris.Wrap(err, "transcode: open input")
	}
	defer in.Close() //nolint:errcheck

	stats, err := extract.Transcode(cmd.Context(), in, out, cfg.Pipeline.TranscodeChunkRows)
	if err != nil {
		return err
	}
	zap.L().Info("transcoded",
		zap.String("input", path),
		zap.Int64("rows", stats.Rows),
		zap.Int64("skipped", stats.Skipped),
	)
	return nil
}
