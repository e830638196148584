package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fsds-cli/internal/config"
)

func TestTranscodeFile(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Pipeline: config.PipelineConfig{TranscodeChunkRows: 1}}

	path := filepath.Join(t.TempDir(), "num.txt")
	require.NoError(t, os.WriteFile(path, []byte("adsh\tvalue\n0001\t12\n0002\tNaN\n"), 0o644))

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	require.NoError(t, transcodeFile(cmd, path, &out))

	assert.JSONEq(t, `[{"adsh":"0001","value":"12"},{"adsh":"0002","value":null}]`, out.String())
}

func TestTranscodeFile_MissingInput(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Pipeline: config.PipelineConfig{TranscodeChunkRows: 10}}

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	err := transcodeFile(cmd, filepath.Join(t.TempDir(), "absent.txt"), &bytes.Buffer{})
	assert.Error(t, err)
}

type closeFailWriter struct {
	bytes.Buffer
}

func (w *closeFailWriter) Close() error { return errors.New("no space left on device") }

func TestTranscodeToPath(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{Pipeline: config.PipelineConfig{TranscodeChunkRows: 10}}

	dir := t.TempDir()
	in := filepath.Join(dir, "tag.txt")
	require.NoError(t, os.WriteFile(in, []byte("tag\tversion\nAssets\tus-gaap/2023\n"), 0o644))
	out := filepath.Join(dir, "tag.json")

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	require.NoError(t, transcodeToPath(cmd, in, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"tag":"Assets","version":"us-gaap/2023"}]`, string(data))
}

func TestTranscodeToPath_CloseErrorFails(t *testing.T) {
	prev, prevCreate := cfg, createOutput
	t.Cleanup(func() { cfg, createOutput = prev, prevCreate })
	cfg = &config.Config{Pipeline: config.PipelineConfig{TranscodeChunkRows: 10}}

	w := &closeFailWriter{}
	createOutput = func(string) (io.WriteCloser, error) { return w, nil }

	in := filepath.Join(t.TempDir(), "tag.txt")
	require.NoError(t, os.WriteFile(in, []byte("tag\nAssets\n"), 0o644))

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	err := transcodeToPath(cmd, in, "ignored.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcode: close output")
	assert.Contains(t, w.String(), "Assets")
}
