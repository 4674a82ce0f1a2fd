package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tinyShape = []string{"--log-level", "error", "--seq-len", "16", "--dim", "8", "--heads", "2", "--layers", "1"}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func generate(t *testing.T, weights string, extra ...string) string {
	t.Helper()
	args := append([]string{"generate", "--weights", weights, "--prompt", "hi", "-n", "4", "--seed", "3"}, tinyShape...)
	out, err := run(t, append(args, extra...)...)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	return out
}

func TestGenerateRandomIsDeterministic(t *testing.T) {
	a := generate(t, "random")
	b := generate(t, "random")
	assert.Equal(t, a, b)
}

func TestGenerateRequiresWeights(t *testing.T) {
	_, err := run(t, "generate", "--prompt", "hi", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--weights")
}

func TestGenerateRejectsBadPrecision(t *testing.T) {
	_, err := run(t, append([]string{"generate", "-w", "random", "--prompt", "hi", "--precision", "int4"}, tinyShape...)...)
	require.Error(t, err)
}

func TestTokenize(t *testing.T) {
	out, err := run(t, "tokenize", "--weights", "random", "--log-level", "error", "hi")
	require.NoError(t, err)
	assert.Contains(t, out, "104")
	assert.Contains(t, out, "105")
	assert.Contains(t, out, `round trip "hi"`)
}

func TestConvertRoundTrips(t *testing.T) {
	want := generate(t, "random")
	dir := t.TempDir()

	t.Run("dir", func(t *testing.T) {
		out := filepath.Join(dir, "params")
		_, err := run(t, append([]string{"convert", "-w", "random", "--seed", "3", "--out", out, "--compress", "--max-part-bytes", "64"}, tinyShape...)...)
		require.NoError(t, err)
		for _, name := range []string{"hparams.json", "encoder.json"} {
			_, err := os.Stat(filepath.Join(out, name))
			require.NoError(t, err, name)
		}
		got := generate(t, out, "--log-level", "error")
		assert.Equal(t, want, got)
	})

	t.Run("gguf", func(t *testing.T) {
		out := filepath.Join(dir, "tiny.gguf")
		_, err := run(t, append([]string{"convert", "-w", "random", "--seed", "3", "--out", out}, tinyShape...)...)
		require.NoError(t, err)
		got := generate(t, out)
		assert.Equal(t, want, got)
	})
}

func TestGenerateFromWeightServer(t *testing.T) {
	want := generate(t, "random")

	g := &globalOptions{
		logLevel:    "error",
		weights:     randomWeights,
		precision:   "f32",
		seed:        3,
		seqLen:      16,
		dim:         8,
		heads:       2,
		layers:      1,
		parallelism: 1,
	}
	srv, l, err := startWeightServer(context.Background(), g, "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	defer srv.Shutdown()

	// No shape flags or vocabulary: both come from the server.
	got, err := run(t, "generate", "--weights", "grpc://"+srv.Addr().String(),
		"--prompt", "hi", "-n", "4", "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestServeWeightsRequiresWeights(t *testing.T) {
	_, err := run(t, "serve-weights", "--log-level", "error")
	require.Error(t, err)
}

func TestGenerateReportsMissingGGUFTensors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one-layer.gguf")
	_, err := run(t, append([]string{"convert", "-w", "random", "--out", path}, tinyShape...)...)
	require.NoError(t, err)

	_, err = run(t, "generate", "-w", path, "--prompt", "hi", "--layers", "2", "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "12 of 28")
	assert.Contains(t, err.Error(), "blk.1.attn_qkv.weight")
}
