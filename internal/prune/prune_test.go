package prune_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ogero/stt-models/internal/prune"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

// sparse creates a file of the given size without writing its content.
func sparse(t *testing.T, path string, size int64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
}

func defaultPruner(t *testing.T) *prune.Pruner {
	t.Helper()
	p, err := prune.NewPruner(
		prune.BinaryModelRule("*.pb*"),
		prune.ScorerRule("*.scorer", 150*mib),
	)
	require.NoError(t, err)
	return p
}

func TestRuleMatch(t *testing.T) {
	binary := prune.BinaryModelRule("*.pb*")
	scorer := prune.ScorerRule("*.scorer", 150*mib)

	tests := []struct {
		name string
		rule prune.Rule
		file string
		size int64
		want bool
	}{
		{"pb small", binary, "model.pb", 1, true},
		{"pbmm", binary, "model.pbmm", 0, true},
		{"pb is case sensitive", binary, "model.PB", 1, false},
		{"tflite kept", binary, "model.tflite", 1, false},
		{"scorer 140MiB kept", scorer, "kenlm.scorer", 140 * mib, false},
		{"scorer 150MiB kept", scorer, "kenlm.scorer", 150 * mib, false},
		{"scorer one byte over", scorer, "kenlm.scorer", 150*mib + 1, true},
		{"scorer 160MiB removed", scorer, "kenlm.scorer", 160 * mib, true},
		{"scorer uppercase", scorer, "KenLM.SCORER", 160 * mib, true},
		{"not a scorer", scorer, "alphabet.txt", 160 * mib, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Match(tt.file, tt.size))
		})
	}
}

func TestNewPrunerInvalidPattern(t *testing.T) {
	_, err := prune.NewPruner(prune.BinaryModelRule("[a-"))
	assert.Error(t, err)

	_, err = prune.NewPruner(prune.BinaryModelRule(""))
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()

	sparse(t, filepath.Join(dir, "output_graph.pb"), 10)
	sparse(t, filepath.Join(dir, "nested", "output_graph.pbmm"), 200*mib)
	sparse(t, filepath.Join(dir, "model.tflite"), 50*mib)
	sparse(t, filepath.Join(dir, "alphabet.txt"), 100)
	sparse(t, filepath.Join(dir, "small.scorer"), 140*mib)
	sparse(t, filepath.Join(dir, "nested", "large.Scorer"), 160*mib)

	res := defaultPruner(t).Prune(context.Background(), dir)

	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "output_graph.pb"),
		filepath.Join(dir, "nested", "output_graph.pbmm"),
		filepath.Join(dir, "nested", "large.Scorer"),
	}, res.Removed)
	assert.Equal(t, int64(10+200*mib+160*mib), res.Bytes)

	for _, kept := range []string{"model.tflite", "alphabet.txt", "small.scorer"} {
		assert.FileExists(t, filepath.Join(dir, kept))
	}
	assert.NoFileExists(t, filepath.Join(dir, "nested", "large.Scorer"))
	assert.DirExists(t, filepath.Join(dir, "nested"))
}

func TestPruneSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "weights.pbdir"), 0o755))

	res := defaultPruner(t).Prune(context.Background(), dir)

	assert.Empty(t, res.Removed)
	assert.DirExists(t, filepath.Join(dir, "weights.pbdir"))
}

func TestPruneMissingDir(t *testing.T) {
	res := defaultPruner(t).Prune(context.Background(), filepath.Join(t.TempDir(), "missing"))

	assert.Empty(t, res.Removed)
	assert.Zero(t, res.Bytes)
}

func TestPruneNothingMatches(t *testing.T) {
	dir := t.TempDir()
	sparse(t, filepath.Join(dir, "model.tflite"), 1)

	res := defaultPruner(t).Prune(context.Background(), dir)

	assert.Empty(t, res.Removed)
	assert.FileExists(t, filepath.Join(dir, "model.tflite"))
}
