package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ogero/stt-models/internal/config"
	"github.com/ogero/stt-models/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, manifestCSV string) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	dir := t.TempDir()
	cfg.ManifestPath = filepath.Join(dir, "releases.csv")
	cfg.OutputRoot = filepath.Join(dir, "build", "models")
	cfg.HistoryPath = filepath.Join(dir, "history")
	require.NoError(t, os.WriteFile(cfg.ManifestPath, []byte(manifestCSV), 0o644))
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestAppFetch(t *testing.T) {
	cfg := testConfig(t, "code,release\nen,rel-v1.0\nfr,rel-v2.0\n")
	d := &fakeDownloader{files: map[string]int64{"output_graph.pb": 1, "model.tflite": 1}}
	var out bytes.Buffer

	app, err := NewApp(cfg, d, &out)
	require.NoError(t, err)
	defer app.Close()

	summary, err := app.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []downloadCall{
		{release: "rel-v1.0", dir: filepath.Join(cfg.OutputRoot, "en")},
		{release: "rel-v2.0", dir: filepath.Join(cfg.OutputRoot, "fr")},
	}, d.calls)
	assert.Equal(t, 2, summary.PrunedFiles)
	assert.NoFileExists(t, filepath.Join(cfg.OutputRoot, "en", "output_graph.pb"))
	assert.FileExists(t, filepath.Join(cfg.OutputRoot, "fr", "model.tflite"))
}

func TestAppFetchWithPruneDisabled(t *testing.T) {
	cfg := testConfig(t, "code,release\nen,rel-v1.0\n")
	cfg.Prune = false
	d := &fakeDownloader{files: map[string]int64{"output_graph.pb": 1}}

	app, err := NewApp(cfg, d, &bytes.Buffer{})
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Fetch(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.OutputRoot, "en", "output_graph.pb"))

	res := app.Prune(context.Background(), filepath.Join(cfg.OutputRoot, "en"))
	assert.Len(t, res.Removed, 1)
	assert.NoFileExists(t, filepath.Join(cfg.OutputRoot, "en", "output_graph.pb"))
}

func TestAppFetchFailure(t *testing.T) {
	cfg := testConfig(t, "code,release\nen,rel-bad\nfr,rel-v2.0\n")
	d := &fakeDownloader{statuses: map[string]int{"rel-bad": 1}}
	var out bytes.Buffer

	app, err := NewApp(cfg, d, &out)
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Fetch(context.Background())

	var downloadErr *DownloadError
	require.True(t, errors.As(err, &downloadErr))
	assert.Equal(t, 1, downloadErr.Status)
	assert.Len(t, d.calls, 1)
	assert.Contains(t, out.String(), "Download failed")
	assert.NoDirExists(t, filepath.Join(cfg.OutputRoot, "fr"))
}

func TestAppFetchMissingManifest(t *testing.T) {
	cfg := testConfig(t, "")
	require.NoError(t, os.Remove(cfg.ManifestPath))

	app, err := NewApp(cfg, &fakeDownloader{}, &bytes.Buffer{})
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Fetch(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.DirExists(t, cfg.OutputRoot)
}

func TestAppFetchUnopenableHistory(t *testing.T) {
	cfg := testConfig(t, "code,release\nen,rel-v1.0\n")
	blocker := filepath.Join(filepath.Dir(cfg.HistoryPath), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0o644))
	cfg.HistoryPath = filepath.Join(blocker, "history")
	d := &fakeDownloader{}

	app, err := NewApp(cfg, d, &bytes.Buffer{})
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.History)

	_, err = app.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []downloadCall{{release: "rel-v1.0", dir: filepath.Join(cfg.OutputRoot, "en")}}, d.calls)
	assert.ErrorIs(t, app.WriteHistory(&bytes.Buffer{}, false), ErrHistoryDisabled)
}

func TestAppWriteHistory(t *testing.T) {
	cfg := testConfig(t, "code,release\nen,rel-v1.0\n")

	app, err := NewApp(cfg, &fakeDownloader{}, &bytes.Buffer{})
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Fetch(context.Background())
	require.NoError(t, err)

	var tableOut bytes.Buffer
	require.NoError(t, app.WriteHistory(&tableOut, false))
	assert.Contains(t, tableOut.String(), "rel-v1.0")
	assert.Contains(t, tableOut.String(), "RELEASE")

	var jsonOut bytes.Buffer
	require.NoError(t, app.WriteHistory(&jsonOut, true))
	var entries []history.Entry
	require.NoError(t, json.Unmarshal(jsonOut.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "en", entries[0].Code)
}

func TestAppWriteHistoryDisabled(t *testing.T) {
	cfg := testConfig(t, "code,release\n")
	cfg.HistoryPath = ""

	app, err := NewApp(cfg, &fakeDownloader{}, &bytes.Buffer{})
	require.NoError(t, err)
	defer app.Close()

	assert.ErrorIs(t, app.WriteHistory(&bytes.Buffer{}, false), ErrHistoryDisabled)
}

func TestNewPrunerInvalidPattern(t *testing.T) {
	cfg := testConfig(t, "code,release\n")
	cfg.PrunePatterns = []string{"[a-"}

	_, err := NewPruner(cfg)
	assert.Error(t, err)
}
