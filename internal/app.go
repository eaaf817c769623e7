package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/ogero/stt-models/internal/common"
	"github.com/ogero/stt-models/internal/config"
	"github.com/ogero/stt-models/internal/history"
	"github.com/ogero/stt-models/internal/manifest"
	"github.com/ogero/stt-models/internal/prune"
	"github.com/ogero/stt-models/internal/release"
)

// ErrHistoryDisabled is returned when history is requested but no history store is configured.
var ErrHistoryDisabled = errors.New("fetch history is disabled")

// App represents the main application structure that ties the configuration to the release fetcher.
type App struct {
	Config  *config.Config
	Fetcher ReleaseFetcher
	Pruner  *prune.Pruner
	History history.Store
}

/*
NewApp creates a new instance of the App struct.

Parameters:
  - cfg: The validated configuration.
  - downloader: The downloader invoked for every manifest row.
  - out: Where progress messages are written.

Returns:
  - A pointer to the newly created App instance. Close must be called to flush the history store.
    A history store that cannot be opened is logged and left out.
*/
func NewApp(cfg *config.Config, downloader release.Downloader, out io.Writer) (*App, error) {
	pruner, err := NewPruner(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Pruner: pruner,
	}

	var opts []FetcherOption
	if cfg.Prune {
		opts = append(opts, WithPruner(pruner))
	}

	if cfg.HistoryPath != "" {
		store, err := history.Open(cfg.HistoryPath, cfg.HistoryTTL)
		if err != nil {
			common.Log.Warn("Failed to history.Open, fetch history disabled", "path", cfg.HistoryPath, "err", err)
		} else {
			app.History = store
			opts = append(opts, WithHistory(store))
		}
	}

	app.Fetcher = NewReleaseFetcher(cfg.OutputRoot, downloader, out, opts...)

	return app, nil
}

// NewPruner builds the pruner described by cfg: the binary-model patterns first, then the scorer rule.
func NewPruner(cfg *config.Config) (*prune.Pruner, error) {
	rules := make([]prune.Rule, 0, len(cfg.PrunePatterns)+1)
	for _, pattern := range cfg.PrunePatterns {
		rules = append(rules, prune.BinaryModelRule(pattern))
	}
	rules = append(rules, prune.ScorerRule(cfg.ScorerPattern, int64(cfg.ScorerMaxSize)))

	pruner, err := prune.NewPruner(rules...)
	if err != nil {
		return nil, fmt.Errorf("failed to prune.NewPruner: %w", err)
	}
	return pruner, nil
}

// Fetch downloads every release listed in the configured manifest.
func (a *App) Fetch(ctx context.Context) (*Summary, error) {
	if err := a.Fetcher.EnsureOutputRoot(); err != nil {
		return nil, err
	}

	m, err := manifest.Open(a.Config.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to manifest.Open: %w", err)
	}
	defer m.Close()

	summary, err := a.Fetcher.Run(ctx, m)
	if err != nil {
		return summary, err
	}

	common.Log.InfoContext(ctx, "Fetched releases",
		"count", len(summary.Fetched),
		"prunedFiles", summary.PrunedFiles,
		"prunedSize", humanize.IBytes(uint64(summary.PrunedBytes)))

	return summary, nil
}

// Prune applies the pruning rules to dir, whether pruning after download is enabled or not.
func (a *App) Prune(ctx context.Context, dir string) prune.Result {
	return a.Pruner.Prune(ctx, dir)
}

// WriteHistory writes the recorded fetch attempts to w as a table, or as JSON when asJSON is set.
func (a *App) WriteHistory(w io.Writer, asJSON bool) error {
	if a.History == nil {
		return ErrHistoryDisabled
	}

	entries, err := a.History.List()
	if err != nil {
		return fmt.Errorf("failed to history.Store.List: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []history.Entry{}
		}
		return enc.Encode(entries)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Started", "Code", "Release", "Dir", "Status", "Pruned", "Duration"})
	for _, e := range entries {
		status := strconv.Itoa(e.Status)
		if e.ErrorMessage != "" {
			status = "error"
		}
		t.AppendRow(table.Row{
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.Code,
			e.Release,
			e.OutputDir,
			status,
			fmt.Sprintf("%d (%s)", e.PrunedFiles, humanize.IBytes(uint64(e.PrunedBytes))),
			e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond).String(),
		})
	}
	t.Render()

	return nil
}

// Close releases the history store.
func (a *App) Close() error {
	if a.History == nil {
		return nil
	}
	return a.History.Close()
}
