package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ogero/stt-models/internal/common"
	"github.com/ogero/stt-models/internal/history"
	"github.com/ogero/stt-models/internal/manifest"
	"github.com/ogero/stt-models/internal/prune"
	"github.com/ogero/stt-models/internal/release"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DownloadError is returned when the download command exits with a non-zero status.
// The process is expected to exit with Status.
type DownloadError struct {
	Row       manifest.Row
	OutputDir string
	Status    int
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of release %s to %s failed with status %d", e.Row.Release, e.OutputDir, e.Status)
}

// FetchResult describes a fetched release.
type FetchResult struct {
	Row       manifest.Row
	OutputDir string
	Pruned    prune.Result
}

// Summary describes a whole manifest run.
type Summary struct {
	Fetched     []FetchResult
	PrunedFiles int
	PrunedBytes int64
}

// RowSource yields manifest rows until io.EOF.
type RowSource interface {
	Next() (manifest.Row, error)
}

// ReleaseFetcher downloads the releases listed in a manifest, one language at a time.
type ReleaseFetcher interface {
	// EnsureOutputRoot creates the output root, including its parents, when missing.
	EnsureOutputRoot() error
	// OutputDir returns the directory the release of a language is downloaded to.
	OutputDir(code string) string
	// FetchRelease downloads the release of row into its output dir and returns the download command status.
	FetchRelease(ctx context.Context, row manifest.Row) (int, error)
	// Prune deletes the unneeded files of outputDir. It is a no-op when pruning is disabled.
	Prune(ctx context.Context, outputDir string) prune.Result
	// Run fetches, and prunes, every row of rows in order. It stops at the first failure,
	// returning a *DownloadError when the download command failed.
	Run(ctx context.Context, rows RowSource) (*Summary, error)
}

type releaseFetcher struct {
	outputRoot string
	downloader release.Downloader
	pruner     *prune.Pruner
	history    history.Store
	out        io.Writer
}

// FetcherOption configures a ReleaseFetcher.
type FetcherOption func(*releaseFetcher)

// WithPruner enables pruning after every successful download.
func WithPruner(p *prune.Pruner) FetcherOption {
	return func(f *releaseFetcher) { f.pruner = p }
}

// WithHistory records every fetch attempt in store.
func WithHistory(store history.Store) FetcherOption {
	return func(f *releaseFetcher) { f.history = store }
}

// NewReleaseFetcher creates a ReleaseFetcher downloading into outputRoot with downloader.
// Progress messages are written to out.
func NewReleaseFetcher(outputRoot string, downloader release.Downloader, out io.Writer, opts ...FetcherOption) ReleaseFetcher {
	f := &releaseFetcher{
		outputRoot: outputRoot,
		downloader: downloader,
		out:        out,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// EnsureOutputRoot creates the output root, including its parents, when missing.
func (f *releaseFetcher) EnsureOutputRoot() error {
	if err := os.MkdirAll(f.outputRoot, 0o755); err != nil {
		return fmt.Errorf("failed to os.MkdirAll: %w", err)
	}
	return nil
}

// OutputDir returns the directory the release of a language is downloaded to.
func (f *releaseFetcher) OutputDir(code string) string {
	return filepath.Join(f.outputRoot, code)
}

// FetchRelease downloads the release of row into its output dir and returns the download command status.
func (f *releaseFetcher) FetchRelease(ctx context.Context, row manifest.Row) (int, error) {

	ctx, span := otel.Tracer("").Start(ctx, "internal.ReleaseFetcher.FetchRelease")
	defer span.End()

	outputDir := f.OutputDir(row.Code)
	span.SetAttributes(
		attribute.String("release.code", row.Code),
		attribute.String("release.id", row.Release),
		attribute.String("release.dir", outputDir),
	)

	_, _ = fmt.Fprintf(f.out, "Downloading release %s to %s\n", row.Release, outputDir)
	common.Log.InfoContext(ctx, "Downloading release",
		"code", row.Code, "language", common.LanguageName(row.Code), "release", row.Release, "dir", outputDir)

	status, err := f.downloader.Download(ctx, row.Release, outputDir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		common.ReleasesFetchedTotalIncr(ctx, row.Code, "error")
		return 0, fmt.Errorf("failed to release.Downloader.Download: %w", err)
	}
	span.SetAttributes(attribute.Int("release.status", status))

	if status != 0 {
		span.SetStatus(codes.Error, "download command failed")
		common.ReleasesFetchedTotalIncr(ctx, row.Code, "failed")
		return status, nil
	}

	common.ReleasesFetchedTotalIncr(ctx, row.Code, "ok")
	return 0, nil
}

// Prune deletes the unneeded files of outputDir. It is a no-op when pruning is disabled.
func (f *releaseFetcher) Prune(ctx context.Context, outputDir string) prune.Result {
	if f.pruner == nil {
		return prune.Result{}
	}

	res := f.pruner.Prune(ctx, outputDir)
	if len(res.Removed) > 0 {
		common.Log.InfoContext(ctx, "Pruned release files",
			"dir", outputDir, "files", len(res.Removed), "size", humanize.IBytes(uint64(res.Bytes)))
	}
	return res
}

// Run fetches, and prunes, every row of rows in order.
func (f *releaseFetcher) Run(ctx context.Context, rows RowSource) (*Summary, error) {
	if err := f.EnsureOutputRoot(); err != nil {
		return nil, err
	}

	summary := &Summary{}
	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, fmt.Errorf("failed to read manifest: %w", err)
		}

		entry := history.Entry{
			Code:      row.Code,
			Release:   row.Release,
			OutputDir: f.OutputDir(row.Code),
			StartedAt: time.Now(),
		}

		status, err := f.FetchRelease(ctx, row)
		if err != nil {
			entry.ErrorMessage = err.Error()
			f.record(ctx, entry)
			return summary, err
		}

		if status != 0 {
			_, _ = fmt.Fprintln(f.out, "Download failed")
			entry.Status = status
			f.record(ctx, entry)
			return summary, &DownloadError{Row: row, OutputDir: entry.OutputDir, Status: status}
		}

		pruned := f.Prune(ctx, entry.OutputDir)
		entry.PrunedFiles = len(pruned.Removed)
		entry.PrunedBytes = pruned.Bytes
		f.record(ctx, entry)

		summary.Fetched = append(summary.Fetched, FetchResult{Row: row, OutputDir: entry.OutputDir, Pruned: pruned})
		summary.PrunedFiles += len(pruned.Removed)
		summary.PrunedBytes += pruned.Bytes
	}
}

func (f *releaseFetcher) record(ctx context.Context, entry history.Entry) {
	if f.history == nil {
		return
	}
	entry.FinishedAt = time.Now()
	if err := f.history.Record(entry); err != nil {
		common.Log.WarnContext(ctx, "Failed to history.Store.Record", "err", err)
	}
}
