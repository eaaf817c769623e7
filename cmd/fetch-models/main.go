// Command fetch-models downloads the speech-to-text model releases listed in a CSV manifest,
// one directory per language, and prunes the files too large for small devices.
//
// Every setting is read from the environment (see internal/config) and can be overridden by flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ogero/stt-models/internal"
	"github.com/ogero/stt-models/internal/common"
	"github.com/ogero/stt-models/internal/config"
	"github.com/ogero/stt-models/internal/release"
	"github.com/spf13/cobra"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

const serviceName = "fetch-models"

// Exit codes other than the download command status.
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
)

type downloaderFactory func(cfg *config.Config, stdout, stderr io.Writer) release.Downloader

func ghDownloader(cfg *config.Config, stdout, stderr io.Writer) release.Downloader {
	return release.NewGHDownloader(cfg.DownloadCommand, cfg.ReleaseRepo, stdout, stderr)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, ghDownloader)
	stop()
	os.Exit(code)
}

type cli struct {
	cfg           *config.Config
	stdout        io.Writer
	stderr        io.Writer
	newDownloader downloaderFactory

	app       *internal.App
	shutdowns []func(ctx context.Context)
}

// run executes the command line and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, newDownloader downloaderFactory) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return ExitGeneralError
	}

	c := &cli{
		cfg:           cfg,
		stdout:        stdout,
		stderr:        stderr,
		newDownloader: newDownloader,
	}
	defer c.close()

	cmd := c.rootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	return c.exitCode(cmd.ExecuteContext(ctx))
}

func (c *cli) exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var downloadErr *internal.DownloadError
	if errors.As(err, &downloadErr) {
		common.Log.Error("Failed to download release", "code", downloadErr.Row.Code, "release", downloadErr.Row.Release, "status", downloadErr.Status)
		return downloadErr.Status
	}

	_, _ = fmt.Fprintln(c.stderr, "Error:", err)
	return ExitGeneralError
}

func (c *cli) rootCommand() *cobra.Command {
	var noPrune bool

	cmd := &cobra.Command{
		Use:     serviceName,
		Short:   "Download speech-to-text model releases",
		Long:    "Download the model releases listed in a CSV manifest into one directory per language, pruning large unused files.",
		Version: version,
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			if noPrune {
				c.cfg.Prune = false
			}
			return c.setup(cmd)
		},
		RunE:          c.fetch,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.cfg.ManifestPath, "manifest", c.cfg.ManifestPath, "CSV manifest mapping language codes to releases")
	flags.StringVarP(&c.cfg.OutputRoot, "output", "o", c.cfg.OutputRoot, "Directory the releases are downloaded to")
	flags.StringVar(&c.cfg.ReleaseRepo, "repo", c.cfg.ReleaseRepo, "Repository hosting the releases, as owner/repo")
	flags.StringVar(&c.cfg.DownloadCommand, "command", c.cfg.DownloadCommand, "Command used to download a release")
	flags.BoolVar(&noPrune, "no-prune", false, "Keep every downloaded file")
	flags.StringSliceVar(&c.cfg.PrunePatterns, "prune-pattern", c.cfg.PrunePatterns, "File name globs always pruned")
	flags.Var(&c.cfg.ScorerMaxSize, "scorer-max-size", "Scorer files larger than this are pruned")
	flags.StringVar(&c.cfg.HistoryPath, "history", c.cfg.HistoryPath, "Directory of the fetch history store, empty disables it")
	flags.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "Log level: debug, info, warn or error")

	cmd.AddCommand(c.fetchCommand())
	cmd.AddCommand(c.pruneCommand())
	cmd.AddCommand(c.historyCommand())

	return cmd
}

func (c *cli) fetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download every release of the manifest (default)",
		Args:  cobra.NoArgs,
		RunE:  c.fetch,
	}
}

func (c *cli) pruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune <dir>...",
		Short: "Prune already downloaded release directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dir := range args {
				res := c.app.Prune(cmd.Context(), dir)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d file(s) from %s (%s)\n", len(res.Removed), dir, humanize.IBytes(uint64(res.Bytes)))
			}
			return nil
		},
	}
}

func (c *cli) historyCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded fetch attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.WriteHistory(cmd.OutOrStdout(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func (c *cli) fetch(cmd *cobra.Command, _ []string) error {
	_, err := c.app.Fetch(cmd.Context())
	return err
}

// setup validates the final configuration and initializes logging, instrumentation and the app.
func (c *cli) setup(cmd *cobra.Command) error {
	ctx := cmd.Context()

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logShutdown, err := common.InitLogger(c.stderr, c.cfg.LogLevel, serviceName, version, c.cfg.ServiceEnvironment, c.cfg.OtelExporterEndpoint)
	if err != nil {
		return fmt.Errorf("failed to common.InitLogger: %w", err)
	}
	c.shutdowns = append(c.shutdowns, func(ctx context.Context) { _ = logShutdown(ctx) })

	instrumentationShutdown, err := common.InitInstrumentation(serviceName, version, c.cfg.ServiceEnvironment, c.cfg.OtelExporterEndpoint)
	if err != nil {
		return fmt.Errorf("failed to common.InitInstrumentation: %w", err)
	}
	c.shutdowns = append(c.shutdowns, instrumentationShutdown)

	appCfg := c.cfg
	if cmd.Name() == "prune" {
		// Pruning records nothing
		noHistory := *c.cfg
		noHistory.HistoryPath = ""
		appCfg = &noHistory
	}

	app, err := internal.NewApp(appCfg, c.newDownloader(appCfg, c.stdout, c.stderr), c.stdout)
	if err != nil {
		return fmt.Errorf("failed to internal.NewApp: %w", err)
	}
	c.app = app

	common.Log.DebugContext(ctx, "Configured", "manifest", c.cfg.ManifestPath, "output", c.cfg.OutputRoot, "repo", c.cfg.ReleaseRepo, "prune", c.cfg.Prune)

	return nil
}

func (c *cli) close() {
	if c.app != nil {
		if err := c.app.Close(); err != nil {
			common.Log.Warn("Failed to internal.App.Close", "err", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(c.shutdowns) - 1; i >= 0; i-- {
		c.shutdowns[i](ctx)
	}
}
