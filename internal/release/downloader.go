// Package release runs the external command that downloads the assets of a release.
package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/ogero/stt-models/internal/common"
)

// ExitCommandNotRunnable is the status reported when the download command cannot be started,
// the same a shell reports for a command that is not found.
const ExitCommandNotRunnable = 127

// Downloader downloads the assets of a release into a directory.
type Downloader interface {
	// Download fetches every asset of release into dir and returns the command exit status.
	// A non-nil error is only returned when the status cannot be determined.
	Download(ctx context.Context, release, dir string) (int, error)
}

type ghDownloader struct {
	command string
	repo    string
	stdout  io.Writer
	stderr  io.Writer
}

// NewGHDownloader creates a Downloader invoking `<command> release download <release> --repo=<repo> --dir=<dir>`,
// the GitHub CLI contract. The command output is forwarded to stdout and stderr.
func NewGHDownloader(command, repo string, stdout, stderr io.Writer) Downloader {
	return &ghDownloader{
		command: command,
		repo:    repo,
		stdout:  stdout,
		stderr:  stderr,
	}
}

// Args returns the arguments passed to the download command.
func Args(release, repo, dir string) []string {
	return []string{"release", "download", release, "--repo=" + repo, "--dir=" + dir}
}

// Download runs the download command and waits for it to exit.
func (d *ghDownloader) Download(ctx context.Context, release, dir string) (int, error) {
	cmd := exec.CommandContext(ctx, d.command, Args(release, d.repo, dir)...)
	cmd.Stdout = d.stdout
	cmd.Stderr = d.stderr

	common.Log.DebugContext(ctx, "Running download command", "cmd", cmd.String())

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code, nil
		}
		// Killed by a signal
		if ctx.Err() != nil {
			return 0, fmt.Errorf("failed to exec.Cmd.Run: %w", ctx.Err())
		}
		return 0, fmt.Errorf("failed to exec.Cmd.Run: %w", err)
	}

	if ctx.Err() != nil {
		return 0, fmt.Errorf("failed to exec.Cmd.Run: %w", ctx.Err())
	}

	common.Log.WarnContext(ctx, "Failed to start download command", "cmd", d.command, "err", err)
	return ExitCommandNotRunnable, nil
}
