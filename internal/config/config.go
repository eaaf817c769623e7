package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
)

// Config holds the fetcher settings. Every field can be set through the environment
// and most of them are later overridden by command line flags.
type Config struct {
	// ManifestPath is the CSV file mapping language codes to release identifiers.
	ManifestPath string `env:"MANIFEST_PATH" envDefault:"scripts/coqui_releases.csv"`
	// OutputRoot is the directory under which one subdirectory per language is created.
	OutputRoot string `env:"OUTPUT_ROOT" envDefault:"build/models"`
	// ReleaseRepo is the owner/repo coordinate the releases are downloaded from.
	ReleaseRepo string `env:"RELEASE_REPO" envDefault:"coqui-ai/STT-models"`
	// DownloadCommand is the binary invoked to download a release.
	DownloadCommand string `env:"DOWNLOAD_COMMAND" envDefault:"gh"`

	// Prune enables the removal of large unused files after each download.
	Prune bool `env:"PRUNE" envDefault:"true"`
	// PrunePatterns are the file name globs deleted regardless of size.
	PrunePatterns []string `env:"PRUNE_PATTERNS" envDefault:"*.pb*" envSeparator:","`
	// ScorerPattern is the case-insensitive glob of scorer files.
	ScorerPattern string `env:"SCORER_PATTERN" envDefault:"*.scorer"`
	// ScorerMaxSize is the size above which scorer files are deleted.
	ScorerMaxSize ByteSize `env:"SCORER_MAX_SIZE" envDefault:"150MiB"`

	// HistoryPath is the badger directory used to record fetch attempts. Empty disables it.
	HistoryPath string `env:"HISTORY_PATH" envDefault:".cache/fetch-history"`
	// HistoryTTL is how long fetch attempts are kept.
	HistoryTTL time.Duration `env:"HISTORY_TTL" envDefault:"720h"`

	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceEnvironment   string `env:"SERVICE_ENVIRONMENT" envDefault:"lcl"`
	OtelExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`
}

var repoRE = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to env.Parse: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late, after some releases were already fetched.
func (c *Config) Validate() error {
	if c.ManifestPath == "" {
		return errors.New("manifest path is empty")
	}
	if c.OutputRoot == "" {
		return errors.New("output root is empty")
	}
	if !repoRE.MatchString(c.ReleaseRepo) {
		return fmt.Errorf("invalid release repo %q, expected owner/repo", c.ReleaseRepo)
	}
	if c.DownloadCommand == "" {
		return errors.New("download command is empty")
	}
	if c.ScorerMaxSize == 0 {
		return errors.New("scorer max size must be greater than 0")
	}
	return nil
}

// ByteSize is a size in bytes written in human form, like "150MiB" or "200 MB".
type ByteSize uint64

// UnmarshalText implements encoding.TextUnmarshaler, used by env.Parse.
func (b *ByteSize) UnmarshalText(text []byte) error {
	return b.Set(string(text))
}

// Set implements pflag.Value.
func (b *ByteSize) Set(s string) error {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("failed to humanize.ParseBytes: %w", err)
	}
	*b = ByteSize(v)
	return nil
}

// String implements pflag.Value.
func (b *ByteSize) String() string {
	return humanize.IBytes(uint64(*b))
}

// Type implements pflag.Value.
func (b *ByteSize) Type() string {
	return "size"
}
