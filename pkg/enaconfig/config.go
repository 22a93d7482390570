// Package enaconfig parses and validates the TOML configuration file: a
// global scraping-defaults block, per-board overrides, per-pipeline rate
// limiting, retry backoff, and the Asagi-compat database/media settings.
package enaconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/pluieelectrique/ena/pkg/fourchan"
)

// ScrapingDefaults is the `[scraping]` block; per-board entries in `[boards]`
// override any of these fields when present.
type ScrapingDefaults struct {
	PollInterval   Duration `toml:"poll_interval"`
	FetchArchive   bool     `toml:"fetch_archive"`
	DownloadMedia  bool     `toml:"download_media"`
	DownloadThumbs bool     `toml:"download_thumbs"`
}

// BoardConfig is one board's resolved, post-override scraping config.
type BoardConfig struct {
	Board          fourchan.Board
	PollInterval   time.Duration
	FetchArchive   bool
	DownloadMedia  bool
	DownloadThumbs bool
}

// boardOverride is the raw `[boards.<code>]` TOML shape; every field is a
// pointer so that "absent" is distinguishable from "explicitly false/zero".
type boardOverride struct {
	PollInterval   *Duration `toml:"poll_interval"`
	FetchArchive   *bool     `toml:"fetch_archive"`
	DownloadMedia  *bool     `toml:"download_media"`
	DownloadThumbs *bool     `toml:"download_thumbs"`
}

// RateLimitingConfig configures one of the Fetcher's three pipelines.
type RateLimitingConfig struct {
	Interval       Duration `toml:"interval"`
	MaxPerInterval int      `toml:"max_per_interval"`
	MaxConcurrent  int      `toml:"max_concurrent"`
}

// RetryBackoffConfig configures the retry envelope applied to the thread
// and media pipelines.
type RetryBackoffConfig struct {
	Base   Duration `toml:"base"`
	Factor uint32   `toml:"factor"`
	Max    Duration `toml:"max"`
}

// NetworkConfig groups the Fetcher's rate limiting and retry settings.
type NetworkConfig struct {
	RateLimiting struct {
		Media      RateLimitingConfig `toml:"media"`
		Thread     RateLimitingConfig `toml:"thread"`
		ThreadList RateLimitingConfig `toml:"thread_list"`
	} `toml:"rate_limiting"`
	RetryBackoff RetryBackoffConfig `toml:"retry_backoff"`
}

// DatabaseMediaConfig groups the database connection and media storage
// settings.
type DatabaseMediaConfig struct {
	DatabaseURL string `toml:"database_url"`
	Charset     string `toml:"charset"`
	MediaPath   string `toml:"media_path"`
}

// AsagiCompatConfig groups the legacy-schema compatibility flags.
type AsagiCompatConfig struct {
	AdjustTimestamps       bool `toml:"adjust_timestamps"`
	RefetchArchivedThreads bool `toml:"refetch_archived_threads"`
	AlwaysAddArchiveTimes  bool `toml:"always_add_archive_times"`
	CreateIndexCounters    bool `toml:"create_index_counters"`
}

// rawConfig is the direct TOML decode target.
type rawConfig struct {
	Scraping      ScrapingDefaults         `toml:"scraping"`
	Boards        map[string]boardOverride `toml:"boards"`
	Network       NetworkConfig            `toml:"network"`
	DatabaseMedia DatabaseMediaConfig      `toml:"database_media"`
	AsagiCompat   AsagiCompatConfig        `toml:"asagi_compat"`
}

// Config is the fully resolved, validated configuration.
type Config struct {
	Boards        []BoardConfig
	Network       NetworkConfig
	DatabaseMedia DatabaseMediaConfig
	AsagiCompat   AsagiCompatConfig
}

// Load reads, parses, and validates the configuration file at path. Any
// non-fatal concerns (currently: a board polled faster than 4chan's API
// rules recommend) are logged as warnings through logger rather than
// rejected.
func Load(path string, logger log.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "could not parse %s", path)
	}

	cfg, err := resolve(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	for _, w := range cfg.warnings() {
		level.Warn(logger).Log("msg", w)
	}
	return cfg, nil
}

func resolve(raw rawConfig) (*Config, error) {
	if len(raw.Boards) == 0 {
		return nil, errors.New("config: at least one board must be configured")
	}

	boards := make([]BoardConfig, 0, len(raw.Boards))
	for code, override := range raw.Boards {
		board := fourchan.Board(code)

		bc := BoardConfig{
			Board:          board,
			PollInterval:   raw.Scraping.PollInterval.Duration(),
			FetchArchive:   raw.Scraping.FetchArchive,
			DownloadMedia:  raw.Scraping.DownloadMedia,
			DownloadThumbs: raw.Scraping.DownloadThumbs,
		}
		if override.PollInterval != nil {
			bc.PollInterval = override.PollInterval.Duration()
		}
		if override.FetchArchive != nil {
			bc.FetchArchive = *override.FetchArchive
		}
		if override.DownloadMedia != nil {
			bc.DownloadMedia = *override.DownloadMedia
		}
		if override.DownloadThumbs != nil {
			bc.DownloadThumbs = *override.DownloadThumbs
		}

		// fetch_archive is forced false on boards without an archive
		// endpoint, regardless of what the config says.
		if !board.IsArchived() {
			bc.FetchArchive = false
		}

		boards = append(boards, bc)
	}

	sort.Slice(boards, func(i, j int) bool { return boards[i].Board < boards[j].Board })

	return &Config{
		Boards:        boards,
		Network:       raw.Network,
		DatabaseMedia: raw.DatabaseMedia,
		AsagiCompat:   raw.AsagiCompat,
	}, nil
}

func (c *Config) validate() error {
	for _, b := range c.Boards {
		if b.PollInterval < time.Second {
			return fmt.Errorf("config: board %q: poll_interval must be at least 1 second (preferably 10 seconds or more)", b.Board)
		}
	}

	for name, rl := range map[string]RateLimitingConfig{
		"media":       c.Network.RateLimiting.Media,
		"thread":      c.Network.RateLimiting.Thread,
		"thread_list": c.Network.RateLimiting.ThreadList,
	} {
		if rl.Interval.Duration() < time.Second {
			return fmt.Errorf("config: network.rate_limiting.%s: interval must be at least 1 second", name)
		}
		if rl.MaxPerInterval < 1 {
			return fmt.Errorf("config: network.rate_limiting.%s: max_per_interval must be at least 1", name)
		}
		if rl.MaxConcurrent < 1 {
			return fmt.Errorf("config: network.rate_limiting.%s: max_concurrent must be at least 1", name)
		}
	}

	if c.Network.RetryBackoff.Base.Duration() < time.Second {
		return errors.New("config: network.retry_backoff.base must be at least 1 second")
	}
	if c.Network.RetryBackoff.Factor < 2 {
		return errors.New("config: network.retry_backoff.factor must be at least 2")
	}
	if c.Network.RetryBackoff.Max.Duration() < 0 {
		return errors.New("config: network.retry_backoff.max must be non-negative")
	}

	if c.DatabaseMedia.DatabaseURL == "" {
		return errors.New("config: database_media.database_url must not be empty")
	}
	if c.DatabaseMedia.Charset == "" {
		return errors.New("config: database_media.charset must not be empty")
	}
	if c.DatabaseMedia.MediaPath == "" {
		return errors.New("config: database_media.media_path must not be empty")
	}
	if err := probeWritable(c.DatabaseMedia.MediaPath); err != nil {
		return errors.Wrap(err, "config: database_media.media_path is not writable")
	}

	return nil
}

// warnings returns non-fatal concerns about an already-validated config.
func (c *Config) warnings() []string {
	var w []string
	for _, b := range c.Boards {
		if b.PollInterval < 10*time.Second {
			w = append(w, fmt.Sprintf("board %q: poll_interval %s is below 4chan's recommended 10s minimum and may return stale data", b.Board, b.PollInterval))
		}
	}
	return w
}

// probeWritable creates and removes a tiny test file to confirm media_path
// is creatable and writable before the scraper starts relying on it.
func probeWritable(mediaPath string) error {
	if err := os.MkdirAll(mediaPath, 0o755); err != nil {
		return err
	}
	probe := filepath.Join(mediaPath, ".ena-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}
