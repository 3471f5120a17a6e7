// Package loader loads and validates the collector configuration from
// YAML, with OITRACK_* environment variables taking precedence.
package loader

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/oitrack/config"
	"github.com/xtxerr/oitrack/internal/errors"
	"github.com/xtxerr/oitrack/internal/expiry"
)

// Config is the complete collector configuration.
type Config struct {
	// Assets are the underlyings to collect each cycle.
	Assets []string `yaml:"assets"`

	// DataDir is the root directory for both partition files.
	DataDir string `yaml:"data_dir"`

	Storage   StorageConfig   `yaml:"storage"`
	Targets   TargetsConfig   `yaml:"targets"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Collector CollectorConfig `yaml:"collector"`
	Log       LogConfig       `yaml:"log"`
}

// StorageConfig configures the two-tier store and its retention policy.
type StorageConfig struct {
	// LiveFile is the hot partition file name, relative to DataDir.
	LiveFile string `yaml:"live_file"`

	// ArchiveFile is the cold partition file name, relative to DataDir.
	ArchiveFile string `yaml:"archive_file"`

	// LiveRetentionDays is the hot window by collection timestamp.
	LiveRetentionDays int `yaml:"live_retention_days"`

	// ArchiveRetentionDays is the final deletion horizon.
	ArchiveRetentionDays int `yaml:"archive_retention_days"`

	// CompactAfterSweep checkpoints both partitions after each sweep.
	CompactAfterSweep bool `yaml:"compact_after_sweep"`
}

// TargetsConfig configures target maturity derivation.
type TargetsConfig struct {
	// IncludeNextWeek adds a near+7d target.
	IncludeNextWeek bool `yaml:"include_next_week"`

	// SettlementCutoffHour is the UTC hour of the same-day rollover rule.
	SettlementCutoffHour int `yaml:"settlement_cutoff_hour"`
}

// ExchangeConfig configures the market-data source.
type ExchangeConfig struct {
	BaseURL         string   `yaml:"base_url"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
}

// CollectorConfig configures the collection loop.
type CollectorConfig struct {
	// Interval is the pause between cycles in daemon mode.
	Interval Duration `yaml:"interval"`

	// SweepPerCycle runs a retention sweep at the end of every cycle.
	SweepPerCycle bool `yaml:"sweep_per_cycle"`
}

// Duration is a time.Duration that can be unmarshaled from YAML, either
// as a duration string ("5m") or as plain seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches output from human-readable text to JSON.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Assets:  []string{config.DefaultBaseAsset},
		DataDir: config.DefaultDataDir,
		Storage: StorageConfig{
			LiveFile:             config.DefaultLiveFile,
			ArchiveFile:          config.DefaultArchiveFile,
			LiveRetentionDays:    config.DefaultLiveRetentionDays,
			ArchiveRetentionDays: config.DefaultArchiveRetentionDays,
			CompactAfterSweep:    true,
		},
		Targets: TargetsConfig{
			SettlementCutoffHour: config.DefaultSettlementCutoffHour,
		},
		Exchange: ExchangeConfig{
			BaseURL:         config.DefaultBaseURL,
			RequestTimeout:  Duration(config.DefaultRequestTimeout),
			RateLimitPerSec: config.DefaultRateLimitPerSec,
		},
		Collector: CollectorConfig{
			Interval:      Duration(config.DefaultCollectInterval),
			SweepPerCycle: true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is an error so callers can decide
// whether to fall back to DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "parse %s: %v", path, err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides configuration from OITRACK_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OITRACK_ASSETS"); v != "" {
		var assets []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets = append(assets, strings.ToUpper(a))
			}
		}
		if len(assets) > 0 {
			c.Assets = assets
		}
	}
	if v := os.Getenv("OITRACK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("OITRACK_BASE_URL"); v != "" {
		c.Exchange.BaseURL = v
	}
	if v := os.Getenv("OITRACK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the configuration, collecting every problem rather than
// stopping at the first.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if len(c.Assets) == 0 {
		v.AddMissing("assets")
	}
	for _, a := range c.Assets {
		if strings.TrimSpace(a) == "" {
			v.AddField("assets", "blank asset symbol")
		}
	}

	if c.DataDir == "" {
		v.AddMissing("data_dir")
	}
	if c.Storage.LiveFile == "" {
		v.AddMissing("storage.live_file")
	}
	if c.Storage.ArchiveFile == "" {
		v.AddMissing("storage.archive_file")
	}

	if c.Storage.LiveRetentionDays <= 0 {
		v.AddField("storage.live_retention_days", "must be positive")
	}
	if c.Storage.ArchiveRetentionDays < c.Storage.LiveRetentionDays {
		v.AddField("storage.archive_retention_days", "must be at least the live retention")
	}

	if c.Targets.SettlementCutoffHour < 0 || c.Targets.SettlementCutoffHour > 23 {
		v.AddField("targets.settlement_cutoff_hour", "must be an hour 0-23")
	}

	if c.Exchange.BaseURL == "" {
		v.AddMissing("exchange.base_url")
	}
	if c.Exchange.RequestTimeout <= 0 {
		v.AddField("exchange.request_timeout", "must be positive")
	}
	if c.Exchange.RateLimitPerSec <= 0 {
		v.AddField("exchange.rate_limit_per_sec", "must be positive")
	}

	if c.Collector.Interval <= 0 {
		v.AddField("collector.interval", "must be positive")
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		v.Add(err)
	}

	return v.Err()
}

// LivePath returns the full path of the hot partition file.
func (c *Config) LivePath() string {
	return filepath.Join(c.DataDir, c.Storage.LiveFile)
}

// ArchivePath returns the full path of the cold partition file.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir, c.Storage.ArchiveFile)
}

// TargetCalculator builds the target maturity derivation from the
// configured rules.
func (c *Config) TargetCalculator() expiry.TargetCalculator {
	return expiry.TargetCalculator{
		SettlementCutoffHour: c.Targets.SettlementCutoffHour,
		IncludeNextWeek:      c.Targets.IncludeNextWeek,
	}
}

// ParseLevel maps a config level string onto a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.NewInvalidValue("log.level", level, "expected debug, info, warn or error")
	}
}
