// Package config provides configuration defaults for the oitrack
// collector.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or OITRACK_* environment
// variables.
package config

import "time"

// =============================================================================
// Collection Defaults
// =============================================================================

const (
	// DefaultBaseAsset is the asset collected when none is configured.
	// Override via config: assets
	DefaultBaseAsset = "BTC"

	// DefaultCollectInterval is the pause between collection cycles when
	// running as a daemon. Option OI and Greeks drift slowly; minutes-level
	// sampling is plenty.
	// Override via config: collector.interval
	DefaultCollectInterval = 15 * time.Minute

	// DefaultSettlementCutoffHour is the UTC hour after which a same-day
	// expiring contract is treated as already settling, rolling the near
	// target forward a week.
	// Override via config: targets.settlement_cutoff_hour
	DefaultSettlementCutoffHour = 8
)

// =============================================================================
// Exchange Defaults
// =============================================================================

const (
	// DefaultBaseURL is the exchange's public API root.
	// Override via config: exchange.base_url
	DefaultBaseURL = "https://www.deribit.com/api/v2"

	// DefaultRequestTimeout bounds each individual API call. There is no
	// retry; a timed-out instrument fetch is skipped.
	// Override via config: exchange.request_timeout
	DefaultRequestTimeout = 10 * time.Second

	// DefaultRateLimitPerSec paces sequential API calls. The public API
	// tolerates 20/s comfortably for unauthenticated access.
	// Override via config: exchange.rate_limit_per_sec
	DefaultRateLimitPerSec = 20.0
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir holds both partition files.
	// Override via config: data_dir
	DefaultDataDir = "data"

	// DefaultLiveFile is the hot partition database file name.
	// Override via config: storage.live_file
	DefaultLiveFile = "live.duckdb"

	// DefaultArchiveFile is the cold partition database file name.
	// Override via config: storage.archive_file
	DefaultArchiveFile = "archive.duckdb"

	// DefaultLiveRetentionDays keeps rows hot for a month after
	// collection, supporting short-horizon decay and Greeks-drift
	// analysis even after the contract expires.
	// Override via config: storage.live_retention_days
	DefaultLiveRetentionDays = 30

	// DefaultArchiveRetentionDays is the final deletion horizon; a year
	// of snapshots covers every listed quarterly cycle.
	// Override via config: storage.archive_retention_days
	DefaultArchiveRetentionDays = 365
)
