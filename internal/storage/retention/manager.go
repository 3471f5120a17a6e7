// Package retention implements the storage lifecycle sweep that ages
// snapshot rows out of the live partition and prunes the archive.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xtxerr/oitrack/internal/errors"
	"github.com/xtxerr/oitrack/internal/expiry"
	"github.com/xtxerr/oitrack/internal/storage"
)

// Config holds the retention policy.
type Config struct {
	// LiveRetentionDays is how long rows stay in the live partition by
	// collection timestamp, independent of contract expiry. Keeping a few
	// days of already-expired data hot supports short-horizon decay and
	// Greeks-drift analysis.
	LiveRetentionDays int

	// ArchiveRetentionDays is the archive horizon by collection
	// timestamp. Rows past it are deleted for good.
	ArchiveRetentionDays int

	// Compact checkpoints both partitions after the sweep to reclaim
	// space freed by the deletes.
	Compact bool
}

// Manager runs retention sweeps over the two-tier store.
//
// Row state machine: Live, then Archived, then Purged. No transition
// skips a state and none reverses.
type Manager struct {
	store *storage.Store
	cfg   Config
	log   *slog.Logger

	// now is injectable for tests.
	now func() time.Time

	mu    sync.Mutex
	stats Stats
}

// Stats holds cumulative sweep statistics.
type Stats struct {
	LastRunTime time.Time
	SweepsRun   int64
	RowsMoved   int64
	RowsPurged  int64
	Errors      int64
}

// Result holds the outcome of one sweep.
type Result struct {
	Moved     int64
	Purged    int64
	Compacted bool
}

// New creates a retention manager over an open store.
func New(store *storage.Store, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Sweep runs the three lifecycle phases in order:
//
//  1. Promote: live rows whose contract expired, or whose collection
//     timestamp aged past the live window, are copied into the archive
//     and then deleted from the live partition.
//  2. Purge: archive rows past the archive horizon are deleted for good.
//  3. Compact: both partitions are checkpointed.
//
// Each phase is independently retryable; the promote phase's selection
// predicate is itself idempotent, so a sweep re-run with no intervening
// writes reports zero additional moves. A phase 1 or 2 failure aborts the
// sweep; a compaction failure only degrades storage efficiency and is
// reported in the result, not as an error.
func (m *Manager) Sweep(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	today := expiry.DateOf(now)
	liveCutoff := now.AddDate(0, 0, -m.cfg.LiveRetentionDays)
	archiveCutoff := now.AddDate(0, 0, -m.cfg.ArchiveRetentionDays)

	var res Result

	moved, err := m.store.PromoteAged(ctx, today, liveCutoff)
	if err != nil {
		m.stats.Errors++
		return res, errors.Wrap(err, "promote to archive")
	}
	res.Moved = moved

	purged, err := m.store.PurgeArchive(ctx, archiveCutoff)
	if err != nil {
		m.stats.Errors++
		return res, errors.Wrap(err, "purge archive")
	}
	res.Purged = purged

	if m.cfg.Compact {
		// Must not run while any write transaction is open; the store
		// serializes operations, so by this point none is.
		if err := m.store.Compact(ctx); err != nil {
			m.stats.Errors++
			m.log.Warn("compaction failed, retrying next sweep", "error", err)
		} else {
			res.Compacted = true
		}
	}

	m.stats.LastRunTime = now
	m.stats.SweepsRun++
	m.stats.RowsMoved += res.Moved
	m.stats.RowsPurged += res.Purged

	m.log.Info("retention sweep complete",
		"moved", res.Moved,
		"purged", res.Purged,
		"compacted", res.Compacted,
		"live_cutoff", liveCutoff.Format(time.RFC3339),
		"archive_cutoff", archiveCutoff.Format(time.RFC3339),
	)

	return res, nil
}

// Stats returns cumulative statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// SetNowFunc overrides the sweep clock. Test hook.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
