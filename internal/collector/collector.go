// Package collector orchestrates one collection cycle: derive target
// maturities, resolve them to listed expiries, fetch the option chain for
// each resolved expiry, persist the batches, and optionally run a
// retention sweep.
//
// The cycle is strictly sequential. Upstream fetch failures degrade the
// cycle (skip an instrument, abort one asset); storage failures abort the
// run.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/oitrack/internal/errors"
	"github.com/xtxerr/oitrack/internal/expiry"
	"github.com/xtxerr/oitrack/internal/logging"
	"github.com/xtxerr/oitrack/internal/storage"
	"github.com/xtxerr/oitrack/internal/storage/retention"
)

// DataSource supplies the market data a cycle consumes. Implemented by
// the deribit client; faked in tests.
type DataSource interface {
	// SpotPrice returns the current reference price for an asset.
	SpotPrice(ctx context.Context, asset string) (float64, error)

	// ListedExpiries maps every listed expiry code to its aggregate open
	// interest across the instruments sharing it.
	ListedExpiries(ctx context.Context, asset string) (map[string]float64, error)

	// Instruments fetches the option chain for one resolved expiry.
	Instruments(ctx context.Context, asset, expiryCode string) ([]storage.InstrumentQuote, error)
}

// Config configures a Collector.
type Config struct {
	// Assets are collected in order; a failure on one does not abort the
	// others unless it is a storage failure.
	Assets []string

	// Targets derives the calendar target maturities each cycle.
	Targets expiry.TargetCalculator

	// SweepPerCycle runs a retention sweep at the end of every cycle.
	SweepPerCycle bool
}

// Collector runs collection cycles against one store.
type Collector struct {
	cfg       Config
	source    DataSource
	store     *storage.Store
	retention *retention.Manager // nil disables sweeping
	log       *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// New creates a Collector. retention may be nil when no sweeping is
// wanted.
func New(cfg Config, source DataSource, store *storage.Store, ret *retention.Manager, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		cfg:       cfg,
		source:    source,
		store:     store,
		retention: ret,
		log:       log,
		now:       time.Now,
	}
}

// RunCycle executes one full collection cycle across all configured
// assets. Per-asset fetch failures are logged and skipped; a storage
// failure is returned and aborts the run.
func (c *Collector) RunCycle(ctx context.Context) error {
	runID := uuid.NewString()
	ctx = logging.ContextWithRunID(ctx, runID)
	log := c.log.With("run_id", runID)

	start := c.now()
	log.Info("collection cycle started", "assets", c.cfg.Assets)

	for _, asset := range c.cfg.Assets {
		actx := logging.ContextWithAsset(ctx, asset)
		if err := c.collectAsset(actx, log.With("asset", asset), asset); err != nil {
			if errors.IsStorage(err) || ctx.Err() != nil {
				return err
			}
			// No snapshot is meaningful without this asset's inputs, but
			// the other assets are unaffected.
			log.Error("asset cycle aborted", "asset", asset, "error", err)
		}
	}

	if c.cfg.SweepPerCycle && c.retention != nil {
		if _, err := c.retention.Sweep(ctx); err != nil {
			if errors.IsStorage(err) {
				return err
			}
			log.Warn("retention sweep failed", "error", err)
		}
	}

	log.Info("collection cycle finished", "elapsed", c.now().Sub(start).Round(time.Millisecond))
	return nil
}

// collectAsset runs the target/resolve/fetch/write pipeline for one
// asset.
func (c *Collector) collectAsset(ctx context.Context, log *slog.Logger, asset string) error {
	spot, err := c.source.SpotPrice(ctx, asset)
	if err != nil {
		return errors.Wrapf(err, "no reference spot price for %s", asset)
	}

	listed, err := c.source.ListedExpiries(ctx, asset)
	if err != nil {
		return err
	}

	now := c.now()
	targets := c.cfg.Targets.Compute(now)
	resolved := c.resolveTargets(log, targets, listed, now)
	if len(resolved) == 0 {
		return errors.Wrapf(errors.ErrNoResolution, "%s: %d listed expiries matched no target", asset, len(listed))
	}

	log.Info("expiries resolved",
		"spot", spot,
		"targets", expiry.Codes(targets),
		"resolved", resolved,
	)

	for _, code := range resolved {
		quotes, err := c.source.Instruments(ctx, asset, code)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Warn("chain fetch failed, skipping expiry", "expiry", code, "error", err)
			continue
		}
		if len(quotes) == 0 {
			log.Warn("no instruments for expiry, nothing to persist", "expiry", code)
			continue
		}

		n, err := c.store.WriteSnapshot(ctx, asset, spot, quotes)
		if err != nil {
			return err
		}

		summary := SummarizeBatch(quotes)
		log.Info("expiry snapshot stored",
			"expiry", code,
			"rows", n,
			"oi_p50", summary.OIQuantile(0.50),
			"oi_p95", summary.OIQuantile(0.95),
			"iv_p50", summary.IVQuantile(0.50),
		)
	}

	return nil
}

// resolveTargets maps each target to a listed expiry, drops past-dated
// resolutions (resolution itself is purely geometric and does not know
// "today"), and deduplicates codes across targets while preserving order.
func (c *Collector) resolveTargets(log *slog.Logger, targets []expiry.Target, listed map[string]float64, now time.Time) []string {
	today := expiry.DateOf(now)

	seen := make(map[string]bool, len(targets))
	resolved := make([]string, 0, len(targets))

	for _, t := range targets {
		code, ok := expiry.Resolve(t.Date, listed)
		if !ok {
			log.Warn("target has no listed candidate", "target", t.Label, "date", expiry.Format(t.Date))
			continue
		}

		d, err := expiry.Parse(code)
		if err != nil {
			// Resolve only returns parsable codes; guard anyway.
			continue
		}
		if d.Before(today) {
			log.Debug("resolved expiry already in the past, dropped", "target", t.Label, "expiry", code)
			continue
		}

		if seen[code] {
			continue
		}
		seen[code] = true
		resolved = append(resolved, code)
	}

	return resolved
}
