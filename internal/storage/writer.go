package storage

import (
	"context"
	"strings"
	"time"

	"github.com/xtxerr/oitrack/internal/errors"
	"github.com/xtxerr/oitrack/internal/expiry"
)

// WriteSnapshot persists one fetched batch into the live partition.
//
// The whole batch shares a single collection timestamp assigned here, at
// the instant it is about to be persisted: the per-instrument fetches
// happened at slightly different wall-clock moments but count as one
// observation. expiry_iso is derived from each row's expiry code.
//
// An empty batch is a warned no-op. A duplicate instrument within the
// batch is skipped with a warning. A (timestamp, instrument) pair that
// already exists in the live partition surfaces as ErrDuplicateSnapshot
// and fails the batch; persistence integrity is not negotiable the way
// upstream fetch flakiness is.
func (s *Store) WriteSnapshot(ctx context.Context, asset string, spotPrice float64, quotes []InstrumentQuote) (int, error) {
	if s.closed.Load() {
		return 0, errors.ErrStoreClosed
	}

	if len(quotes) == 0 {
		s.log.Warn("empty snapshot batch, nothing to persist", "asset", asset)
		return 0, nil
	}

	ts := s.now().UTC().Truncate(time.Millisecond)

	// One derived date per distinct expiry code in the batch.
	isoByCode := make(map[string]time.Time)
	for _, q := range quotes {
		if _, ok := isoByCode[q.Expiry]; ok {
			continue
		}
		d, err := expiry.Parse(q.Expiry)
		if err != nil {
			return 0, errors.Wrapf(err, "derive expiry_iso for %s", q.Instrument)
		}
		isoByCode[q.Expiry] = d
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "begin write: %v", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO oi_snapshots (`+snapshotCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "prepare insert: %v", err)
	}
	defer stmt.Close()

	written := 0
	seen := make(map[string]bool, len(quotes))

	for _, q := range quotes {
		if seen[q.Instrument] {
			s.log.Warn("duplicate instrument in batch, skipping", "instrument", q.Instrument)
			continue
		}
		seen[q.Instrument] = true

		_, err := stmt.ExecContext(ctx,
			ts, asset, spotPrice,
			q.Expiry, isoByCode[q.Expiry],
			q.Instrument, q.Strike, string(q.OptionType),
			q.OpenInterest, q.Delta, q.Gamma, q.Theta, q.Vega, q.ImpliedVolatility,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return 0, errors.Wrapf(errors.ErrDuplicateSnapshot, "%s at %s", q.Instrument, ts.Format(time.RFC3339Nano))
			}
			return 0, errors.Wrapf(errors.ErrStorage, "insert %s: %v", q.Instrument, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "commit write: %v", err)
	}

	s.log.Info("snapshot batch persisted",
		"asset", asset,
		"rows", written,
		"timestamp", ts.Format(time.RFC3339Nano),
	)
	return written, nil
}

// isDuplicateKey reports whether err is the live partition's uniqueness
// constraint firing.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint")
}
