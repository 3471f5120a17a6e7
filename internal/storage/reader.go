package storage

import (
	"context"
	"database/sql"

	"github.com/xtxerr/oitrack/internal/errors"
)

// LoadLatest returns every live row of the most recent collection
// timestamp for an asset, optionally narrowed to one expiry code.
func (s *Store) LoadLatest(ctx context.Context, asset, expiryCode string) ([]SnapshotRow, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}

	query := `
		SELECT ` + snapshotCols + `
		FROM oi_snapshots
		WHERE asset = ?
		  AND timestamp = (SELECT max(timestamp) FROM oi_snapshots WHERE asset = ?)`
	args := []any{asset, asset}

	if expiryCode != "" {
		query += ` AND expiry = ?`
		args = append(args, expiryCode)
	}
	query += ` ORDER BY strike, option_type`

	return s.queryRows(ctx, query, args...)
}

// LoadTimeseries returns the full live history for an asset in collection
// order, optionally narrowed to one expiry code.
func (s *Store) LoadTimeseries(ctx context.Context, asset, expiryCode string) ([]SnapshotRow, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}

	query := `SELECT ` + snapshotCols + ` FROM oi_snapshots WHERE asset = ?`
	args := []any{asset}

	if expiryCode != "" {
		query += ` AND expiry = ?`
		args = append(args, expiryCode)
	}
	query += ` ORDER BY timestamp ASC, instrument`

	return s.queryRows(ctx, query, args...)
}

// ArchiveRows returns the archive partition in collection order. Used by
// the Parquet export.
func (s *Store) ArchiveRows(ctx context.Context) ([]SnapshotRow, error) {
	if s.closed.Load() {
		return nil, errors.ErrStoreClosed
	}

	query := `SELECT ` + snapshotCols + `
		FROM archive.oi_snapshots_archive
		ORDER BY timestamp ASC, instrument`

	return s.queryRows(ctx, query)
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "query snapshots: %v", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		r, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "iterate snapshots: %v", err)
	}
	return out, nil
}

func scanSnapshotRow(rows *sql.Rows) (SnapshotRow, error) {
	var (
		r          SnapshotRow
		optionType string
	)
	err := rows.Scan(
		&r.Timestamp, &r.Asset, &r.SpotPrice,
		&r.Expiry, &r.ExpiryISO,
		&r.Instrument, &r.Strike, &optionType,
		&r.OpenInterest, &r.Delta, &r.Gamma, &r.Theta, &r.Vega, &r.ImpliedVolatility,
	)
	if err != nil {
		return SnapshotRow{}, errors.Wrapf(errors.ErrStorage, "scan snapshot: %v", err)
	}

	r.Timestamp = r.Timestamp.UTC()
	r.ExpiryISO = r.ExpiryISO.UTC()
	r.OptionType = OptionType(optionType)
	return r, nil
}
