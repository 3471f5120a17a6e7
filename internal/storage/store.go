package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/oitrack/internal/errors"
)

// SchemaVersion is the current schema version of both partitions.
//
// History:
//
//	v1: base snapshot schema through delta/gamma
//	v2: adds theta and vega
//	v3: adds implied_volatility
const SchemaVersion = 3

// Config configures the two-tier store.
type Config struct {
	// LivePath is the live (hot) partition database file.
	LivePath string

	// ArchivePath is the archive (cold) partition database file. It is
	// attached to every connection under the "archive" alias.
	ArchivePath string

	// Logger receives storage events. Defaults to slog.Default().
	Logger *slog.Logger

	// Now supplies the batch collection timestamp. Defaults to time.Now.
	// Injectable for tests.
	Now func() time.Time
}

// Store is the two-tier snapshot store. All operations use transient
// connections from the pool; each logical operation is its own
// transaction, and no transaction ever spans both partitions (a DuckDB
// transaction may write to only one attached database).
type Store struct {
	db     *sql.DB
	log    *slog.Logger
	now    func() time.Time
	closed atomic.Bool
}

// Open opens (creating if necessary) both partition files, attaches the
// archive, and migrates both schemas forward to SchemaVersion.
func Open(cfg Config) (*Store, error) {
	if cfg.LivePath == "" || cfg.ArchivePath == "" {
		return nil, errors.NewMissingField("storage partition path")
	}

	for _, p := range []string{cfg.LivePath, cfg.ArchivePath} {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(errors.ErrStorage, "create data dir %s: %v", dir, err)
			}
		}
	}

	attach := fmt.Sprintf("ATTACH IF NOT EXISTS '%s' AS archive",
		strings.ReplaceAll(cfg.ArchivePath, "'", "''"))

	// The attach runs per connection so pooled connections always see
	// both partitions.
	connector, err := duckdb.NewConnector(cfg.LivePath, func(execer driver.ExecerContext) error {
		_, err := execer.ExecContext(context.Background(), attach, nil)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorage, "open %s: %v", cfg.LivePath, err)
	}

	db := sql.OpenDB(connector)

	// Single writer by design: the pipeline is strictly sequential and the
	// (timestamp, instrument) constraint is the only concurrency safeguard.
	db.SetMaxOpenConns(1)

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{db: db, log: log, now: now}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database handles.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// ============================================================================
// Schema migrations
// ============================================================================

// Migrations are strictly additive: new defaulted columns only, never
// breaking reads of rows persisted by older versions.
var liveMigrations = [][]string{
	{ // v1
		`CREATE TABLE IF NOT EXISTS oi_snapshots (
			timestamp     TIMESTAMP NOT NULL,
			asset         VARCHAR   NOT NULL,
			spot_price    DOUBLE    NOT NULL,
			expiry        VARCHAR   NOT NULL,
			expiry_iso    DATE      NOT NULL,
			instrument    VARCHAR   NOT NULL,
			strike        DOUBLE    NOT NULL,
			option_type   VARCHAR   NOT NULL CHECK (option_type IN ('call', 'put')),
			open_interest DOUBLE    NOT NULL,
			delta         DOUBLE    NOT NULL DEFAULT 0,
			gamma         DOUBLE    NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_live_ts_instrument ON oi_snapshots (timestamp, instrument)`,
		`CREATE INDEX IF NOT EXISTS idx_live_ts_asset ON oi_snapshots (timestamp, asset)`,
		`CREATE INDEX IF NOT EXISTS idx_live_expiry_iso ON oi_snapshots (expiry_iso)`,
	},
	{ // v2
		`ALTER TABLE oi_snapshots ADD COLUMN IF NOT EXISTS theta DOUBLE DEFAULT 0`,
		`ALTER TABLE oi_snapshots ADD COLUMN IF NOT EXISTS vega DOUBLE DEFAULT 0`,
	},
	{ // v3
		`ALTER TABLE oi_snapshots ADD COLUMN IF NOT EXISTS implied_volatility DOUBLE DEFAULT 0`,
	},
}

// The archive is an append-mostly ledger: same columns, no uniqueness
// constraint, so a retried move may legitimately land overlapping data.
var archiveMigrations = [][]string{
	{ // v1
		`CREATE TABLE IF NOT EXISTS archive.oi_snapshots_archive (
			timestamp     TIMESTAMP NOT NULL,
			asset         VARCHAR   NOT NULL,
			spot_price    DOUBLE    NOT NULL,
			expiry        VARCHAR   NOT NULL,
			expiry_iso    DATE      NOT NULL,
			instrument    VARCHAR   NOT NULL,
			strike        DOUBLE    NOT NULL,
			option_type   VARCHAR   NOT NULL,
			open_interest DOUBLE    NOT NULL,
			delta         DOUBLE    NOT NULL DEFAULT 0,
			gamma         DOUBLE    NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_archive_ts ON archive.oi_snapshots_archive (timestamp)`,
	},
	{ // v2
		`ALTER TABLE archive.oi_snapshots_archive ADD COLUMN IF NOT EXISTS theta DOUBLE DEFAULT 0`,
		`ALTER TABLE archive.oi_snapshots_archive ADD COLUMN IF NOT EXISTS vega DOUBLE DEFAULT 0`,
	},
	{ // v3
		`ALTER TABLE archive.oi_snapshots_archive ADD COLUMN IF NOT EXISTS implied_volatility DOUBLE DEFAULT 0`,
	},
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.migratePartition(ctx, "oi_snapshots", "schema_meta", liveMigrations); err != nil {
		return err
	}
	return s.migratePartition(ctx, "archive.oi_snapshots_archive", "archive.schema_meta", archiveMigrations)
}

// migratePartition brings one partition forward to SchemaVersion, applying
// only the steps past its recorded version.
func (s *Store) migratePartition(ctx context.Context, table, metaTable string, migrations [][]string) error {
	if len(migrations) != SchemaVersion {
		return errors.Wrapf(errors.ErrSchemaVersion, "%s: %d migrations for version %d", table, len(migrations), SchemaVersion)
	}

	createMeta := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL)`, metaTable)
	if _, err := s.db.ExecContext(ctx, createMeta); err != nil {
		return errors.Wrapf(errors.ErrStorage, "create %s: %v", metaTable, err)
	}

	var version int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT version FROM %s`, metaTable)).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		version = 0
	case err != nil:
		return errors.Wrapf(errors.ErrStorage, "read %s: %v", metaTable, err)
	case version > SchemaVersion:
		return errors.Wrapf(errors.ErrSchemaVersion, "%s is at v%d, binary supports v%d", table, version, SchemaVersion)
	}

	for v := version; v < SchemaVersion; v++ {
		for _, stmt := range migrations[v] {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return errors.Wrapf(errors.ErrStorage, "migrate %s to v%d: %v", table, v+1, err)
			}
		}
	}

	if version != SchemaVersion {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, metaTable)); err != nil {
			return errors.Wrapf(errors.ErrStorage, "reset %s: %v", metaTable, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (?)`, metaTable), SchemaVersion); err != nil {
			return errors.Wrapf(errors.ErrStorage, "record %s version: %v", metaTable, err)
		}
		if version > 0 {
			s.log.Info("partition schema migrated", "table", table, "from", version, "to", SchemaVersion)
		}
	}

	return nil
}

// ============================================================================
// Lifecycle operations used by the retention sweep
// ============================================================================

// snapshotCols is the canonical column order shared by both partitions.
const snapshotCols = `timestamp, asset, spot_price, expiry, expiry_iso, instrument,
	strike, option_type, open_interest, delta, gamma, theta, vega, implied_volatility`

// PromoteAged relocates every live row whose contract expired before
// expiryBefore or whose collection timestamp is older than tsBefore into
// the archive partition, then deletes the moved rows from the live
// partition. It returns the number of rows that completed the transition.
//
// The two halves run as separate single-statement transactions: the
// archive insert commits before any live delete, and the insert is an
// anti-join on (timestamp, instrument) so a sweep retried after a crash
// between the two steps neither loses rows nor duplicates them.
func (s *Store) PromoteAged(ctx context.Context, expiryBefore, tsBefore time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, errors.ErrStoreClosed
	}

	insert := fmt.Sprintf(`
		INSERT INTO archive.oi_snapshots_archive (%[1]s)
		SELECT %[1]s FROM oi_snapshots s
		WHERE (s.expiry_iso < ? OR s.timestamp < ?)
		  AND NOT EXISTS (
			SELECT 1 FROM archive.oi_snapshots_archive a
			WHERE a.timestamp = s.timestamp AND a.instrument = s.instrument
		  )`, snapshotCols)

	if _, err := s.db.ExecContext(ctx, insert, expiryBefore, tsBefore); err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "archive insert: %v", err)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM oi_snapshots WHERE expiry_iso < ? OR timestamp < ?`,
		expiryBefore, tsBefore)
	if err != nil {
		// The archive copy is already committed; the next sweep's
		// anti-join makes the retry safe.
		return 0, errors.Wrapf(errors.ErrStorage, "live delete after archive insert: %v", err)
	}

	moved, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "live delete rows affected: %v", err)
	}
	return moved, nil
}

// PurgeArchive permanently deletes archive rows whose collection timestamp
// is older than cutoff. There is no tier beyond the archive.
func (s *Store) PurgeArchive(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, errors.ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM archive.oi_snapshots_archive WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "archive purge: %v", err)
	}

	purged, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "archive purge rows affected: %v", err)
	}
	return purged, nil
}

// Compact checkpoints both partitions, reclaiming space freed by deletes.
// It must run outside any open transaction; DuckDB rejects CHECKPOINT
// while a transaction is active on the database.
func (s *Store) Compact(ctx context.Context) error {
	if s.closed.Load() {
		return errors.ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `CHECKPOINT`); err != nil {
		return errors.Wrapf(errors.ErrCompaction, "live partition: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `CHECKPOINT archive`); err != nil {
		return errors.Wrapf(errors.ErrCompaction, "archive partition: %v", err)
	}
	return nil
}

// PartitionCounts reports the current row count of each partition.
func (s *Store) PartitionCounts(ctx context.Context) (live, archive int64, err error) {
	if s.closed.Load() {
		return 0, 0, errors.ErrStoreClosed
	}

	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM oi_snapshots`).Scan(&live); err != nil {
		return 0, 0, errors.Wrapf(errors.ErrStorage, "live count: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM archive.oi_snapshots_archive`).Scan(&archive); err != nil {
		return 0, 0, errors.Wrapf(errors.ErrStorage, "archive count: %v", err)
	}
	return live, archive, nil
}
