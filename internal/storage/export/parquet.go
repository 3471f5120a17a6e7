// Package export hands archived snapshots off to analysis consumers as
// Parquet files.
package export

import (
	"context"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/oitrack/internal/errors"
	"github.com/xtxerr/oitrack/internal/storage"
)

// ArchiveRow is the Parquet layout of an archived snapshot.
type ArchiveRow struct {
	TimestampMs       int64   `parquet:"timestamp_ms"`
	Asset             string  `parquet:"asset,zstd"`
	SpotPrice         float64 `parquet:"spot_price"`
	Expiry            string  `parquet:"expiry,zstd"`
	ExpiryISO         string  `parquet:"expiry_iso,zstd"`
	Instrument        string  `parquet:"instrument,zstd"`
	Strike            float64 `parquet:"strike"`
	OptionType        string  `parquet:"option_type,zstd"`
	OpenInterest      float64 `parquet:"open_interest"`
	Delta             float64 `parquet:"delta"`
	Gamma             float64 `parquet:"gamma"`
	Theta             float64 `parquet:"theta"`
	Vega              float64 `parquet:"vega"`
	ImpliedVolatility float64 `parquet:"implied_volatility"`
}

// writeChunkSize bounds how many rows are handed to the Parquet writer at
// once.
const writeChunkSize = 10000

// Archive writes the full archive partition to a Parquet file at path,
// returning the number of rows exported.
func Archive(ctx context.Context, st *storage.Store, path string) (int64, error) {
	rows, err := st.ArchiveRows(ctx)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStorage, "create %s: %v", path, err)
	}
	defer f.Close()

	w := parquet.NewGenericWriter[ArchiveRow](f, parquet.Compression(&parquet.Zstd))

	buf := make([]ArchiveRow, 0, writeChunkSize)
	var written int64

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n, err := w.Write(buf)
		if err != nil {
			return errors.Wrapf(errors.ErrStorage, "write parquet: %v", err)
		}
		written += int64(n)
		buf = buf[:0]
		return nil
	}

	for _, r := range rows {
		buf = append(buf, toParquet(r))
		if len(buf) == writeChunkSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}

	if err := w.Close(); err != nil {
		return written, errors.Wrapf(errors.ErrStorage, "close parquet writer: %v", err)
	}
	if err := f.Close(); err != nil {
		return written, errors.Wrapf(errors.ErrStorage, "close %s: %v", path, err)
	}

	return written, nil
}

func toParquet(r storage.SnapshotRow) ArchiveRow {
	return ArchiveRow{
		TimestampMs:       r.Timestamp.UnixMilli(),
		Asset:             r.Asset,
		SpotPrice:         r.SpotPrice,
		Expiry:            r.Expiry,
		ExpiryISO:         r.ExpiryISO.Format(time.DateOnly),
		Instrument:        r.Instrument,
		Strike:            r.Strike,
		OptionType:        string(r.OptionType),
		OpenInterest:      r.OpenInterest,
		Delta:             r.Delta,
		Gamma:             r.Gamma,
		Theta:             r.Theta,
		Vega:              r.Vega,
		ImpliedVolatility: r.ImpliedVolatility,
	}
}
