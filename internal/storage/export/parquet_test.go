package export

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/oitrack/internal/storage"
	"github.com/xtxerr/oitrack/internal/storage/retention"
)

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	collectedAt := time.Date(2025, 10, 17, 10, 0, 0, 0, time.UTC)

	s, err := storage.Open(storage.Config{
		LivePath:    filepath.Join(dir, "live.duckdb"),
		ArchivePath: filepath.Join(dir, "archive.duckdb"),
		Now:         func() time.Time { return collectedAt },
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	quotes := make([]storage.InstrumentQuote, 0, 5)
	for i := 0; i < 5; i++ {
		strike := 60000 + float64(i)*1000
		quotes = append(quotes, storage.InstrumentQuote{
			Instrument:        fmt.Sprintf("BTC-26DEC25-%d-C", int(strike)),
			Expiry:            "26DEC25",
			Strike:            strike,
			OptionType:        storage.Call,
			OpenInterest:      float64(i + 1),
			Delta:             0.4,
			ImpliedVolatility: 60,
		})
	}
	if _, err := s.WriteSnapshot(ctx, "BTC", 65000, quotes); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Age everything into the archive before exporting.
	m := retention.New(s, retention.Config{LiveRetentionDays: 30, ArchiveRetentionDays: 365}, nil)
	m.SetNowFunc(func() time.Time { return collectedAt.AddDate(0, 0, 40) })
	if _, err := m.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	path := filepath.Join(dir, "archive.parquet")
	n, err := Archive(ctx, s, path)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 5 {
		t.Fatalf("exported = %d, want 5", n)
	}

	back, err := parquet.ReadFile[ArchiveRow](path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(back) != 5 {
		t.Fatalf("rows = %d, want 5", len(back))
	}

	wantTS := collectedAt.UnixMilli()
	for _, r := range back {
		if r.TimestampMs != wantTS {
			t.Errorf("%s timestamp_ms = %d, want %d", r.Instrument, r.TimestampMs, wantTS)
		}
		if r.Expiry != "26DEC25" || r.ExpiryISO != "2025-12-26" {
			t.Errorf("%s expiry = %s/%s", r.Instrument, r.Expiry, r.ExpiryISO)
		}
	}
}
