package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/oitrack/internal/errors"
	"github.com/xtxerr/oitrack/internal/expiry"
	"github.com/xtxerr/oitrack/internal/storage"
	"github.com/xtxerr/oitrack/internal/storage/retention"
)

// cycleTime is a Wednesday, well before the settlement cutoff applies to
// anything: near resolves to Friday 28NOV25.
var cycleTime = time.Date(2025, 11, 26, 10, 0, 0, 0, time.UTC)

// fakeSource is a scriptable DataSource.
type fakeSource struct {
	spot    map[string]float64
	spotErr map[string]error
	listed  map[string]map[string]float64
	chains  map[string][]storage.InstrumentQuote // keyed by asset+"/"+code
	chainErr map[string]error

	fetched []string // asset+"/"+code, in call order
}

func (f *fakeSource) SpotPrice(ctx context.Context, asset string) (float64, error) {
	if err := f.spotErr[asset]; err != nil {
		return 0, err
	}
	return f.spot[asset], nil
}

func (f *fakeSource) ListedExpiries(ctx context.Context, asset string) (map[string]float64, error) {
	chain, ok := f.listed[asset]
	if !ok {
		return nil, errors.ErrNoListedExpiries
	}
	return chain, nil
}

func (f *fakeSource) Instruments(ctx context.Context, asset, code string) ([]storage.InstrumentQuote, error) {
	key := asset + "/" + code
	f.fetched = append(f.fetched, key)
	if err := f.chainErr[key]; err != nil {
		return nil, err
	}
	return f.chains[key], nil
}

func quotesFor(asset, code string, n int) []storage.InstrumentQuote {
	quotes := make([]storage.InstrumentQuote, 0, n)
	for i := 0; i < n; i++ {
		strike := 60000 + float64(i)*1000
		quotes = append(quotes, storage.InstrumentQuote{
			Instrument:        fmt.Sprintf("%s-%s-%d-C", asset, code, int(strike)),
			Expiry:            code,
			Strike:            strike,
			OptionType:        storage.Call,
			OpenInterest:      float64(100 + i),
			ImpliedVolatility: 55.0,
		})
	}
	return quotes
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	dir := t.TempDir()
	s, err := storage.Open(storage.Config{
		LivePath:    filepath.Join(dir, "live.duckdb"),
		ArchivePath: filepath.Join(dir, "archive.duckdb"),
		Now:         func() time.Time { return cycleTime },
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCollector(t *testing.T, cfg Config, source *fakeSource, st *storage.Store, ret *retention.Manager) *Collector {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(cfg, source, st, ret, log)
	c.now = func() time.Time { return cycleTime }
	return c
}

// btcListed has three listed expiries. With targets (near, month_end,
// next_month_end, quarter_end) computed at cycleTime, near and month_end
// both resolve to 28NOV25, next_month_end and quarter_end both resolve to
// 26DEC25, so a cycle fetches exactly two distinct codes.
var btcListed = map[string]float64{
	"28NOV25": 500,
	"05DEC25": 300,
	"26DEC25": 900,
}

func TestRunCycle_WritesResolvedExpiries(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{
		spot:   map[string]float64{"BTC": 65000},
		listed: map[string]map[string]float64{"BTC": btcListed},
		chains: map[string][]storage.InstrumentQuote{
			"BTC/28NOV25": quotesFor("BTC", "28NOV25", 4),
			"BTC/26DEC25": quotesFor("BTC", "26DEC25", 6),
		},
	}

	c := newTestCollector(t, Config{Assets: []string{"BTC"}}, source, st, nil)
	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	want := []string{"BTC/28NOV25", "BTC/26DEC25"}
	if len(source.fetched) != len(want) {
		t.Fatalf("fetched %v, want %v", source.fetched, want)
	}
	for i, key := range want {
		if source.fetched[i] != key {
			t.Errorf("fetched[%d] = %q, want %q", i, source.fetched[i], key)
		}
	}

	ctx := context.Background()
	near, err := st.LoadLatest(ctx, "BTC", "28NOV25")
	if err != nil {
		t.Fatalf("load near: %v", err)
	}
	if len(near) != 4 {
		t.Fatalf("near rows = %d, want 4", len(near))
	}
	if near[0].SpotPrice != 65000 {
		t.Errorf("spot = %v, want 65000", near[0].SpotPrice)
	}

	far, err := st.LoadLatest(ctx, "BTC", "26DEC25")
	if err != nil {
		t.Fatalf("load far: %v", err)
	}
	if len(far) != 6 {
		t.Fatalf("far rows = %d, want 6", len(far))
	}
}

func TestRunCycle_MissingSpotSkipsAsset(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{
		spot:    map[string]float64{"ETH": 3200},
		spotErr: map[string]error{"BTC": errors.ErrNoSpotPrice},
		listed: map[string]map[string]float64{
			"BTC": btcListed,
			"ETH": btcListed,
		},
		chains: map[string][]storage.InstrumentQuote{
			"ETH/28NOV25": quotesFor("ETH", "28NOV25", 3),
			"ETH/26DEC25": quotesFor("ETH", "26DEC25", 3),
		},
	}

	c := newTestCollector(t, Config{Assets: []string{"BTC", "ETH"}}, source, st, nil)
	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	ctx := context.Background()
	btcRows, err := st.LoadLatest(ctx, "BTC", "")
	if err != nil {
		t.Fatalf("load btc: %v", err)
	}
	if len(btcRows) != 0 {
		t.Errorf("btc rows = %d, want 0", len(btcRows))
	}

	ethRows, err := st.LoadLatest(ctx, "ETH", "28NOV25")
	if err != nil {
		t.Fatalf("load eth: %v", err)
	}
	if len(ethRows) != 3 {
		t.Errorf("eth rows = %d, want 3", len(ethRows))
	}
}

func TestRunCycle_ChainFetchFailureSkipsExpiry(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{
		spot:   map[string]float64{"BTC": 65000},
		listed: map[string]map[string]float64{"BTC": btcListed},
		chains: map[string][]storage.InstrumentQuote{
			"BTC/26DEC25": quotesFor("BTC", "26DEC25", 5),
		},
		chainErr: map[string]error{
			"BTC/28NOV25": errors.ErrFetchFailed,
		},
	}

	c := newTestCollector(t, Config{Assets: []string{"BTC"}}, source, st, nil)
	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	ctx := context.Background()
	rows, err := st.LoadLatest(ctx, "BTC", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want only the 26DEC25 batch (5)", len(rows))
	}
	for _, r := range rows {
		if r.Expiry != "26DEC25" {
			t.Errorf("unexpected expiry %q in live partition", r.Expiry)
		}
	}
}

func TestRunCycle_StorageFailureAbortsRun(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{
		spot:   map[string]float64{"BTC": 65000, "ETH": 3200},
		listed: map[string]map[string]float64{
			"BTC": btcListed,
			"ETH": btcListed,
		},
		chains: map[string][]storage.InstrumentQuote{
			"BTC/28NOV25": quotesFor("BTC", "28NOV25", 2),
		},
	}

	c := newTestCollector(t, Config{Assets: []string{"BTC", "ETH"}}, source, st, nil)

	st.Close()
	err := c.RunCycle(context.Background())
	if err == nil {
		t.Fatal("expected storage failure to abort the run")
	}
	if !errors.IsStorage(err) {
		t.Errorf("error = %v, want a storage error", err)
	}
	// ETH must not have been attempted after the abort.
	for _, key := range source.fetched {
		if key[:3] == "ETH" {
			t.Errorf("fetched %q after storage failure", key)
		}
	}
}

func TestRunCycle_NoResolutionSkipsAsset(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{
		spot: map[string]float64{"BTC": 65000, "ETH": 3200},
		listed: map[string]map[string]float64{
			// Every listed BTC expiry is already in the past at cycleTime.
			"BTC": {"21NOV25": 400, "14NOV25": 100},
			"ETH": btcListed,
		},
		chains: map[string][]storage.InstrumentQuote{
			"ETH/28NOV25": quotesFor("ETH", "28NOV25", 2),
			"ETH/26DEC25": quotesFor("ETH", "26DEC25", 2),
		},
	}

	c := newTestCollector(t, Config{Assets: []string{"BTC", "ETH"}}, source, st, nil)
	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	rows, err := st.LoadLatest(context.Background(), "BTC", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("btc rows = %d, want 0", len(rows))
	}
}

func TestRunCycle_SweepPerCycle(t *testing.T) {
	st := newTestStore(t)
	source := &fakeSource{
		spot:   map[string]float64{"BTC": 65000},
		listed: map[string]map[string]float64{"BTC": btcListed},
		chains: map[string][]storage.InstrumentQuote{
			"BTC/28NOV25": quotesFor("BTC", "28NOV25", 2),
			"BTC/26DEC25": quotesFor("BTC", "26DEC25", 2),
		},
	}

	ret := retention.New(st, retention.Config{
		LiveRetentionDays:    30,
		ArchiveRetentionDays: 365,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ret.SetNowFunc(func() time.Time { return cycleTime })

	cfg := Config{Assets: []string{"BTC"}, SweepPerCycle: true}
	c := newTestCollector(t, cfg, source, st, ret)
	if err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}

	if got := ret.Stats().SweepsRun; got != 1 {
		t.Errorf("sweeps run = %d, want 1", got)
	}
}

func TestResolveTargets(t *testing.T) {
	tests := []struct {
		name   string
		listed map[string]float64
		want   []string
	}{
		{
			// near and month_end both pick 28NOV25, the two December
			// targets both pick 26DEC25.
			name:   "deduplicates across targets",
			listed: btcListed,
			want:   []string{"28NOV25", "26DEC25"},
		},
		{
			// With no listing near the front targets, both resolve to an
			// already-expired code, which must be dropped, not fetched.
			name:   "drops past-dated resolutions",
			listed: map[string]float64{"21NOV25": 800, "26DEC25": 900},
			want:   []string{"26DEC25"},
		},
		{
			// near hits 28NOV25 exactly, month_end (30NOV) is closer to
			// 01DEC25, and both December targets land on 26DEC25.
			name: "three distinct codes",
			listed: map[string]float64{
				"28NOV25": 500,
				"01DEC25": 200,
				"26DEC25": 900,
			},
			want: []string{"28NOV25", "01DEC25", "26DEC25"},
		},
		{
			name:   "nothing resolvable",
			listed: map[string]float64{"PERPETUAL": 1000},
			want:   nil,
		},
	}

	c := newTestCollector(t, Config{}, &fakeSource{}, nil, nil)
	targets := expiry.TargetCalculator{SettlementCutoffHour: 8}.Compute(cycleTime)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.resolveTargets(log, targets, tt.listed, cycleTime)
			if len(got) != len(tt.want) {
				t.Fatalf("resolved = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("resolved[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSummarizeBatch(t *testing.T) {
	quotes := quotesFor("BTC", "28NOV25", 100)
	s := SummarizeBatch(quotes)

	if s.Count() != 100 {
		t.Fatalf("count = %d, want 100", s.Count())
	}

	// OI runs 100..199 uniformly; the sketch is 1%-accurate.
	p50 := s.OIQuantile(0.50)
	if p50 < 140 || p50 > 160 {
		t.Errorf("oi p50 = %v, want ~150", p50)
	}
	p95 := s.OIQuantile(0.95)
	if p95 < 185 || p95 > 199 {
		t.Errorf("oi p95 = %v, want ~194", p95)
	}

	if iv := s.IVQuantile(0.50); iv < 54 || iv > 56 {
		t.Errorf("iv p50 = %v, want ~55", iv)
	}
}

func TestSummarizeBatch_Empty(t *testing.T) {
	s := SummarizeBatch(nil)
	if s.Count() != 0 {
		t.Fatalf("count = %d, want 0", s.Count())
	}
	if v := s.OIQuantile(0.95); v != 0 {
		t.Errorf("empty sketch quantile = %v, want 0", v)
	}
}
