// oitrackd is the option open-interest collector daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/xtxerr/oitrack/internal/collector"
	"github.com/xtxerr/oitrack/internal/deribit"
	"github.com/xtxerr/oitrack/internal/loader"
	"github.com/xtxerr/oitrack/internal/logging"
	"github.com/xtxerr/oitrack/internal/storage"
	"github.com/xtxerr/oitrack/internal/storage/export"
	"github.com/xtxerr/oitrack/internal/storage/retention"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	once := flag.Bool("once", false, "run a single collection cycle and exit (cron mode)")
	sweepOnly := flag.Bool("sweep-only", false, "run a retention sweep and exit")
	exportPath := flag.String("export", "", "export the archive partition to a Parquet file and exit")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	logJSON := flag.Bool("log-json", false, "log in JSON (overrides config)")
	flag.Parse()

	// A .env file is optional; OITRACK_* variables win over YAML either way.
	_ = godotenv.Load()

	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = loader.DefaultConfig()
			cfg.ApplyEnv()
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	level, _ := loader.ParseLevel(cfg.Log.Level)
	logging.Init(level, cfg.Log.JSON)
	log := logging.Component("main")

	log.Info("oitrackd starting",
		"version", Version,
		"assets", cfg.Assets,
		"data_dir", cfg.DataDir,
	)

	st, err := storage.Open(storage.Config{
		LivePath:    cfg.LivePath(),
		ArchivePath: cfg.ArchivePath(),
		Logger:      logging.Component("storage"),
	})
	if err != nil {
		log.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *exportPath != "" {
		n, err := export.Archive(ctx, st, *exportPath)
		if err != nil {
			log.Error("export archive", "error", err)
			os.Exit(1)
		}
		log.Info("archive exported", "rows", n, "path", *exportPath)
		return
	}

	ret := retention.New(st, retention.Config{
		LiveRetentionDays:    cfg.Storage.LiveRetentionDays,
		ArchiveRetentionDays: cfg.Storage.ArchiveRetentionDays,
		Compact:              cfg.Storage.CompactAfterSweep,
	}, logging.Component("retention"))

	if *sweepOnly {
		if _, err := ret.Sweep(ctx); err != nil {
			log.Error("retention sweep", "error", err)
			os.Exit(1)
		}
		return
	}

	source := deribit.NewClient(cfg.Exchange.BaseURL,
		deribit.WithTimeout(cfg.Exchange.RequestTimeout.Duration()),
		deribit.WithRateLimit(cfg.Exchange.RateLimitPerSec),
		deribit.WithLogger(logging.Component("deribit")),
	)

	col := collector.New(collector.Config{
		Assets:        cfg.Assets,
		Targets:       cfg.TargetCalculator(),
		SweepPerCycle: cfg.Collector.SweepPerCycle,
	}, source, st, ret, logging.Component("collector"))

	if *once {
		if err := col.RunCycle(ctx); err != nil {
			log.Error("collection cycle", "error", err)
			os.Exit(1)
		}
		return
	}

	// Daemon mode: collect immediately, then on every tick until a signal
	// arrives.
	interval := cfg.Collector.Interval.Duration()
	log.Info("entering collection loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := col.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error("collection cycle", "error", err)
			os.Exit(1)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Info("shutting down")
			return
		}
	}

	log.Info("shutting down")
}
