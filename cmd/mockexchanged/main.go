// Command mockexchanged runs the mock exchange order-execution engine:
// it loads configuration, wires the storage-backed components, starts the
// leader-gated control loops and the ambient health/metrics listener, and
// blocks until terminated. Grounded on the teacher's cmd/market_maker/main.go
// wiring shape (config -> logging -> telemetry -> components -> run ->
// graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"mockexchange/internal/config"
	"mockexchange/internal/control"
	"mockexchange/internal/dispatcher"
	"mockexchange/internal/engine"
	"mockexchange/internal/health"
	"mockexchange/internal/investments"
	"mockexchange/internal/leader"
	"mockexchange/internal/logging"
	"mockexchange/internal/market"
	"mockexchange/internal/orders"
	"mockexchange/internal/portfolio"
	"mockexchange/internal/stats"
	"mockexchange/internal/storage"
	"mockexchange/internal/storage/memory"
	"mockexchange/internal/storage/sqlite"
	"mockexchange/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional, defaults used otherwise)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	logger, err := logging.New(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	tel, err := telemetry.Setup("mockexchange")
	if err != nil {
		logger.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}

	store, err := buildStore(cfg.Store)
	if err != nil {
		logger.Error("failed to open storage backend", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}

	mkt := market.New(store, logger)
	pf := portfolio.New(store)
	orderStore := orders.New(store)
	statsTrack := stats.New(store)
	deposits := investments.New(store, investments.Deposits)
	withdrawals := investments.New(store, investments.Withdrawals)

	disp := dispatcher.New(dispatcher.Config{
		QueueCapacity: 1000,
		RateLimit:     50,
		Burst:         100,
	}, logger)

	params := engine.Params{
		Commission: decimal.NewFromFloat(cfg.Commission),
		CashAsset:  cfg.CashAsset,
		MinSettle:  time.Duration(cfg.MinSettle) * time.Second,
		MaxSettle:  time.Duration(cfg.MaxSettle) * time.Second,
		SigmaFill:  cfg.SigmaFill,
	}
	eng := engine.New(mkt, pf, orderStore, statsTrack, deposits, withdrawals, disp, logger, params)

	elector := leader.New(store, logger,
		time.Duration(cfg.Leader.TTLSeconds)*time.Second,
		time.Duration(cfg.Leader.RefreshSeconds)*time.Second,
	)

	supervisor := control.New(eng, elector, logger, control.Periods{
		Tick:      time.Duration(cfg.TickPeriod) * time.Second,
		Prune:     time.Duration(cfg.PrunePeriod) * time.Second,
		Audit:     time.Duration(cfg.AuditPeriod) * time.Second,
		StaleAge:  time.Duration(cfg.StaleAge) * time.Second,
		ExpireAge: time.Duration(cfg.ExpireAge) * time.Second,
	})

	healthSrv := health.NewServer(cfg.System.HealthAddr, logger, func() bool { return true })
	healthSrv.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- supervisor.Run(ctx, eng.ListSymbols)
	}()

	logger.Info("mockexchange engine started", "health_addr", cfg.System.HealthAddr, "store_driver", cfg.Store.Driver)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-runErr:
		if err != nil {
			logger.Error("control loop supervisor exited with error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := healthSrv.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop health server", "error", err)
	}
	disp.Stop()
	if err := store.Close(); err != nil {
		logger.Error("failed to close storage backend", "error", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down telemetry", "error", err)
	}
	if err := logger.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
	}

	logger.Info("mockexchange engine stopped")
}

func buildStore(cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.New(cfg.DSN)
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
