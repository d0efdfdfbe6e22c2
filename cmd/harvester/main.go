package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"funding_harvester/internal/config"
	"funding_harvester/internal/core"
	"funding_harvester/internal/exchange/aster"
	"funding_harvester/internal/trading/monitor"
	"funding_harvester/internal/trading/portfolio"
	"funding_harvester/internal/trading/strategy"
	"funding_harvester/pkg/concurrency"
	httpx "funding_harvester/pkg/http"
	"funding_harvester/pkg/logging"
	"funding_harvester/pkg/telemetry"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/harvester.yaml", "Path to configuration file")
	runOnce := flag.Bool("once", false, "Take one portfolio snapshot, report, and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("harvester version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if envConfig := os.Getenv("HARVESTER_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Telemetry first: the logger's OTel bridge binds to whatever log
	// provider is registered at construction time.
	tel, telErr := telemetry.Setup("funding_harvester")

	logger, err := logging.NewZapLogger(cfg.System.LogLevel, cfg.System.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	if telErr != nil {
		logger.Warn("Telemetry setup failed, metrics and traces disabled", "error", telErr)
	}

	logger.Info("Starting funding_harvester",
		"version", version,
		"venue", cfg.Venue.Name,
		"spot_url", cfg.Venue.SpotBaseURL,
		"perp_url", cfg.Venue.PerpBaseURL,
		"refresh_interval", cfg.Scheduler.RefreshInterval(),
	)

	var metricsSrv *http.Server
	if cfg.Telemetry.EnableMetrics && telErr == nil {
		metricsSrv = telemetry.NewMetricsServer(fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort))
		go func() {
			logger.Info("Serving Prometheus metrics", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Both surfaces share one credential set: the perp side signs with the
	// Ethereum key pair, the spot side with the v1 HMAC pair.
	creds := aster.Credentials{
		APIKey:     cfg.Venue.APIV1Public.Value(),
		APISecret:  cfg.Venue.APIV1Private.Value(),
		User:       cfg.Venue.APIUser.Value(),
		Signer:     cfg.Venue.APISigner.Value(),
		PrivateKey: cfg.Venue.APIPrivateKey.Value(),
	}

	spotClient := httpx.NewClient(cfg.Venue.SpotBaseURL, cfg.HTTP.Timeout(), cfg.HTTP.RequestsPerSecond)
	perpClient := httpx.NewClient(cfg.Venue.PerpBaseURL, cfg.HTTP.Timeout(), cfg.HTTP.RequestsPerSecond)

	spotVenue := aster.NewSpotExchange(spotClient, creds, logger)
	perpVenue, err := aster.NewPerpExchange(perpClient, creds, logger)
	if err != nil {
		logger.Fatal("Failed to initialize perp venue", "error", err)
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "FanoutPool",
		MaxWorkers:  cfg.Concurrency.FanoutPoolSize,
		MaxCapacity: cfg.Concurrency.FanoutPoolBuffer,
	}, logger)
	defer pool.Stop()

	screen := strategy.OpportunityScreen{
		MinAPRPct:  cfg.Strategy.MinViableAPRPct,
		MinSamples: cfg.Strategy.MinFundingHistory,
		MaxCoV:     cfg.Strategy.MaxRateCoV,
	}
	orch := portfolio.NewOrchestrator(spotVenue, perpVenue, pool, screen, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *runOnce {
		code := reportOnce(ctx, orch, logger)
		pool.Stop()
		shutdown(tel, metricsSrv, logger)
		os.Exit(code)
	}

	scheduler := monitor.NewScheduler(orch, cfg.Scheduler.RefreshInterval(), logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- scheduler.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Refresh scheduler failed", "error", err)
		}
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", "signal", sig.String())
	}

	scheduler.Stop()
	cancel()
	shutdown(tel, metricsSrv, logger)
	logger.Info("funding_harvester stopped")
}

// reportOnce takes a single portfolio snapshot and logs positions, top
// funding rates, and the health verdict. Returns the process exit code.
func reportOnce(ctx context.Context, orch *portfolio.Orchestrator, logger core.ILogger) int {
	snap, err := orch.GetComprehensivePortfolioData(ctx)
	if snap == nil {
		logger.Error("Portfolio snapshot failed", "error", err)
		return 1
	}
	if err != nil {
		logger.Warn("Portfolio snapshot incomplete", "error", err)
	}

	symbols := make([]string, 0, len(snap.AnalyzedPositions))
	for symbol := range snap.AnalyzedPositions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		pos := snap.AnalyzedPositions[symbol]
		fields := []interface{}{
			"symbol", symbol,
			"spot_qty", pos.SpotQty.String(),
			"perp_qty", pos.PerpQty.String(),
			"net_delta", pos.NetDelta.String(),
			"imbalance_pct", pos.ImbalancePct.StringFixed(2),
			"delta_neutral", pos.IsDeltaNeutral,
			"value_usd", pos.PositionValueUSD.StringFixed(2),
			"unrealized_pnl", pos.UnrealizedProfit.StringFixed(2),
		}
		if pos.CurrentAPR.Valid {
			fields = append(fields, "funding_apr_pct", pos.CurrentAPR.Decimal.StringFixed(2))
		}
		logger.Info("Position", fields...)
	}

	rates, err := orch.GetAllFundingRates(ctx)
	if err != nil {
		logger.Warn("Funding rate sweep failed", "error", err)
	}
	for i, rate := range rates {
		if i >= 10 {
			break
		}
		logger.Info("Funding rate",
			"symbol", rate.Symbol,
			"rate", rate.FundingRate.String(),
			"apr_pct", rate.APR.StringFixed(2),
		)
	}

	health, err := orch.PerformHealthCheckAnalysis(ctx)
	if err != nil {
		logger.Error("Health check failed", "error", err)
		return 1
	}
	if !health.Success {
		logger.Warn("Health check refused", "reason", health.Message)
		return 1
	}
	logger.Info("Health check", "result", health.Message)
	if report, ok := health.Details.(portfolio.HealthReport); ok {
		for _, warning := range report.Warnings {
			logger.Warn("Health warning", "detail", warning)
		}
		for _, critical := range report.Criticals {
			logger.Error("Health critical", "detail", critical)
		}
	}
	return 0
}

func shutdown(tel *telemetry.Telemetry, metricsSrv *http.Server, logger core.ILogger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if tel != nil {
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}
}
