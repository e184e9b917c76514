package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"cryptoGainLoss/config"
	"cryptoGainLoss/internal/adapters/binanceclient"
	"cryptoGainLoss/internal/adapters/csvreport"
	"cryptoGainLoss/internal/adapters/logger"
	"cryptoGainLoss/internal/adapters/pricecache"
	"cryptoGainLoss/internal/adapters/sqlite"
	"cryptoGainLoss/internal/app"
	"cryptoGainLoss/internal/costbasis"
	"cryptoGainLoss/internal/gainloss"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := logger.WithFields(context.Background(), map[string]interface{}{"policy": string(cfg.MatchPolicy)})
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// Cancel the run on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Price Oracle (Binance Adapter behind the cache)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:      cfg.APIKey,
		SecretKey:   cfg.SecretKey,
		UseTestnet:  cfg.IsTestnet,
		Logger:      appLogger,
		QuoteAsset:  cfg.PriceQuoteAsset,
		Window:      cfg.PriceWindow,
		RateLimit:   cfg.PriceRateLimit,
		MaxAttempts: cfg.PriceMaxAttempts,
		RetryDelay:  cfg.PriceRetryDelay,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	oracle, err := pricecache.New(pricecache.Config{
		Upstream: binanceClient,
		Store:    repo,
		Logger:   appLogger,
		Bucket:   cfg.PriceBucket,
		TTL:      cfg.PriceCacheTTL,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize price cache")
		log.Fatalf("FATAL: Failed to initialize price cache: %v", err)
	}
	appLogger.Info(ctx, "Price oracle initialized", map[string]interface{}{"quoteAsset": cfg.PriceQuoteAsset})

	// 5. Initialize Enricher, Engine and Fills Source
	enricher, err := costbasis.NewEnricher(oracle, appLogger, cfg.PriceConcurrency)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize cost basis enricher")
		log.Fatalf("FATAL: Failed to initialize cost basis enricher: %v", err)
	}
	engine, err := gainloss.NewEngine(appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize matching engine")
		log.Fatalf("FATAL: Failed to initialize matching engine: %v", err)
	}
	source, err := csvreport.NewDirSource(cfg.InputDir, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize fills source")
		log.Fatalf("FATAL: Failed to initialize fills source: %v", err)
	}

	// 6. Initialize Application Service
	service, err := app.NewGainLossService(cfg, appLogger, source, enricher, repo, engine)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize gain/loss service")
		log.Fatalf("FATAL: Failed to initialize gain/loss service: %v", err)
	}
	appLogger.Info(ctx, "Gain/loss service initialized")

	// 7. Run the Pipeline
	summary, err := service.Run(ctx)
	stats := oracle.Stats()
	appLogger.Info(ctx, "Price lookups", map[string]interface{}{
		"memoryHits": stats.MemoryHits,
		"storeHits":  stats.StoreHits,
		"upstream":   stats.Upstream,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Gain/loss run finished with errors", map[string]interface{}{
			"succeeded": len(summary.Reports),
			"failed":    len(summary.Failed),
		})
		log.Fatalf("FATAL: Gain/loss run finished with errors: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.", map[string]interface{}{"totalGain": summary.TotalGain.StringFixed(2)})
}
