package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"cryptoGainLoss/config"
	"cryptoGainLoss/internal/adapters/binanceclient"
	"cryptoGainLoss/internal/adapters/csvreport"
	"cryptoGainLoss/internal/adapters/logger"
	"cryptoGainLoss/internal/adapters/pricecache"
	"cryptoGainLoss/internal/adapters/sqlite"
)

func main() {
	currency := flag.String("currency", "BTC", "currency to price in USD")
	atFlag := flag.String("at", "", "point in time, e.g. 2017-06-01T12:00:00Z (default now)")
	klinesOut := flag.String("klines", "", "optional CSV path to dump the candles the price is derived from")
	flag.Parse()

	at := time.Now().UTC()
	if *atFlag != "" {
		parsed, err := csvreport.ParseTime(*atFlag)
		if err != nil {
			log.Fatalf("FATAL: Invalid -at: %v", err)
		}
		at = parsed
	}

	// 1. Load Configuration
	cfg, err := config.LoadPriceConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	// 3. Initialize Repository (persistent price cache)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	// 4. Initialize Price Oracle
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
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize price cache: %v", err)
	}

	cur := strings.ToUpper(*currency)
	price, err := oracle.USDPrice(ctx, cur, at)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching price", map[string]interface{}{"currency": cur})
		log.Fatalf("Error fetching price: %v", err)
	}
	fmt.Printf("%s %s USD at %s (bucket %s)\n", cur, price.StringFixed(2), at.Format(time.RFC3339), oracle.BucketOf(at).Format(time.RFC3339))

	if *klinesOut == "" {
		return
	}
	start, end := binanceClient.LookupWindow(oracle.BucketOf(at))
	klines, err := binanceClient.GetKlinesRange(ctx, binanceClient.Symbol(cur), start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	if err := csvreport.WriteFile(*klinesOut, func(w io.Writer) error {
		return csvreport.WriteKlines(w, klines)
	}); err != nil {
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": *klinesOut, "count": len(klines)})
}
