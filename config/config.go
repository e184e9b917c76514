package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoGainLoss/internal/adapters/logger" // Import the logger package for LogLevel
	"cryptoGainLoss/internal/domain"
)

// DefaultCurrencies is used when CURRENCIES is not set.
const DefaultCurrencies = "BTC=BTC-USD|ETH-BTC|LTC-BTC|BCH-BTC;ETH=ETH-USD|ETH-BTC;LTC=LTC-USD|LTC-BTC;BCH=BCH-USD|BCH-BTC"

const dateLayout = "2006-01-02"

// CurrencyConfig names a target currency and the products whose fills involve it.
type CurrencyConfig struct {
	Currency string
	Products []string
}

// Config holds all application configuration.
type Config struct {
	// Binance API (klines are public; keys are optional)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Price oracle
	PriceQuoteAsset  string        // e.g., USDT
	PriceWindow      time.Duration // half width of the kline window around a trade
	PriceRateLimit   float64       // upstream requests per second
	PriceMaxAttempts int
	PriceRetryDelay  time.Duration
	PriceBucket      time.Duration // cache granularity
	PriceConcurrency int           // parallel enrichment lookups
	PriceCacheTTL    time.Duration // 0 keeps entries for the life of the process

	// Reports
	InputDir               string
	CoinbaseDir            string // optional
	OutputDir              string
	ReportStart            time.Time
	ReportEnd              time.Time // last instant of the REPORT_END day
	MatchPolicy            domain.Policy
	StrictCostBasis        bool
	WindowTaxLots          bool // drop tax lots of disposals before REPORT_START
	Enrich                 bool
	ExternalTransferAsSell bool
	Currencies             []CurrencyConfig

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// LoadConfig loads configuration from environment variables (.env file).
// REPORT_START and REPORT_END are required.
func LoadConfig() (*Config, error) {
	return load(true)
}

// LoadPriceConfig loads configuration for tools that only look up prices; the report
// window may be left unset.
func LoadPriceConfig() (*Config, error) {
	return load(false)
}

func load(requireReport bool) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)
	if (cfg.APIKey == "") != (cfg.SecretKey == "") {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set together")
	}

	// Price oracle
	cfg.PriceQuoteAsset = strings.ToUpper(getEnv("PRICE_QUOTE_ASSET", "USDT"))

	windowSeconds, err := getEnvAsIntRequired("PRICE_WINDOW_SECONDS", 15)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_WINDOW_SECONDS: %v", err))
	} else if windowSeconds <= 0 {
		errs = append(errs, "PRICE_WINDOW_SECONDS must be positive")
	}
	cfg.PriceWindow = time.Duration(windowSeconds) * time.Second

	cfg.PriceRateLimit, err = getEnvAsFloatRequired("PRICE_RATE_LIMIT", 1.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_RATE_LIMIT: %v", err))
	} else if cfg.PriceRateLimit < 0 {
		errs = append(errs, "PRICE_RATE_LIMIT cannot be negative")
	}

	cfg.PriceMaxAttempts, err = getEnvAsIntRequired("PRICE_MAX_ATTEMPTS", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_MAX_ATTEMPTS: %v", err))
	} else if cfg.PriceMaxAttempts <= 0 {
		errs = append(errs, "PRICE_MAX_ATTEMPTS must be positive")
	}

	retryDelayMS := getEnvAsInt("PRICE_RETRY_DELAY_MS", 500)
	if retryDelayMS <= 0 {
		errs = append(errs, "PRICE_RETRY_DELAY_MS must be positive")
	}
	cfg.PriceRetryDelay = time.Duration(retryDelayMS) * time.Millisecond

	bucketSeconds := getEnvAsInt("PRICE_BUCKET_SECONDS", 60)
	if bucketSeconds <= 0 {
		errs = append(errs, "PRICE_BUCKET_SECONDS must be positive")
	}
	cfg.PriceBucket = time.Duration(bucketSeconds) * time.Second

	cfg.PriceConcurrency = getEnvAsInt("PRICE_CONCURRENCY", 4)
	if cfg.PriceConcurrency <= 0 {
		errs = append(errs, "PRICE_CONCURRENCY must be positive")
	}

	cfg.PriceCacheTTL = time.Duration(getEnvAsInt("PRICE_CACHE_TTL_MINUTES", 0)) * time.Minute

	// Reports
	cfg.InputDir = getEnv("INPUT_DIR", "./data/input")
	cfg.CoinbaseDir = getEnv("COINBASE_DIR", "")
	cfg.OutputDir = getEnv("OUTPUT_DIR", "./data/output")
	if cfg.InputDir == "" || cfg.OutputDir == "" {
		errs = append(errs, "INPUT_DIR and OUTPUT_DIR must be set")
	}

	if requireReport {
		cfg.ReportStart, err = getEnvAsDate("REPORT_START")
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid REPORT_START: %v", err))
		}
		reportEnd, err := getEnvAsDate("REPORT_END")
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid REPORT_END: %v", err))
		} else {
			cfg.ReportEnd = reportEnd.Add(24*time.Hour - time.Nanosecond)
			if cfg.ReportEnd.Before(cfg.ReportStart) {
				errs = append(errs, "REPORT_END must not be before REPORT_START")
			}
		}
	}

	policy := strings.ToUpper(strings.TrimSpace(getEnv("MATCH_POLICY", string(domain.FIFO))))
	if policy != string(domain.FIFO) && policy != string(domain.LIFO) {
		errs = append(errs, fmt.Sprintf("MATCH_POLICY must be FIFO or LIFO, got %q", policy))
	}
	cfg.MatchPolicy = domain.ParsePolicy(policy)

	cfg.StrictCostBasis = getEnvAsBool("STRICT_COST_BASIS", false)
	cfg.WindowTaxLots = getEnvAsBool("WINDOW_TAX_LOTS", false)
	cfg.Enrich = getEnvAsBool("ENRICH", true)
	cfg.ExternalTransferAsSell = getEnvAsBool("EXTERNAL_TRANSFER_AS_SELL", true)

	cfg.Currencies, err = ParseCurrencies(getEnv("CURRENCIES", DefaultCurrencies))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CURRENCIES: %v", err))
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/gainloss.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// ParseCurrencies parses "BTC=BTC-USD|ETH-BTC;ETH=ETH-USD|ETH-BTC". Every product must
// involve its currency and a currency may only be listed once. Order is kept.
func ParseCurrencies(s string) ([]CurrencyConfig, error) {
	var out []CurrencyConfig
	seen := make(map[string]bool)
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, list, ok := strings.Cut(entry, "=")
		currency := strings.ToUpper(strings.TrimSpace(name))
		if !ok || currency == "" {
			return nil, fmt.Errorf("entry %q is not CURRENCY=PRODUCT|PRODUCT", entry)
		}
		if currency == domain.USD {
			return nil, fmt.Errorf("%s is the reporting currency and cannot be a target", domain.USD)
		}
		if seen[currency] {
			return nil, fmt.Errorf("currency %s listed twice", currency)
		}
		seen[currency] = true

		cc := CurrencyConfig{Currency: currency}
		for _, p := range strings.Split(list, "|") {
			base, quote, err := domain.SplitProduct(p)
			if err != nil {
				return nil, err
			}
			if base != currency && quote != currency {
				return nil, fmt.Errorf("product %s does not involve %s", p, currency)
			}
			cc.Products = append(cc.Products, base+"-"+quote)
		}
		out = append(out, cc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no currencies configured")
	}
	return out, nil
}

// CurrencyNames returns the configured target currencies in order.
func (c *Config) CurrencyNames() []string {
	names := make([]string, len(c.Currencies))
	for i, cc := range c.Currencies {
		names[i] = cc.Currency
	}
	return names
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDate(key string) (time.Time, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return time.Time{}, fmt.Errorf("%s must be set (YYYY-MM-DD)", key)
	}
	value, err := time.Parse(dateLayout, valueStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
