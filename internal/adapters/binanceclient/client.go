package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptoGainLoss/internal/domain"
	"cryptoGainLoss/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	klineInterval = "1m"
	// A +/- 15s window never spans more than a handful of 1m candles.
	maxKlines = 60
)

// klineSource fetches raw spot candles. It is satisfied by the go-binance spot client
// and replaced in tests.
type klineSource interface {
	Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]*binance.Kline, error)
}

type spotKlines struct {
	client *binance.Client
}

func (s *spotKlines) Klines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]*binance.Kline, error) {
	return s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli()).
		Limit(limit).
		Do(ctx)
}

// Client implements ports.PriceOracle on top of Binance spot klines.
type Client struct {
	source      klineSource
	logger      ports.Logger
	limiter     *rate.Limiter
	quoteAsset  string
	window      time.Duration
	maxAttempts int
	retryDelay  time.Duration
}

// Config holds configuration specific to the Binance price adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	Logger      ports.Logger
	QuoteAsset  string        // asset treated as USD, e.g. "USDT"
	Window      time.Duration // half width of the lookup window around the trade time
	RateLimit   float64       // requests per second
	MaxAttempts int           // attempts per lookup on transient failures
	RetryDelay  time.Duration // first retry delay, doubled on every attempt
}

// New creates a new Binance price adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return newClient(&spotKlines{client: client}, cfg), nil
}

func newClient(source klineSource, cfg Config) *Client {
	quote := strings.ToUpper(cfg.QuoteAsset)
	if quote == "" {
		quote = "USDT"
	}
	window := cfg.Window
	if window <= 0 {
		window = 15 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	return &Client{
		source:      source,
		logger:      cfg.Logger,
		limiter:     rate.NewLimiter(limit, 1),
		quoteAsset:  quote,
		window:      window,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003, -1015: // Too many requests / orders
			mappedErr = ports.ErrRateLimited
		case -1001, -1006, -1007: // Disconnected / unexpected response / timeout waiting for backend
			mappedErr = ports.ErrExchangeUnavailable
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Signature or API key rejected
			mappedErr = ports.ErrAuthenticationFailed
		case -1121: // Invalid symbol
			mappedErr = ports.ErrUnknownSymbol
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "i/o timeout") ||
		strings.Contains(err.Error(), "EOF") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Symbol returns the spot symbol used to price currency, e.g. "ETHUSDT".
func (c *Client) Symbol(currency string) string {
	return strings.ToUpper(currency) + c.quoteAsset
}

// LookupWindow returns the candle range a price at the given time is derived from.
func (c *Client) LookupWindow(at time.Time) (start, end time.Time) {
	return at.Add(-c.window).Truncate(time.Minute), at.Add(c.window)
}

// USDPrice returns the mean of the 1m candle midpoints within the lookup window around at,
// rounded to cents. USD and the configured quote asset are worth exactly 1.
func (c *Client) USDPrice(ctx context.Context, currency string, at time.Time) (decimal.Decimal, error) {
	op := "USDPrice"
	currency = strings.ToUpper(currency)
	if currency == domain.USD || currency == c.quoteAsset {
		return decimal.NewFromInt(1), nil
	}

	symbol := c.Symbol(currency)
	start, end := c.LookupWindow(at)

	klines, err := c.GetKlinesRange(ctx, symbol, start, end)
	if err != nil {
		return decimal.Zero, err
	}
	if len(klines) == 0 {
		return decimal.Zero, fmt.Errorf("%s failed: %w: no %s candles between %s and %s", op,
			domain.ErrPriceUnavailable, symbol, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	sum := decimal.Zero
	for _, k := range klines {
		sum = sum.Add(k.Mid())
	}
	price := domain.Round2(sum.Div(decimal.NewFromInt(int64(len(klines)))))

	c.logger.Debug(ctx, op+" resolved", map[string]interface{}{
		"symbol":  symbol,
		"at":      at.Format(time.RFC3339),
		"candles": len(klines),
		"price":   price,
	})
	return price, nil
}

// GetKlinesRange fetches the 1m klines of symbol between start and end, waiting on the rate
// limiter before every request and retrying transient failures with exponential backoff.
func (c *Client) GetKlinesRange(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	b := &backoff.Backoff{
		Min:    c.retryDelay,
		Max:    c.retryDelay * 32,
		Factor: 2,
		Jitter: true,
	}

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.handleError(ctx, err, op)
		}

		raw, err := c.source.Klines(ctx, symbol, klineInterval, start, end, maxKlines)
		if err == nil {
			klines := make([]*domain.Kline, 0, len(raw))
			for _, bk := range raw {
				dk, err := translateBinanceKline(bk, symbol, klineInterval)
				if err != nil {
					return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
				}
				klines = append(klines, dk)
			}
			return klines, nil
		}

		mapped := c.handleError(ctx, err, op)
		attempt := int(b.Attempt()) + 1
		if !ports.IsTransient(mapped) || attempt >= c.maxAttempts {
			return nil, mapped
		}

		delay := b.Duration()
		c.logger.Warn(ctx, op+": transient failure, retrying", map[string]interface{}{
			"symbol":  symbol,
			"attempt": attempt,
			"delay":   delay.String(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, c.handleError(ctx, ctx.Err(), op)
		}
	}
}

// --- Translation Helpers ---

func translateBinanceKline(bk *binance.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := decimal.NewFromString(bk.Open)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := decimal.NewFromString(bk.High)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := decimal.NewFromString(bk.Low)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := decimal.NewFromString(bk.Close)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := decimal.NewFromString(bk.Volume)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: time.UnixMilli(bk.CloseTime).UTC(),
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}
