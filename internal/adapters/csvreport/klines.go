package csvreport

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"cryptoGainLoss/internal/domain"
)

// KlineColumns is the layout of a candle dump.
var KlineColumns = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume", "mid"}

// WriteKlines dumps the candles a price was derived from.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(KlineColumns); err != nil {
		return fmt.Errorf("failed to write kline header: %w", err)
	}
	for _, k := range klines {
		err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			k.Open.String(),
			k.High.String(),
			k.Low.String(),
			k.Close.String(),
			k.Volume.String(),
			k.Mid().String(),
		})
		if err != nil {
			return fmt.Errorf("failed to write kline %s: %w", k.OpenTime.Format(time.RFC3339), err)
		}
	}
	writer.Flush()
	return writer.Error()
}
