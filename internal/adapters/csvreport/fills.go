package csvreport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptoGainLoss/internal/domain"
)

// Fills report columns.
const (
	ColTradeID       = "trade id"
	ColProduct       = "product"
	ColSide          = "side"
	ColCreatedAt     = "created at"
	ColSize          = "size"
	ColSizeUnit      = "size unit"
	ColPrice         = "price"
	ColFee           = "fee"
	ColTotal         = "total"
	ColTradeUnit     = "price/fee/total unit"
	ColBaseUSDPrice  = "OriginalUnitPrice"
	ColQuoteUSDPrice = "TradeUnitPrice"
)

// FillColumns is the column order used when writing fills.
var FillColumns = []string{
	ColTradeID, ColProduct, ColSide, ColCreatedAt, ColSize, ColSizeUnit,
	ColPrice, ColFee, ColTotal, ColTradeUnit, ColBaseUSDPrice, ColQuoteUSDPrice,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// ParseTime accepts the timestamp layouts seen in exchange and wallet exports.
// Timestamps without a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time: %q", s)
}

// FormatTime is the layout timestamps are written with.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// headerIndex maps lowercased, trimmed header names to their column.
type headerIndex map[string]int

func newHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	return idx
}

func (h headerIndex) has(col string) bool {
	_, ok := h[strings.ToLower(col)]
	return ok
}

func (h headerIndex) get(record []string, col string) string {
	i, ok := h[strings.ToLower(col)]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseNullDecimal(s string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// ReadFills parses a fills report. Unknown columns are ignored; every row is validated and
// the first malformed row aborts the read with an error naming its line.
func ReadFills(r io.Reader) ([]domain.TradeRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read fills header: %w", err)
	}
	idx := newHeaderIndex(header)
	for _, col := range []string{ColTradeID, ColProduct, ColSide, ColCreatedAt, ColSize, ColTotal} {
		if !idx.has(col) {
			return nil, fmt.Errorf("%w: fills header lacks %q", domain.ErrMalformedRecord, col)
		}
	}

	var rows []domain.TradeRow
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read fills line %d: %w", line, err)
		}
		if isBlank(record) {
			continue
		}
		row, err := parseFill(idx, record)
		if err != nil {
			return nil, fmt.Errorf("fills line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseFill(idx headerIndex, record []string) (domain.TradeRow, error) {
	row := domain.TradeRow{
		TradeID:   idx.get(record, ColTradeID),
		Product:   idx.get(record, ColProduct),
		Side:      domain.Side(idx.get(record, ColSide)),
		SizeUnit:  idx.get(record, ColSizeUnit),
		QuoteUnit: idx.get(record, ColTradeUnit),
	}

	var err error
	if row.CreatedAt, err = ParseTime(idx.get(record, ColCreatedAt)); err != nil {
		return row, fmt.Errorf("%w: trade %s: %v", domain.ErrMalformedRecord, row.TradeID, err)
	}

	decimals := []struct {
		col string
		dst *decimal.Decimal
	}{
		{ColSize, &row.Size},
		{ColFee, &row.Fee},
		{ColTotal, &row.Total},
	}
	for _, d := range decimals {
		if *d.dst, err = parseDecimal(idx.get(record, d.col)); err != nil {
			return row, fmt.Errorf("%w: trade %s: column %q: %v", domain.ErrMalformedRecord, row.TradeID, d.col, err)
		}
	}

	nullDecimals := []struct {
		col string
		dst *decimal.NullDecimal
	}{
		{ColPrice, &row.Price},
		{ColBaseUSDPrice, &row.BaseUSDPrice},
		{ColQuoteUSDPrice, &row.QuoteUSDPrice},
	}
	for _, d := range nullDecimals {
		if *d.dst, err = parseNullDecimal(idx.get(record, d.col)); err != nil {
			return row, fmt.Errorf("%w: trade %s: column %q: %v", domain.ErrMalformedRecord, row.TradeID, d.col, err)
		}
	}

	if err := row.Validate(); err != nil {
		return row, err
	}
	return row, nil
}

func formatNull(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func fillRecord(r domain.TradeRow) []string {
	return []string{
		r.TradeID,
		r.Product,
		string(r.Side),
		FormatTime(r.CreatedAt),
		r.Size.String(),
		r.SizeUnit,
		formatNull(r.Price),
		r.Fee.String(),
		r.Total.String(),
		r.QuoteUnit,
		formatNull(r.BaseUSDPrice),
		formatNull(r.QuoteUSDPrice),
	}
}

// WriteFills writes rows in the fills layout, including any attached USD prices.
func WriteFills(w io.Writer, rows []domain.TradeRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(FillColumns); err != nil {
		return fmt.Errorf("failed to write fills header: %w", err)
	}
	for _, r := range rows {
		if err := writer.Write(fillRecord(r)); err != nil {
			return fmt.Errorf("failed to write fill %s: %w", r.TradeID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
