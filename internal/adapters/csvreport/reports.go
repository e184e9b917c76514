package csvreport

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"cryptoGainLoss/internal/domain"
)

// Result report columns appended to the fills columns.
const (
	ColGain = "Gain"
	ColInfo = "info"
)

// Tax lot report columns.
var TaxLotColumns = []string{"Description", "Date Acquired", "Date Sold", "Proceeds", "Cost", "Gain or Loss", "Tran DT"}

// TaxTransactionColumns is the layout of the per-currency tax transactions report.
var TaxTransactionColumns = []string{ColTradeID, ColProduct, ColSide, ColCreatedAt, ColSize, ColTotal}

// TaxLotDateLayout formats Date Acquired and Date Sold.
const TaxLotDateLayout = "01/02/2006"

// WriteDisposals writes one row per disposal: its original fill columns plus Gain and info.
func WriteDisposals(w io.Writer, disposals []domain.DisposalResult) error {
	writer := csv.NewWriter(w)
	header := append(append([]string{}, FillColumns...), ColGain, ColInfo)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write disposal header: %w", err)
	}
	for _, d := range disposals {
		record := append(fillRecord(d.Row), d.Gain.StringFixed(2), d.Info)
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write disposal %s: %w", d.Row.TradeID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTaxLots writes tax lot rows in the order given.
func WriteTaxLots(w io.Writer, lots []domain.TaxLotRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(TaxLotColumns); err != nil {
		return fmt.Errorf("failed to write tax lot header: %w", err)
	}
	for _, l := range lots {
		record := []string{
			l.Description,
			l.DateAcquired.UTC().Format(TaxLotDateLayout),
			l.DateSold.UTC().Format(TaxLotDateLayout),
			l.Proceeds.StringFixed(2),
			l.Cost.StringFixed(2),
			l.GainOrLoss.StringFixed(2),
			FormatTime(l.TranDT),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write tax lot %s/%s: %w", l.TradeID, l.LotTradeID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// MergeTaxLots concatenates per-currency tax lots ordered by Tran DT. Rows sold at the same
// instant keep the order of their inputs.
func MergeTaxLots(perCurrency ...[]domain.TaxLotRow) []domain.TaxLotRow {
	var merged []domain.TaxLotRow
	for _, lots := range perCurrency {
		merged = append(merged, lots...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].TranDT.Before(merged[j].TranDT)
	})
	return merged
}

// WriteTaxTransactions writes the currency-vs-USD projection of every transaction.
func WriteTaxTransactions(w io.Writer, txs []domain.TaxTransaction) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(TaxTransactionColumns); err != nil {
		return fmt.Errorf("failed to write tax transaction header: %w", err)
	}
	for _, t := range txs {
		record := []string{
			t.TradeID,
			t.Product,
			string(t.Side),
			FormatTime(t.CreatedAt),
			t.Size.String(),
			t.Total.String(),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write tax transaction %s: %w", t.TradeID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// MergeTaxTransactions concatenates per-currency tax transactions ordered by creation time.
func MergeTaxTransactions(perCurrency ...[]domain.TaxTransaction) []domain.TaxTransaction {
	var merged []domain.TaxTransaction
	for _, txs := range perCurrency {
		merged = append(merged, txs...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}
