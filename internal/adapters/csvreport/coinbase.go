package csvreport

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"cryptoGainLoss/internal/domain"
)

// Coinbase wallet ledger columns.
const (
	cbColTimestamp     = "Timestamp"
	cbColAmount        = "Amount"
	cbColCurrency      = "Currency"
	cbColTransferTotal = "Transfer Total"
	cbColTransferFee   = "Transfer Fee"
	cbColCoinbaseID    = "Coinbase ID"
	cbColBitcoinHash   = "Bitcoin Hash"

	cbColReceivedID    = "Received Transaction ID"
	cbColReceivedDesc  = "Received Description"
	cbColReceivedPrice = "Received Price Per Coin (USD)"
	cbColSentID        = "Sent Transaction ID"
	cbColSentDesc      = "Sent Description"
	cbColSentTotal     = "Sent Total (USD)"

	cbTransfersPreamble = 4
	cbBuysSellsMarker   = "BUYS"
	cbFromExchange      = "received from gdax"
	cbToExchange        = "sent to gdax"
)

// CoinbaseOptions tunes how wallet transfers are turned into fills.
type CoinbaseOptions struct {
	// ExternalTransferAsSell treats coins sent to an outside address as sold at the
	// reported USD total. Otherwise such transfers are dropped and the coins stay in the lots.
	ExternalTransferAsSell bool
}

type cbTable struct {
	idx     headerIndex
	records [][]string
}

// ConvertCoinbaseLedger turns a Coinbase wallet transfers ledger and its buys/sells report
// into USD quoted fills.
//
// Transfers between the wallet and the exchange are skipped since the exchange fills already
// carry them. Incoming transfers from outside addresses are valued at the received price per
// coin; outgoing ones become sells when opts.ExternalTransferAsSell is set.
func ConvertCoinbaseLedger(transfers, buysSells io.Reader, opts CoinbaseOptions) ([]domain.TradeRow, error) {
	ledger, err := readCoinbaseTransfers(transfers)
	if err != nil {
		return nil, err
	}
	report, err := readCoinbaseBuysSells(buysSells)
	if err != nil {
		return nil, err
	}

	received := report.indexBy(cbColReceivedID)
	sent := report.indexBy(cbColSentID)

	var rows []domain.TradeRow
	for n, rec := range ledger.records {
		line := n + cbTransfersPreamble + 2
		get := func(col string) string { return ledger.idx.get(rec, col) }

		id := get(cbColCoinbaseID)
		amount, err := parseDecimal(get(cbColAmount))
		if err != nil {
			return nil, fmt.Errorf("%w: coinbase line %d: amount: %v", domain.ErrMalformedRecord, line, err)
		}
		if amount.IsZero() {
			return nil, fmt.Errorf("%w: coinbase line %d: transfer %s has zero amount", domain.ErrInvalidQuantity, line, id)
		}
		buy := amount.IsPositive()

		total, err := parseDecimal(get(cbColTransferTotal))
		if err != nil {
			return nil, fmt.Errorf("%w: coinbase line %d: transfer total: %v", domain.ErrMalformedRecord, line, err)
		}
		fee, err := parseDecimal(get(cbColTransferFee))
		if err != nil {
			return nil, fmt.Errorf("%w: coinbase line %d: transfer fee: %v", domain.ErrMalformedRecord, line, err)
		}

		if get(cbColTransferTotal) == "" {
			// Wallet transfer rather than a purchase or sale.
			if buy {
				detail, ok := received[id]
				if !ok {
					return nil, fmt.Errorf("%w: coinbase line %d: no received entry for transfer %s", domain.ErrMalformedRecord, line, id)
				}
				if strings.EqualFold(report.idx.get(detail, cbColReceivedDesc), cbFromExchange) {
					continue
				}
				pricePerCoin, err := parseDecimal(report.idx.get(detail, cbColReceivedPrice))
				if err != nil {
					return nil, fmt.Errorf("%w: coinbase line %d: received price: %v", domain.ErrMalformedRecord, line, err)
				}
				total = domain.Round8(pricePerCoin.Mul(amount))
			} else {
				detail, ok := sent[id]
				if !ok {
					return nil, fmt.Errorf("%w: coinbase line %d: no sent entry for transfer %s", domain.ErrMalformedRecord, line, id)
				}
				if strings.EqualFold(report.idx.get(detail, cbColSentDesc), cbToExchange) || !opts.ExternalTransferAsSell {
					continue
				}
				if total, err = parseDecimal(report.idx.get(detail, cbColSentTotal)); err != nil {
					return nil, fmt.Errorf("%w: coinbase line %d: sent total: %v", domain.ErrMalformedRecord, line, err)
				}
			}
			fee = decimal.Zero
		}

		createdAt, err := ParseTime(get(cbColTimestamp))
		if err != nil {
			return nil, fmt.Errorf("%w: coinbase line %d: %v", domain.ErrMalformedRecord, line, err)
		}

		net := total.Sub(fee).Abs()
		size := amount.Abs()
		currency := strings.ToUpper(get(cbColCurrency))
		side := domain.Sell
		if buy {
			side = domain.Buy
		}
		row := domain.TradeRow{
			TradeID:   id,
			Product:   currency + "-" + domain.USD,
			Side:      side,
			CreatedAt: createdAt,
			Size:      size,
			SizeUnit:  currency,
			Price:     decimal.NewNullDecimal(domain.Round2(net.Div(size))),
			Fee:       fee,
			Total:     net,
			QuoteUnit: domain.USD,
		}
		if err := row.Validate(); err != nil {
			return nil, fmt.Errorf("coinbase line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ConvertCoinbaseFiles is ConvertCoinbaseLedger over two files on disk.
func ConvertCoinbaseFiles(transfersPath, buysSellsPath string, opts CoinbaseOptions) ([]domain.TradeRow, error) {
	transfers, err := os.Open(transfersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open coinbase transfers '%s': %w", transfersPath, err)
	}
	defer transfers.Close()
	buysSells, err := os.Open(buysSellsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open coinbase buys/sells '%s': %w", buysSellsPath, err)
	}
	defer buysSells.Close()
	return ConvertCoinbaseLedger(transfers, buysSells, opts)
}

// readCoinbaseTransfers skips the account preamble and names the two trailing unnamed
// columns of the ledger.
func readCoinbaseTransfers(r io.Reader) (*cbTable, error) {
	br := bufio.NewReader(r)
	for i := 0; i < cbTransfersPreamble; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("%w: coinbase transfers preamble is shorter than %d lines", domain.ErrMalformedRecord, cbTransfersPreamble)
		}
	}
	table, err := readTable(br, func(header []string) {
		if len(header) >= 2 {
			header[len(header)-2] = cbColCoinbaseID
			header[len(header)-1] = cbColBitcoinHash
		}
	})
	if err != nil {
		return nil, fmt.Errorf("coinbase transfers: %w", err)
	}
	return table, nil
}

// readCoinbaseBuysSells reads the table following the BUYS marker line.
func readCoinbaseBuysSells(r io.Reader) (*cbTable, error) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if strings.HasPrefix(line, cbBuysSellsMarker) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: coinbase buys/sells report has no %s section", domain.ErrMalformedRecord, cbBuysSellsMarker)
		}
	}
	table, err := readTable(br, nil)
	if err != nil {
		return nil, fmt.Errorf("coinbase buys/sells: %w", err)
	}
	return table, nil
}

func readTable(r io.Reader, fixHeader func([]string)) (*cbTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: missing header: %v", domain.ErrMalformedRecord, err)
	}
	if fixHeader != nil {
		fixHeader(header)
	}
	table := &cbTable{idx: newHeaderIndex(header)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
		}
		if isBlank(record) {
			continue
		}
		table.records = append(table.records, record)
	}
	return table, nil
}

func (t *cbTable) indexBy(col string) map[string][]string {
	out := make(map[string][]string, len(t.records))
	for _, rec := range t.records {
		if id := t.idx.get(rec, col); id != "" {
			if _, seen := out[id]; !seen {
				out[id] = rec
			}
		}
	}
	return out
}
