package csvreport

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoGainLoss/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const gdaxFills = `portfolio,trade id,product,side,created at,size,size unit,price,fee,total,price/fee/total unit
default,101,ETH-BTC,SELL,2017-05-01T10:00:00.123Z,2.5,ETH,0.05,0.000125,0.124875,BTC
default,100,BTC-USD,BUY,2017-04-01T09:00:00.000Z,1.5,BTC,1000.00,3.75,-1503.75,USD

default,102,LTC-USD,BUY,2017-06-01T09:00:00.000Z,10,LTC,30,0,-300,USD
`

func TestReadFills(t *testing.T) {
	rows, err := ReadFills(strings.NewReader(gdaxFills))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	eth := rows[0]
	assert.Equal(t, "101", eth.TradeID)
	assert.Equal(t, "ETH-BTC", eth.Product)
	assert.Equal(t, domain.Sell, eth.Side)
	assert.Equal(t, time.Date(2017, 5, 1, 10, 0, 0, 123000000, time.UTC), eth.CreatedAt)
	assert.Equal(t, "ETH", eth.SizeUnit)
	assert.Equal(t, "BTC", eth.QuoteUnit)
	assert.True(t, dec("0.000125").Equal(eth.Fee))
	assert.True(t, eth.Price.Valid)
	assert.False(t, eth.BaseUSDPrice.Valid)

	btc := rows[1]
	assert.True(t, dec("-1503.75").Equal(btc.Total), "sign is kept; legs use the absolute value")
}

func TestReadFills_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "missing column", input: "trade id,product,side,created at,size\n1,BTC-USD,BUY,2017-01-01,1\n"},
		{name: "bad time", input: "trade id,product,side,created at,size,total\n1,BTC-USD,BUY,yesterday,1,100\n"},
		{name: "bad number", input: "trade id,product,side,created at,size,total\n1,BTC-USD,BUY,2017-01-01,one,100\n"},
		{name: "bad side", input: "trade id,product,side,created at,size,total\n1,BTC-USD,HOLD,2017-01-01,1,100\n"},
		{name: "bad product", input: "trade id,product,side,created at,size,total\n1,BTCUSD,BUY,2017-01-01,1,100\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFills(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, domain.ErrMalformedRecord)
		})
	}

	rows, err := ReadFills(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWriteFills_KeepsUSDPrices(t *testing.T) {
	rows, err := ReadFills(strings.NewReader(gdaxFills))
	require.NoError(t, err)
	rows[0].BaseUSDPrice = decimal.NewNullDecimal(dec("90.5"))
	rows[0].QuoteUSDPrice = decimal.NewNullDecimal(dec("1400"))

	var buf bytes.Buffer
	require.NoError(t, WriteFills(&buf, rows))

	back, err := ReadFills(&buf)
	require.NoError(t, err)
	require.Len(t, back, 3)
	assert.True(t, dec("90.5").Equal(back[0].BaseUSDPrice.Decimal))
	assert.True(t, dec("1400").Equal(back[0].QuoteUSDPrice.Decimal))
	assert.False(t, back[1].BaseUSDPrice.Valid)
	assert.Equal(t, rows[0].CreatedAt, back[0].CreatedAt)
}

func TestParseTime(t *testing.T) {
	want := time.Date(2017, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, s := range []string{
		"2017-03-04T05:06:07Z",
		"2017-03-04 05:06:07",
		"2017-03-04 05:06:07+00:00",
		"2017-03-04 00:06:07 -0500",
	} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}
	_, err := ParseTime("04.03.2017")
	assert.Error(t, err)
}

func TestWriteTaxLots(t *testing.T) {
	sold := time.Date(2017, 11, 5, 14, 30, 0, 0, time.UTC)
	lots := []domain.TaxLotRow{{
		Description:  "0.5 BTC",
		DateAcquired: time.Date(2016, 1, 2, 0, 0, 0, 0, time.UTC),
		DateSold:     sold,
		TranDT:       sold,
		Proceeds:     dec("3500"),
		Cost:         dec("215.5"),
		GainOrLoss:   dec("3284.5"),
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteTaxLots(&buf, lots))
	assert.Equal(t,
		"Description,Date Acquired,Date Sold,Proceeds,Cost,Gain or Loss,Tran DT\n"+
			"0.5 BTC,01/02/2016,11/05/2017,3500.00,215.50,3284.50,2017-11-05T14:30:00Z\n",
		buf.String())
}

func TestWriteDisposals(t *testing.T) {
	rows, err := ReadFills(strings.NewReader(gdaxFills))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteDisposals(&buf, []domain.DisposalResult{{Row: rows[0], Gain: dec("12.3"), Info: "1@2/2,fee:0;"}}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], ",Gain,info"))
	assert.True(t, strings.HasSuffix(lines[1], `,12.30,"1@2/2,fee:0;"`), lines[1])
}

func TestMergeTaxLots(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2017, 1, 1, h, 0, 0, 0, time.UTC) }
	btc := []domain.TaxLotRow{{TradeID: "b1", TranDT: at(3)}, {TradeID: "b2", TranDT: at(5)}}
	eth := []domain.TaxLotRow{{TradeID: "e1", TranDT: at(1)}, {TradeID: "e2", TranDT: at(5)}}

	merged := MergeTaxLots(btc, eth)
	var ids []string
	for _, l := range merged {
		ids = append(ids, l.TradeID)
	}
	assert.Equal(t, []string{"e1", "b1", "b2", "e2"}, ids)
}

func TestLayout(t *testing.T) {
	l := Layout{Root: "out", Start: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2017, 12, 31, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, filepath.Join("out", "results_tax_gl", "BTC_2017-01-01--2017-12-31.csv"), l.Path(KindTaxLots, "BTC"))
	assert.Equal(t, filepath.Join("out", "results", "TOTAL_2017-01-01--2017-12-31.csv"), l.TotalPath(KindDisposals))
}

func TestDirSource_LoadTrades(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gdax.csv"), []byte(gdaxFills), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	src, err := NewDirSource(dir, &mockLogger{})
	require.NoError(t, err)

	end := time.Date(2017, 5, 31, 23, 59, 59, 0, time.UTC)
	rows, err := src.LoadTrades(context.Background(), []string{"btc-usd", "ETH-BTC", "LTC-USD"}, end)
	require.NoError(t, err)
	require.Len(t, rows, 2, "LTC fill is after end")
	assert.Equal(t, "100", rows[0].TradeID, "rows are ordered by time")
	assert.Equal(t, "101", rows[1].TradeID)

	rows, err = src.LoadTrades(context.Background(), []string{"ETH-USD"}, end)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestNewDirSource_Validation(t *testing.T) {
	_, err := NewDirSource("", &mockLogger{})
	assert.Error(t, err)
	_, err = NewDirSource("x", nil)
	assert.Error(t, err)
}

const coinbaseTransfers = `Transactions
User,Jane Doe,abc123
Account,BTC Wallet,def456
Generated at,2018-01-10 10:00:00 -0800
Timestamp,Balance,Amount,Currency,To,Notes,Instantly Exchanged,Transfer Total,Transfer Total Currency,Transfer Fee,Transfer Fee Currency,Transfer Payment Method,Transfer ID,Order Tracking Code,Payment Page Name,Recipient,,
2017-01-05 10:00:00 -0800,0.5,0.5,BTC,,,false,510.00,USD,10.00,USD,Bank,t1,,,,cb-buy,
2017-02-05 10:00:00 -0800,0.7,0.2,BTC,,,false,,,,,,,,,,cb-ext-in,abcdef
2017-03-05 10:00:00 -0800,0.6,-0.1,BTC,,,false,,,,,,,,,,cb-to-gdax,
2017-04-05 10:00:00 -0800,0.5,-0.1,BTC,,,false,,,,,,,,,,cb-ext-out,fedcba
2017-05-05 10:00:00 -0800,0.6,0.1,BTC,,,false,,,,,,,,,,cb-from-gdax,
`

const coinbaseBuysSells = `Report
Something else
BUYS
Received Transaction ID,Received Description,Received Price Per Coin (USD),Sent Transaction ID,Sent Description,Sent Total (USD)
cb-ext-in,Received from 1abc,1012.345,,,
,,,cb-to-gdax,Sent to GDAX,
,,,cb-ext-out,Sent to 1xyz,123.45
cb-from-gdax,Received from GDAX,1500,,,
`

func TestConvertCoinbaseLedger(t *testing.T) {
	rows, err := ConvertCoinbaseLedger(strings.NewReader(coinbaseTransfers), strings.NewReader(coinbaseBuysSells),
		CoinbaseOptions{ExternalTransferAsSell: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	buy := rows[0]
	assert.Equal(t, "cb-buy", buy.TradeID)
	assert.Equal(t, "BTC-USD", buy.Product)
	assert.Equal(t, domain.Buy, buy.Side)
	assert.Equal(t, time.Date(2017, 1, 5, 18, 0, 0, 0, time.UTC), buy.CreatedAt)
	assert.True(t, dec("500").Equal(buy.Total))
	assert.True(t, dec("10").Equal(buy.Fee))
	assert.True(t, dec("1000").Equal(buy.Price.Decimal))
	assert.Equal(t, domain.USD, buy.QuoteUnit)

	in := rows[1]
	assert.Equal(t, "cb-ext-in", in.TradeID)
	assert.True(t, dec("202.469").Equal(in.Total))
	assert.True(t, in.Fee.IsZero())
	assert.True(t, dec("1012.35").Equal(in.Price.Decimal))

	out := rows[2]
	assert.Equal(t, "cb-ext-out", out.TradeID)
	assert.Equal(t, domain.Sell, out.Side)
	assert.True(t, dec("0.1").Equal(out.Size))
	assert.True(t, dec("123.45").Equal(out.Total))
}

func TestConvertCoinbaseLedger_KeepExternalTransfers(t *testing.T) {
	rows, err := ConvertCoinbaseLedger(strings.NewReader(coinbaseTransfers), strings.NewReader(coinbaseBuysSells),
		CoinbaseOptions{ExternalTransferAsSell: false})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, domain.Buy, r.Side)
	}
}

func TestConvertCoinbaseLedger_Errors(t *testing.T) {
	t.Run("missing buys section", func(t *testing.T) {
		_, err := ConvertCoinbaseLedger(strings.NewReader(coinbaseTransfers), strings.NewReader("no marker\n"), CoinbaseOptions{})
		assert.ErrorIs(t, err, domain.ErrMalformedRecord)
	})
	t.Run("unknown transfer", func(t *testing.T) {
		report := "BUYS\nReceived Transaction ID,Received Description,Received Price Per Coin (USD),Sent Transaction ID,Sent Description,Sent Total (USD)\n"
		_, err := ConvertCoinbaseLedger(strings.NewReader(coinbaseTransfers), strings.NewReader(report), CoinbaseOptions{})
		assert.ErrorIs(t, err, domain.ErrMalformedRecord)
	})
	t.Run("short preamble", func(t *testing.T) {
		_, err := ConvertCoinbaseLedger(strings.NewReader("a\nb\n"), strings.NewReader(coinbaseBuysSells), CoinbaseOptions{})
		assert.ErrorIs(t, err, domain.ErrMalformedRecord)
	})
}

func TestWriteKlines(t *testing.T) {
	open := time.Date(2017, 6, 1, 12, 0, 0, 0, time.UTC)
	klines := []*domain.Kline{{
		OpenTime:  open,
		CloseTime: open.Add(time.Minute - time.Millisecond),
		Symbol:    "ETHUSDT",
		Interval:  "1m",
		Open:      dec("220.1"),
		High:      dec("221"),
		Low:       dec("219"),
		Close:     dec("220.5"),
		Volume:    dec("12.5"),
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteKlines(&buf, klines))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2017-06-01T12:00:00Z,2017-06-01T12:00:59Z,ETHUSDT,1m,220.1,221,219,220.5,12.5,220", lines[1])
}
