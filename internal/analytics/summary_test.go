package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoGainLoss/internal/domain"
	"cryptoGainLoss/internal/gainloss"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 12, 0, 0, 0, time.UTC) }

func disposal(at time.Time, gain string, incomplete bool) domain.DisposalResult {
	return domain.DisposalResult{
		Row:                 domain.TradeRow{TradeID: at.Format("0102"), CreatedAt: at},
		Currency:            "BTC",
		Gain:                dec(gain),
		Proceeds:            dec("100"),
		Cost:                dec("50"),
		LotFees:             dec("1"),
		SaleFee:             dec("0.5"),
		IncompleteCostBasis: incomplete,
	}
}

func TestSummarize(t *testing.T) {
	result := &gainloss.Result{
		Disposals: []domain.DisposalResult{
			disposal(day(2017, 3, 10), "-20", false),
			disposal(day(2017, 1, 10), "100", false),
			disposal(day(2017, 1, 20), "50", false),
			disposal(day(2017, 3, 15), "-40", true),
			disposal(day(2017, 4, 1), "0", false),
		},
		TaxLots: []domain.TaxLotRow{
			{DateAcquired: day(2016, 1, 1), DateSold: day(2017, 1, 10), GainOrLoss: dec("100")},
			{DateAcquired: day(2016, 12, 20), DateSold: day(2017, 1, 20), GainOrLoss: dec("50")},
			{DateAcquired: day(2017, 2, 1), DateSold: day(2017, 3, 10), GainOrLoss: dec("-20")},
		},
		OpenLots: []domain.OpenLot{
			{Quantity: dec("0.5"), CostBasis: dec("300")},
			{Quantity: dec("0.25"), CostBasis: dec("200")},
		},
	}

	s := Summarize("BTC", result)

	assert.Equal(t, "BTC", s.Currency)
	assert.Equal(t, 5, s.Disposals)
	assert.Equal(t, 2, s.GainDisposals)
	assert.Equal(t, 2, s.LossDisposals)
	assert.Equal(t, 1, s.IncompleteCount)
	assert.True(t, dec("90").Equal(s.TotalGain), s.TotalGain.String())
	assert.True(t, dec("100").Equal(s.LargestGain))
	assert.True(t, dec("-40").Equal(s.LargestLoss))
	assert.True(t, dec("500").Equal(s.TotalProceeds))
	assert.True(t, dec("250").Equal(s.TotalCost))
	assert.True(t, dec("7.5").Equal(s.TotalFees))
	assert.Equal(t, 2, s.MaxConsecutiveGain)
	assert.Equal(t, 2, s.MaxConsecutiveLoss)

	// Cumulative gain runs 100, 150, 130, 90, 90.
	require.Len(t, s.CumulativeGain, 5)
	assert.True(t, dec("150").Equal(s.CumulativeGain[1].Value))
	assert.True(t, dec("60").Equal(s.MaxDrawdown))

	assert.Equal(t, 3, s.TaxLots)
	assert.True(t, dec("100").Equal(s.LongTermGain))
	assert.True(t, dec("30").Equal(s.ShortTermGain))

	assert.Equal(t, 2, s.OpenLots)
	assert.True(t, dec("0.75").Equal(s.OpenQuantity))
	assert.True(t, dec("500").Equal(s.OpenCostBasis))

	monthly := s.GetMonthlyGains()
	require.Len(t, monthly, 3)
	assert.Equal(t, time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), monthly[0].Month)
	assert.True(t, dec("150").Equal(monthly[0].Gain))
	assert.True(t, dec("-60").Equal(monthly[1].Gain))
	assert.True(t, monthly[2].Gain.IsZero())

	fields := s.Fields()
	assert.Equal(t, "90.00", fields["totalGain"])
	assert.Equal(t, "100.00", fields["longTermGain"])
}

func TestSummarize_Empty(t *testing.T) {
	for name, result := range map[string]*gainloss.Result{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			s := Summarize("ETH", result)
			assert.Equal(t, 0, s.Disposals)
			assert.True(t, s.TotalGain.IsZero())
			assert.Empty(t, s.GetMonthlyGains())
			assert.Equal(t, time.Duration(0), s.AverageHolding)
		})
	}
}
