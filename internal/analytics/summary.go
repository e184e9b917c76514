package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cryptoGainLoss/internal/domain"
	"cryptoGainLoss/internal/gainloss"
)

// GainSummary holds aggregate figures of one currency's matching run
type GainSummary struct {
	Currency string

	// Disposal metrics
	Disposals          int
	GainDisposals      int
	LossDisposals      int
	TotalGain          decimal.Decimal
	LargestGain        decimal.Decimal
	LargestLoss        decimal.Decimal
	TotalProceeds      decimal.Decimal
	TotalCost          decimal.Decimal
	TotalFees          decimal.Decimal
	IncompleteCount    int
	MaxConsecutiveGain int
	MaxConsecutiveLoss int
	MonthlyGains       map[string]decimal.Decimal

	// Tax lot metrics
	TaxLots        int
	ShortTermGain  decimal.Decimal
	LongTermGain   decimal.Decimal
	AverageHolding time.Duration

	// Open lots left after the run
	OpenLots      int
	OpenQuantity  decimal.Decimal
	OpenCostBasis decimal.Decimal

	CumulativeGain []GainPoint
	MaxDrawdown    decimal.Decimal // largest fall of the cumulative gain from its peak, USD
}

// GainPoint is the cumulative realized gain after one disposal
type GainPoint struct {
	Time     time.Time
	Value    decimal.Decimal
	Drawdown decimal.Decimal
}

// MonthlyGain is the realized gain of one calendar month
type MonthlyGain struct {
	Month time.Time
	Gain  decimal.Decimal
}

const monthLayout = "2006-01"

// Summarize aggregates a matching result
func Summarize(currency string, result *gainloss.Result) *GainSummary {
	s := &GainSummary{
		Currency:     currency,
		MonthlyGains: make(map[string]decimal.Decimal),
	}
	if result == nil {
		return s
	}

	disposals := make([]domain.DisposalResult, len(result.Disposals))
	copy(disposals, result.Disposals)
	sort.SliceStable(disposals, func(i, j int) bool {
		return disposals[i].Row.CreatedAt.Before(disposals[j].Row.CreatedAt)
	})

	var consecutiveGain, consecutiveLoss int
	cumulative, peak := decimal.Zero, decimal.Zero

	for _, d := range disposals {
		s.Disposals++
		s.TotalGain = s.TotalGain.Add(d.Gain)
		s.TotalProceeds = s.TotalProceeds.Add(d.Proceeds)
		s.TotalCost = s.TotalCost.Add(d.Cost)
		s.TotalFees = s.TotalFees.Add(d.LotFees).Add(d.SaleFee)
		if d.IncompleteCostBasis {
			s.IncompleteCount++
		}

		if d.Gain.IsPositive() {
			s.GainDisposals++
			consecutiveGain++
			consecutiveLoss = 0
			if d.Gain.GreaterThan(s.LargestGain) {
				s.LargestGain = d.Gain
			}
		} else if d.Gain.IsNegative() {
			s.LossDisposals++
			consecutiveLoss++
			consecutiveGain = 0
			if d.Gain.LessThan(s.LargestLoss) {
				s.LargestLoss = d.Gain
			}
		}
		if consecutiveGain > s.MaxConsecutiveGain {
			s.MaxConsecutiveGain = consecutiveGain
		}
		if consecutiveLoss > s.MaxConsecutiveLoss {
			s.MaxConsecutiveLoss = consecutiveLoss
		}

		month := d.Row.CreatedAt.UTC().Format(monthLayout)
		s.MonthlyGains[month] = s.MonthlyGains[month].Add(d.Gain)

		cumulative = cumulative.Add(d.Gain)
		if cumulative.GreaterThan(peak) {
			peak = cumulative
		}
		drawdown := peak.Sub(cumulative)
		if drawdown.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = drawdown
		}
		s.CumulativeGain = append(s.CumulativeGain, GainPoint{
			Time:     d.Row.CreatedAt,
			Value:    cumulative,
			Drawdown: drawdown,
		})
	}

	var held time.Duration
	for i := range result.TaxLots {
		lot := &result.TaxLots[i]
		s.TaxLots++
		if lot.LongTerm() {
			s.LongTermGain = s.LongTermGain.Add(lot.GainOrLoss)
		} else {
			s.ShortTermGain = s.ShortTermGain.Add(lot.GainOrLoss)
		}
		held += lot.DateSold.Sub(lot.DateAcquired)
	}
	if s.TaxLots > 0 {
		s.AverageHolding = held / time.Duration(s.TaxLots)
	}

	for _, lot := range result.OpenLots {
		s.OpenLots++
		s.OpenQuantity = s.OpenQuantity.Add(lot.Quantity)
		s.OpenCostBasis = s.OpenCostBasis.Add(lot.CostBasis)
	}

	return s
}

// GetMonthlyGains returns the monthly gains ordered by month
func (s *GainSummary) GetMonthlyGains() []MonthlyGain {
	gains := make([]MonthlyGain, 0, len(s.MonthlyGains))
	for month, gain := range s.MonthlyGains {
		date, _ := time.Parse(monthLayout, month)
		gains = append(gains, MonthlyGain{
			Month: date,
			Gain:  gain,
		})
	}
	sort.Slice(gains, func(i, j int) bool {
		return gains[i].Month.Before(gains[j].Month)
	})
	return gains
}

// Fields flattens the headline figures for structured logging
func (s *GainSummary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"currency":      s.Currency,
		"disposals":     s.Disposals,
		"gains":         s.GainDisposals,
		"losses":        s.LossDisposals,
		"totalGain":     s.TotalGain.StringFixed(2),
		"shortTermGain": s.ShortTermGain.StringFixed(2),
		"longTermGain":  s.LongTermGain.StringFixed(2),
		"incomplete":    s.IncompleteCount,
		"openLots":      s.OpenLots,
	}
}
