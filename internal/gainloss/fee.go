package gainloss

import (
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoGainLoss/internal/domain"
)

// AllocatePartialFee splits a lot's fee when only consumed units of lotVolume are disposed.
//
// fee is the lot's remaining fee in its original (quote) units and feeUSD the same fee in USD.
// The caller converts the fee because only the lot's transaction knows its quote unit's USD
// price; the allocation itself needs no price lookup.
// It returns the USD fee attributable to the consumed units and the fee left on the lot, in
// original units, for the lot's remaining volume.
func AllocatePartialFee(fee, feeUSD, lotVolume, consumed decimal.Decimal) (consumedUSD, residual decimal.Decimal, err error) {
	if !lotVolume.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: lot volume %s", domain.ErrInvalidQuantity, lotVolume)
	}
	if consumed.IsNegative() || consumed.GreaterThan(lotVolume) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: consumed %s of lot volume %s", domain.ErrInvalidQuantity, consumed, lotVolume)
	}
	share := consumed.Div(lotVolume)
	consumedUSD = domain.Round8(share.Mul(feeUSD))
	residual = domain.Round8(fee.Sub(domain.Round8(share.Mul(fee))))
	return consumedUSD, residual, nil
}
