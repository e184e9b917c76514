package gainloss

import (
	"github.com/shopspring/decimal"

	"cryptoGainLoss/internal/domain"
)

// lotBook keeps acquisitions in an arena indexed by a stable lot id and the ids of the
// lots still open in insertion order. Consumption mutates the arena entry and drops the
// id from the queue, so walks over a snapshot never see a shifting slice.
type lotBook struct {
	policy domain.Policy
	lots   []*domain.Transaction
	queue  []int
}

func newLotBook(policy domain.Policy) *lotBook {
	return &lotBook{policy: policy}
}

func (b *lotBook) push(t *domain.Transaction) {
	b.lots = append(b.lots, t)
	b.queue = append(b.queue, len(b.lots)-1)
}

// walkOrder returns a snapshot of the open lot ids: head to tail for FIFO, tail to head for LIFO.
func (b *lotBook) walkOrder() []int {
	order := make([]int, len(b.queue))
	if b.policy == domain.LIFO {
		for i, id := range b.queue {
			order[len(b.queue)-1-i] = id
		}
		return order
	}
	copy(order, b.queue)
	return order
}

func (b *lotBook) remove(id int) {
	for i, queued := range b.queue {
		if queued == id {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return
		}
	}
}

// balance is the unconsumed volume of currency across open lots.
func (b *lotBook) balance(currency string) decimal.Decimal {
	total := decimal.Zero
	for _, id := range b.queue {
		lot := b.lots[id]
		if lot.BuyCurrency() == currency {
			total = total.Add(lot.Buy.Volume)
		}
	}
	return total
}

func (b *lotBook) openLots(currency string) []domain.OpenLot {
	var open []domain.OpenLot
	for _, id := range b.queue {
		lot := b.lots[id]
		if lot.BuyCurrency() != currency || !lot.Buy.Volume.IsPositive() {
			continue
		}
		open = append(open, domain.OpenLot{
			TradeID:      lot.TradeID,
			Currency:     currency,
			PurchaseDate: lot.CreatedAt,
			Quantity:     lot.Buy.Volume,
			CostBasis:    lot.Buy.USDTotal,
			UnitPrice:    lot.Buy.USDUnit,
			Fee:          lot.Fee,
		})
	}
	return open
}
