package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"papertrade/src/model"
)

// Lot is a quantity opened at one price, consumed FIFO by opposite-direction
// executions. Direction is +1 for long lots, -1 for short lots.
type Lot struct {
	OrderID   uint
	Symbol    string
	Direction int64
	Quantity  int64
	Price     decimal.Decimal
	OpenedAt  time.Time
	Segment   string

	Remaining int64

	// Matched aggregates for the consumed portion.
	MatchedQty   int64
	MatchedValue decimal.Decimal // sum of exit price * matched qty
	RealizedPnL  decimal.Decimal
	LastExitAt   *time.Time
}

// Closed reports whether the lot is fully consumed.
func (l *Lot) Closed() bool {
	return l.Remaining == 0
}

// MatchedAvgPrice is the average exit price over the consumed portion, zero
// when nothing matched yet.
func (l *Lot) MatchedAvgPrice() decimal.Decimal {
	if l.MatchedQty == 0 {
		return decimal.Zero
	}
	return l.MatchedValue.Div(decimal.NewFromInt(l.MatchedQty))
}

// LotBook holds the per-symbol lots of one user in opening order.
type LotBook struct {
	Symbol string
	Lots   []*Lot
}

// Apply feeds one executed order into the book. The execution first consumes
// open opposite-direction lots oldest first; realized P&L on each match is
// lotDirection * (execution price - lot price) * matched quantity, which is
// the long and short formula at once. Any leftover quantity opens a new lot
// in the execution's own direction. Replaying the same ordered executions
// always rebuilds the same book.
func (b *LotBook) Apply(o *model.Order) {
	dir := o.Direction()
	remaining := o.Quantity
	executedAt := o.CreatedAt
	if o.ExecutedAt != nil {
		executedAt = *o.ExecutedAt
	}

	for _, lot := range b.Lots {
		if remaining <= 0 {
			break
		}
		if lot.Direction == dir || lot.Remaining <= 0 {
			continue
		}

		take := lot.Remaining
		if remaining < take {
			take = remaining
		}

		lot.Remaining -= take
		lot.MatchedQty += take
		lot.MatchedValue = lot.MatchedValue.Add(o.Price.Mul(decimal.NewFromInt(take)))
		pnl := o.Price.Sub(lot.Price).
			Mul(decimal.NewFromInt(take)).
			Mul(decimal.NewFromInt(lot.Direction))
		lot.RealizedPnL = lot.RealizedPnL.Add(pnl)
		at := executedAt
		lot.LastExitAt = &at

		remaining -= take
	}

	if remaining > 0 {
		b.Lots = append(b.Lots, &Lot{
			OrderID:   o.ID,
			Symbol:    o.Symbol,
			Direction: dir,
			Quantity:  remaining,
			Price:     o.Price,
			OpenedAt:  executedAt,
			Segment:   o.Segment,
			Remaining: remaining,
		})
	}
}

// NetQuantity is the signed open quantity: positive long, negative short.
func (b *LotBook) NetQuantity() int64 {
	var net int64
	for _, lot := range b.Lots {
		net += lot.Direction * lot.Remaining
	}
	return net
}

// OpenAvgPrice is the weighted average opening price of the remaining open
// quantity, zero for a flat book.
func (b *LotBook) OpenAvgPrice() decimal.Decimal {
	var qty int64
	value := decimal.Zero
	for _, lot := range b.Lots {
		if lot.Remaining == 0 {
			continue
		}
		qty += lot.Remaining
		value = value.Add(lot.Price.Mul(decimal.NewFromInt(lot.Remaining)))
	}
	if qty == 0 {
		return decimal.Zero
	}
	return value.Div(decimal.NewFromInt(qty))
}

// RealizedPnL sums realized profit across all lots in the book.
func (b *LotBook) RealizedPnL() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.Lots {
		total = total.Add(lot.RealizedPnL)
	}
	return total
}

// MatchLots replays executed orders, assumed sorted by execution time, into
// per-symbol lot books.
func MatchLots(orders []model.Order) map[string]*LotBook {
	books := make(map[string]*LotBook)
	for i := range orders {
		o := &orders[i]
		book, ok := books[o.Symbol]
		if !ok {
			book = &LotBook{Symbol: o.Symbol}
			books[o.Symbol] = book
		}
		book.Apply(o)
	}
	return books
}
