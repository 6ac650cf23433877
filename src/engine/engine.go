// Package engine implements the order lifecycle: placement, the background
// trigger and stop-loss/target sweeps, FIFO position accounting, and the
// views the API layer serves. All storage mutations run through a TxRunner
// so each logical operation commits atomically or not at all.
package engine

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"papertrade/src/market"
	"papertrade/src/model"
)

// priceEpsilon absorbs floating point noise in trigger and level
// comparisons: prices closer than this are considered equal.
var priceEpsilon = decimal.NewFromFloat(0.0001)

// Engine wires the stores, the price oracle and the settlement pipeline into
// the trading operations.
type Engine struct {
	stores TxRunner
	oracle PriceSource
	eod    EODRunner
}

func New(stores TxRunner, oracle PriceSource) *Engine {
	return &Engine{stores: stores, oracle: oracle}
}

// WithEOD attaches the settlement pipeline. Wiring happens after
// construction because the pipeline shares the engine's stores and oracle.
func (e *Engine) WithEOD(eod EODRunner) *Engine {
	e.eod = eod
	return e
}

// RunEndOfDay triggers settlement for the user. It is idempotent per
// trading day; invoking it repeatedly after the first successful run is a
// no-op.
func (e *Engine) RunEndOfDay(ctx context.Context, username string) error {
	if e.eod == nil {
		return nil
	}
	return e.eod.Run(ctx, username)
}

// settleIfDue is the lazy EOD hook called at the top of read/write paths,
// mirroring how the close cutoff is enforced without a scheduler. Failures
// are logged and the caller proceeds; the next due check retries.
func (e *Engine) settleIfDue(ctx context.Context, username string) {
	if e.eod == nil {
		return
	}
	if err := e.eod.RunIfDue(ctx, username); err != nil {
		logger.WithFields(map[string]interface{}{
			"engine": "settleIfDue",
			"user":   username,
		}).WithError(err).Error("End of day settlement failed, will retry")
	}
}

// priceGTE reports a >= b within the tolerance band.
func priceGTE(a, b decimal.Decimal) bool {
	return a.Sub(b).GreaterThanOrEqual(priceEpsilon.Neg())
}

// priceLTE reports a <= b within the tolerance band.
func priceLTE(a, b decimal.Decimal) bool {
	return a.Sub(b).LessThanOrEqual(priceEpsilon)
}

// triggered evaluates the limit trigger rule for an order against the live
// price. BUY fills when the price has come down to the trigger; a normal
// SELL when it has risen to it. A short-first SELL mirrors BUY because the
// short seller profits from decline.
func triggered(o *model.Order, live decimal.Decimal) bool {
	if o.IsBuy() || o.ShortFirst {
		return priceLTE(live, o.Price)
	}
	return priceGTE(live, o.Price)
}

// dayStart returns the instant the current IST trading day began.
func dayStart(now time.Time) time.Time {
	t := now.In(market.IST())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, market.IST())
}

// ownedQuantity computes how many units of symbol the user can sell without
// going short: today's executed net across both segments plus the standing
// long holding.
func (e *Engine) ownedQuantity(ctx context.Context, s Stores, username, symbol string) (int64, error) {
	rows, err := s.Orders.FindClosedSinceByUser(ctx, username, dayStart(market.Now()))
	if err != nil {
		return 0, err
	}

	var net int64
	for i := range rows {
		if rows[i].Symbol != symbol {
			continue
		}
		net += rows[i].Direction() * rows[i].Quantity
	}

	holding, err := s.Portfolio.LongBySymbol(ctx, username, symbol)
	if err != nil {
		return 0, err
	}
	if holding != nil {
		net += holding.Quantity
	}

	if net < 0 {
		return 0, nil
	}
	return net, nil
}

// livePrice wraps the oracle, treating zero or negative prices as missing.
func (e *Engine) livePrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	price, ok := e.oracle.GetPrice(ctx, symbol)
	if !ok || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}
