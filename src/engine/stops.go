package engine

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"papertrade/src/market"
	"papertrade/src/model"
)

// stopLevels is the effective stop-loss and target for one open position,
// taken from the most recent opening-side execution that carried levels.
type stopLevels struct {
	stoploss *decimal.Decimal
	target   *decimal.Decimal
}

// SweepStops walks today's open positions across all users and force-exits
// any whose live price breached its stop-loss or target. Levels ride on the
// opening order; the most recently executed opening-side order with levels
// governs the whole position. Long and short use the same breach test, the
// direction only decides which side the exit trades.
func (e *Engine) SweepStops(ctx context.Context) error {
	now := market.Now()
	if !market.IsOpen(now) {
		return nil
	}

	var closed []model.Order
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		var err error
		closed, err = s.Orders.FindClosedSince(ctx, dayStart(now))
		return err
	})
	if err != nil {
		return err
	}

	byUser := make(map[string][]model.Order)
	for i := range closed {
		o := closed[i]
		byUser[o.Username] = append(byUser[o.Username], o)
	}

	for username, orders := range byUser {
		for symbol, book := range MatchLots(orders) {
			net := book.NetQuantity()
			if net == 0 {
				continue
			}

			levels := latestStopLevels(orders, symbol, net)
			if levels.stoploss == nil && levels.target == nil {
				continue
			}

			live, ok := e.livePrice(ctx, symbol)
			if !ok {
				continue
			}

			reason, breached := breachReason(levels, live)
			if !breached {
				continue
			}

			err := e.stores.RunInTx(ctx, func(s Stores) error {
				return e.flattenNet(ctx, s, username, symbol, net, live, dominantSegment(book), reason)
			})
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"user":   username,
					"symbol": symbol,
					"reason": reason,
				}).WithError(err).Error("Stop sweep exit failed")
				continue
			}

			logger.WithFields(map[string]interface{}{
				"user":   username,
				"symbol": symbol,
				"qty":    net,
				"price":  live.String(),
				"reason": reason,
			}).Info("Position force-exited on level breach")
		}
	}
	return nil
}

// latestStopLevels picks the levels from the most recently executed order
// that opened in the position's direction and set at least one level.
// Orders arrive in execution order, so the last match wins.
func latestStopLevels(orders []model.Order, symbol string, net int64) stopLevels {
	openingSide := model.OrderSideBuy
	if net < 0 {
		openingSide = model.OrderSideSell
	}

	var levels stopLevels
	for i := range orders {
		o := &orders[i]
		if o.Symbol != symbol || o.Side != openingSide {
			continue
		}
		if o.Stoploss == nil && o.Target == nil {
			continue
		}
		levels = stopLevels{stoploss: o.Stoploss, target: o.Target}
	}
	return levels
}

func breachReason(levels stopLevels, live decimal.Decimal) (string, bool) {
	if levels.target != nil && priceGTE(live, *levels.target) {
		return model.ExitReasonTarget, true
	}
	if levels.stoploss != nil && priceLTE(live, *levels.stoploss) {
		return model.ExitReasonStoploss, true
	}
	return "", false
}
