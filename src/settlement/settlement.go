package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"papertrade/src/engine"
	"papertrade/src/market"
	"papertrade/src/model"
)

// Pipeline is the end-of-day settlement. For one user and trading day it
// cancels leftover OPEN orders with refunds, squares off intraday exposure
// at the live price, migrates delivery executions into standing holdings,
// and stamps a settlement marker so a rerun of the same day is a no-op.
type Pipeline struct {
	stores engine.TxRunner
	oracle engine.PriceSource
}

func New(stores engine.TxRunner, oracle engine.PriceSource) *Pipeline {
	return &Pipeline{stores: stores, oracle: oracle}
}

// RunIfDue runs settlement only after the market close cutoff. Before the
// cutoff it does nothing.
func (p *Pipeline) RunIfDue(ctx context.Context, username string) error {
	if !market.IsAfterClose(market.Now()) {
		return nil
	}
	return p.Run(ctx, username)
}

// RunAllDue settles every known account once the cutoff has passed. One
// user failing does not stop the rest; the first error is reported after
// the full pass.
func (p *Pipeline) RunAllDue(ctx context.Context) error {
	if !market.IsAfterClose(market.Now()) {
		return nil
	}

	var users []string
	err := p.stores.RunInTx(ctx, func(s engine.Stores) error {
		var err error
		users, err = s.Funds.Usernames(ctx)
		return err
	})
	if err != nil {
		return err
	}

	var firstErr error
	for _, username := range users {
		if err := p.Run(ctx, username); err != nil {
			logger.WithField("user", username).WithError(err).Error("End-of-day settlement failed for user")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run settles username for the current trading day inside one transaction.
// The settlements marker makes the whole pipeline idempotent: either every
// step committed and the marker exists, or none did.
func (p *Pipeline) Run(ctx context.Context, username string) error {
	now := market.Now()
	tradingDay := market.TradingDay(now)

	return p.stores.RunInTx(ctx, func(s engine.Stores) error {
		done, err := s.Settlements.HasRun(ctx, username, tradingDay)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if err := p.cancelOpenOrders(ctx, s, username); err != nil {
			return err
		}

		dayFrom := now.In(market.IST())
		dayFrom = time.Date(dayFrom.Year(), dayFrom.Month(), dayFrom.Day(), 0, 0, 0, 0, dayFrom.Location())
		todays, err := s.Orders.FindClosedSinceByUser(ctx, username, dayFrom)
		if err != nil {
			return err
		}

		var intraday, delivery []model.Order
		for i := range todays {
			if todays[i].Segment == model.SegmentDelivery {
				delivery = append(delivery, todays[i])
			} else {
				intraday = append(intraday, todays[i])
			}
		}

		if err := p.squareOffIntraday(ctx, s, username, intraday, now); err != nil {
			return err
		}
		if err := p.migrateDelivery(ctx, s, username, delivery); err != nil {
			return err
		}

		if err := s.Settlements.MarkRun(ctx, username, tradingDay, now); err != nil {
			return err
		}

		logger.WithFields(map[string]interface{}{
			"user": username,
			"day":  tradingDay,
		}).Info("End-of-day settlement completed")
		return nil
	})
}

// cancelOpenOrders cancels every leftover OPEN order, refunding the blocked
// notional of BUY limits. PROCESSING rows are left alone; their sweep owns
// them.
func (p *Pipeline) cancelOpenOrders(ctx context.Context, s engine.Stores, username string) error {
	open, err := s.Orders.FindOpenByUser(ctx, username, "")
	if err != nil {
		return err
	}
	for i := range open {
		o := &open[i]
		ok, err := s.Orders.CancelOpen(ctx, o.ID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if o.IsBuy() {
			if err := s.Funds.Credit(ctx, username, o.Notional()); err != nil {
				return err
			}
		}
	}
	return nil
}

// squareOffIntraday flattens every nonzero intraday net at the live price,
// writing the closing execution and a square_off exit record. A missing
// quote aborts the whole run; the transaction rolls back and the next due
// check retries.
func (p *Pipeline) squareOffIntraday(ctx context.Context, s engine.Stores, username string, orders []model.Order, now time.Time) error {
	for symbol, book := range engine.MatchLots(orders) {
		net := book.NetQuantity()
		if net == 0 {
			continue
		}

		price, ok := p.oracle.GetPrice(ctx, symbol)
		if !ok || !price.IsPositive() {
			return fmt.Errorf("square off %s: %w", symbol, engine.ErrQuoteUnavailable)
		}

		qty := net
		side := model.OrderSideSell
		if net < 0 {
			qty = -net
			side = model.OrderSideBuy
		}
		value := price.Mul(decimal.NewFromInt(qty))

		if side == model.OrderSideBuy {
			// Short cover at settlement always settles even if it drives
			// the balance negative; the day must end flat.
			if err := s.Funds.Credit(ctx, username, value.Neg()); err != nil {
				return err
			}
		} else {
			if err := s.Funds.Credit(ctx, username, value); err != nil {
				return err
			}
		}

		at := now
		closing := &model.Order{
			Ref:        uuid.NewString(),
			Username:   username,
			Symbol:     symbol,
			Side:       side,
			Quantity:   qty,
			Price:      price,
			Exchange:   "NSE",
			Segment:    model.SegmentIntraday,
			Status:     model.OrderStatusClosed,
			ExecutedAt: &at,
		}
		if err := s.Orders.Create(ctx, closing); err != nil {
			return err
		}

		if err := s.Exits.Append(ctx, &model.ExitRecord{
			Username: username,
			Symbol:   symbol,
			Side:     side,
			Quantity: qty,
			Price:    price,
			Segment:  model.SegmentIntraday,
			Reason:   model.ExitReasonSquareOff,
		}); err != nil {
			return err
		}
	}
	return nil
}

// migrateDelivery folds the day's delivery executions into standing
// holdings. Sell legs backed by today's buys or by the standing long
// holding leave the account for good: each leg becomes a delivery_sell
// exit at its own fill price (the cash already moved at fill time) and the
// holding is reduced by the portion it backed. Leftover bought quantity
// merges into the long holding at the weighted average buy price. A short
// remainder beyond the holding is covered by an automatic buy at the live
// price; if funds cannot cover it the short is carried at its average
// short price instead. The day's delivery rows are deleted afterwards, the
// holdings tables are their successor.
func (p *Pipeline) migrateDelivery(ctx context.Context, s engine.Stores, username string, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(orders))
	for i := range orders {
		ids = append(ids, orders[i].ID)
	}

	for symbol, book := range engine.MatchLots(orders) {
		var matchedLong, openLong, openShort int64
		shortValue := decimal.Zero
		for _, lot := range book.Lots {
			if lot.Direction > 0 {
				matchedLong += lot.MatchedQty
				openLong += lot.Remaining
			} else {
				openShort += lot.Remaining
				shortValue = shortValue.Add(lot.Price.Mul(decimal.NewFromInt(lot.Remaining)))
			}
		}

		// Open short quantity is backed by the standing holding first;
		// only the remainder is a true short to cover or carry.
		fromHolding := int64(0)
		if openShort > 0 {
			holding, err := s.Portfolio.LongBySymbol(ctx, username, symbol)
			if err != nil {
				return err
			}
			if holding != nil {
				fromHolding = openShort
				if holding.Quantity < fromHolding {
					fromHolding = holding.Quantity
				}
			}
		}

		// One exit per sell leg, capped at the quantity backed by today's
		// buys plus the holding. Shorted quantity gets no exit record.
		exitPool := matchedLong + fromHolding
		for i := range orders {
			o := &orders[i]
			if o.Symbol != symbol || o.IsBuy() {
				continue
			}
			take := o.Quantity
			if take > exitPool {
				take = exitPool
			}
			if take == 0 {
				continue
			}
			exitPool -= take
			if err := s.Exits.Append(ctx, &model.ExitRecord{
				Username: username,
				Symbol:   symbol,
				Side:     model.OrderSideSell,
				Quantity: take,
				Price:    o.Price,
				Segment:  model.SegmentDelivery,
				Reason:   model.ExitReasonDeliverySell,
			}); err != nil {
				return err
			}
		}

		if fromHolding > 0 {
			if err := s.Portfolio.ReduceLong(ctx, username, symbol, fromHolding); err != nil {
				return err
			}
		}
		if openLong > 0 {
			if err := s.Portfolio.MergeLong(ctx, username, symbol, openLong, book.OpenAvgPrice()); err != nil {
				return err
			}
		}
		if shortQty := openShort - fromHolding; shortQty > 0 {
			avgShort := shortValue.Div(decimal.NewFromInt(openShort))
			if err := p.coverOrCarryShort(ctx, s, username, symbol, shortQty, avgShort); err != nil {
				return err
			}
		}
	}

	return s.Orders.DeleteByIDs(ctx, ids)
}

// coverOrCarryShort tries to buy back a leftover delivery short at the live
// price. When funds cannot cover the buy the short is carried into the
// short holdings table at its average short price.
func (p *Pipeline) coverOrCarryShort(ctx context.Context, s engine.Stores, username, symbol string, qty int64, avgShortPrice decimal.Decimal) error {
	price := avgShortPrice
	if live, ok := p.oracle.GetPrice(ctx, symbol); ok && live.IsPositive() {
		price = live
	}

	cost := price.Mul(decimal.NewFromInt(qty))
	ok, err := s.Funds.Debit(ctx, username, cost)
	if err != nil {
		return err
	}
	if ok {
		logger.WithFields(map[string]interface{}{
			"user":   username,
			"symbol": symbol,
			"qty":    qty,
			"price":  price.String(),
		}).Info("Delivery short auto-covered at settlement")
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"user":   username,
		"symbol": symbol,
		"qty":    qty,
	}).Warn("Insufficient funds to cover delivery short, carrying position")
	return s.Portfolio.MergeShort(ctx, username, symbol, qty, avgShortPrice)
}
