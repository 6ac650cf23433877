package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"papertrade/src/market"
	"papertrade/src/model"
)

// ModifyOrder changes the quantity and trigger price of a still-OPEN order.
// For BUY orders the blocked notional is re-sized: the difference between
// the new and old trigger*qty is debited or refunded so a later cancel
// always refunds exactly new trigger*qty.
func (e *Engine) ModifyOrder(ctx context.Context, username string, orderID uint, quantity int64, price decimal.Decimal) error {
	e.settleIfDue(ctx, username)

	if quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if !price.IsPositive() {
		return &ValidationError{Field: "price", Reason: "must be positive"}
	}

	return e.stores.RunInTx(ctx, func(s Stores) error {
		order, err := s.Orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil || order.Username != username {
			return ErrOrderNotFound
		}
		if order.Status != model.OrderStatusOpen {
			return ErrOrderNotOpen
		}

		if order.IsBuy() {
			oldNotional := order.Notional()
			newNotional := price.Mul(decimal.NewFromInt(quantity))
			diff := newNotional.Sub(oldNotional)
			switch {
			case diff.IsPositive():
				ok, err := s.Funds.Debit(ctx, username, diff)
				if err != nil {
					return err
				}
				if !ok {
					return ErrInsufficientFunds
				}
			case diff.IsNegative():
				if err := s.Funds.Credit(ctx, username, diff.Neg()); err != nil {
					return err
				}
			}
		}

		ok, err := s.Orders.ModifyOpen(ctx, orderID, quantity, price)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race to the trigger sweep; roll back the funds move.
			return ErrOrderNotOpen
		}
		return nil
	})
}

// CancelOrder cancels an OPEN order and refunds the blocked BUY notional.
// An order already claimed by the trigger sweep cannot be cancelled.
func (e *Engine) CancelOrder(ctx context.Context, username string, orderID uint) error {
	e.settleIfDue(ctx, username)

	return e.stores.RunInTx(ctx, func(s Stores) error {
		order, err := s.Orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil || order.Username != username {
			return ErrOrderNotFound
		}
		if order.Status != model.OrderStatusOpen {
			return ErrOrderNotOpen
		}

		ok, err := s.Orders.CancelOpen(ctx, orderID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOrderNotOpen
		}

		if order.IsBuy() {
			if err := s.Funds.Credit(ctx, username, order.Notional()); err != nil {
				return err
			}
		}

		logger.WithFields(map[string]interface{}{
			"user":  username,
			"order": orderID,
		}).Info("Order cancelled")
		return nil
	})
}

// ClosePositionForSymbol flattens everything the user holds in symbol at
// the live price: today's open net, standing long holdings and carried
// shorts. Each leg records a manual exit.
func (e *Engine) ClosePositionForSymbol(ctx context.Context, username, symbol string) error {
	e.settleIfDue(ctx, username)

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}

	live, ok := e.livePrice(ctx, symbol)
	if !ok {
		return ErrQuoteUnavailable
	}

	return e.stores.RunInTx(ctx, func(s Stores) error {
		closed := false

		orders, err := s.Orders.FindClosedSinceByUser(ctx, username, dayStart(market.Now()))
		if err != nil {
			return err
		}
		var todays []model.Order
		for i := range orders {
			if orders[i].Symbol == symbol {
				todays = append(todays, orders[i])
			}
		}
		if book, found := MatchLots(todays)[symbol]; found {
			net := book.NetQuantity()
			if net != 0 {
				if err := e.flattenNet(ctx, s, username, symbol, net, live, dominantSegment(book), model.ExitReasonManual); err != nil {
					return err
				}
				closed = true
			}
		}

		holding, err := s.Portfolio.LongBySymbol(ctx, username, symbol)
		if err != nil {
			return err
		}
		if holding != nil && holding.Quantity > 0 {
			proceeds := live.Mul(decimal.NewFromInt(holding.Quantity))
			if err := s.Funds.Credit(ctx, username, proceeds); err != nil {
				return err
			}
			if err := s.Portfolio.ReduceLong(ctx, username, symbol, holding.Quantity); err != nil {
				return err
			}
			if err := s.Exits.Append(ctx, &model.ExitRecord{
				Username: username,
				Symbol:   symbol,
				Side:     model.OrderSideSell,
				Quantity: holding.Quantity,
				Price:    live,
				Segment:  model.SegmentDelivery,
				Reason:   model.ExitReasonManual,
			}); err != nil {
				return err
			}
			closed = true
		}

		short, err := s.Portfolio.ShortBySymbol(ctx, username, symbol)
		if err != nil {
			return err
		}
		if short != nil && short.Quantity > 0 {
			cost := live.Mul(decimal.NewFromInt(short.Quantity))
			ok, err := s.Funds.Debit(ctx, username, cost)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInsufficientFunds
			}
			if err := s.Portfolio.ReduceShort(ctx, username, symbol, short.Quantity); err != nil {
				return err
			}
			if err := s.Exits.Append(ctx, &model.ExitRecord{
				Username: username,
				Symbol:   symbol,
				Side:     model.OrderSideBuy,
				Quantity: short.Quantity,
				Price:    live,
				Segment:  model.SegmentDelivery,
				Reason:   model.ExitReasonManual,
			}); err != nil {
				return err
			}
			closed = true
		}

		if !closed {
			return ErrNoPosition
		}
		return nil
	})
}

// flattenNet inserts the opposite-side closing execution for a signed net
// quantity and moves the cash, recording the exit.
func (e *Engine) flattenNet(
	ctx context.Context,
	s Stores,
	username, symbol string,
	net int64,
	price decimal.Decimal,
	segment, reason string,
) error {

	qty := net
	side := model.OrderSideSell
	if net < 0 {
		qty = -net
		side = model.OrderSideBuy
	}

	value := price.Mul(decimal.NewFromInt(qty))
	if side == model.OrderSideBuy {
		ok, err := s.Funds.Debit(ctx, username, value)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientFunds
		}
	} else {
		if err := s.Funds.Credit(ctx, username, value); err != nil {
			return err
		}
	}

	now := market.Now()
	order := &model.Order{
		Ref:        uuid.NewString(),
		Username:   username,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Exchange:   "NSE",
		Segment:    segment,
		Status:     model.OrderStatusClosed,
		ExecutedAt: &now,
	}
	if err := s.Orders.Create(ctx, order); err != nil {
		return err
	}

	return s.Exits.Append(ctx, &model.ExitRecord{
		Username: username,
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    price,
		Segment:  segment,
		Reason:   reason,
	})
}

// AddToPosition buys more of an already-held symbol at market, a
// convenience wrapper over a market BUY in the holding's segment.
func (e *Engine) AddToPosition(ctx context.Context, username, symbol string, quantity int64) (*PlacementResult, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	segment := model.SegmentIntraday
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		holding, err := s.Portfolio.LongBySymbol(ctx, username, symbol)
		if err != nil {
			return err
		}
		if holding != nil && holding.Quantity > 0 {
			segment = model.SegmentDelivery
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return e.PlaceOrder(ctx, PlaceRequest{
		Username: username,
		Symbol:   symbol,
		Side:     model.OrderSideBuy,
		Quantity: quantity,
		Segment:  segment,
	})
}
