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

// Placement outcomes.
const (
	OutcomeExecuted = "EXECUTED"
	OutcomePlaced   = "PLACED"
)

// PlaceRequest is an order placement. A zero Price means a market order;
// otherwise Price is the limit trigger. AllowShort is the caller's explicit
// consent to open a short position when owned quantity cannot cover a SELL.
type PlaceRequest struct {
	Username   string
	Symbol     string
	Side       string
	Quantity   int64
	Price      decimal.Decimal
	Segment    string
	Exchange   string
	Stoploss   *decimal.Decimal
	Target     *decimal.Decimal
	AllowShort bool
}

// PlacementResult reports what the engine did with a placement.
type PlacementResult struct {
	OrderID    uint            `json:"order_id"`
	Ref        string          `json:"ref"`
	Outcome    string          `json:"outcome"` // EXECUTED or PLACED
	Segment    string          `json:"segment"`
	Quantity   int64           `json:"quantity"`
	Capped     bool            `json:"capped,omitempty"`
	ShortFirst bool            `json:"short_first,omitempty"`
	FillPrice  decimal.Decimal `json:"fill_price,omitempty"`
}

// SellPreview tells the caller how a prospective SELL would be treated.
type SellPreview struct {
	OwnedQty          int64 `json:"owned_qty"`
	CanSell           bool  `json:"can_sell"`
	NeedsConfirmation bool  `json:"needs_confirmation"`
}

func normalizePlaceRequest(req *PlaceRequest) error {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if req.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if req.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}

	req.Side = strings.ToUpper(strings.TrimSpace(req.Side))
	if req.Side != model.OrderSideBuy && req.Side != model.OrderSideSell {
		return &ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}

	req.Segment = strings.ToLower(strings.TrimSpace(req.Segment))
	if req.Segment == "" {
		req.Segment = model.SegmentIntraday
	}
	if req.Segment != model.SegmentIntraday && req.Segment != model.SegmentDelivery {
		return &ValidationError{Field: "segment", Reason: "must be intraday or delivery"}
	}

	if req.Exchange == "" {
		req.Exchange = "NSE"
	}
	req.Exchange = strings.ToUpper(req.Exchange)

	if req.Price.IsNegative() {
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	if req.Stoploss != nil && !req.Stoploss.IsPositive() {
		req.Stoploss = nil
	}
	if req.Target != nil && !req.Target.IsPositive() {
		req.Target = nil
	}

	return nil
}

// PlaceOrder validates the request and either executes it immediately
// (market orders and already-triggered limits) or stores it OPEN for the
// trigger sweep. BUY limits block their notional in the funds ledger at
// placement; the block is refunded on cancel.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceRequest) (*PlacementResult, error) {
	e.settleIfDue(ctx, req.Username)

	if err := normalizePlaceRequest(&req); err != nil {
		return nil, err
	}

	now := market.Now()
	if !market.IsOpen(now) {
		return nil, ErrMarketClosed
	}

	isMarket := req.Price.IsZero()
	live, liveOK := e.livePrice(ctx, req.Symbol)
	if isMarket && !liveOK {
		return nil, ErrQuoteUnavailable
	}

	var result *PlacementResult
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		quantity := req.Quantity
		capped := false
		shortFirst := false

		if req.Side == model.OrderSideSell {
			owned, err := e.ownedQuantity(ctx, s, req.Username, req.Symbol)
			if err != nil {
				return err
			}

			switch {
			case req.AllowShort:
				shortFirst = owned < quantity
			case owned == 0:
				return &ShortConfirmationError{Requested: quantity, Owned: 0}
			case owned < quantity:
				// Preserved source behavior: without explicit consent the
				// sell is silently capped to the owned quantity.
				quantity = owned
				capped = true
			}
		}

		order := &model.Order{
			Ref:        uuid.NewString(),
			Username:   req.Username,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Quantity:   quantity,
			Exchange:   req.Exchange,
			Segment:    req.Segment,
			ShortFirst: shortFirst,
			Stoploss:   req.Stoploss,
			Target:     req.Target,
		}

		if isMarket {
			return e.executeImmediate(ctx, s, order, live, &result, capped)
		}

		// Limit order: execute right away when the trigger rule already
		// holds. BUY auto-corrects to the live price when live <= trigger,
		// protecting the buyer from paying above their limit; SELL fills at
		// the trigger.
		if liveOK {
			if order.IsBuy() && priceLTE(live, req.Price) {
				return e.executeImmediate(ctx, s, order, live, &result, capped)
			}
			if !order.IsBuy() && triggeredAt(order, req.Price, live) {
				return e.executeImmediate(ctx, s, order, req.Price, &result, capped)
			}
		}

		// Stays OPEN for the trigger sweep. BUY blocks the notional now so
		// cancellation and EOD cleanup can refund exactly this amount.
		order.Status = model.OrderStatusOpen
		order.Price = req.Price

		if order.IsBuy() {
			ok, err := s.Funds.Debit(ctx, req.Username, order.Notional())
			if err != nil {
				return err
			}
			if !ok {
				return ErrInsufficientFunds
			}
		}

		if err := s.Orders.Create(ctx, order); err != nil {
			return err
		}

		result = &PlacementResult{
			OrderID:    order.ID,
			Ref:        order.Ref,
			Outcome:    OutcomePlaced,
			Segment:    order.Segment,
			Quantity:   order.Quantity,
			Capped:     capped,
			ShortFirst: shortFirst,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"user":    req.Username,
		"symbol":  req.Symbol,
		"side":    req.Side,
		"qty":     result.Quantity,
		"outcome": result.Outcome,
	}).Info("Order placement completed")

	return result, nil
}

// triggeredAt is the trigger rule evaluated against an explicit trigger
// price, used before the order row carries one.
func triggeredAt(o *model.Order, trigger, live decimal.Decimal) bool {
	if o.IsBuy() || o.ShortFirst {
		return priceLTE(live, trigger)
	}
	return priceGTE(live, trigger)
}

// executeImmediate fills an order at fillPrice inside the current
// transaction: funds move, then the order row is inserted CLOSED. The lot
// books derive from closed rows, so the fill feeds positions and history
// without further writes.
func (e *Engine) executeImmediate(
	ctx context.Context,
	s Stores,
	order *model.Order,
	fillPrice decimal.Decimal,
	result **PlacementResult,
	capped bool,
) error {

	cost := fillPrice.Mul(decimal.NewFromInt(order.Quantity))

	if order.IsBuy() {
		ok, err := s.Funds.Debit(ctx, order.Username, cost)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientFunds
		}
	} else {
		if err := s.Funds.Credit(ctx, order.Username, cost); err != nil {
			return err
		}
	}

	now := market.Now()
	order.Status = model.OrderStatusClosed
	order.Price = fillPrice
	order.ExecutedAt = &now

	if err := s.Orders.Create(ctx, order); err != nil {
		return err
	}

	*result = &PlacementResult{
		OrderID:    order.ID,
		Ref:        order.Ref,
		Outcome:    OutcomeExecuted,
		Segment:    order.Segment,
		Quantity:   order.Quantity,
		Capped:     capped,
		ShortFirst: order.ShortFirst,
		FillPrice:  fillPrice,
	}
	return nil
}

// PreviewSell reports how much of symbol the user can sell outright and
// whether a short confirmation would be required for the requested quantity.
func (e *Engine) PreviewSell(ctx context.Context, username, symbol string, quantity int64) (*SellPreview, error) {
	e.settleIfDue(ctx, username)

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}

	var preview *SellPreview
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		owned, err := e.ownedQuantity(ctx, s, username, symbol)
		if err != nil {
			return err
		}
		preview = &SellPreview{
			OwnedQty:          owned,
			CanSell:           owned >= quantity,
			NeedsConfirmation: owned == 0,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preview, nil
}
