package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/src/market"
	"papertrade/src/model"
)

// OpenOrderView is one pending limit order enriched with the live price and
// a human-readable distance to its trigger.
type OpenOrderView struct {
	OrderID    uint             `json:"order_id"`
	Ref        string           `json:"ref"`
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Quantity   int64            `json:"quantity"`
	Trigger    decimal.Decimal  `json:"trigger_price"`
	Segment    string           `json:"segment"`
	ShortFirst bool             `json:"short_first,omitempty"`
	Stoploss   *decimal.Decimal `json:"stoploss,omitempty"`
	Target     *decimal.Decimal `json:"target,omitempty"`
	LivePrice  *decimal.Decimal `json:"live_price,omitempty"`
	Distance   string           `json:"distance,omitempty"`
	PlacedAt   time.Time        `json:"placed_at"`
}

// PositionView is one symbol's open intraday exposure.
type PositionView struct {
	Symbol        string           `json:"symbol"`
	NetQuantity   int64            `json:"net_quantity"`
	Direction     string           `json:"direction"` // LONG or SHORT
	AvgPrice      decimal.Decimal  `json:"avg_price"`
	LivePrice     *decimal.Decimal `json:"live_price,omitempty"`
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl,omitempty"`
	RealizedPnL   decimal.Decimal  `json:"realized_pnl"`
	Segment       string           `json:"segment"`
}

// HistoryLot is one opening lot with its FIFO exit aggregates.
type HistoryLot struct {
	OrderID     uint             `json:"order_id"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Quantity    int64            `json:"quantity"`
	EntryPrice  decimal.Decimal  `json:"entry_price"`
	EnteredAt   time.Time        `json:"entered_at"`
	Segment     string           `json:"segment"`
	SoldQty     int64            `json:"sold_qty"`
	AvgExit     decimal.Decimal  `json:"avg_exit_price"`
	RealizedPnL decimal.Decimal  `json:"realized_pnl"`
	Remaining   int64            `json:"remaining_qty"`
	IsClosed    bool             `json:"is_closed"`
	LastExitAt  *time.Time       `json:"last_exit_at,omitempty"`
}

// HoldingView is one standing (delivery) holding with live valuation.
type HoldingView struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	LastPrice     decimal.Decimal `json:"last_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	InvestedValue decimal.Decimal `json:"invested_value"`
	PnL           decimal.Decimal `json:"pnl"`
	Short         bool            `json:"short,omitempty"`
}

// PortfolioView is the account snapshot: cash plus standing holdings.
type PortfolioView struct {
	Username      string          `json:"username"`
	Available     decimal.Decimal `json:"available_funds"`
	Holdings      []HoldingView   `json:"holdings"`
	InvestedValue decimal.Decimal `json:"invested_value"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
}

// GetOpenOrders lists the user's pending limit orders with live quote
// context. A missing quote leaves LivePrice and Distance empty.
func (e *Engine) GetOpenOrders(ctx context.Context, username string) ([]OpenOrderView, error) {
	e.settleIfDue(ctx, username)

	var orders []model.Order
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		var err error
		orders, err = s.Orders.FindOpenByUser(ctx, username, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	views := make([]OpenOrderView, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		v := OpenOrderView{
			OrderID:    o.ID,
			Ref:        o.Ref,
			Symbol:     o.Symbol,
			Side:       o.Side,
			Quantity:   o.Quantity,
			Trigger:    o.Price,
			Segment:    o.Segment,
			ShortFirst: o.ShortFirst,
			Stoploss:   o.Stoploss,
			Target:     o.Target,
			PlacedAt:   o.CreatedAt,
		}
		if live, ok := e.livePrice(ctx, o.Symbol); ok {
			p := live
			v.LivePrice = &p
			v.Distance = triggerDistance(o, o.Price, live)
		}
		views = append(views, v)
	}
	return views, nil
}

func triggerDistance(o *model.Order, trigger, live decimal.Decimal) string {
	if triggeredAt(o, trigger, live) {
		return "at trigger"
	}
	diff := live.Sub(trigger).Abs()
	pct := decimal.Zero
	if live.IsPositive() {
		pct = diff.Div(live).Mul(decimal.NewFromInt(100))
	}
	return fmt.Sprintf("%s away (%s%%)", diff.StringFixed(2), pct.StringFixed(2))
}

// GetPositions rebuilds today's per-symbol lot books from closed orders and
// reports every symbol with open quantity or realized activity.
func (e *Engine) GetPositions(ctx context.Context, username string) ([]PositionView, error) {
	e.settleIfDue(ctx, username)

	var orders []model.Order
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		var err error
		orders, err = s.Orders.FindClosedSinceByUser(ctx, username, dayStart(market.Now()))
		return err
	})
	if err != nil {
		return nil, err
	}

	books := MatchLots(orders)
	symbols := make([]string, 0, len(books))
	for sym := range books {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	views := make([]PositionView, 0, len(symbols))
	for _, sym := range symbols {
		book := books[sym]
		net := book.NetQuantity()
		realized := book.RealizedPnL()
		if net == 0 && realized.IsZero() {
			continue
		}

		v := PositionView{
			Symbol:      sym,
			NetQuantity: net,
			AvgPrice:    book.OpenAvgPrice(),
			RealizedPnL: realized,
			Segment:     dominantSegment(book),
		}
		if net >= 0 {
			v.Direction = "LONG"
		} else {
			v.Direction = "SHORT"
		}

		if live, ok := e.livePrice(ctx, sym); ok {
			p := live
			v.LivePrice = &p
			if net != 0 {
				// (live - avg) * net works for both directions because net
				// carries the sign.
				u := live.Sub(v.AvgPrice).Mul(decimal.NewFromInt(net))
				v.UnrealizedPnL = &u
			}
		}
		views = append(views, v)
	}
	return views, nil
}

func dominantSegment(b *LotBook) string {
	for _, lot := range b.Lots {
		if lot.Remaining > 0 {
			return lot.Segment
		}
	}
	if len(b.Lots) > 0 {
		return b.Lots[len(b.Lots)-1].Segment
	}
	return model.SegmentIntraday
}

// GetHistory replays the user's full execution history into lots and renders
// each opening lot with its exit aggregates, newest first.
func (e *Engine) GetHistory(ctx context.Context, username string) ([]HistoryLot, error) {
	e.settleIfDue(ctx, username)

	var orders []model.Order
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		var err error
		orders, err = s.Orders.FindClosedByUser(ctx, username)
		return err
	})
	if err != nil {
		return nil, err
	}

	books := MatchLots(orders)
	var lots []HistoryLot
	for _, book := range books {
		for _, lot := range book.Lots {
			side := model.OrderSideBuy
			if lot.Direction < 0 {
				side = model.OrderSideSell
			}
			lots = append(lots, HistoryLot{
				OrderID:     lot.OrderID,
				Symbol:      lot.Symbol,
				Side:        side,
				Quantity:    lot.Quantity,
				EntryPrice:  lot.Price,
				EnteredAt:   lot.OpenedAt,
				Segment:     lot.Segment,
				SoldQty:     lot.MatchedQty,
				AvgExit:     lot.MatchedAvgPrice(),
				RealizedPnL: lot.RealizedPnL,
				Remaining:   lot.Remaining,
				IsClosed:    lot.Closed(),
				LastExitAt:  lot.LastExitAt,
			})
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].EnteredAt.Equal(lots[j].EnteredAt) {
			return lots[i].EnteredAt.After(lots[j].EnteredAt)
		}
		return lots[i].OrderID > lots[j].OrderID
	})
	return lots, nil
}

// GetPortfolio returns the cash balance and standing holdings valued at the
// live price. Fetched quotes are written back as each holding's last price
// so the snapshot stays meaningful when the oracle is down later.
func (e *Engine) GetPortfolio(ctx context.Context, username string) (*PortfolioView, error) {
	e.settleIfDue(ctx, username)

	view := &PortfolioView{
		Username:      username,
		InvestedValue: decimal.Zero,
		CurrentValue:  decimal.Zero,
		TotalPnL:      decimal.Zero,
		Holdings:      []HoldingView{},
	}

	err := e.stores.RunInTx(ctx, func(s Stores) error {
		account, err := s.Funds.Ensure(ctx, username)
		if err != nil {
			return err
		}
		view.Available = account.Available

		longs, err := s.Portfolio.Long(ctx, username)
		if err != nil {
			return err
		}
		for i := range longs {
			h := &longs[i]
			last := h.LastPrice
			if live, ok := e.livePrice(ctx, h.Symbol); ok {
				last = live
				if err := s.Portfolio.TouchLongPrice(ctx, username, h.Symbol, live); err != nil {
					return err
				}
			}
			qty := decimal.NewFromInt(h.Quantity)
			invested := h.AvgPrice.Mul(qty)
			current := last.Mul(qty)
			view.Holdings = append(view.Holdings, HoldingView{
				Symbol:        h.Symbol,
				Quantity:      h.Quantity,
				AvgPrice:      h.AvgPrice,
				LastPrice:     last,
				CurrentValue:  current,
				InvestedValue: invested,
				PnL:           current.Sub(invested),
			})
			view.InvestedValue = view.InvestedValue.Add(invested)
			view.CurrentValue = view.CurrentValue.Add(current)
		}

		shorts, err := s.Portfolio.Short(ctx, username)
		if err != nil {
			return err
		}
		for i := range shorts {
			h := &shorts[i]
			last := h.LastPrice
			if live, ok := e.livePrice(ctx, h.Symbol); ok {
				last = live
			}
			qty := decimal.NewFromInt(h.Quantity)
			// A short profits when the price falls below the short price.
			invested := h.AvgPrice.Mul(qty)
			current := last.Mul(qty)
			view.Holdings = append(view.Holdings, HoldingView{
				Symbol:        h.Symbol,
				Quantity:      h.Quantity,
				AvgPrice:      h.AvgPrice,
				LastPrice:     last,
				CurrentValue:  current,
				InvestedValue: invested,
				PnL:           invested.Sub(current),
				Short:         true,
			})
			view.TotalPnL = view.TotalPnL.Add(invested.Sub(current))
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	view.TotalPnL = view.TotalPnL.Add(view.CurrentValue.Sub(view.InvestedValue))
	return view, nil
}

// GetFunds returns the available balance, creating the zero account on
// first touch.
func (e *Engine) GetFunds(ctx context.Context, username string) (decimal.Decimal, error) {
	e.settleIfDue(ctx, username)

	var available decimal.Decimal
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		account, err := s.Funds.Ensure(ctx, username)
		if err != nil {
			return err
		}
		available = account.Available
		return nil
	})
	return available, err
}

// AddFunds credits the account. A paper account tops up freely.
func (e *Engine) AddFunds(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	var available decimal.Decimal
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		if _, err := s.Funds.Ensure(ctx, username); err != nil {
			return err
		}
		if err := s.Funds.Credit(ctx, username, amount); err != nil {
			return err
		}
		balance, err := s.Funds.Balance(ctx, username)
		if err != nil {
			return err
		}
		available = balance
		return nil
	})
	return available, err
}

// WithdrawFunds debits the account. The conditional debit is the guard
// here, blocked limit notional is already out of the available balance.
func (e *Engine) WithdrawFunds(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	var available decimal.Decimal
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		if _, err := s.Funds.Ensure(ctx, username); err != nil {
			return err
		}
		ok, err := s.Funds.Debit(ctx, username, amount)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientFunds
		}
		balance, err := s.Funds.Balance(ctx, username)
		if err != nil {
			return err
		}
		available = balance
		return nil
	})
	return available, err
}

// GetExits lists forced and voluntary exits, newest first.
func (e *Engine) GetExits(ctx context.Context, username string) ([]model.ExitRecord, error) {
	e.settleIfDue(ctx, username)

	var records []model.ExitRecord
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		var err error
		records, err = s.Exits.ListByUser(ctx, username)
		return err
	})
	return records, err
}
