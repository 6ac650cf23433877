package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	SegmentIntraday = "intraday"
	SegmentDelivery = "delivery"

	// Order lifecycle. PROCESSING is a transient claim taken by the trigger
	// sweep so at most one worker executes an order; it either advances to
	// CLOSED or falls back to OPEN. CLOSED and CANCELLED are terminal.
	OrderStatusOpen       = "OPEN"
	OrderStatusProcessing = "PROCESSING"
	OrderStatusClosed     = "CLOSED"
	OrderStatusCancelled  = "CANCELLED"
)

// Order represents a single buy or sell instruction against the simulated
// book. While the order is OPEN, Price holds the trigger (limit) price; once
// CLOSED it holds the fill price.
type Order struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Ref      string `gorm:"size:64;uniqueIndex" json:"ref"`
	Username string `gorm:"size:60;not null;index" json:"username"`
	Symbol   string `gorm:"size:30;not null;index" json:"symbol"`
	Side     string `gorm:"size:4;not null" json:"side"`
	Quantity int64  `gorm:"not null" json:"quantity"`

	Price    decimal.Decimal `gorm:"type:decimal(18,4)" json:"price"`
	Exchange string          `gorm:"size:10;default:NSE" json:"exchange"`
	Segment  string          `gorm:"size:10;not null;default:intraday" json:"segment"`
	Status   string          `gorm:"size:12;not null;default:OPEN;index" json:"status"`

	// ShortFirst marks a SELL that opened a short position instead of
	// exiting owned quantity. Its trigger rule mirrors BUY.
	ShortFirst bool `gorm:"not null;default:false" json:"short_first"`

	Stoploss *decimal.Decimal `gorm:"type:decimal(18,4)" json:"stoploss,omitempty"`
	Target   *decimal.Decimal `gorm:"type:decimal(18,4)" json:"target,omitempty"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// IsBuy reports whether the order adds quantity to the position.
func (o *Order) IsBuy() bool {
	return strings.EqualFold(o.Side, OrderSideBuy)
}

// Direction is +1 for BUY and -1 for SELL. Lot matching and trigger rules
// are parametrized on this sign so long and short handling stay mirrored.
func (o *Order) Direction() int64 {
	if o.IsBuy() {
		return 1
	}
	return -1
}

// Notional is price * quantity, the amount blocked for a pending BUY limit.
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// TradingDay returns the YYYY-MM-DD day the order executed on, in loc,
// falling back to the creation day for rows that never executed.
func (o *Order) TradingDay(loc *time.Location) string {
	t := o.CreatedAt
	if o.ExecutedAt != nil {
		t = *o.ExecutedAt
	}
	return t.In(loc).Format("2006-01-02")
}
