package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitReason constants describe why a position was exited.
const (
	ExitReasonStoploss     = "stoploss"
	ExitReasonTarget       = "target"
	ExitReasonSquareOff    = "square_off"
	ExitReasonManual       = "manual"
	ExitReasonDeliverySell = "delivery_sell"
)

// ExitRecord is an append-only history row written whenever a position is
// exited: stop-loss or target breach, EOD square-off, manual close, or a
// delivery sell migrating out at settlement. Side is SELL for a long exit
// and BUY for a short cover. Rows are never updated or deleted.
type ExitRecord struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	Username string          `gorm:"size:60;not null;index" json:"username"`
	Symbol   string          `gorm:"size:30;not null;index" json:"symbol"`
	Side     string          `gorm:"size:4;not null" json:"side"`
	Quantity int64           `gorm:"not null" json:"quantity"`
	Price    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"price"`
	Segment  string          `gorm:"size:10;not null" json:"segment"`
	Reason   string          `gorm:"size:20;not null" json:"reason"`

	CreatedAt time.Time `json:"created_at"`
}

func (ExitRecord) TableName() string {
	return "exit_records"
}
