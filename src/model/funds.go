package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundsAccount is the per-user cash ledger. Available already excludes the
// notional blocked by pending BUY limit orders: placement debits the block
// and cancellation (or EOD cancel) credits it back.
type FundsAccount struct {
	Username  string          `gorm:"primaryKey;size:60" json:"username"`
	Available decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"available"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (FundsAccount) TableName() string {
	return "funds_accounts"
}
