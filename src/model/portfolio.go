package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioHolding is a standing long holding carried across days. One row
// per (username, symbol); quantity additions fold into the volume-weighted
// average price.
type PortfolioHolding struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Username  string          `gorm:"size:60;not null;index:idx_holding_user_symbol,unique" json:"username"`
	Symbol    string          `gorm:"size:30;not null;index:idx_holding_user_symbol,unique" json:"symbol"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	AvgPrice  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"avg_price"`
	LastPrice decimal.Decimal `gorm:"type:decimal(18,4)" json:"last_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (PortfolioHolding) TableName() string {
	return "portfolio_holdings"
}

// ShortCarryHolding mirrors PortfolioHolding for short positions that
// survived end of day because the auto cover could not complete. AvgPrice is
// the weighted average short sale price.
type ShortCarryHolding struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Username  string          `gorm:"size:60;not null;index:idx_short_user_symbol,unique" json:"username"`
	Symbol    string          `gorm:"size:30;not null;index:idx_short_user_symbol,unique" json:"symbol"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	AvgPrice  decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"avg_price"`
	LastPrice decimal.Decimal `gorm:"type:decimal(18,4)" json:"last_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (ShortCarryHolding) TableName() string {
	return "short_carry_holdings"
}
