package model

import "time"

// Settlement records that the end-of-day pipeline completed for a user on a
// trading day. The unique (username, trading_day) pair makes the pipeline
// idempotent: a second invocation on the same day short-circuits.
type Settlement struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Username   string    `gorm:"size:60;not null;index:idx_settlement_user_day,unique" json:"username"`
	TradingDay string    `gorm:"size:10;not null;index:idx_settlement_user_day,unique" json:"trading_day"`
	RanAt      time.Time `gorm:"not null" json:"ran_at"`
}

func (Settlement) TableName() string {
	return "settlements"
}
