package migrations

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// normalizeOrderCasing fixes rows written by earlier versions that stored
// segments and statuses in mixed case ("Intraday", "Open", "Closed"). All
// queries assume lowercase segments and uppercase statuses.
func normalizeOrderCasing(db *gorm.DB) error {
	if err := db.Exec("UPDATE orders SET segment = LOWER(segment) WHERE segment <> LOWER(segment)").Error; err != nil {
		return fmt.Errorf("normalize segment casing: %w", err)
	}
	if err := db.Exec("UPDATE orders SET status = UPPER(status) WHERE status <> UPPER(status)").Error; err != nil {
		return fmt.Errorf("normalize status casing: %w", err)
	}
	return nil
}

// backfillOrderRefs assigns a client reference to orders created before the
// ref column existed so the unique index can be relied on.
func backfillOrderRefs(db *gorm.DB) error {
	var ids []uint
	if err := db.Table("orders").Where("ref IS NULL OR ref = ''").Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("find orders without ref: %w", err)
	}

	for _, id := range ids {
		if err := db.Exec("UPDATE orders SET ref = ? WHERE id = ?", uuid.NewString(), id).Error; err != nil {
			return fmt.Errorf("backfill ref for order %d: %w", id, err)
		}
	}
	return nil
}

// clearUnsetStopLevels nulls out zero and negative stoploss/target values.
// Earlier versions stored 0 for "not set"; the watcher treats NULL as the
// only unset marker.
func clearUnsetStopLevels(db *gorm.DB) error {
	if err := db.Exec("UPDATE orders SET stoploss = NULL WHERE stoploss IS NOT NULL AND stoploss <= 0").Error; err != nil {
		return fmt.Errorf("clear unset stoploss: %w", err)
	}
	if err := db.Exec("UPDATE orders SET target = NULL WHERE target IS NOT NULL AND target <= 0").Error; err != nil {
		return fmt.Errorf("clear unset target: %w", err)
	}
	return nil
}

// seedFundsAccounts creates a zero-balance funds row for every user that has
// none. Earlier versions created the row lazily on first order placement.
func seedFundsAccounts(db *gorm.DB) error {
	err := db.Exec(`
		INSERT INTO funds_accounts (username, available, created_at, updated_at)
		SELECT u.username, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		  FROM users u
		 WHERE NOT EXISTS (
		       SELECT 1 FROM funds_accounts f WHERE f.username = u.username
		 )`).Error
	if err != nil {
		return fmt.Errorf("seed funds accounts: %w", err)
	}
	return nil
}
