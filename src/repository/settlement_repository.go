package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrade/src/database"
	"papertrade/src/model"
)

// SettlementRepository tracks which (user, trading day) pairs the EOD
// pipeline has already settled.
type SettlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository creates a new repository instance using the main read/write database.
func NewSettlementRepository() *SettlementRepository {
	return &SettlementRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SettlementRepository) WithDB(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// HasRun reports whether settlement already completed for the user on the
// given trading day.
func (r *SettlementRepository) HasRun(
	ctx context.Context,
	username string,
	tradingDay string,
) (bool, error) {

	var settlement model.Settlement

	err := r.db.WithContext(ctx).
		Where("username = ? AND trading_day = ?", username, tradingDay).
		First(&settlement).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SettlementRepository",
			"op":   "HasRun",
			"user": username,
			"day":  tradingDay,
		}).WithError(err).Error("Failed to check settlement marker")

		return false, err
	}

	return true, nil
}

// MarkRun records that settlement completed for the user on the trading day.
func (r *SettlementRepository) MarkRun(
	ctx context.Context,
	username string,
	tradingDay string,
	at time.Time,
) error {

	settlement := model.Settlement{
		Username:   username,
		TradingDay: tradingDay,
		RanAt:      at,
	}

	err := r.db.WithContext(ctx).Create(&settlement).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SettlementRepository",
			"op":   "MarkRun",
			"user": username,
			"day":  tradingDay,
		}).WithError(err).Error("Failed to record settlement")

		return err
	}

	return nil
}
