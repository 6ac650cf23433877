package repository

import (
	"context"
	"errors"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"papertrade/src/database"
	"papertrade/src/model"
)

// PortfolioRepository handles the standing holdings: long rows in
// portfolio_holdings and short-carry rows in short_carry_holdings. Both sides
// merge additions into a volume-weighted average price.
type PortfolioRepository struct {
	db *gorm.DB
}

// NewPortfolioRepository creates a new repository instance using the main read/write database.
func NewPortfolioRepository() *PortfolioRepository {
	return &PortfolioRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PortfolioRepository) WithDB(db *gorm.DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// Long returns all long holdings for a user.
func (r *PortfolioRepository) Long(
	ctx context.Context,
	username string,
) ([]model.PortfolioHolding, error) {

	var holdings []model.PortfolioHolding

	err := r.db.WithContext(ctx).
		Where("username = ? AND quantity > 0", username).
		Order("symbol ASC").
		Find(&holdings).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PortfolioRepository",
			"op":   "Long",
			"user": username,
		}).WithError(err).Error("Failed to fetch holdings")

		return nil, err
	}

	return holdings, nil
}

// LongBySymbol returns the user's long holding for one symbol.
// Returns (nil, nil) if there is none.
func (r *PortfolioRepository) LongBySymbol(
	ctx context.Context,
	username string,
	symbol string,
) (*model.PortfolioHolding, error) {

	var holding model.PortfolioHolding

	err := r.db.WithContext(ctx).
		Where("username = ? AND symbol = ?", username, symbol).
		First(&holding).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PortfolioRepository",
			"op":     "LongBySymbol",
			"user":   username,
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch holding")

		return nil, err
	}

	return &holding, nil
}

// MergeLong folds qty at price into the user's long holding for symbol,
// recomputing the weighted average: (oldQty*oldAvg + qty*price) / (oldQty+qty).
func (r *PortfolioRepository) MergeLong(
	ctx context.Context,
	username string,
	symbol string,
	qty int64,
	price decimal.Decimal,
) error {

	if qty <= 0 {
		return fmt.Errorf("merge quantity must be positive, got %d", qty)
	}

	holding, err := r.LongBySymbol(ctx, username, symbol)
	if err != nil {
		return err
	}

	if holding == nil {
		holding = &model.PortfolioHolding{
			Username:  username,
			Symbol:    symbol,
			Quantity:  qty,
			AvgPrice:  price,
			LastPrice: price,
		}
		return r.db.WithContext(ctx).Create(holding).Error
	}

	newQty := holding.Quantity + qty
	oldValue := holding.AvgPrice.Mul(decimal.NewFromInt(holding.Quantity))
	addValue := price.Mul(decimal.NewFromInt(qty))
	newAvg := oldValue.Add(addValue).Div(decimal.NewFromInt(newQty))

	res := r.db.WithContext(ctx).
		Model(&model.PortfolioHolding{}).
		Where("id = ?", holding.ID).
		Updates(map[string]interface{}{
			"quantity":   newQty,
			"avg_price":  newAvg,
			"last_price": price,
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PortfolioRepository",
			"op":     "MergeLong",
			"user":   username,
			"symbol": symbol,
		}).WithError(res.Error).Error("Failed to merge holding")

		return res.Error
	}

	return nil
}

// ReduceLong removes qty from the user's long holding, deleting the row when
// it reaches zero. Reducing below zero is an error.
func (r *PortfolioRepository) ReduceLong(
	ctx context.Context,
	username string,
	symbol string,
	qty int64,
) error {

	holding, err := r.LongBySymbol(ctx, username, symbol)
	if err != nil {
		return err
	}
	if holding == nil || holding.Quantity < qty {
		return fmt.Errorf("cannot reduce holding %s/%s by %d", username, symbol, qty)
	}

	if holding.Quantity == qty {
		return r.db.WithContext(ctx).Delete(&model.PortfolioHolding{}, holding.ID).Error
	}

	return r.db.WithContext(ctx).
		Model(&model.PortfolioHolding{}).
		Where("id = ?", holding.ID).
		Update("quantity", holding.Quantity-qty).Error
}

// TouchLongPrice refreshes the cached last price on a long holding.
func (r *PortfolioRepository) TouchLongPrice(
	ctx context.Context,
	username string,
	symbol string,
	price decimal.Decimal,
) error {

	return r.db.WithContext(ctx).
		Model(&model.PortfolioHolding{}).
		Where("username = ? AND symbol = ?", username, symbol).
		Update("last_price", price).Error
}

// Short returns all short-carry holdings for a user.
func (r *PortfolioRepository) Short(
	ctx context.Context,
	username string,
) ([]model.ShortCarryHolding, error) {

	var holdings []model.ShortCarryHolding

	err := r.db.WithContext(ctx).
		Where("username = ? AND quantity > 0", username).
		Order("symbol ASC").
		Find(&holdings).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "PortfolioRepository",
			"op":   "Short",
			"user": username,
		}).WithError(err).Error("Failed to fetch short holdings")

		return nil, err
	}

	return holdings, nil
}

// ShortBySymbol returns the user's short-carry holding for one symbol.
// Returns (nil, nil) if there is none.
func (r *PortfolioRepository) ShortBySymbol(
	ctx context.Context,
	username string,
	symbol string,
) (*model.ShortCarryHolding, error) {

	var holding model.ShortCarryHolding

	err := r.db.WithContext(ctx).
		Where("username = ? AND symbol = ?", username, symbol).
		First(&holding).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PortfolioRepository",
			"op":     "ShortBySymbol",
			"user":   username,
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch short holding")

		return nil, err
	}

	return &holding, nil
}

// MergeShort folds qty at price into the user's short-carry holding,
// weighted-average like MergeLong. Price is the short sale price.
func (r *PortfolioRepository) MergeShort(
	ctx context.Context,
	username string,
	symbol string,
	qty int64,
	price decimal.Decimal,
) error {

	if qty <= 0 {
		return fmt.Errorf("merge quantity must be positive, got %d", qty)
	}

	holding, err := r.ShortBySymbol(ctx, username, symbol)
	if err != nil {
		return err
	}

	if holding == nil {
		holding = &model.ShortCarryHolding{
			Username:  username,
			Symbol:    symbol,
			Quantity:  qty,
			AvgPrice:  price,
			LastPrice: price,
		}
		return r.db.WithContext(ctx).Create(holding).Error
	}

	newQty := holding.Quantity + qty
	oldValue := holding.AvgPrice.Mul(decimal.NewFromInt(holding.Quantity))
	addValue := price.Mul(decimal.NewFromInt(qty))
	newAvg := oldValue.Add(addValue).Div(decimal.NewFromInt(newQty))

	res := r.db.WithContext(ctx).
		Model(&model.ShortCarryHolding{}).
		Where("id = ?", holding.ID).
		Updates(map[string]interface{}{
			"quantity":   newQty,
			"avg_price":  newAvg,
			"last_price": price,
		})
	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "PortfolioRepository",
			"op":     "MergeShort",
			"user":   username,
			"symbol": symbol,
		}).WithError(res.Error).Error("Failed to merge short holding")

		return res.Error
	}

	return nil
}

// ReduceShort removes qty from the user's short-carry holding, deleting the
// row at zero.
func (r *PortfolioRepository) ReduceShort(
	ctx context.Context,
	username string,
	symbol string,
	qty int64,
) error {

	holding, err := r.ShortBySymbol(ctx, username, symbol)
	if err != nil {
		return err
	}
	if holding == nil || holding.Quantity < qty {
		return fmt.Errorf("cannot reduce short holding %s/%s by %d", username, symbol, qty)
	}

	if holding.Quantity == qty {
		return r.db.WithContext(ctx).Delete(&model.ShortCarryHolding{}, holding.ID).Error
	}

	return r.db.WithContext(ctx).
		Model(&model.ShortCarryHolding{}).
		Where("id = ?", holding.ID).
		Update("quantity", holding.Quantity-qty).Error
}
