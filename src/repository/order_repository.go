package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"papertrade/src/database"
	"papertrade/src/model"
)

// OrderRepository handles read/write operations for order rows.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order into the database.
// The given order will be updated with the generated ID and timestamps.
func (r *OrderRepository) Create(
	ctx context.Context,
	order *model.Order,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "Create",
		"user":   order.Username,
		"symbol": order.Symbol,
		"side":   order.Side,
		"qty":    order.Quantity,
		"status": order.Status,
	}).Debug("Creating new order")

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")

		return err
	}

	return nil
}

// FindByID fetches a single order by its primary ID.
// Returns (nil, nil) if the order is not found.
func (r *OrderRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch order by ID")

		return nil, err
	}

	return &order, nil
}

// FindOpenByUser returns a user's OPEN orders, newest first, optionally
// restricted to a segment (empty segment means both).
func (r *OrderRepository) FindOpenByUser(
	ctx context.Context,
	username string,
	segment string,
) ([]model.Order, error) {

	q := r.db.WithContext(ctx).
		Where("username = ? AND status = ?", username, model.OrderStatusOpen)
	if segment != "" {
		q = q.Where("segment = ?", segment)
	}

	var orders []model.Order
	if err := q.Order("created_at DESC, id DESC").Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindOpenByUser",
			"user": username,
		}).WithError(err).Error("Failed to fetch open orders")

		return nil, err
	}

	return orders, nil
}

// FindOpenOrdered returns every OPEN order across all users in creation
// order. The trigger sweep walks this list oldest first.
func (r *OrderRepository) FindOpenOrdered(
	ctx context.Context,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("status = ?", model.OrderStatusOpen).
		Order("created_at ASC, id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindOpenOrdered",
		}).WithError(err).Error("Failed to fetch open orders")

		return nil, err
	}

	return orders, nil
}

// ClaimProcessing atomically moves an order OPEN -> PROCESSING. The
// conditional update is the compare-and-swap that guarantees at most one
// sweep worker executes a given order; a false return means another worker
// already owns it (or its state moved on) and the caller must skip it.
func (r *OrderRepository) ClaimProcessing(
	ctx context.Context,
	id uint,
) (bool, error) {

	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", id, model.OrderStatusOpen).
		Update("status", model.OrderStatusProcessing)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "ClaimProcessing",
			"id":   id,
		}).WithError(res.Error).Error("Failed to claim order")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// ReleaseClaim reverts a PROCESSING claim back to OPEN, leaving the order
// pending for the next sweep.
func (r *OrderRepository) ReleaseClaim(
	ctx context.Context,
	id uint,
) error {

	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", id, model.OrderStatusProcessing).
		Update("status", model.OrderStatusOpen)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "ReleaseClaim",
			"id":   id,
		}).WithError(res.Error).Error("Failed to release claim")

		return res.Error
	}

	return nil
}

// CloseClaimed finalizes a PROCESSING order as CLOSED, recording the fill
// price and execution time.
func (r *OrderRepository) CloseClaimed(
	ctx context.Context,
	id uint,
	fillPrice decimal.Decimal,
	executedAt time.Time,
) error {

	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", id, model.OrderStatusProcessing).
		Updates(map[string]interface{}{
			"status":      model.OrderStatusClosed,
			"price":       fillPrice,
			"executed_at": executedAt,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "CloseClaimed",
			"id":   id,
		}).WithError(res.Error).Error("Failed to close claimed order")

		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

// CancelOpen moves an order OPEN -> CANCELLED. Returns false when the order
// was not OPEN (already executed, cancelled, or claimed).
func (r *OrderRepository) CancelOpen(
	ctx context.Context,
	id uint,
) (bool, error) {

	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", id, model.OrderStatusOpen).
		Update("status", model.OrderStatusCancelled)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "CancelOpen",
			"id":   id,
		}).WithError(res.Error).Error("Failed to cancel order")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// ModifyOpen updates quantity and trigger price of an order that is still
// OPEN. Returns false when the order was not OPEN.
func (r *OrderRepository) ModifyOpen(
	ctx context.Context,
	id uint,
	quantity int64,
	price decimal.Decimal,
) (bool, error) {

	res := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ? AND status = ?", id, model.OrderStatusOpen).
		Updates(map[string]interface{}{
			"quantity": quantity,
			"price":    price,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "ModifyOpen",
			"id":   id,
		}).WithError(res.Error).Error("Failed to modify order")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// FindClosedByUserSymbol returns a user's CLOSED orders for one symbol in
// execution order, the input the FIFO lot matcher expects.
func (r *OrderRepository) FindClosedByUserSymbol(
	ctx context.Context,
	username string,
	symbol string,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("username = ? AND symbol = ? AND status = ?", username, symbol, model.OrderStatusClosed).
		Order("executed_at ASC, id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "FindClosedByUserSymbol",
			"user":   username,
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch closed orders")

		return nil, err
	}

	return orders, nil
}

// FindClosedByUser returns all of a user's CLOSED orders in execution order.
func (r *OrderRepository) FindClosedByUser(
	ctx context.Context,
	username string,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("username = ? AND status = ?", username, model.OrderStatusClosed).
		Order("executed_at ASC, id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindClosedByUser",
			"user": username,
		}).WithError(err).Error("Failed to fetch closed orders")

		return nil, err
	}

	return orders, nil
}

// FindClosedSince returns CLOSED orders executed at or after the given
// instant, across all users. The stop-loss/target sweep feeds today's rows
// through this.
func (r *OrderRepository) FindClosedSince(
	ctx context.Context,
	from time.Time,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("status = ? AND executed_at >= ?", model.OrderStatusClosed, from).
		Order("executed_at ASC, id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindClosedSince",
		}).WithError(err).Error("Failed to fetch closed orders")

		return nil, err
	}

	return orders, nil
}

// FindClosedSinceByUser is FindClosedSince restricted to one user.
func (r *OrderRepository) FindClosedSinceByUser(
	ctx context.Context,
	username string,
	from time.Time,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("username = ? AND status = ? AND executed_at >= ?", username, model.OrderStatusClosed, from).
		Order("executed_at ASC, id ASC").
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindClosedSinceByUser",
			"user": username,
		}).WithError(err).Error("Failed to fetch closed orders")

		return nil, err
	}

	return orders, nil
}

// DeleteByIDs removes order rows that migrated into the portfolio at
// settlement. Only the EOD pipeline calls this.
func (r *OrderRepository) DeleteByIDs(
	ctx context.Context,
	ids []uint,
) error {

	if len(ids) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&model.Order{}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "OrderRepository",
			"op":    "DeleteByIDs",
			"count": len(ids),
		}).WithError(err).Error("Failed to delete migrated orders")

		return err
	}

	return nil
}
