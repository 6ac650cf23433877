package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"papertrade/src/database"
	"papertrade/src/model"
)

// FundsRepository handles the per-user cash ledger. Debits are conditional
// updates so the available balance can never go negative, whatever the
// interleaving.
type FundsRepository struct {
	db *gorm.DB
}

// NewFundsRepository creates a new repository instance using the main read/write database.
func NewFundsRepository() *FundsRepository {
	return &FundsRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *FundsRepository) WithDB(db *gorm.DB) *FundsRepository {
	return &FundsRepository{db: db}
}

// Ensure returns the user's funds account, creating a zero-balance row if
// none exists yet.
func (r *FundsRepository) Ensure(
	ctx context.Context,
	username string,
) (*model.FundsAccount, error) {

	var account model.FundsAccount

	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&account).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = model.FundsAccount{Username: username, Available: decimal.Zero}
		if err := r.db.WithContext(ctx).Create(&account).Error; err != nil {
			logger.WithFields(map[string]interface{}{
				"repo": "FundsRepository",
				"op":   "Ensure",
				"user": username,
			}).WithError(err).Error("Failed to create funds account")

			return nil, err
		}
		return &account, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "FundsRepository",
			"op":   "Ensure",
			"user": username,
		}).WithError(err).Error("Failed to fetch funds account")

		return nil, err
	}

	return &account, nil
}

// Balance returns the available amount for a user, zero if no account exists.
func (r *FundsRepository) Balance(
	ctx context.Context,
	username string,
) (decimal.Decimal, error) {

	account, err := r.Ensure(ctx, username)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Available, nil
}

// Credit adds amount to the user's available balance.
func (r *FundsRepository) Credit(
	ctx context.Context,
	username string,
	amount decimal.Decimal,
) error {

	if amount.IsZero() {
		return nil
	}

	if _, err := r.Ensure(ctx, username); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).
		Model(&model.FundsAccount{}).
		Where("username = ?", username).
		Update("available", gorm.Expr("available + ?", amount))

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "FundsRepository",
			"op":     "Credit",
			"user":   username,
			"amount": amount.String(),
		}).WithError(res.Error).Error("Failed to credit funds")

		return res.Error
	}

	return nil
}

// Debit subtracts amount from the user's available balance. The update is
// conditional on the balance covering the amount; false means insufficient
// funds and nothing was changed.
func (r *FundsRepository) Debit(
	ctx context.Context,
	username string,
	amount decimal.Decimal,
) (bool, error) {

	if amount.IsZero() {
		return true, nil
	}

	if _, err := r.Ensure(ctx, username); err != nil {
		return false, err
	}

	res := r.db.WithContext(ctx).
		Model(&model.FundsAccount{}).
		Where("username = ? AND available >= ?", username, amount).
		Update("available", gorm.Expr("available - ?", amount))

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "FundsRepository",
			"op":     "Debit",
			"user":   username,
			"amount": amount.String(),
		}).WithError(res.Error).Error("Failed to debit funds")

		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

// Usernames lists every account holder, for sweeps that visit all users.
func (r *FundsRepository) Usernames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&model.FundsAccount{}).
		Order("username ASC").
		Pluck("username", &names).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "FundsRepository",
			"op":   "Usernames",
		}).WithError(err).Error("Failed to list account usernames")

		return nil, err
	}
	return names, nil
}
