package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrade/src/database"
	"papertrade/src/model"
)

// ExitRepository handles the append-only exit history. Records are only ever
// inserted; there is no update or delete path.
type ExitRepository struct {
	db *gorm.DB
}

// NewExitRepository creates a new repository instance using the main read/write database.
func NewExitRepository() *ExitRepository {
	return &ExitRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ExitRepository) WithDB(db *gorm.DB) *ExitRepository {
	return &ExitRepository{db: db}
}

// Append inserts a new exit record.
func (r *ExitRepository) Append(
	ctx context.Context,
	record *model.ExitRecord,
) error {

	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "ExitRepository",
			"op":     "Append",
			"user":   record.Username,
			"symbol": record.Symbol,
			"reason": record.Reason,
		}).WithError(err).Error("Failed to append exit record")

		return err
	}

	return nil
}

// ListByUser returns a user's exit records, newest first.
func (r *ExitRepository) ListByUser(
	ctx context.Context,
	username string,
) ([]model.ExitRecord, error) {

	var records []model.ExitRecord

	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at DESC, id DESC").
		Find(&records).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExitRepository",
			"op":   "ListByUser",
			"user": username,
		}).WithError(err).Error("Failed to list exit records")

		return nil, err
	}

	return records, nil
}
