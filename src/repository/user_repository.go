package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"papertrade/src/database"
	"papertrade/src/model"
)

type GormUserRepository struct {
	db *gorm.DB
}

func NewUserRepository() *GormUserRepository {
	return &GormUserRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *GormUserRepository) WithDB(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// GetUserByUserName fetches a user by username. Returns (nil, nil) when the
// user does not exist.
func (r *GormUserRepository) GetUserByUserName(
	ctx context.Context,
	userName string,
) (*model.User, error) {

	var u model.User
	err := r.db.WithContext(ctx).
		Where("username = ?", userName).
		First(&u).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "GormUserRepository",
			"op":   "GetUserByUserName",
			"user": userName,
		}).WithError(err).Error("Failed to fetch user")

		return nil, err
	}

	return &u, nil
}

// Create inserts a new user.
func (r *GormUserRepository) Create(
	ctx context.Context,
	user *model.User,
) error {

	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "GormUserRepository",
			"op":   "Create",
			"user": user.Username,
		}).WithError(err).Error("Failed to create user")

		return err
	}

	return nil
}
