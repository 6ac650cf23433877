package repository

import (
	"context"

	"gorm.io/gorm"

	"papertrade/src/database"
	"papertrade/src/engine"
)

// GormStores runs engine operations inside one gorm transaction, handing the
// callback a Stores bundle whose repositories all share that transaction.
type GormStores struct {
	db *gorm.DB
}

// NewGormStores uses the process-wide main database.
func NewGormStores() *GormStores {
	return &GormStores{db: database.MainDB}
}

// WithDB returns a copy bound to db, mainly for tests.
func (g *GormStores) WithDB(db *gorm.DB) *GormStores {
	return &GormStores{db: db}
}

// RunInTx opens a transaction and binds every repository to it. An error
// from fn rolls the whole transaction back.
func (g *GormStores) RunInTx(ctx context.Context, fn func(s engine.Stores) error) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(engine.Stores{
			Orders:      NewOrderRepository().WithDB(tx),
			Funds:       NewFundsRepository().WithDB(tx),
			Portfolio:   NewPortfolioRepository().WithDB(tx),
			Exits:       NewExitRepository().WithDB(tx),
			Settlements: NewSettlementRepository().WithDB(tx),
		})
	})
}
