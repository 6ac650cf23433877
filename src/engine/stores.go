package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/src/model"
)

// OrderStore is the slice of the order repository the engine depends on.
type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id uint) (*model.Order, error)
	FindOpenByUser(ctx context.Context, username, segment string) ([]model.Order, error)
	FindOpenOrdered(ctx context.Context) ([]model.Order, error)
	ClaimProcessing(ctx context.Context, id uint) (bool, error)
	ReleaseClaim(ctx context.Context, id uint) error
	CloseClaimed(ctx context.Context, id uint, fillPrice decimal.Decimal, executedAt time.Time) error
	CancelOpen(ctx context.Context, id uint) (bool, error)
	ModifyOpen(ctx context.Context, id uint, quantity int64, price decimal.Decimal) (bool, error)
	FindClosedByUser(ctx context.Context, username string) ([]model.Order, error)
	FindClosedByUserSymbol(ctx context.Context, username, symbol string) ([]model.Order, error)
	FindClosedSince(ctx context.Context, from time.Time) ([]model.Order, error)
	FindClosedSinceByUser(ctx context.Context, username string, from time.Time) ([]model.Order, error)
	DeleteByIDs(ctx context.Context, ids []uint) error
}

// FundsStore is the cash ledger surface. Debit reports false, without
// mutating, when the balance cannot cover the amount.
type FundsStore interface {
	Ensure(ctx context.Context, username string) (*model.FundsAccount, error)
	Balance(ctx context.Context, username string) (decimal.Decimal, error)
	Credit(ctx context.Context, username string, amount decimal.Decimal) error
	Debit(ctx context.Context, username string, amount decimal.Decimal) (bool, error)
	Usernames(ctx context.Context) ([]string, error)
}

// PortfolioStore is the standing holdings surface (long and short-carry).
type PortfolioStore interface {
	Long(ctx context.Context, username string) ([]model.PortfolioHolding, error)
	LongBySymbol(ctx context.Context, username, symbol string) (*model.PortfolioHolding, error)
	MergeLong(ctx context.Context, username, symbol string, qty int64, price decimal.Decimal) error
	ReduceLong(ctx context.Context, username, symbol string, qty int64) error
	TouchLongPrice(ctx context.Context, username, symbol string, price decimal.Decimal) error
	Short(ctx context.Context, username string) ([]model.ShortCarryHolding, error)
	ShortBySymbol(ctx context.Context, username, symbol string) (*model.ShortCarryHolding, error)
	MergeShort(ctx context.Context, username, symbol string, qty int64, price decimal.Decimal) error
	ReduceShort(ctx context.Context, username, symbol string, qty int64) error
}

// ExitStore appends to and reads the exit history.
type ExitStore interface {
	Append(ctx context.Context, record *model.ExitRecord) error
	ListByUser(ctx context.Context, username string) ([]model.ExitRecord, error)
}

// SettlementStore tracks completed end-of-day runs.
type SettlementStore interface {
	HasRun(ctx context.Context, username, tradingDay string) (bool, error)
	MarkRun(ctx context.Context, username, tradingDay string, at time.Time) error
}

// Stores bundles every persistence surface one logical operation may touch.
type Stores struct {
	Orders      OrderStore
	Funds       FundsStore
	Portfolio   PortfolioStore
	Exits       ExitStore
	Settlements SettlementStore
}

// TxRunner executes fn against a Stores bundle inside one storage
// transaction: if fn returns an error every mutation it made is rolled back.
// This is the atomicity boundary for each logical operation (debit funds +
// insert order, refund + cancel, the whole EOD pipeline).
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(s Stores) error) error
}

// PriceSource is the price oracle. ok is false when no usable (nonzero)
// last-traded price could be obtained.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool)
}

// EODRunner is implemented by the settlement pipeline; the engine invokes it
// lazily on read/write paths once the close cutoff has passed.
type EODRunner interface {
	Run(ctx context.Context, username string) error
	RunIfDue(ctx context.Context, username string) error
}
