package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"papertrade/src/market"
	"papertrade/src/model"
)

// memStore is an in-memory implementation of every store interface plus
// TxRunner, so engine logic can be exercised without a database. It does
// not emulate rollback; tests arrange for failures before mutations.
type memStore struct {
	orders  []model.Order
	nextID  uint
	funds   map[string]decimal.Decimal
	longs   map[string]model.PortfolioHolding
	shorts  map[string]model.ShortCarryHolding
	exits   []model.ExitRecord
	settled map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		nextID:  1,
		funds:   make(map[string]decimal.Decimal),
		longs:   make(map[string]model.PortfolioHolding),
		shorts:  make(map[string]model.ShortCarryHolding),
		settled: make(map[string]bool),
	}
}

func (m *memStore) bundle() Stores {
	return Stores{Orders: m, Funds: m, Portfolio: m, Exits: m, Settlements: m}
}

func (m *memStore) RunInTx(ctx context.Context, fn func(s Stores) error) error {
	return fn(m.bundle())
}

func holdingKey(username, symbol string) string {
	return username + "|" + symbol
}

// --- OrderStore ---

func (m *memStore) Create(ctx context.Context, order *model.Order) error {
	order.ID = m.nextID
	m.nextID++
	if order.CreatedAt.IsZero() {
		order.CreatedAt = market.Now()
	}
	m.orders = append(m.orders, *order)
	return nil
}

func (m *memStore) find(id uint) *model.Order {
	for i := range m.orders {
		if m.orders[i].ID == id {
			return &m.orders[i]
		}
	}
	return nil
}

func (m *memStore) FindByID(ctx context.Context, id uint) (*model.Order, error) {
	o := m.find(id)
	if o == nil {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) FindOpenByUser(ctx context.Context, username, segment string) ([]model.Order, error) {
	var out []model.Order
	for _, o := range m.orders {
		if o.Status != model.OrderStatusOpen || o.Username != username {
			continue
		}
		if segment != "" && o.Segment != segment {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memStore) FindOpenOrdered(ctx context.Context) ([]model.Order, error) {
	var out []model.Order
	for _, o := range m.orders {
		if o.Status == model.OrderStatusOpen {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ClaimProcessing(ctx context.Context, id uint) (bool, error) {
	o := m.find(id)
	if o == nil || o.Status != model.OrderStatusOpen {
		return false, nil
	}
	o.Status = model.OrderStatusProcessing
	return true, nil
}

func (m *memStore) ReleaseClaim(ctx context.Context, id uint) error {
	o := m.find(id)
	if o != nil && o.Status == model.OrderStatusProcessing {
		o.Status = model.OrderStatusOpen
	}
	return nil
}

func (m *memStore) CloseClaimed(ctx context.Context, id uint, fillPrice decimal.Decimal, executedAt time.Time) error {
	o := m.find(id)
	if o == nil || o.Status != model.OrderStatusProcessing {
		return gorm.ErrRecordNotFound
	}
	o.Status = model.OrderStatusClosed
	o.Price = fillPrice
	at := executedAt
	o.ExecutedAt = &at
	return nil
}

func (m *memStore) CancelOpen(ctx context.Context, id uint) (bool, error) {
	o := m.find(id)
	if o == nil || o.Status != model.OrderStatusOpen {
		return false, nil
	}
	o.Status = model.OrderStatusCancelled
	return true, nil
}

func (m *memStore) ModifyOpen(ctx context.Context, id uint, quantity int64, price decimal.Decimal) (bool, error) {
	o := m.find(id)
	if o == nil || o.Status != model.OrderStatusOpen {
		return false, nil
	}
	o.Quantity = quantity
	o.Price = price
	return true, nil
}

func (m *memStore) closedSorted(filter func(o *model.Order) bool) []model.Order {
	var out []model.Order
	for i := range m.orders {
		o := &m.orders[i]
		if o.Status != model.OrderStatusClosed || !filter(o) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].CreatedAt, out[j].CreatedAt
		if out[i].ExecutedAt != nil {
			ti = *out[i].ExecutedAt
		}
		if out[j].ExecutedAt != nil {
			tj = *out[j].ExecutedAt
		}
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memStore) FindClosedByUser(ctx context.Context, username string) ([]model.Order, error) {
	return m.closedSorted(func(o *model.Order) bool { return o.Username == username }), nil
}

func (m *memStore) FindClosedByUserSymbol(ctx context.Context, username, symbol string) ([]model.Order, error) {
	return m.closedSorted(func(o *model.Order) bool {
		return o.Username == username && o.Symbol == symbol
	}), nil
}

func (m *memStore) FindClosedSince(ctx context.Context, from time.Time) ([]model.Order, error) {
	return m.closedSorted(func(o *model.Order) bool {
		return o.ExecutedAt != nil && !o.ExecutedAt.Before(from)
	}), nil
}

func (m *memStore) FindClosedSinceByUser(ctx context.Context, username string, from time.Time) ([]model.Order, error) {
	return m.closedSorted(func(o *model.Order) bool {
		return o.Username == username && o.ExecutedAt != nil && !o.ExecutedAt.Before(from)
	}), nil
}

func (m *memStore) DeleteByIDs(ctx context.Context, ids []uint) error {
	drop := make(map[uint]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []model.Order
	for _, o := range m.orders {
		if !drop[o.ID] {
			kept = append(kept, o)
		}
	}
	m.orders = kept
	return nil
}

// --- FundsStore ---

func (m *memStore) Ensure(ctx context.Context, username string) (*model.FundsAccount, error) {
	if _, ok := m.funds[username]; !ok {
		m.funds[username] = decimal.Zero
	}
	return &model.FundsAccount{Username: username, Available: m.funds[username]}, nil
}

func (m *memStore) Balance(ctx context.Context, username string) (decimal.Decimal, error) {
	acc, _ := m.Ensure(ctx, username)
	return acc.Available, nil
}

func (m *memStore) Credit(ctx context.Context, username string, amount decimal.Decimal) error {
	if _, err := m.Ensure(ctx, username); err != nil {
		return err
	}
	m.funds[username] = m.funds[username].Add(amount)
	return nil
}

func (m *memStore) Debit(ctx context.Context, username string, amount decimal.Decimal) (bool, error) {
	if amount.IsZero() {
		return true, nil
	}
	if _, err := m.Ensure(ctx, username); err != nil {
		return false, err
	}
	if m.funds[username].LessThan(amount) {
		return false, nil
	}
	m.funds[username] = m.funds[username].Sub(amount)
	return true, nil
}

func (m *memStore) Usernames(ctx context.Context) ([]string, error) {
	var names []string
	for name := range m.funds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// --- PortfolioStore ---

func (m *memStore) Long(ctx context.Context, username string) ([]model.PortfolioHolding, error) {
	var out []model.PortfolioHolding
	for _, h := range m.longs {
		if h.Username == username {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *memStore) LongBySymbol(ctx context.Context, username, symbol string) (*model.PortfolioHolding, error) {
	h, ok := m.longs[holdingKey(username, symbol)]
	if !ok {
		return nil, nil
	}
	cp := h
	return &cp, nil
}

func (m *memStore) MergeLong(ctx context.Context, username, symbol string, qty int64, price decimal.Decimal) error {
	key := holdingKey(username, symbol)
	h, ok := m.longs[key]
	if !ok {
		m.longs[key] = model.PortfolioHolding{Username: username, Symbol: symbol, Quantity: qty, AvgPrice: price, LastPrice: price}
		return nil
	}
	total := h.Quantity + qty
	h.AvgPrice = h.AvgPrice.Mul(decimal.NewFromInt(h.Quantity)).
		Add(price.Mul(decimal.NewFromInt(qty))).
		Div(decimal.NewFromInt(total))
	h.Quantity = total
	m.longs[key] = h
	return nil
}

func (m *memStore) ReduceLong(ctx context.Context, username, symbol string, qty int64) error {
	key := holdingKey(username, symbol)
	h, ok := m.longs[key]
	if !ok {
		return nil
	}
	h.Quantity -= qty
	if h.Quantity <= 0 {
		delete(m.longs, key)
		return nil
	}
	m.longs[key] = h
	return nil
}

func (m *memStore) TouchLongPrice(ctx context.Context, username, symbol string, price decimal.Decimal) error {
	key := holdingKey(username, symbol)
	if h, ok := m.longs[key]; ok {
		h.LastPrice = price
		m.longs[key] = h
	}
	return nil
}

func (m *memStore) Short(ctx context.Context, username string) ([]model.ShortCarryHolding, error) {
	var out []model.ShortCarryHolding
	for _, h := range m.shorts {
		if h.Username == username {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *memStore) ShortBySymbol(ctx context.Context, username, symbol string) (*model.ShortCarryHolding, error) {
	h, ok := m.shorts[holdingKey(username, symbol)]
	if !ok {
		return nil, nil
	}
	cp := h
	return &cp, nil
}

func (m *memStore) MergeShort(ctx context.Context, username, symbol string, qty int64, price decimal.Decimal) error {
	key := holdingKey(username, symbol)
	h, ok := m.shorts[key]
	if !ok {
		m.shorts[key] = model.ShortCarryHolding{Username: username, Symbol: symbol, Quantity: qty, AvgPrice: price, LastPrice: price}
		return nil
	}
	total := h.Quantity + qty
	h.AvgPrice = h.AvgPrice.Mul(decimal.NewFromInt(h.Quantity)).
		Add(price.Mul(decimal.NewFromInt(qty))).
		Div(decimal.NewFromInt(total))
	h.Quantity = total
	m.shorts[key] = h
	return nil
}

func (m *memStore) ReduceShort(ctx context.Context, username, symbol string, qty int64) error {
	key := holdingKey(username, symbol)
	h, ok := m.shorts[key]
	if !ok {
		return nil
	}
	h.Quantity -= qty
	if h.Quantity <= 0 {
		delete(m.shorts, key)
		return nil
	}
	m.shorts[key] = h
	return nil
}

// --- ExitStore ---

func (m *memStore) Append(ctx context.Context, record *model.ExitRecord) error {
	record.ID = uint(len(m.exits) + 1)
	record.CreatedAt = market.Now()
	m.exits = append(m.exits, *record)
	return nil
}

func (m *memStore) ListByUser(ctx context.Context, username string) ([]model.ExitRecord, error) {
	var out []model.ExitRecord
	for _, r := range m.exits {
		if r.Username == username {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// --- SettlementStore ---

func (m *memStore) HasRun(ctx context.Context, username, tradingDay string) (bool, error) {
	return m.settled[username+"|"+tradingDay], nil
}

func (m *memStore) MarkRun(ctx context.Context, username, tradingDay string, at time.Time) error {
	m.settled[username+"|"+tradingDay] = true
	return nil
}

// --- PriceSource ---

type fakeOracle struct {
	prices map[string]decimal.Decimal
}

func (f *fakeOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	p, ok := f.prices[symbol]
	return p, ok
}

func (f *fakeOracle) set(symbol string, price float64) {
	f.prices[symbol] = decimal.NewFromFloat(price)
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{prices: make(map[string]decimal.Decimal)}
}
