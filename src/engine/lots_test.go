package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"papertrade/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func executedOrder(id uint, side string, qty int64, price string, at time.Time) model.Order {
	return model.Order{
		ID:         id,
		Username:   "alice",
		Symbol:     "TCS",
		Side:       side,
		Quantity:   qty,
		Price:      d(price),
		Segment:    model.SegmentIntraday,
		Status:     model.OrderStatusClosed,
		ExecutedAt: &at,
	}
}

func TestLotBookFIFOConsumesOldestFirst(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	book := &LotBook{Symbol: "TCS"}
	o1 := executedOrder(1, model.OrderSideBuy, 10, "100", t0)
	o2 := executedOrder(2, model.OrderSideBuy, 10, "110", t0.Add(time.Minute))
	o3 := executedOrder(3, model.OrderSideSell, 15, "120", t0.Add(2*time.Minute))
	book.Apply(&o1)
	book.Apply(&o2)
	book.Apply(&o3)

	require.Len(t, book.Lots, 2)

	first := book.Lots[0]
	require.EqualValues(t, 0, first.Remaining)
	require.EqualValues(t, 10, first.MatchedQty)
	// 10 * (120 - 100)
	require.True(t, first.RealizedPnL.Equal(d("200")), "got %s", first.RealizedPnL)

	second := book.Lots[1]
	require.EqualValues(t, 5, second.Remaining)
	require.EqualValues(t, 5, second.MatchedQty)
	// 5 * (120 - 110)
	require.True(t, second.RealizedPnL.Equal(d("50")), "got %s", second.RealizedPnL)

	require.EqualValues(t, 5, book.NetQuantity())
	require.True(t, book.OpenAvgPrice().Equal(d("110")))
	require.True(t, book.RealizedPnL().Equal(d("250")))
}

func TestLotBookShortProfitOnDecline(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	book := &LotBook{Symbol: "TCS"}
	short := executedOrder(1, model.OrderSideSell, 10, "500", t0)
	cover := executedOrder(2, model.OrderSideBuy, 10, "480", t0.Add(time.Minute))
	book.Apply(&short)
	book.Apply(&cover)

	require.Len(t, book.Lots, 1)
	lot := book.Lots[0]
	require.EqualValues(t, -1, lot.Direction)
	require.True(t, lot.Closed())
	// -1 * (480 - 500) * 10
	require.True(t, lot.RealizedPnL.Equal(d("200")), "got %s", lot.RealizedPnL)
	require.EqualValues(t, 0, book.NetQuantity())
}

func TestLotBookOversellOpensShortLeftover(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	book := &LotBook{Symbol: "TCS"}
	buy := executedOrder(1, model.OrderSideBuy, 5, "100", t0)
	sell := executedOrder(2, model.OrderSideSell, 8, "105", t0.Add(time.Minute))
	book.Apply(&buy)
	book.Apply(&sell)

	require.Len(t, book.Lots, 2)
	require.EqualValues(t, -3, book.NetQuantity())
	require.EqualValues(t, -1, book.Lots[1].Direction)
	require.EqualValues(t, 3, book.Lots[1].Remaining)
	require.True(t, book.Lots[0].RealizedPnL.Equal(d("25")))
}

func TestMatchLotsReplayIsDeterministic(t *testing.T) {
	t0 := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	orders := []model.Order{
		executedOrder(1, model.OrderSideBuy, 10, "100", t0),
		executedOrder(2, model.OrderSideSell, 4, "110", t0.Add(time.Minute)),
		executedOrder(3, model.OrderSideSell, 6, "90", t0.Add(2*time.Minute)),
	}

	a := MatchLots(orders)["TCS"]
	b := MatchLots(orders)["TCS"]

	require.EqualValues(t, a.NetQuantity(), b.NetQuantity())
	require.True(t, a.RealizedPnL().Equal(b.RealizedPnL()))
	require.EqualValues(t, 0, a.NetQuantity())
	// 4*(110-100) + 6*(90-100)
	require.True(t, a.RealizedPnL().Equal(d("-20")), "got %s", a.RealizedPnL())
}
