package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"papertrade/src/model"
)

func TestGetPositionsReportsOpenNetAndPnL(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "0")
	oracle.set("TCS", 120)

	at := openMarketTime().Add(-time.Hour)
	buy := executedOrder(0, model.OrderSideBuy, 10, "100", at)
	require.NoError(t, mem.Create(context.Background(), &buy))
	sell := executedOrder(0, model.OrderSideSell, 4, "110", at.Add(time.Minute))
	require.NoError(t, mem.Create(context.Background(), &sell))

	views, err := eng.GetPositions(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, views, 1)

	v := views[0]
	require.Equal(t, "TCS", v.Symbol)
	require.EqualValues(t, 6, v.NetQuantity)
	require.Equal(t, "LONG", v.Direction)
	require.True(t, v.AvgPrice.Equal(d("100")))
	// 4 * (110 - 100)
	require.True(t, v.RealizedPnL.Equal(d("40")))
	require.NotNil(t, v.UnrealizedPnL)
	// 6 * (120 - 100)
	require.True(t, v.UnrealizedPnL.Equal(d("120")), "got %s", v.UnrealizedPnL)
}

func TestGetHistoryRendersLots(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	fund(mem, "alice", "0")

	at := openMarketTime().Add(-time.Hour)
	buy := executedOrder(0, model.OrderSideBuy, 10, "100", at)
	require.NoError(t, mem.Create(context.Background(), &buy))
	sell := executedOrder(0, model.OrderSideSell, 10, "110", at.Add(time.Minute))
	require.NoError(t, mem.Create(context.Background(), &sell))

	lots, err := eng.GetHistory(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, lots, 1)

	lot := lots[0]
	require.True(t, lot.IsClosed)
	require.EqualValues(t, 10, lot.SoldQty)
	require.True(t, lot.AvgExit.Equal(d("110")))
	require.True(t, lot.RealizedPnL.Equal(d("100")))
	require.EqualValues(t, 0, lot.Remaining)
}

func TestGetPortfolioValuesHoldings(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "2500")
	oracle.set("INFY", 1600)

	require.NoError(t, mem.MergeLong(context.Background(), "alice", "INFY", 10, d("1500")))

	view, err := eng.GetPortfolio(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, view.Available.Equal(d("2500")))
	require.Len(t, view.Holdings, 1)

	h := view.Holdings[0]
	require.True(t, h.InvestedValue.Equal(d("15000")))
	require.True(t, h.CurrentValue.Equal(d("16000")))
	require.True(t, h.PnL.Equal(d("1000")))
	require.True(t, view.TotalPnL.Equal(d("1000")))

	// The fetched quote was written back to the holding.
	holding, err := mem.LongBySymbol(context.Background(), "alice", "INFY")
	require.NoError(t, err)
	require.True(t, holding.LastPrice.Equal(d("1600")))
}

func TestGetOpenOrdersIncludesDistance(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	_, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})
	require.NoError(t, err)

	views, err := eng.GetOpenOrders(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].LivePrice)
	require.NotEmpty(t, views[0].Distance)
}

func TestClosePositionFlattensEverything(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "0")
	oracle.set("TCS", 120)

	at := openMarketTime().Add(-time.Hour)
	buy := executedOrder(0, model.OrderSideBuy, 10, "100", at)
	require.NoError(t, mem.Create(context.Background(), &buy))
	require.NoError(t, mem.MergeLong(context.Background(), "alice", "TCS", 5, d("90")))

	require.NoError(t, eng.ClosePositionForSymbol(context.Background(), "alice", "TCS"))

	// Intraday net sold at 120 plus the standing holding sold at 120.
	require.True(t, mem.funds["alice"].Equal(d("1800")), "got %s", mem.funds["alice"])

	holding, err := mem.LongBySymbol(context.Background(), "alice", "TCS")
	require.NoError(t, err)
	require.Nil(t, holding)

	require.Len(t, mem.exits, 2)
	for _, exit := range mem.exits {
		require.Equal(t, model.ExitReasonManual, exit.Reason)
	}

	orders, err := mem.FindClosedSinceByUser(context.Background(), "alice", dayStart(openMarketTime()))
	require.NoError(t, err)
	require.EqualValues(t, 0, MatchLots(orders)["TCS"].NetQuantity())
}

func TestClosePositionWithNothingToExit(t *testing.T) {
	eng, _, oracle := newTestEngine(t)
	oracle.set("TCS", 120)

	err := eng.ClosePositionForSymbol(context.Background(), "alice", "TCS")
	require.ErrorIs(t, err, ErrNoPosition)
}

func TestWithdrawFunds(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.AddFunds(context.Background(), "alice", d("1000"))
	require.NoError(t, err)

	available, err := eng.WithdrawFunds(context.Background(), "alice", d("400"))
	require.NoError(t, err)
	require.True(t, available.Equal(d("600")))

	_, err = eng.WithdrawFunds(context.Background(), "alice", d("601"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = eng.WithdrawFunds(context.Background(), "alice", d("-5"))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}
