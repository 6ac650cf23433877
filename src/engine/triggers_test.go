package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"papertrade/src/model"
)

func placeLimit(t *testing.T, eng *Engine, req PlaceRequest) *PlacementResult {
	t.Helper()
	result, err := eng.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, OutcomePlaced, result.Outcome)
	return result
}

func TestSweepTriggersFillsBuyAtTrigger(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result := placeLimit(t, eng, PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})
	require.True(t, mem.funds["alice"].Equal(d("9000")))

	// Price falls through the trigger.
	oracle.set("TCS", 99)
	require.NoError(t, eng.SweepTriggers(context.Background()))

	order := mem.find(result.OrderID)
	require.Equal(t, model.OrderStatusClosed, order.Status)
	require.True(t, order.Price.Equal(d("100")), "fill at trigger, got %s", order.Price)
	require.NotNil(t, order.ExecutedAt)

	// The block already covered the fill, nothing more moves.
	require.True(t, mem.funds["alice"].Equal(d("9000")), "got %s", mem.funds["alice"])
}

func TestSweepTriggersLeavesUntriggeredBuyOpen(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result := placeLimit(t, eng, PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})

	// Still above the trigger.
	oracle.set("TCS", 101)
	require.NoError(t, eng.SweepTriggers(context.Background()))

	order := mem.find(result.OrderID)
	require.Equal(t, model.OrderStatusOpen, order.Status)
	require.True(t, mem.funds["alice"].Equal(d("9000")))
}

func TestSweepTriggersFillsSellAndCredits(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 90)

	at := openMarketTime().Add(-time.Hour)
	buy := executedOrder(0, model.OrderSideBuy, 10, "85", at)
	require.NoError(t, mem.Create(context.Background(), &buy))

	result := placeLimit(t, eng, PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideSell,
		Quantity: 10,
		Price:    d("100"),
	})

	oracle.set("TCS", 101)
	require.NoError(t, eng.SweepTriggers(context.Background()))

	order := mem.find(result.OrderID)
	require.Equal(t, model.OrderStatusClosed, order.Status)
	require.True(t, order.Price.Equal(d("100")))
	// Proceeds credited at the trigger price.
	require.True(t, mem.funds["alice"].Equal(d("11000")), "got %s", mem.funds["alice"])
}

func TestSweepTriggersShortFirstSellMirrorsBuyRule(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 110)

	result := placeLimit(t, eng, PlaceRequest{
		Username:   "alice",
		Symbol:     "TCS",
		Side:       model.OrderSideSell,
		Quantity:   5,
		Price:      d("100"),
		AllowShort: true,
	})
	require.True(t, result.ShortFirst)

	// A rise does not trigger a short-first sell.
	oracle.set("TCS", 120)
	require.NoError(t, eng.SweepTriggers(context.Background()))
	require.Equal(t, model.OrderStatusOpen, mem.find(result.OrderID).Status)

	// A fall to the trigger does.
	oracle.set("TCS", 99)
	require.NoError(t, eng.SweepTriggers(context.Background()))
	require.Equal(t, model.OrderStatusClosed, mem.find(result.OrderID).Status)
	require.True(t, mem.funds["alice"].Equal(d("10500")))
}

func TestSweepTriggersSkipsClaimedOrders(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result := placeLimit(t, eng, PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})

	// Another worker holds the claim.
	order := mem.find(result.OrderID)
	order.Status = model.OrderStatusProcessing

	oracle.set("TCS", 99)
	require.NoError(t, eng.SweepTriggers(context.Background()))

	require.Equal(t, model.OrderStatusProcessing, mem.find(result.OrderID).Status)
	require.True(t, mem.funds["alice"].Equal(d("9000")))
}

func TestSweepTriggersReleasesClaimWithoutQuote(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result := placeLimit(t, eng, PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})

	// Oracle loses the symbol before the sweep.
	delete(oracle.prices, "TCS")
	require.NoError(t, eng.SweepTriggers(context.Background()))

	// Back to OPEN, retried next tick.
	require.Equal(t, model.OrderStatusOpen, mem.find(result.OrderID).Status)
}

func TestSweepTriggersSkipsWhenMarketClosed(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result := placeLimit(t, eng, PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})

	pinClock(t, openMarketTime().Add(8*time.Hour))
	oracle.set("TCS", 99)
	require.NoError(t, eng.SweepTriggers(context.Background()))
	require.Equal(t, model.OrderStatusOpen, mem.find(result.OrderID).Status)
}

func TestSweepOneFillsFromClaimedRowAfterModify(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result := placeLimit(t, eng, PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})
	require.True(t, mem.funds["alice"].Equal(d("9000")))

	// A sweep scanned the order, then the user resized it before the claim.
	stale := *mem.find(result.OrderID)
	require.NoError(t, eng.ModifyOrder(context.Background(), "alice", result.OrderID, 5, d("90")))
	require.True(t, mem.funds["alice"].Equal(d("9550")))

	oracle.set("TCS", 89)
	filled, err := eng.sweepOne(context.Background(), &stale)
	require.NoError(t, err)
	require.True(t, filled)

	order := mem.find(result.OrderID)
	require.Equal(t, model.OrderStatusClosed, order.Status)
	require.EqualValues(t, 5, order.Quantity)
	require.True(t, order.Price.Equal(d("90")), "fill must use the modified row, got %s", order.Price)

	// The resized block already covers the fill, nothing more moves.
	require.True(t, mem.funds["alice"].Equal(d("9550")), "got %s", mem.funds["alice"])
}
