package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"papertrade/src/market"
	"papertrade/src/model"
)

func pinClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := market.Now
	market.Now = func() time.Time { return at }
	t.Cleanup(func() { market.Now = prev })
}

func openMarketTime() time.Time {
	// Monday 10:30 IST.
	return time.Date(2026, 8, 31, 10, 30, 0, 0, market.IST())
}

func newTestEngine(t *testing.T) (*Engine, *memStore, *fakeOracle) {
	t.Helper()
	pinClock(t, openMarketTime())
	mem := newMemStore()
	oracle := newFakeOracle()
	return New(mem, oracle), mem, oracle
}

func fund(mem *memStore, username string, amount string) {
	mem.funds[username] = d(amount)
}

func TestPlaceOrderMarketBuy(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 500)

	result, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "tcs",
		Side:     "buy",
		Quantity: 10,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, result.Outcome)
	require.True(t, result.FillPrice.Equal(d("500")))
	require.Equal(t, model.SegmentIntraday, result.Segment)

	require.True(t, mem.funds["alice"].Equal(d("5000")), "got %s", mem.funds["alice"])

	order := mem.find(result.OrderID)
	require.NotNil(t, order)
	require.Equal(t, model.OrderStatusClosed, order.Status)
	require.Equal(t, "TCS", order.Symbol)
	require.Equal(t, "NSE", order.Exchange)
	require.NotNil(t, order.ExecutedAt)
}

func TestPlaceOrderMarketBuyInsufficientFunds(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "100")
	oracle.set("TCS", 500)

	_, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.True(t, mem.funds["alice"].Equal(d("100")))
	require.Empty(t, mem.orders)
}

func TestPlaceOrderMarketNeedsQuote(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	fund(mem, "alice", "10000")

	_, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
	})
	require.ErrorIs(t, err, ErrQuoteUnavailable)
}

func TestPlaceOrderRejectsOutsideMarketHours(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	pinClock(t, time.Date(2026, 8, 31, 18, 0, 0, 0, market.IST()))
	fund(mem, "alice", "10000")
	oracle.set("TCS", 500)

	_, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
	})
	require.ErrorIs(t, err, ErrMarketClosed)
}

func TestPlaceOrderValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	cases := []struct {
		name string
		req  PlaceRequest
	}{
		{"empty symbol", PlaceRequest{Username: "alice", Side: "BUY", Quantity: 1}},
		{"zero quantity", PlaceRequest{Username: "alice", Symbol: "TCS", Side: "BUY"}},
		{"bad side", PlaceRequest{Username: "alice", Symbol: "TCS", Side: "HOLD", Quantity: 1}},
		{"bad segment", PlaceRequest{Username: "alice", Symbol: "TCS", Side: "BUY", Quantity: 1, Segment: "swing"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.PlaceOrder(context.Background(), tc.req)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
		})
	}
}

func TestPlaceOrderSellWithoutOwnedNeedsConfirmation(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 500)

	_, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideSell,
		Quantity: 5,
	})

	var short *ShortConfirmationError
	require.ErrorAs(t, err, &short)
	require.EqualValues(t, 5, short.Requested)
	require.EqualValues(t, 0, short.Owned)

	require.True(t, mem.funds["alice"].Equal(d("10000")))
	require.Empty(t, mem.orders)
	require.Empty(t, mem.exits)
}

func TestPlaceOrderSellCappedToOwned(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 500)

	// Own 5 via an executed buy earlier today.
	at := openMarketTime().Add(-time.Hour)
	buy := executedOrder(0, model.OrderSideBuy, 5, "480", at)
	require.NoError(t, mem.Create(context.Background(), &buy))

	result, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideSell,
		Quantity: 8,
	})
	require.NoError(t, err)
	require.True(t, result.Capped)
	require.EqualValues(t, 5, result.Quantity)
	require.False(t, result.ShortFirst)

	// Proceeds for 5 at 500 on top of the initial balance.
	require.True(t, mem.funds["alice"].Equal(d("12500")), "got %s", mem.funds["alice"])
}

func TestPlaceOrderSellShortFirstWithConsent(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 500)

	result, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username:   "alice",
		Symbol:     "TCS",
		Side:       model.OrderSideSell,
		Quantity:   5,
		AllowShort: true,
	})
	require.NoError(t, err)
	require.True(t, result.ShortFirst)
	require.Equal(t, OutcomeExecuted, result.Outcome)
	require.True(t, mem.funds["alice"].Equal(d("12500")))
}

func TestPlaceOrderLimitBuyAutoCorrects(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 95)

	result, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, result.Outcome)
	// Fills at the better live price, not the trigger.
	require.True(t, result.FillPrice.Equal(d("95")))
	require.True(t, mem.funds["alice"].Equal(d("9050")))
}

func TestPlaceOrderLimitBuyBlocksNotional(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomePlaced, result.Outcome)

	order := mem.find(result.OrderID)
	require.Equal(t, model.OrderStatusOpen, order.Status)
	require.True(t, order.Price.Equal(d("100")))

	// trigger * qty blocked up front.
	require.True(t, mem.funds["alice"].Equal(d("9000")), "got %s", mem.funds["alice"])
}

func TestPlaceOrderLimitSellStaysOpenWithoutBlocking(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 90)

	at := openMarketTime().Add(-time.Hour)
	buy := executedOrder(0, model.OrderSideBuy, 10, "85", at)
	require.NoError(t, mem.Create(context.Background(), &buy))

	result, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideSell,
		Quantity: 10,
		Price:    d("100"),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomePlaced, result.Outcome)
	require.True(t, mem.funds["alice"].Equal(d("10000")))
}

func TestPreviewSell(t *testing.T) {
	eng, mem, _ := newTestEngine(t)
	fund(mem, "alice", "10000")

	at := openMarketTime().Add(-time.Hour)
	buy := executedOrder(0, model.OrderSideBuy, 5, "480", at)
	require.NoError(t, mem.Create(context.Background(), &buy))

	preview, err := eng.PreviewSell(context.Background(), "alice", "TCS", 8)
	require.NoError(t, err)
	require.EqualValues(t, 5, preview.OwnedQty)
	require.False(t, preview.CanSell)
	require.False(t, preview.NeedsConfirmation)

	preview, err = eng.PreviewSell(context.Background(), "alice", "INFY", 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, preview.OwnedQty)
	require.True(t, preview.NeedsConfirmation)
}

func TestCancelOrderRefundsExactBlock(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})
	require.NoError(t, err)
	require.True(t, mem.funds["alice"].Equal(d("9000")))

	require.NoError(t, eng.CancelOrder(context.Background(), "alice", result.OrderID))
	require.True(t, mem.funds["alice"].Equal(d("10000")))
	require.Equal(t, model.OrderStatusCancelled, mem.find(result.OrderID).Status)

	// Cancelling again fails, no double refund.
	err = eng.CancelOrder(context.Background(), "alice", result.OrderID)
	require.ErrorIs(t, err, ErrOrderNotOpen)
	require.True(t, mem.funds["alice"].Equal(d("10000")))
}

func TestModifyOrderReblocksDelta(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})
	require.NoError(t, err)

	// 10@100 -> 15@110: block grows by 650.
	require.NoError(t, eng.ModifyOrder(context.Background(), "alice", result.OrderID, 15, d("110")))
	require.True(t, mem.funds["alice"].Equal(d("8350")), "got %s", mem.funds["alice"])

	// Shrink to 5@100: 1150 refunded.
	require.NoError(t, eng.ModifyOrder(context.Background(), "alice", result.OrderID, 5, d("100")))
	require.True(t, mem.funds["alice"].Equal(d("9500")), "got %s", mem.funds["alice"])

	order := mem.find(result.OrderID)
	require.EqualValues(t, 5, order.Quantity)
	require.True(t, order.Price.Equal(d("100")))

	// Cancel refunds exactly the current block.
	require.NoError(t, eng.CancelOrder(context.Background(), "alice", result.OrderID))
	require.True(t, mem.funds["alice"].Equal(d("10000")))
}

func TestModifyOrderUnknownOrOtherUser(t *testing.T) {
	eng, mem, oracle := newTestEngine(t)
	fund(mem, "alice", "10000")
	oracle.set("TCS", 120)

	result, err := eng.PlaceOrder(context.Background(), PlaceRequest{
		Username: "alice",
		Symbol:   "TCS",
		Side:     model.OrderSideBuy,
		Quantity: 10,
		Price:    d("100"),
	})
	require.NoError(t, err)

	err = eng.ModifyOrder(context.Background(), "mallory", result.OrderID, 5, d("90"))
	require.ErrorIs(t, err, ErrOrderNotFound)

	err = eng.ModifyOrder(context.Background(), "alice", 999, 5, d("90"))
	require.True(t, errors.Is(err, ErrOrderNotFound))
}
