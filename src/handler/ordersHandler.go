package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"papertrade/src/auth"
	"papertrade/src/engine"
	"papertrade/src/model"
)

type tradingEngine interface {
	PlaceOrder(ctx context.Context, req engine.PlaceRequest) (*engine.PlacementResult, error)
	PreviewSell(ctx context.Context, username, symbol string, quantity int64) (*engine.SellPreview, error)
	GetOpenOrders(ctx context.Context, username string) ([]engine.OpenOrderView, error)
	GetPositions(ctx context.Context, username string) ([]engine.PositionView, error)
	GetHistory(ctx context.Context, username string) ([]engine.HistoryLot, error)
	GetExits(ctx context.Context, username string) ([]model.ExitRecord, error)
	ModifyOrder(ctx context.Context, username string, orderID uint, quantity int64, price decimal.Decimal) error
	CancelOrder(ctx context.Context, username string, orderID uint) error
	ClosePositionForSymbol(ctx context.Context, username, symbol string) error
	AddToPosition(ctx context.Context, username, symbol string, quantity int64) (*engine.PlacementResult, error)
	RunEndOfDay(ctx context.Context, username string) error
}

type placeOrderPayload struct {
	Symbol     string           `json:"symbol"`
	Side       string           `json:"side"`
	Quantity   int64            `json:"quantity"`
	Price      decimal.Decimal  `json:"price"`
	Segment    string           `json:"segment"`
	Exchange   string           `json:"exchange"`
	Stoploss   *decimal.Decimal `json:"stoploss"`
	Target     *decimal.Decimal `json:"target"`
	AllowShort bool             `json:"allow_short"`
}

type modifyOrderPayload struct {
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// writeEngineError maps engine errors to HTTP statuses. A short
// confirmation is not reported as a server failure: it carries the owned
// quantity so the client can re-submit with consent.
func writeEngineError(w http.ResponseWriter, err error) {
	var validation *engine.ValidationError
	var short *engine.ShortConfirmationError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validation.Error()})
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":              short.Error(),
			"needs_confirmation": true,
			"owned_qty":          short.Owned,
			"requested_qty":      short.Requested,
		})
	case errors.Is(err, engine.ErrInsufficientFunds):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrMarketClosed),
		errors.Is(err, engine.ErrOrderNotOpen),
		errors.Is(err, engine.ErrNoPosition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrQuoteUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		logger.WithError(err).Error("engine operation failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

// PlaceOrderHandler accepts a buy or sell and reports whether it executed
// immediately or was stored as a pending limit order.
func PlaceOrderHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload placeOrderPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		result, err := eng.PlaceOrder(r.Context(), engine.PlaceRequest{
			Username:   user.Username,
			Symbol:     payload.Symbol,
			Side:       payload.Side,
			Quantity:   payload.Quantity,
			Price:      payload.Price,
			Segment:    payload.Segment,
			Exchange:   payload.Exchange,
			Stoploss:   payload.Stoploss,
			Target:     payload.Target,
			AllowShort: payload.AllowShort,
		})
		if err != nil {
			writeEngineError(w, err)
			return
		}

		status := http.StatusCreated
		if result.Outcome == engine.OutcomeExecuted {
			status = http.StatusOK
		}
		writeJSON(w, status, result)
	}
}

// PreviewSellHandler reports owned quantity and whether a short
// confirmation would be needed, without placing anything.
func PreviewSellHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		symbol := r.URL.Query().Get("symbol")
		qty, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
		if err != nil || qty <= 0 {
			http.Error(w, "invalid quantity", http.StatusBadRequest)
			return
		}

		preview, err := eng.PreviewSell(r.Context(), user.Username, symbol, qty)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
	}
}

func OpenOrdersHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		views, err := eng.GetOpenOrders(r.Context(), user.Username)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func PositionsHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		views, err := eng.GetPositions(r.Context(), user.Username)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func HistoryHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		lots, err := eng.GetHistory(r.Context(), user.Username)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lots)
	}
}

func ExitsHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		records, err := eng.GetExits(r.Context(), user.Username)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func ModifyOrderHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		var payload modifyOrderPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		if err := eng.ModifyOrder(r.Context(), user.Username, orderID, payload.Quantity, payload.Price); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "order modified"})
	}
}

func CancelOrderHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		orderID, err := parseOrderID(r)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		if err := eng.CancelOrder(r.Context(), user.Username, orderID); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "order cancelled"})
	}
}

func ClosePositionHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		symbol := chi.URLParam(r, "symbol")
		if err := eng.ClosePositionForSymbol(r.Context(), user.Username, symbol); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "position closed"})
	}
}

type addPositionPayload struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

func AddPositionHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload addPositionPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		result, err := eng.AddToPosition(r.Context(), user.Username, payload.Symbol, payload.Quantity)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// SettleHandler forces an end-of-day run for the caller. Rerunning a day
// that already settled is a no-op.
func SettleHandler(eng tradingEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := eng.RunEndOfDay(r.Context(), user.Username); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "settlement complete"})
	}
}

func parseOrderID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
