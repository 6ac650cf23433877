package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"papertrade/src/auth"
	"papertrade/src/engine"
)

type accountEngine interface {
	GetFunds(ctx context.Context, username string) (decimal.Decimal, error)
	AddFunds(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error)
	WithdrawFunds(ctx context.Context, username string, amount decimal.Decimal) (decimal.Decimal, error)
	GetPortfolio(ctx context.Context, username string) (*engine.PortfolioView, error)
}

func GetFundsHandler(eng accountEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		available, err := eng.GetFunds(r.Context(), user.Username)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"username":        user.Username,
			"available_funds": available,
		})
	}
}

type addFundsPayload struct {
	Amount decimal.Decimal `json:"amount"`
}

func AddFundsHandler(eng accountEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload addFundsPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		available, err := eng.AddFunds(r.Context(), user.Username, payload.Amount)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"username":        user.Username,
			"available_funds": available,
		})
	}
}

func WithdrawFundsHandler(eng accountEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload addFundsPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		available, err := eng.WithdrawFunds(r.Context(), user.Username, payload.Amount)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"username":        user.Username,
			"available_funds": available,
		})
	}
}

func PortfolioHandler(eng accountEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		view, err := eng.GetPortfolio(r.Context(), user.Username)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
