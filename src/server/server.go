package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"papertrade/src/auth"
	"papertrade/src/engine"
	"papertrade/src/handler"
	"papertrade/src/repository"
)

func StartServer(port string, eng *engine.Engine) {
	users := repository.NewUserRepository()

	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	r.Post("/signup", handler.SignupHandler(users))
	r.Post("/login", handler.LoginHandler(users))

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(users))

		r.Post("/orders", handler.PlaceOrderHandler(eng))
		r.Get("/orders/open", handler.OpenOrdersHandler(eng))
		r.Get("/orders/history", handler.HistoryHandler(eng))
		r.Get("/orders/preview-sell", handler.PreviewSellHandler(eng))
		r.Post("/orders/add", handler.AddPositionHandler(eng))
		r.Put("/orders/{id}", handler.ModifyOrderHandler(eng))
		r.Delete("/orders/{id}", handler.CancelOrderHandler(eng))

		r.Get("/positions", handler.PositionsHandler(eng))
		r.Post("/positions/{symbol}/close", handler.ClosePositionHandler(eng))

		r.Get("/portfolio", handler.PortfolioHandler(eng))
		r.Get("/funds", handler.GetFundsHandler(eng))
		r.Post("/funds/add", handler.AddFundsHandler(eng))
		r.Post("/funds/withdraw", handler.WithdrawFundsHandler(eng))
		r.Get("/exits", handler.ExitsHandler(eng))

		r.Post("/settlement/run", handler.SettleHandler(eng))
	})

	// Graceful server
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
