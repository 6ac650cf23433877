package executors

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrade/src/engine"
	"papertrade/src/model"
	"papertrade/src/repository"
	"papertrade/src/settlement"
)

// StartLoop drives the background workers: the trigger sweep and the
// stop-loss/target sweep on every tick, and the settlement check on its own
// slower cadence. Sweep failures are persisted as exceptions and the loop
// keeps running; only context cancellation stops it.
func StartLoop(ctx context.Context, eng *engine.Engine, pipeline *settlement.Pipeline) error {
	config := GetConfig()

	ticker := time.NewTicker(config.LoopPeriod)
	defer ticker.Stop()

	settleTicker := time.NewTicker(config.SettlementPeriod)
	defer settleTicker.Stop()

	excRep := repository.NewExceptionRepository()

	logger.WithFields(map[string]interface{}{
		"loop_period":       config.LoopPeriod.String(),
		"settlement_period": config.SettlementPeriod.String(),
	}).Info("Background loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Background loop stopped")
			return nil

		case <-ticker.C:
			if err := eng.SweepTriggers(ctx); err != nil {
				capture(ctx, excRep, "trigger_sweep", "SweepTriggers", err)
			}
			if err := eng.SweepStops(ctx); err != nil {
				capture(ctx, excRep, "stop_sweep", "SweepStops", err)
			}

		case <-settleTicker.C:
			if err := pipeline.RunAllDue(ctx); err != nil {
				capture(ctx, excRep, "settlement", "RunAllDue", err)
			}
		}
	}
}

func capture(ctx context.Context, excRep *repository.ExceptionRepository, module, method string, cause error) {
	logger.WithFields(map[string]interface{}{
		"module": module,
		"method": method,
	}).WithError(cause).Error("Background worker failed")

	exc := &model.Exception{
		Service: "trading_engine",
		Module:  module,
		Method:  method,
		Message: cause.Error(),
		Level:   "error",
	}
	if err := excRep.Create(ctx, exc); err != nil {
		logger.WithError(err).Error("Failed to persist exception")
	}
}
