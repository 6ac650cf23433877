package engine

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"

	"papertrade/src/market"
	"papertrade/src/model"
)

// SweepTriggers scans OPEN limit orders oldest first and executes every one
// whose trigger rule holds against the live price. Each order is claimed
// OPEN->PROCESSING before any work so concurrent sweeps never double-fill;
// a lost claim, a missing quote or an untriggered rule releases or skips
// the order and the sweep moves on. One order failing never aborts the
// sweep.
func (e *Engine) SweepTriggers(ctx context.Context) error {
	if !market.IsOpen(market.Now()) {
		return nil
	}

	var open []model.Order
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		var err error
		open, err = s.Orders.FindOpenOrdered(ctx)
		return err
	})
	if err != nil {
		return err
	}

	executed := 0
	for i := range open {
		o := &open[i]
		filled, err := e.sweepOne(ctx, o)
		if err != nil {
			if errors.Is(err, errClaimLost) || errors.Is(err, ErrQuoteUnavailable) {
				// Another worker owns it, or no quote yet. Next tick.
				continue
			}
			logger.WithFields(map[string]interface{}{
				"order":  o.ID,
				"user":   o.Username,
				"symbol": o.Symbol,
			}).WithError(err).Error("Trigger sweep failed for order")
			continue
		}
		if filled {
			executed++
		}
	}

	if executed > 0 {
		logger.WithFields(map[string]interface{}{
			"scanned":  len(open),
			"executed": executed,
		}).Info("Trigger sweep executed orders")
	}
	return nil
}

// sweepOne claims, evaluates and possibly fills one order. The claim is
// taken outside the fill transaction so a crash between claim and fill
// leaves a PROCESSING row that the release path or an operator can return
// to OPEN; the fill itself is atomic.
func (e *Engine) sweepOne(ctx context.Context, o *model.Order) (bool, error) {
	var claimed bool
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		var err error
		claimed, err = s.Orders.ClaimProcessing(ctx, o.ID)
		if err != nil || !claimed {
			return err
		}
		// The scan snapshot may be stale, a modify can land between the
		// scan and the claim. The claimed row is what fills.
		fresh, err := s.Orders.FindByID(ctx, o.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return errClaimLost
		}
		o = fresh
		return nil
	})
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, errClaimLost
	}

	live, ok := e.livePrice(ctx, o.Symbol)
	if !ok {
		return false, e.releaseClaim(ctx, o.ID, ErrQuoteUnavailable)
	}
	if !triggered(o, live) {
		return false, e.releaseClaim(ctx, o.ID, nil)
	}

	fillErr := e.stores.RunInTx(ctx, func(s Stores) error {
		// The fill settles at the trigger price. A BUY already blocked
		// trigger*qty at placement, so no further funds move; a SELL
		// (including a short-first SELL) credits the proceeds now.
		if !o.IsBuy() {
			proceeds := o.Notional()
			if err := s.Funds.Credit(ctx, o.Username, proceeds); err != nil {
				return err
			}
		}
		return s.Orders.CloseClaimed(ctx, o.ID, o.Price, market.Now())
	})
	if fillErr != nil {
		return false, e.releaseClaim(ctx, o.ID, fillErr)
	}

	logger.WithFields(map[string]interface{}{
		"order":  o.ID,
		"user":   o.Username,
		"symbol": o.Symbol,
		"side":   o.Side,
		"price":  o.Price.String(),
	}).Info("Limit order triggered and filled")
	return true, nil
}

// releaseClaim returns a PROCESSING order to OPEN and passes cause through.
func (e *Engine) releaseClaim(ctx context.Context, id uint, cause error) error {
	err := e.stores.RunInTx(ctx, func(s Stores) error {
		return s.Orders.ReleaseClaim(ctx, id)
	})
	if err != nil {
		logger.WithField("order", id).WithError(err).Error("Failed to release order claim")
		if cause == nil {
			return err
		}
	}
	return cause
}
