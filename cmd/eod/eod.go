package eod

import (
	"context"

	"github.com/sirupsen/logrus"

	"papertrade/src/database"
	"papertrade/src/oracle"
	"papertrade/src/repository"
	"papertrade/src/settlement"
)

type Eod struct {
}

// Start runs the settlement pipeline once for every account that is due,
// then exits. Accounts already settled for the trading day are skipped.
func (t *Eod) Start() error {
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	quotes := oracle.NewClient(oracle.GetConfig())
	pipeline := settlement.New(repository.NewGormStores(), quotes)

	if err := pipeline.RunAllDue(context.Background()); err != nil {
		logrus.WithError(err).Error("Settlement run failed")
		return err
	}

	return nil
}
