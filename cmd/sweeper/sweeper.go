package sweeper

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"papertrade/src/database"
	"papertrade/src/engine"
	"papertrade/src/executors"
	"papertrade/src/oracle"
	"papertrade/src/repository"
	"papertrade/src/settlement"
)

type Sweeper struct {
}

// Start runs the background workers standalone: trigger sweep, stop sweep
// and the settlement check, without the HTTP server.
func (t *Sweeper) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	oracleCfg := oracle.GetConfig()
	feed := oracle.NewFeed(oracleCfg)
	go feed.Run(ctx)
	quotes := oracle.NewClient(oracleCfg).WithFeed(feed)

	stores := repository.NewGormStores()
	pipeline := settlement.New(stores, quotes)
	eng := engine.New(stores, quotes).WithEOD(pipeline)

	if err := executors.StartLoop(ctx, eng, pipeline); err != nil {
		logrus.WithError(err).Error("Failed to start sweep loop")
		return err
	}

	return nil
}
