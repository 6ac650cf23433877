package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"papertrade/cmd/eod"
	"papertrade/cmd/sweeper"
	"papertrade/src/database"
	"papertrade/src/engine"
	"papertrade/src/oracle"
	"papertrade/src/repository"
	"papertrade/src/server"
	"papertrade/src/settlement"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Papertrade CMD"
	app.Usage = "The papertrade command line interface"

	app.Commands = []cli.Command{
		serverCMD,
		sweeperCMD,
		eodCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the trading API server",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the HTTP API with the live quote feed`,
	}
	sweeperCMD = cli.Command{
		Name:        "sweeper",
		Usage:       "run the trigger, stop and settlement sweeps",
		Action:      sweeperAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the background sweep loop without the HTTP server`,
	}
	eodCMD = cli.Command{
		Name:        "eod",
		Usage:       "run end-of-day settlement for every account",
		Action:      eodAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the settlement pipeline once and exit`,
	}
)

func serverAction(_ *cli.Context) error {

	logrus.Info("Starting server CMD")
	logrus.WithField("cmd", "server")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	oracleCfg := oracle.GetConfig()
	feed := oracle.NewFeed(oracleCfg)
	go feed.Run(ctx)
	quotes := oracle.NewClient(oracleCfg).WithFeed(feed)

	stores := repository.NewGormStores()
	pipeline := settlement.New(stores, quotes)
	eng := engine.New(stores, quotes).WithEOD(pipeline)

	server.StartServer(server.GetConfig().Port, eng)

	return nil
}

func sweeperAction(_ *cli.Context) error {

	logrus.Info("Starting sweeper CMD")
	logrus.WithField("cmd", "sweeper")

	s := &sweeper.Sweeper{}
	err := s.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func eodAction(_ *cli.Context) error {

	logrus.Info("Starting eod CMD")
	logrus.WithField("cmd", "eod")

	e := &eod.Eod{}
	err := e.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
