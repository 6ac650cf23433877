package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrade/src/database"
	"papertrade/src/engine"
	"papertrade/src/oracle"
	"papertrade/src/repository"
	"papertrade/src/server"
	"papertrade/src/settlement"
)

var (
	PORT     = os.Getenv("SERVER_PORT")
	APP_NAME = os.Getenv("APP_NAME")
)

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
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

	port := PORT
	if port == "" {
		port = server.GetConfig().Port
	}
	server.StartServer(port, eng)
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
