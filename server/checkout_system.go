package server

import (
	"fmt"
	"log"
	"time"

	"storepay/checkout"
	"storepay/internal"
	"storepay/internal/config"
	"storepay/settlement"
	"storepay/telegram"
)

// CheckoutSystem owns the wiring of the settlement pipeline: database,
// logger, settlement client, checkout service, notification bot and the
// HTTP boundary.
type CheckoutSystem struct {
	server   *Server
	checkout *checkout.Service
	logger   internal.LogHandler
}

func NewCheckoutSystem(conf *config.Config) (*CheckoutSystem, error) {
	cs := &CheckoutSystem{}

	var database internal.Database
	if conf.Mongo.Enabled {
		mongoDB, err := internal.NewMongoClient(conf)
		if err != nil {
			return nil, fmt.Errorf("mongodb setup failed: %s", err)
		}
		if mongoDB != nil {
			database = mongoDB
			log.Println("mongodb is configured and enabled")
		}
	} else {
		log.Println("database is disabled")
	}

	logService := internal.NewLogger(time.Local)
	logService.SetDebugMode(conf.IsDebug)
	logService.SetDatabase(database)
	cs.logger = logService

	client := settlement.NewClient(conf)

	checkoutService := checkout.NewService(conf)
	checkoutService.SetDatabase(database)
	checkoutService.SetLogger(logService)
	checkoutService.SetClient(client)

	if conf.Telegram.Enabled {
		telegramBot, err := telegram.NewBot(conf.Telegram.ApiKey)
		if err != nil {
			return nil, fmt.Errorf("telegram bot setup failed: %s", err)
		}
		telegramBot.SetDatabase(database)
		telegramBot.Start()
		checkoutService.SetNotificationHandler(telegramBot)
		log.Println("telegram bot is configured and enabled")
	}

	cs.checkout = checkoutService

	server := NewServer(conf, logService)
	server.SetCheckoutService(checkoutService)
	server.SetDatabase(database)
	cs.server = server

	return cs, nil
}

func (cs *CheckoutSystem) Start() {
	cs.checkout.Start()

	go func() {
		if err := cs.server.Start(); err != nil {
			cs.logger.Error("http server failed", err)
		}
	}()

	select {}
}
