package main

import (
	"log"

	"storepay/internal/config"
	"storepay/server"
)

func main() {

	conf, err := config.GetConfig()
	if err != nil {
		log.Println("configuration load failed", err)
		return
	}

	checkoutSystem, err := server.NewCheckoutSystem(conf)
	if err != nil {
		log.Println("checkout system initialization failed", err)
		return
	}
	checkoutSystem.Start()

}
