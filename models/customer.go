package models

import "time"

type Customer struct {
	CustomerId     string    `json:"customer_id" bson:"customer_id"`
	Name           string    `json:"name" bson:"name"`
	Phone          string    `json:"phone" bson:"phone"`
	Email          string    `json:"email" bson:"email"`
	DateRegistered time.Time `json:"date_registered" bson:"date_registered"`
	LastSeen       time.Time `json:"last_seen" bson:"last_seen"`
}

type Address struct {
	AddressId  string `json:"address_id" bson:"address_id"`
	CustomerId string `json:"customer_id" bson:"customer_id"`
	Street     string `json:"street" bson:"street"`
	City       string `json:"city" bson:"city"`
	Province   string `json:"province" bson:"province"`
	Note       string `json:"note" bson:"note"`
	IsDefault  bool   `json:"is_default" bson:"is_default"`
}
