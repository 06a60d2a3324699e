package models

import "time"

type OrderStatus string

const (
	OrderPending    OrderStatus = "Pending"
	OrderProcessing OrderStatus = "Processing"
	OrderDelivered  OrderStatus = "Delivered"
	OrderCancelled  OrderStatus = "Cancelled"
)

type Order struct {
	Id          string      `json:"order_id" bson:"order_id"`
	CustomerId  string      `json:"customer_id" bson:"customer_id"`
	AddressId   string      `json:"address_id" bson:"address_id"`
	Status      OrderStatus `json:"status" bson:"status"`
	Amount      float64     `json:"amount" bson:"amount"`
	Currency    string      `json:"currency" bson:"currency"`
	TimeCreated time.Time   `json:"time_created" bson:"time_created"`
	TimeUpdated time.Time   `json:"time_updated" bson:"time_updated"`
}

type OrderItem struct {
	OrderId     string  `json:"order_id" bson:"order_id"`
	ProductCode string  `json:"product_code" bson:"product_code"`
	Quantity    int     `json:"quantity" bson:"quantity"`
	Price       float64 `json:"price" bson:"price"`
}
