package internal

import "time"

type NotificationHandler interface {
	OnOrderSettled(event *SettledOrder)
	OnPaymentFailed(event *SettledOrder)
}

type SettledOrderItem struct {
	ProductCode string  `json:"product_code" bson:"product_code"`
	Quantity    int     `json:"quantity" bson:"quantity"`
	Price       float64 `json:"price" bson:"price"`
}

type SettledOrder struct {
	OrderId      string             `json:"order_id" bson:"order_id"`
	CustomerName string             `json:"customer_name" bson:"customer_name"`
	PhoneNumber  string             `json:"phone_number" bson:"phone_number"`
	Address      string             `json:"address" bson:"address"`
	TotalAmount  float64            `json:"total_amount" bson:"total_amount"`
	Currency     string             `json:"currency" bson:"currency"`
	Items        []SettledOrderItem `json:"items" bson:"items"`
	Time         time.Time          `json:"time" bson:"time"`
}
