package models

import "time"

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "Pending"
	PaymentCompleted PaymentStatus = "Completed"
	PaymentFailed    PaymentStatus = "Failed"
)

type PaymentTransaction struct {
	OrderId     string        `json:"order_id" bson:"order_id"`
	Fingerprint string        `json:"fingerprint" bson:"fingerprint"`
	Payload     string        `json:"payload" bson:"payload"`
	Amount      float64       `json:"amount" bson:"amount"`
	Currency    string        `json:"currency" bson:"currency"`
	MethodId    string        `json:"method_id" bson:"method_id"`
	Status      PaymentStatus `json:"status" bson:"status"`
	TimeOpened  time.Time     `json:"time_opened" bson:"time_opened"`
	TimeClosed  time.Time     `json:"time_closed" bson:"time_closed"`
}
