package models

type CartItem struct {
	CustomerId  string  `json:"customer_id" bson:"customer_id"`
	ProductCode string  `json:"product_code" bson:"product_code"`
	Quantity    int     `json:"quantity" bson:"quantity"`
	Price       float64 `json:"price" bson:"price"`
}
