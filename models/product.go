package models

type Product struct {
	Code        string  `json:"code" bson:"code"`
	Name        string  `json:"name" bson:"name"`
	Description string  `json:"description" bson:"description"`
	Price       float64 `json:"price" bson:"price"`
	Stock       int     `json:"stock" bson:"stock"`
	IsActive    bool    `json:"is_active" bson:"is_active"`
}
