package internal

import "storepay/models"

type Database interface {
	WriteLogMessage(data Data) error
	ReadLog() (interface{}, error)

	GetProduct(code string) (*models.Product, error)
	GetCartItems(customerId string) ([]models.CartItem, error)
	ClearCart(customerId string) error

	GetCustomer(customerId string) (*models.Customer, error)
	GetAddress(customerId, addressId string) (*models.Address, error)

	// CreateOrderWithItems persists the order, its items and the stock
	// decrements in a single all-or-nothing operation.
	CreateOrderWithItems(order *models.Order, items []models.OrderItem) error
	GetOrder(orderId string) (*models.Order, error)
	GetOrderItems(orderId string) ([]models.OrderItem, error)
	UpdateOrderStatus(orderId string, status models.OrderStatus) error

	SavePaymentTransaction(transaction *models.PaymentTransaction) error
	GetPaymentTransaction(orderId string) (*models.PaymentTransaction, error)
	UpdatePaymentStatus(orderId string, status models.PaymentStatus) error
	GetPendingPayments() ([]models.PaymentTransaction, error)

	GetSubscriptions() ([]models.UserSubscription, error)
	AddSubscription(subscription *models.UserSubscription) error
	DeleteSubscription(subscription *models.UserSubscription) error
}

type Data interface {
	DataType() string
}
