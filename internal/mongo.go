package internal

import (
	"context"
	"fmt"
	"time"

	"storepay/internal/config"
	"storepay/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionLog           = "sys_log"
	collectionProducts      = "products"
	collectionCarts         = "carts"
	collectionCustomers     = "customers"
	collectionAddresses     = "addresses"
	collectionOrders        = "orders"
	collectionOrderItems    = "order_items"
	collectionPayments      = "payments"
	collectionSubscriptions = "subscriptions"
)

type MongoDB struct {
	ctx      context.Context
	client   *mongo.Client
	database string
}

func NewMongoClient(conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	ctx := context.Background()
	// single long-lived client; order creation needs sessions, which a
	// connect-per-call client cannot provide
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}
	mongoDB := &MongoDB{
		ctx:      ctx,
		client:   client,
		database: conf.Mongo.Database,
	}
	return mongoDB, nil
}

func (m *MongoDB) collection(name string) *mongo.Collection {
	return m.client.Database(m.database).Collection(name)
}

func (m *MongoDB) WriteLogMessage(data Data) error {
	_, err := m.collection(collectionLog).InsertOne(m.ctx, data)
	return err
}

func (m *MongoDB) ReadLog() (interface{}, error) {
	var logMessages []FeatureLogMessage
	filter := bson.D{}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(1000)
	cursor, err := m.collection(collectionLog).Find(m.ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if err = cursor.All(m.ctx, &logMessages); err != nil {
		return nil, err
	}
	return logMessages, nil
}

func (m *MongoDB) GetProduct(code string) (*models.Product, error) {
	var product models.Product
	filter := bson.D{{Key: "code", Value: code}}
	err := m.collection(collectionProducts).FindOne(m.ctx, filter).Decode(&product)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (m *MongoDB) GetCartItems(customerId string) ([]models.CartItem, error) {
	var items []models.CartItem
	filter := bson.D{{Key: "customer_id", Value: customerId}}
	cursor, err := m.collection(collectionCarts).Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	if err = cursor.All(m.ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (m *MongoDB) ClearCart(customerId string) error {
	filter := bson.D{{Key: "customer_id", Value: customerId}}
	_, err := m.collection(collectionCarts).DeleteMany(m.ctx, filter)
	return err
}

func (m *MongoDB) GetCustomer(customerId string) (*models.Customer, error) {
	var customer models.Customer
	filter := bson.D{{Key: "customer_id", Value: customerId}}
	err := m.collection(collectionCustomers).FindOne(m.ctx, filter).Decode(&customer)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (m *MongoDB) GetAddress(customerId, addressId string) (*models.Address, error) {
	var address models.Address
	filter := bson.D{{Key: "customer_id", Value: customerId}, {Key: "address_id", Value: addressId}}
	err := m.collection(collectionAddresses).FindOne(m.ctx, filter).Decode(&address)
	if err != nil {
		return nil, err
	}
	return &address, nil
}

// CreateOrderWithItems runs the order, its items and the stock decrements in
// one mongo transaction. The decrement filter requires stock >= quantity, so
// two concurrent checkouts cannot both take the same unit: the second update
// matches nothing and the whole transaction aborts.
func (m *MongoDB) CreateOrderWithItems(order *models.Order, items []models.OrderItem) error {
	session, err := m.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(m.ctx)

	_, err = session.WithTransaction(m.ctx, func(sc mongo.SessionContext) (interface{}, error) {
		products := m.collection(collectionProducts)
		for _, item := range items {
			filter := bson.D{
				{Key: "code", Value: item.ProductCode},
				{Key: "stock", Value: bson.D{{Key: "$gte", Value: item.Quantity}}},
			}
			update := bson.D{{Key: "$inc", Value: bson.D{{Key: "stock", Value: -item.Quantity}}}}
			result, err := products.UpdateOne(sc, filter, update)
			if err != nil {
				return nil, err
			}
			if result.MatchedCount == 0 {
				return nil, &models.StockError{ProductCode: item.ProductCode}
			}
		}
		if _, err := m.collection(collectionOrders).InsertOne(sc, order); err != nil {
			return nil, err
		}
		for _, item := range items {
			if _, err := m.collection(collectionOrderItems).InsertOne(sc, item); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (m *MongoDB) GetOrder(orderId string) (*models.Order, error) {
	var order models.Order
	filter := bson.D{{Key: "order_id", Value: orderId}}
	err := m.collection(collectionOrders).FindOne(m.ctx, filter).Decode(&order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (m *MongoDB) GetOrderItems(orderId string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	filter := bson.D{{Key: "order_id", Value: orderId}}
	cursor, err := m.collection(collectionOrderItems).Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	if err = cursor.All(m.ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (m *MongoDB) UpdateOrderStatus(orderId string, status models.OrderStatus) error {
	filter := bson.D{{Key: "order_id", Value: orderId}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: status},
		{Key: "time_updated", Value: time.Now()},
	}}}
	_, err := m.collection(collectionOrders).UpdateOne(m.ctx, filter, update)
	return err
}

func (m *MongoDB) SavePaymentTransaction(transaction *models.PaymentTransaction) error {
	filter := bson.D{{Key: "order_id", Value: transaction.OrderId}}
	update := bson.D{{Key: "$set", Value: transaction}}
	opts := options.Update().SetUpsert(true)
	_, err := m.collection(collectionPayments).UpdateOne(m.ctx, filter, update, opts)
	return err
}

func (m *MongoDB) GetPaymentTransaction(orderId string) (*models.PaymentTransaction, error) {
	var transaction models.PaymentTransaction
	filter := bson.D{{Key: "order_id", Value: orderId}}
	err := m.collection(collectionPayments).FindOne(m.ctx, filter).Decode(&transaction)
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (m *MongoDB) UpdatePaymentStatus(orderId string, status models.PaymentStatus) error {
	filter := bson.D{{Key: "order_id", Value: orderId}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: status},
		{Key: "time_closed", Value: time.Now()},
	}}}
	_, err := m.collection(collectionPayments).UpdateOne(m.ctx, filter, update)
	return err
}

func (m *MongoDB) GetPendingPayments() ([]models.PaymentTransaction, error) {
	var transactions []models.PaymentTransaction
	filter := bson.D{{Key: "status", Value: models.PaymentPending}}
	cursor, err := m.collection(collectionPayments).Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	if err = cursor.All(m.ctx, &transactions); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (m *MongoDB) GetSubscriptions() ([]models.UserSubscription, error) {
	var subscriptions []models.UserSubscription
	filter := bson.D{}
	cursor, err := m.collection(collectionSubscriptions).Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	if err = cursor.All(m.ctx, &subscriptions); err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (m *MongoDB) AddSubscription(subscription *models.UserSubscription) error {
	filter := bson.D{{Key: "user_id", Value: subscription.UserID}}
	update := bson.D{{Key: "$set", Value: subscription}}
	opts := options.Update().SetUpsert(true)
	_, err := m.collection(collectionSubscriptions).UpdateOne(m.ctx, filter, update, opts)
	return err
}

func (m *MongoDB) DeleteSubscription(subscription *models.UserSubscription) error {
	filter := bson.D{{Key: "user_id", Value: subscription.UserID}}
	_, err := m.collection(collectionSubscriptions).DeleteOne(m.ctx, filter)
	return err
}
