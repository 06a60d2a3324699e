package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"storepay/emvqr"
	"storepay/internal"
	"storepay/internal/config"
	"storepay/models"
	"storepay/settlement"
)

type nopLogger struct{}

func (nopLogger) FeatureEvent(feature, id, text string) {}
func (nopLogger) Debug(text string)                     {}
func (nopLogger) Warn(text string)                      {}
func (nopLogger) Error(text string, err error)          {}

// fakeDatabase keeps everything in memory and mirrors the conditional
// decrement semantics of the real store: an order either lands completely,
// with all stock taken, or not at all.
type fakeDatabase struct {
	products   map[string]*models.Product
	carts      map[string][]models.CartItem
	customers  map[string]*models.Customer
	addresses  map[string]*models.Address
	orders     map[string]*models.Order
	orderItems map[string][]models.OrderItem
	payments   map[string]*models.PaymentTransaction
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		products:   make(map[string]*models.Product),
		carts:      make(map[string][]models.CartItem),
		customers:  make(map[string]*models.Customer),
		addresses:  make(map[string]*models.Address),
		orders:     make(map[string]*models.Order),
		orderItems: make(map[string][]models.OrderItem),
		payments:   make(map[string]*models.PaymentTransaction),
	}
}

func (f *fakeDatabase) WriteLogMessage(internal.Data) error { return nil }
func (f *fakeDatabase) ReadLog() (interface{}, error)       { return nil, nil }

func (f *fakeDatabase) GetProduct(code string) (*models.Product, error) {
	product, ok := f.products[code]
	if !ok {
		return nil, fmt.Errorf("product %s not found", code)
	}
	return product, nil
}

func (f *fakeDatabase) GetCartItems(customerId string) ([]models.CartItem, error) {
	return f.carts[customerId], nil
}

func (f *fakeDatabase) ClearCart(customerId string) error {
	delete(f.carts, customerId)
	return nil
}

func (f *fakeDatabase) GetCustomer(customerId string) (*models.Customer, error) {
	customer, ok := f.customers[customerId]
	if !ok {
		return nil, fmt.Errorf("customer %s not found", customerId)
	}
	return customer, nil
}

func (f *fakeDatabase) GetAddress(customerId, addressId string) (*models.Address, error) {
	address, ok := f.addresses[addressId]
	if !ok {
		return nil, fmt.Errorf("address %s not found", addressId)
	}
	return address, nil
}

func (f *fakeDatabase) CreateOrderWithItems(order *models.Order, items []models.OrderItem) error {
	// validate every decrement before touching anything
	taken := make(map[string]int)
	for _, item := range items {
		product, ok := f.products[item.ProductCode]
		if !ok || product.Stock-taken[item.ProductCode] < item.Quantity {
			return &models.StockError{ProductCode: item.ProductCode}
		}
		taken[item.ProductCode] += item.Quantity
	}
	for code, quantity := range taken {
		f.products[code].Stock -= quantity
	}
	f.orders[order.Id] = order
	f.orderItems[order.Id] = items
	return nil
}

func (f *fakeDatabase) GetOrder(orderId string) (*models.Order, error) {
	order, ok := f.orders[orderId]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderId)
	}
	return order, nil
}

func (f *fakeDatabase) GetOrderItems(orderId string) ([]models.OrderItem, error) {
	return f.orderItems[orderId], nil
}

func (f *fakeDatabase) UpdateOrderStatus(orderId string, status models.OrderStatus) error {
	order, ok := f.orders[orderId]
	if !ok {
		return fmt.Errorf("order %s not found", orderId)
	}
	order.Status = status
	return nil
}

func (f *fakeDatabase) SavePaymentTransaction(transaction *models.PaymentTransaction) error {
	f.payments[transaction.OrderId] = transaction
	return nil
}

func (f *fakeDatabase) GetPaymentTransaction(orderId string) (*models.PaymentTransaction, error) {
	transaction, ok := f.payments[orderId]
	if !ok {
		return nil, fmt.Errorf("payment for order %s not found", orderId)
	}
	return transaction, nil
}

func (f *fakeDatabase) UpdatePaymentStatus(orderId string, status models.PaymentStatus) error {
	transaction, ok := f.payments[orderId]
	if !ok {
		return fmt.Errorf("payment for order %s not found", orderId)
	}
	transaction.Status = status
	return nil
}

func (f *fakeDatabase) GetPendingPayments() ([]models.PaymentTransaction, error) {
	var pending []models.PaymentTransaction
	for _, transaction := range f.payments {
		if transaction.Status == models.PaymentPending {
			pending = append(pending, *transaction)
		}
	}
	return pending, nil
}

func (f *fakeDatabase) GetSubscriptions() ([]models.UserSubscription, error) { return nil, nil }
func (f *fakeDatabase) AddSubscription(*models.UserSubscription) error       { return nil }
func (f *fakeDatabase) DeleteSubscription(*models.UserSubscription) error    { return nil }

type fakeSettlement struct {
	status   settlement.TransactionStatus
	err      error
	deeplink string
	paid     []string
}

func (f *fakeSettlement) CheckStatus(context.Context, string) (settlement.TransactionStatus, error) {
	return f.status, f.err
}

func (f *fakeSettlement) CheckBulk(context.Context, []string) ([]string, error) {
	return f.paid, f.err
}

func (f *fakeSettlement) CreateDeepLink(context.Context, string, settlement.CallbackMeta) (string, error) {
	return f.deeplink, nil
}

type fakeNotifier struct {
	settled []*internal.SettledOrder
}

func (f *fakeNotifier) OnOrderSettled(event *internal.SettledOrder) {
	f.settled = append(f.settled, event)
}

func (f *fakeNotifier) OnPaymentFailed(*internal.SettledOrder) {}

func testConfig() *config.Config {
	conf := &config.Config{}
	conf.Merchant.BankAccount = "merchant@devbank"
	conf.Merchant.Name = "Dev Store"
	conf.Merchant.City = "Phnom Penh"
	conf.Merchant.CategoryCode = "5999"
	conf.Merchant.CountryCode = "KH"
	conf.Merchant.Currency = "USD"
	conf.Payment.PollIntervalSec = 3600 // sessions must not tick during tests
	conf.Payment.MaxAttempts = 30
	return conf
}

func newTestService(database internal.Database, client SettlementApi) *Service {
	service := NewService(testConfig())
	service.SetDatabase(database)
	service.SetLogger(nopLogger{})
	service.SetClient(client)
	return service
}

func seedCart(database *fakeDatabase) {
	database.products["P1"] = &models.Product{Code: "P1", Name: "Widget", Price: 100, Stock: 10}
	database.products["P2"] = &models.Product{Code: "P2", Name: "Gadget", Price: 50, Stock: 10}
	database.carts["cust-1"] = []models.CartItem{
		{CustomerId: "cust-1", ProductCode: "P1", Quantity: 2, Price: 100},
		{CustomerId: "cust-1", ProductCode: "P2", Quantity: 1, Price: 50},
	}
	database.customers["cust-1"] = &models.Customer{CustomerId: "cust-1", Name: "Sok Dara", Phone: "+85512345678"}
	database.addresses["addr-1"] = &models.Address{AddressId: "addr-1", CustomerId: "cust-1", Street: "Street 271", City: "Phnom Penh"}
}

func TestPlaceOrder(t *testing.T) {
	t.Run("empty cart", func(t *testing.T) {
		service := newTestService(newFakeDatabase(), &fakeSettlement{})
		_, err := service.PlaceOrder("cust-1", "addr-1")
		if !errors.Is(err, models.ErrEmptyCart) {
			t.Errorf("expected ErrEmptyCart, got %v", err)
		}
	})

	t.Run("totals the cart and decrements stock", func(t *testing.T) {
		database := newFakeDatabase()
		seedCart(database)
		service := newTestService(database, &fakeSettlement{})

		order, err := service.PlaceOrder("cust-1", "addr-1")
		if err != nil {
			t.Fatalf("place order failed: %v", err)
		}
		if order.Amount != 250 {
			t.Errorf("expected amount due 250, got %v", order.Amount)
		}
		if order.Status != models.OrderPending {
			t.Errorf("expected Pending order, got %s", order.Status)
		}
		if got := database.products["P1"].Stock; got != 8 {
			t.Errorf("P1 stock not decremented: %d", got)
		}
		if got := database.products["P2"].Stock; got != 9 {
			t.Errorf("P2 stock not decremented: %d", got)
		}
		if len(database.orderItems[order.Id]) != 2 {
			t.Errorf("expected 2 order items, got %d", len(database.orderItems[order.Id]))
		}
	})

	t.Run("zero quantity line item is rejected", func(t *testing.T) {
		database := newFakeDatabase()
		seedCart(database)
		database.carts["cust-1"][1].Quantity = 0
		service := newTestService(database, &fakeSettlement{})

		_, err := service.PlaceOrder("cust-1", "addr-1")
		if !errors.Is(err, models.ErrInvalidQuantity) {
			t.Fatalf("expected ErrInvalidQuantity, got %v", err)
		}
		if got := database.products["P1"].Stock; got != 10 {
			t.Errorf("stock touched despite rejected quantity: %d", got)
		}
		if len(database.orders) != 0 {
			t.Error("order written despite rejected quantity")
		}
	})

	t.Run("insufficient stock leaves nothing behind", func(t *testing.T) {
		database := newFakeDatabase()
		seedCart(database)
		database.products["P2"].Stock = 0
		service := newTestService(database, &fakeSettlement{})

		_, err := service.PlaceOrder("cust-1", "addr-1")
		var stockErr *models.StockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("expected StockError, got %v", err)
		}
		if stockErr.ProductCode != "P2" {
			t.Errorf("expected failing product P2, got %s", stockErr.ProductCode)
		}
		if got := database.products["P1"].Stock; got != 10 {
			t.Errorf("P1 stock touched despite rollback: %d", got)
		}
		if len(database.orders) != 0 || len(database.orderItems) != 0 {
			t.Error("order rows written despite rollback")
		}
	})
}

func TestRequestPayment(t *testing.T) {
	database := newFakeDatabase()
	seedCart(database)
	service := newTestService(database, &fakeSettlement{status: settlement.StatusUnpaid, deeplink: "https://pay.example/x"})

	order, err := service.PlaceOrder("cust-1", "addr-1")
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}

	intent, err := service.RequestPayment(context.Background(), order.Id, order.Amount, "usd")
	if err != nil {
		t.Fatalf("request payment failed: %v", err)
	}
	defer service.CancelPayment(intent.Fingerprint)

	// the payload must close with a checksum the engine reproduces
	payload := intent.Payload
	if got, want := payload[len(payload)-4:], emvqr.Checksum(payload[:len(payload)-4]); got != want {
		t.Errorf("payload checksum %s does not match engine output %s", got, want)
	}
	if intent.Fingerprint != emvqr.Fingerprint(payload) {
		t.Error("fingerprint does not match payload digest")
	}
	if intent.DeepLink != "https://pay.example/x" {
		t.Errorf("unexpected deeplink: %q", intent.DeepLink)
	}

	transaction, err := database.GetPaymentTransaction(order.Id)
	if err != nil {
		t.Fatalf("payment transaction not persisted: %v", err)
	}
	if transaction.Status != models.PaymentPending {
		t.Errorf("expected Pending payment, got %s", transaction.Status)
	}
	if transaction.Fingerprint != intent.Fingerprint {
		t.Error("persisted fingerprint mismatch")
	}

	session := service.Session(intent.Fingerprint)
	if session == nil {
		t.Fatal("no session registered for fingerprint")
	}
	if session.State() != settlement.StateAwaitingPayment {
		t.Errorf("expected AwaitingPayment, got %s", session.State())
	}
}

func TestRequestPayment_ConstructionErrors(t *testing.T) {
	database := newFakeDatabase()
	seedCart(database)
	service := newTestService(database, &fakeSettlement{})

	order, err := service.PlaceOrder("cust-1", "addr-1")
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}

	t.Run("unsupported currency", func(t *testing.T) {
		_, err := service.RequestPayment(context.Background(), order.Id, order.Amount, "EUR")
		if !errors.Is(err, emvqr.ErrUnsupportedCurrency) {
			t.Errorf("expected ErrUnsupportedCurrency, got %v", err)
		}
	})

	t.Run("missing amount", func(t *testing.T) {
		_, err := service.RequestPayment(context.Background(), order.Id, 0, "USD")
		if !errors.Is(err, emvqr.ErrAmountRequired) {
			t.Errorf("expected ErrAmountRequired, got %v", err)
		}
	})

	t.Run("merchant name too long", func(t *testing.T) {
		longName := newTestService(database, &fakeSettlement{})
		longName.conf.Merchant.Name = strings.Repeat("m", 26)
		_, err := longName.RequestPayment(context.Background(), order.Id, order.Amount, "USD")
		if !errors.Is(err, emvqr.ErrValueTooLong) {
			t.Errorf("expected ErrValueTooLong, got %v", err)
		}
	})
}

func TestRequestPayment_SupersedesPreviousSession(t *testing.T) {
	database := newFakeDatabase()
	seedCart(database)
	service := newTestService(database, &fakeSettlement{status: settlement.StatusUnpaid})

	order, err := service.PlaceOrder("cust-1", "addr-1")
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}
	first, err := service.RequestPayment(context.Background(), order.Id, order.Amount, "USD")
	if err != nil {
		t.Fatalf("first payment request failed: %v", err)
	}
	// the payload timestamp has millisecond resolution
	time.Sleep(2 * time.Millisecond)
	second, err := service.RequestPayment(context.Background(), order.Id, order.Amount, "USD")
	if err != nil {
		t.Fatalf("second payment request failed: %v", err)
	}
	defer service.CancelPayment(second.Fingerprint)

	if first.Fingerprint == second.Fingerprint {
		t.Fatal("regenerated payload reused the previous fingerprint")
	}
	if service.Session(first.Fingerprint) != nil {
		t.Error("superseded session still registered")
	}
	session := service.Session(second.Fingerprint)
	if session == nil {
		t.Fatal("no session registered for the new fingerprint")
	}
	if session.OrderId() != order.Id {
		t.Errorf("new session bound to order %s, want %s", session.OrderId(), order.Id)
	}
}

func TestExpire_PreservesSettledPayment(t *testing.T) {
	database := newFakeDatabase()
	seedCart(database)
	client := &fakeSettlement{status: settlement.StatusUnpaid}
	service := newTestService(database, client)

	order, err := service.PlaceOrder("cust-1", "addr-1")
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}
	first, err := service.RequestPayment(context.Background(), order.Id, order.Amount, "USD")
	if err != nil {
		t.Fatalf("first payment request failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := service.RequestPayment(context.Background(), order.Id, order.Amount, "USD")
	if err != nil {
		t.Fatalf("second payment request failed: %v", err)
	}

	// a stale session's failure must not touch the regenerated payment
	service.expire(order.Id, first.Fingerprint)
	transaction, _ := database.GetPaymentTransaction(order.Id)
	if transaction.Status != models.PaymentPending {
		t.Fatalf("stale expiry changed the pending payment: %s", transaction.Status)
	}

	client.status = settlement.StatusPaid
	if _, err = service.PollStatus(context.Background(), second.Fingerprint, order.Id); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	// a late failure callback must not undo the settlement
	service.expire(order.Id, second.Fingerprint)
	transaction, _ = database.GetPaymentTransaction(order.Id)
	if transaction.Status != models.PaymentCompleted {
		t.Errorf("settled payment was overwritten: status is now %s", transaction.Status)
	}
}

func TestPollStatus_RejectsForeignFingerprint(t *testing.T) {
	database := newFakeDatabase()
	seedCart(database)
	client := &fakeSettlement{status: settlement.StatusPaid}
	service := newTestService(database, client)

	order, err := service.PlaceOrder("cust-1", "addr-1")
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}
	intent, err := service.RequestPayment(context.Background(), order.Id, order.Amount, "USD")
	if err != nil {
		t.Fatalf("request payment failed: %v", err)
	}
	defer service.CancelPayment(intent.Fingerprint)

	_, err = service.PollStatus(context.Background(), "0123456789abcdef0123456789abcdef", order.Id)
	if !errors.Is(err, models.ErrPaymentMismatch) {
		t.Fatalf("expected ErrPaymentMismatch, got %v", err)
	}
	transaction, _ := database.GetPaymentTransaction(order.Id)
	if transaction.Status != models.PaymentPending {
		t.Errorf("foreign fingerprint settled the payment: %s", transaction.Status)
	}
	if database.orders[order.Id].Status != models.OrderPending {
		t.Errorf("foreign fingerprint advanced the order: %s", database.orders[order.Id].Status)
	}
}

func TestPollStatus_PaidFinalizesOrder(t *testing.T) {
	database := newFakeDatabase()
	seedCart(database)
	client := &fakeSettlement{status: settlement.StatusUnpaid}
	notifier := &fakeNotifier{}
	service := newTestService(database, client)
	service.SetNotificationHandler(notifier)

	order, err := service.PlaceOrder("cust-1", "addr-1")
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}
	intent, err := service.RequestPayment(context.Background(), order.Id, order.Amount, "USD")
	if err != nil {
		t.Fatalf("request payment failed: %v", err)
	}

	status, err := service.PollStatus(context.Background(), intent.Fingerprint, order.Id)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if status != settlement.StatusUnpaid {
		t.Errorf("expected Unpaid, got %s", status)
	}

	client.status = settlement.StatusPaid
	status, err = service.PollStatus(context.Background(), intent.Fingerprint, order.Id)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if status != settlement.StatusPaid {
		t.Errorf("expected Paid, got %s", status)
	}

	transaction, _ := database.GetPaymentTransaction(order.Id)
	if transaction.Status != models.PaymentCompleted {
		t.Errorf("expected Completed payment, got %s", transaction.Status)
	}
	if database.orders[order.Id].Status != models.OrderProcessing {
		t.Errorf("expected Processing order, got %s", database.orders[order.Id].Status)
	}
	if items := database.carts["cust-1"]; len(items) != 0 {
		t.Errorf("cart not cleared: %d items left", len(items))
	}
	if service.Session(intent.Fingerprint) != nil {
		t.Error("session not released after settlement")
	}

	if len(notifier.settled) != 1 {
		t.Fatalf("expected 1 settlement notification, got %d", len(notifier.settled))
	}
	event := notifier.settled[0]
	if event.OrderId != order.Id || event.TotalAmount != 250 {
		t.Errorf("unexpected notification: %+v", event)
	}
	if event.CustomerName != "Sok Dara" || len(event.Items) != 2 {
		t.Errorf("notification missing customer or items: %+v", event)
	}

	// settling again must not notify twice
	service.finalize(order.Id, intent.Fingerprint)
	if len(notifier.settled) != 1 {
		t.Errorf("duplicate settlement notification: %d", len(notifier.settled))
	}
}

func TestReconcilePending(t *testing.T) {
	database := newFakeDatabase()
	seedCart(database)
	client := &fakeSettlement{status: settlement.StatusUnpaid}
	service := newTestService(database, client)

	order, err := service.PlaceOrder("cust-1", "addr-1")
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}
	intent, err := service.RequestPayment(context.Background(), order.Id, order.Amount, "USD")
	if err != nil {
		t.Fatalf("request payment failed: %v", err)
	}
	defer service.CancelPayment(intent.Fingerprint)

	client.paid = []string{intent.Fingerprint}
	service.reconcilePending()

	transaction, _ := database.GetPaymentTransaction(order.Id)
	if transaction.Status != models.PaymentCompleted {
		t.Errorf("reconcile did not settle the payment: %s", transaction.Status)
	}
}
