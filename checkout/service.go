package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"storepay/emvqr"
	"storepay/internal"
	"storepay/internal/config"
	"storepay/models"
	"storepay/settlement"
	"storepay/utility"

	"github.com/shopspring/decimal"
)

// SettlementApi is the slice of the provider client the service needs.
type SettlementApi interface {
	CheckStatus(ctx context.Context, fingerprint string) (settlement.TransactionStatus, error)
	CheckBulk(ctx context.Context, fingerprints []string) ([]string, error)
	CreateDeepLink(ctx context.Context, payload string, callback settlement.CallbackMeta) (string, error)
}

// Service drives the order and payment pipeline: the stock-safe order
// transaction, payload generation, settlement polling and finalization.
type Service struct {
	conf     *config.Config
	database internal.Database
	logger   internal.LogHandler
	client   SettlementApi
	notifier internal.NotificationHandler

	mux      sync.Mutex
	sessions map[string]*settlement.Session
}

func NewService(conf *config.Config) *Service {
	return &Service{
		conf:     conf,
		sessions: make(map[string]*settlement.Session),
	}
}

func (s *Service) SetDatabase(database internal.Database) {
	s.database = database
}

func (s *Service) SetLogger(logger internal.LogHandler) {
	s.logger = logger
}

func (s *Service) SetClient(client SettlementApi) {
	s.client = client
}

func (s *Service) SetNotificationHandler(notifier internal.NotificationHandler) {
	s.notifier = notifier
}

// PlaceOrder turns the customer's cart into an order. Stock validation, the
// order row, its items and the stock decrements commit together or not at
// all; a failing item surfaces as models.StockError with no partial write.
func (s *Service) PlaceOrder(customerId, addressId string) (*models.Order, error) {
	if s.database == nil {
		return nil, utility.Err("database is not available")
	}
	items, err := s.database.GetCartItems(customerId)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, models.ErrEmptyCart
	}

	total := decimal.Zero
	now := time.Now()
	order := &models.Order{
		Id:          utility.NewUUID(),
		CustomerId:  customerId,
		AddressId:   addressId,
		Status:      models.OrderPending,
		Currency:    s.conf.Merchant.Currency,
		TimeCreated: now,
		TimeUpdated: now,
	}
	orderItems := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, models.ErrInvalidQuantity
		}
		total = total.Add(decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
		orderItems = append(orderItems, models.OrderItem{
			OrderId:     order.Id,
			ProductCode: item.ProductCode,
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	order.Amount = total.InexactFloat64()

	if err = s.database.CreateOrderWithItems(order, orderItems); err != nil {
		return nil, err
	}
	s.logger.FeatureEvent("checkout", order.Id, fmt.Sprintf("order placed, %d items, amount %s %s",
		len(orderItems), utility.AmountString(order.Amount), order.Currency))
	return order, nil
}

// PaymentIntent is what the storefront needs to render a payment screen.
type PaymentIntent struct {
	OrderId     string `json:"order_id"`
	Payload     string `json:"payload"`
	Fingerprint string `json:"fingerprint"`
	DeepLink    string `json:"deeplink,omitempty"`
}

// RequestPayment builds a dynamic payload for the order total, persists the
// pending payment transaction and starts the polling session.
func (s *Service) RequestPayment(ctx context.Context, orderId string, amount float64, currency string) (*PaymentIntent, error) {
	if s.database == nil {
		return nil, utility.Err("database is not available")
	}
	order, err := s.database.GetOrder(orderId)
	if err != nil {
		return nil, err
	}

	payload, err := emvqr.Build(emvqr.Options{
		BankAccount:  s.conf.Merchant.BankAccount,
		MerchantName: s.conf.Merchant.Name,
		MerchantCity: s.conf.Merchant.City,
		CategoryCode: s.conf.Merchant.CategoryCode,
		CountryCode:  s.conf.Merchant.CountryCode,
		Currency:     currency,
		Amount:       amount,
		Dynamic:      true,
		BillNumber:   billNumber(order.Id),
	})
	if err != nil {
		return nil, err
	}

	transaction := &models.PaymentTransaction{
		OrderId:     order.Id,
		Fingerprint: payload.Fingerprint(),
		Payload:     payload.String(),
		Amount:      amount,
		Currency:    currency,
		Status:      models.PaymentPending,
		TimeOpened:  time.Now(),
	}
	if err = s.database.SavePaymentTransaction(transaction); err != nil {
		return nil, err
	}

	deeplink, err := s.client.CreateDeepLink(ctx, payload.String(), settlement.CallbackMeta{
		AppName:     s.conf.Provider.AppName,
		AppIconUrl:  s.conf.Provider.AppIconUrl,
		CallbackUrl: s.conf.Provider.CallbackUrl,
	})
	if err != nil {
		// deep link is a convenience, the QR itself is enough to pay
		s.logger.Warn(fmt.Sprintf("deeplink generation failed for order %s: %s", order.Id, err))
	}

	session := settlement.NewSession(order.Id, payload.Fingerprint(), s.client,
		time.Duration(s.conf.Payment.PollIntervalSec)*time.Second, s.conf.Payment.MaxAttempts, s.logger)
	session.SetOnPaid(s.finalize)
	session.SetOnFailed(s.expire)

	// a repeated payment request supersedes the order's previous session,
	// otherwise it would keep polling for an abandoned fingerprint
	s.mux.Lock()
	var stale []*settlement.Session
	for fp, existing := range s.sessions {
		if existing.OrderId() == order.Id {
			delete(s.sessions, fp)
			stale = append(stale, existing)
		}
	}
	s.sessions[payload.Fingerprint()] = session
	s.mux.Unlock()
	for _, existing := range stale {
		existing.Stop()
	}
	session.Start()

	s.logger.FeatureEvent("payment", order.Id, fmt.Sprintf("awaiting settlement of %s %s, fingerprint %s",
		utility.AmountString(amount), currency, payload.Fingerprint()))

	return &PaymentIntent{
		OrderId:     order.Id,
		Payload:     payload.String(),
		Fingerprint: payload.Fingerprint(),
		DeepLink:    deeplink,
	}, nil
}

// Session looks up a live polling session by fingerprint.
func (s *Service) Session(fingerprint string) *settlement.Session {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.sessions[fingerprint]
}

// RestartPayment resumes polling for a failed session; attempts reset to zero.
func (s *Service) RestartPayment(fingerprint string) bool {
	session := s.Session(fingerprint)
	if session == nil {
		return false
	}
	if err := s.database.UpdatePaymentStatus(session.OrderId(), models.PaymentPending); err != nil {
		s.logger.Error(fmt.Sprintf("restart %s: reset payment", fingerprint), err)
	}
	session.Start()
	return true
}

// CancelPayment stops the session's timer; no further provider calls happen.
func (s *Service) CancelPayment(fingerprint string) {
	s.mux.Lock()
	session := s.sessions[fingerprint]
	delete(s.sessions, fingerprint)
	s.mux.Unlock()
	if session != nil {
		session.Stop()
	}
}

// PollStatus performs one status check outside the session's own timer. The
// fingerprint must belong to the order's persisted payment; otherwise any paid
// fingerprint could settle an unrelated order.
func (s *Service) PollStatus(ctx context.Context, fingerprint, orderId string) (settlement.TransactionStatus, error) {
	transaction, err := s.database.GetPaymentTransaction(orderId)
	if err != nil {
		return "", err
	}
	if transaction.Fingerprint != fingerprint {
		return "", models.ErrPaymentMismatch
	}
	status, err := s.client.CheckStatus(ctx, fingerprint)
	if err != nil {
		return status, err
	}
	if status == settlement.StatusPaid {
		s.finalize(orderId, fingerprint)
	}
	return status, nil
}

// finalize marks the payment settled, releases the cart and notifies.
// Safe to call more than once for the same order.
func (s *Service) finalize(orderId, fingerprint string) {
	transaction, err := s.database.GetPaymentTransaction(orderId)
	if err != nil {
		s.logger.Error(fmt.Sprintf("finalize %s: load payment", orderId), err)
		return
	}
	if transaction.Status == models.PaymentCompleted {
		return
	}

	if err = s.database.UpdatePaymentStatus(orderId, models.PaymentCompleted); err != nil {
		s.logger.Error(fmt.Sprintf("finalize %s: update payment", orderId), err)
		return
	}
	if err = s.database.UpdateOrderStatus(orderId, models.OrderProcessing); err != nil {
		s.logger.Error(fmt.Sprintf("finalize %s: update order", orderId), err)
	}

	order, err := s.database.GetOrder(orderId)
	if err != nil {
		s.logger.Error(fmt.Sprintf("finalize %s: load order", orderId), err)
		return
	}
	if err = s.database.ClearCart(order.CustomerId); err != nil {
		s.logger.Error(fmt.Sprintf("finalize %s: clear cart", orderId), err)
	}

	s.mux.Lock()
	session := s.sessions[fingerprint]
	delete(s.sessions, fingerprint)
	s.mux.Unlock()
	if session != nil {
		session.Stop()
	}

	s.logger.FeatureEvent("payment", orderId, fmt.Sprintf("settled %s %s",
		utility.AmountString(transaction.Amount), transaction.Currency))
	s.notifySettled(order, transaction)
}

// expire records that polling gave up on a payment. The session stays
// registered so a later restart can pick it up. A payment that already
// settled, or one whose payload was regenerated since, is left untouched: a
// stale session's late failure must never undo a completed settlement.
func (s *Service) expire(orderId, fingerprint string) {
	transaction, err := s.database.GetPaymentTransaction(orderId)
	if err != nil {
		s.logger.Error(fmt.Sprintf("expire %s: load payment", orderId), err)
		return
	}
	if transaction.Status == models.PaymentCompleted || transaction.Fingerprint != fingerprint {
		return
	}
	if err = s.database.UpdatePaymentStatus(orderId, models.PaymentFailed); err != nil {
		s.logger.Error(fmt.Sprintf("expire %s: update payment", orderId), err)
		return
	}
	s.logger.FeatureEvent("payment", orderId, fmt.Sprintf("settlement not confirmed, fingerprint %s", fingerprint))
	if s.notifier == nil {
		return
	}
	s.notifier.OnPaymentFailed(&internal.SettledOrder{
		OrderId:     orderId,
		TotalAmount: transaction.Amount,
		Currency:    transaction.Currency,
	})
}

// notifySettled is fire and forget; a notification failure never rolls back
// a settled payment.
func (s *Service) notifySettled(order *models.Order, transaction *models.PaymentTransaction) {
	if s.notifier == nil {
		return
	}
	event := &internal.SettledOrder{
		OrderId:     order.Id,
		TotalAmount: transaction.Amount,
		Currency:    transaction.Currency,
		Time:        time.Now(),
	}
	if customer, err := s.database.GetCustomer(order.CustomerId); err == nil {
		event.CustomerName = customer.Name
		event.PhoneNumber = customer.Phone
	}
	if address, err := s.database.GetAddress(order.CustomerId, order.AddressId); err == nil {
		event.Address = fmt.Sprintf("%s, %s", address.Street, address.City)
	}
	if items, err := s.database.GetOrderItems(order.Id); err == nil {
		for _, item := range items {
			event.Items = append(event.Items, internal.SettledOrderItem{
				ProductCode: item.ProductCode,
				Quantity:    item.Quantity,
				Price:       item.Price,
			})
		}
	}
	s.notifier.OnOrderSettled(event)
}

// Start launches the periodic reconciliation of pending payments against the
// provider's bulk status endpoint, catching settlements the per-session
// polling missed (server restarts, exhausted sessions paid late).
func (s *Service) Start() {
	interval := time.Duration(s.conf.Payment.ReconcileSec) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)

	go func() {
		for range ticker.C {
			s.reconcilePending()
		}
	}()
}

func (s *Service) reconcilePending() {
	pending, err := s.database.GetPendingPayments()
	if err != nil {
		s.logger.Error("reconcile: get pending payments", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	byFingerprint := make(map[string]string, len(pending))
	fingerprints := make([]string, 0, len(pending))
	for _, transaction := range pending {
		byFingerprint[transaction.Fingerprint] = transaction.OrderId
		fingerprints = append(fingerprints, transaction.Fingerprint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	paid, err := s.client.CheckBulk(ctx, fingerprints)
	if err != nil {
		s.logger.Error("reconcile: bulk status check", err)
		return
	}
	for _, fingerprint := range paid {
		if orderId, ok := byFingerprint[fingerprint]; ok {
			s.finalize(orderId, fingerprint)
		}
	}
}

// billNumber derives a short order reference that fits the bill number field.
func billNumber(orderId string) string {
	compact := strings.ReplaceAll(orderId, "-", "")
	if len(compact) > 20 {
		compact = compact[:20]
	}
	return "INV-" + strings.ToUpper(compact)
}
