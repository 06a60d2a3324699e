package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"storepay/checkout"
	"storepay/emvqr"
	"storepay/internal"
	"storepay/internal/config"
	"storepay/models"
	"storepay/settlement"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	ordersEndpoint  = "/api/v1/orders"
	paymentEndpoint = "/api/v1/orders/:id/payment"
	statusEndpoint  = "/api/v1/payments/:fingerprint/status"
	restartEndpoint = "/api/v1/payments/:fingerprint/restart"
	cancelEndpoint  = "/api/v1/payments/:fingerprint"
	logEndpoint     = "/api/v1/log"
	wsEndpoint      = "/ws/payments/:fingerprint"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	upgrader   websocket.Upgrader
	checkout   *checkout.Service
	database   internal.Database
	logger     internal.LogHandler
}

func NewServer(conf *config.Config, logger internal.LogHandler) *Server {
	server := Server{
		conf:     conf,
		logger:   logger,
		upgrader: websocket.Upgrader{},
	}
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Handler: router,
	}
	return &server
}

func (s *Server) SetCheckoutService(service *checkout.Service) {
	s.checkout = service
}

func (s *Server) SetDatabase(database internal.Database) {
	s.database = database
}

func (s *Server) Register(router *httprouter.Router) {
	router.POST(ordersEndpoint, s.handlePlaceOrder)
	router.POST(paymentEndpoint, s.handleRequestPayment)
	router.GET(statusEndpoint, s.handlePollStatus)
	router.POST(restartEndpoint, s.handleRestartPayment)
	router.DELETE(cancelEndpoint, s.handleCancelPayment)
	router.GET(logEndpoint, s.handleReadLog)
	router.GET(wsEndpoint, s.handleStatusStream)
}

func (s *Server) Start() error {
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	s.logger.Debug(fmt.Sprintf("starting server on %s", serverAddress))
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}
	if s.conf.Listen.TLS {
		s.logger.Debug("starting https TLS server")
		err = s.httpServer.ServeTLS(listener, s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
	} else {
		s.logger.Debug("starting http server")
		err = s.httpServer.Serve(listener)
	}
	return err
}

type placeOrderRequest struct {
	CustomerId string `json:"customer_id"`
	AddressId  string `json:"address_id"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var request placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if request.CustomerId == "" || request.AddressId == "" {
		s.sendError(w, http.StatusBadRequest, "customer_id and address_id are required")
		return
	}

	order, err := s.checkout.PlaceOrder(request.CustomerId, request.AddressId)
	if err != nil {
		var stockErr *models.StockError
		switch {
		case errors.Is(err, models.ErrEmptyCart), errors.Is(err, models.ErrInvalidQuantity):
			s.sendError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &stockErr):
			s.sendError(w, http.StatusConflict, stockErr.Error())
		default:
			s.logger.Error("place order", err)
			s.sendError(w, http.StatusInternalServerError, "order creation failed")
		}
		return
	}

	s.sendJson(w, http.StatusCreated, map[string]interface{}{
		"order_id":   order.Id,
		"amount_due": order.Amount,
		"currency":   order.Currency,
	})
}

type requestPaymentRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

func (s *Server) handleRequestPayment(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	orderId := params.ByName("id")
	var request requestPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	intent, err := s.checkout.RequestPayment(r.Context(), orderId, request.Amount, request.Currency)
	if err != nil {
		var fieldErr *emvqr.FieldError
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			s.sendError(w, http.StatusNotFound, "order not found")
		case errors.As(err, &fieldErr), errors.Is(err, emvqr.ErrAmountRequired):
			s.sendError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.Error(fmt.Sprintf("request payment for order %s", orderId), err)
			s.sendError(w, http.StatusInternalServerError, "payment request failed")
		}
		return
	}

	s.sendJson(w, http.StatusOK, intent)
}

func (s *Server) handlePollStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	fingerprint := params.ByName("fingerprint")
	orderId := r.URL.Query().Get("order")
	if orderId == "" {
		s.sendError(w, http.StatusBadRequest, "order query parameter is required")
		return
	}

	status, err := s.checkout.PollStatus(r.Context(), fingerprint, orderId)
	if err != nil {
		var apiErr *settlement.ApiError
		switch {
		case errors.Is(err, models.ErrPaymentMismatch):
			s.sendError(w, http.StatusConflict, err.Error())
		case errors.Is(err, mongo.ErrNoDocuments):
			s.sendError(w, http.StatusNotFound, "payment not found")
		case errors.As(err, &apiErr) && apiErr.Kind == settlement.KindInvalidCredential:
			s.logger.Error("poll status", err)
			s.sendError(w, http.StatusBadGateway, "settlement provider rejected credentials")
		default:
			s.logger.Warn(fmt.Sprintf("poll status for %s: %s", fingerprint, err))
			s.sendError(w, http.StatusBadGateway, "settlement provider unavailable")
		}
		return
	}

	s.sendJson(w, http.StatusOK, map[string]interface{}{"status": status})
}

func (s *Server) handleRestartPayment(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	fingerprint := params.ByName("fingerprint")
	if !s.checkout.RestartPayment(fingerprint) {
		s.sendError(w, http.StatusNotFound, "no session for fingerprint")
		return
	}
	s.sendJson(w, http.StatusOK, map[string]interface{}{"restarted": true})
}

func (s *Server) handleCancelPayment(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	s.checkout.CancelPayment(params.ByName("fingerprint"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadLog(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if s.database == nil {
		s.sendError(w, http.StatusServiceUnavailable, "database is disabled")
		return
	}
	data, err := s.database.ReadLog()
	if err != nil {
		s.logger.Error("read log", err)
		s.sendError(w, http.StatusInternalServerError, "log read failed")
		return
	}
	s.sendJson(w, http.StatusOK, data)
}

// handleStatusStream upgrades the connection and forwards session state
// transitions until the session reaches a terminal state or the client
// disconnects.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	fingerprint := params.ByName("fingerprint")
	session := s.checkout.Session(fingerprint)
	if session == nil {
		s.sendError(w, http.StatusNotFound, "no session for fingerprint")
		return
	}

	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", err)
		return
	}
	s.logger.Debug(fmt.Sprintf("status stream opened for %s from %s", fingerprint, r.RemoteAddr))

	listener := session.Subscribe()
	go s.streamReader(conn, session, listener)
	go s.streamWriter(conn, listener, fingerprint)
}

// streamReader drains the client side; a close ends the subscription.
func (s *Server) streamReader(conn *websocket.Conn, session *settlement.Session, listener chan settlement.StateEvent) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug(fmt.Sprintf("status stream closed: %s", err))
			}
			session.Unsubscribe(listener)
			_ = conn.Close()
			return
		}
	}
}

func (s *Server) streamWriter(conn *websocket.Conn, listener chan settlement.StateEvent, fingerprint string) {
	for event := range listener {
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("encoding state event", err)
			continue
		}
		if err = conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug(fmt.Sprintf("status stream write for %s: %s", fingerprint, err))
			return
		}
	}
	// session reached a terminal state
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}

func (s *Server) sendJson(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encoding response", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJson(w, status, map[string]interface{}{"error": message})
}
