package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"storepay/internal"
)

type State string

const (
	StateInitiated       State = "Initiated"
	StateAwaitingPayment State = "AwaitingPayment"
	StateCompleted       State = "Completed"
	StateFailed          State = "Failed"
)

type StatusChecker interface {
	CheckStatus(ctx context.Context, fingerprint string) (TransactionStatus, error)
}

// StateEvent is pushed to subscribers on every session transition.
type StateEvent struct {
	OrderId     string `json:"order_id"`
	Fingerprint string `json:"fingerprint"`
	State       State  `json:"state"`
	Attempts    int    `json:"attempts"`
}

// Session polls the settlement provider for one payment until it clears,
// the attempt budget runs out, or the caller cancels. At most one status
// check is in flight at any time; a tick that lands while a check is still
// outstanding is skipped.
type Session struct {
	fingerprint string
	orderId     string
	checker     StatusChecker
	logger      internal.LogHandler
	interval    time.Duration
	maxAttempts int

	mux       sync.Mutex
	state     State
	attempts  int
	inFlight  bool
	cancel    context.CancelFunc
	listeners map[chan StateEvent]struct{}
	onPaid    func(orderId, fingerprint string)
	onFailed  func(orderId, fingerprint string)
}

func NewSession(orderId, fingerprint string, checker StatusChecker, interval time.Duration, maxAttempts int, logger internal.LogHandler) *Session {
	return &Session{
		fingerprint: fingerprint,
		orderId:     orderId,
		checker:     checker,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		state:       StateInitiated,
		listeners:   make(map[chan StateEvent]struct{}),
	}
}

// SetOnPaid registers the finalizer invoked once when the payment clears.
func (s *Session) SetOnPaid(handler func(orderId, fingerprint string)) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.onPaid = handler
}

// SetOnFailed registers the handler invoked when the session turns terminal
// without a settlement, either by exhaustion or a fatal provider error.
func (s *Session) SetOnFailed(handler func(orderId, fingerprint string)) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.onFailed = handler
}

func (s *Session) OrderId() string {
	return s.orderId
}

func (s *Session) State() State {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.state
}

func (s *Session) Attempts() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.attempts
}

// Start begins polling. Restarting a failed session resets the attempt
// counter to zero. Starting an already running or completed session is a
// no-op.
func (s *Session) Start() {
	s.mux.Lock()
	if s.cancel != nil || s.state == StateCompleted {
		s.mux.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.attempts = 0
	s.setStateLocked(StateAwaitingPayment)
	s.mux.Unlock()

	go s.run(ctx)
}

// Stop cancels the session: the ticker is released and no further network
// calls are made. Safe to call on any exit path, including repeatedly.
func (s *Session) Stop() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.beginPoll() {
				continue
			}
			if s.poll(ctx) {
				return
			}
		}
	}
}

// beginPoll takes the in-flight slot; false means skip this tick.
func (s *Session) beginPoll() bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.inFlight || s.state != StateAwaitingPayment {
		return false
	}
	s.inFlight = true
	return true
}

// poll performs one status check and reports whether the session reached a
// terminal state.
func (s *Session) poll(ctx context.Context) bool {
	status, err := s.checker.CheckStatus(ctx, s.fingerprint)

	s.mux.Lock()
	s.inFlight = false
	if s.state != StateAwaitingPayment {
		s.mux.Unlock()
		return true
	}
	s.attempts++

	if err != nil {
		var apiErr *ApiError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			s.logger.Error(fmt.Sprintf("session %s: fatal provider error", s.orderId), err)
			s.failLocked()
			onFailed := s.onFailed
			s.mux.Unlock()
			if onFailed != nil {
				onFailed(s.orderId, s.fingerprint)
			}
			return true
		}
		s.logger.Warn(fmt.Sprintf("session %s: status check failed (attempt %d): %s", s.orderId, s.attempts, err))
	} else if status == StatusPaid {
		s.setStateLocked(StateCompleted)
		s.stopLocked()
		s.closeListenersLocked()
		onPaid := s.onPaid
		s.mux.Unlock()
		if onPaid != nil {
			onPaid(s.orderId, s.fingerprint)
		}
		return true
	}

	if s.attempts >= s.maxAttempts {
		s.logger.Warn(fmt.Sprintf("session %s: attempt budget exhausted after %d polls", s.orderId, s.attempts))
		s.failLocked()
		onFailed := s.onFailed
		s.mux.Unlock()
		if onFailed != nil {
			onFailed(s.orderId, s.fingerprint)
		}
		return true
	}
	s.mux.Unlock()
	return false
}

func (s *Session) failLocked() {
	s.setStateLocked(StateFailed)
	s.stopLocked()
	s.closeListenersLocked()
}

// Subscribe returns a channel receiving state transitions. The channel is
// closed once the session reaches a terminal state.
func (s *Session) Subscribe() chan StateEvent {
	listener := make(chan StateEvent, 4)
	s.mux.Lock()
	defer s.mux.Unlock()
	s.listeners[listener] = struct{}{}
	listener <- s.eventLocked()
	return listener
}

func (s *Session) Unsubscribe(listener chan StateEvent) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.listeners[listener]; ok {
		delete(s.listeners, listener)
		close(listener)
	}
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	event := s.eventLocked()
	for listener := range s.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

func (s *Session) closeListenersLocked() {
	for listener := range s.listeners {
		close(listener)
	}
	s.listeners = make(map[chan StateEvent]struct{})
}

func (s *Session) eventLocked() StateEvent {
	return StateEvent{
		OrderId:     s.orderId,
		Fingerprint: s.fingerprint,
		State:       s.state,
		Attempts:    s.attempts,
	}
}
