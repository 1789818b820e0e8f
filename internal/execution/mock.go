package execution

import (
	"context"
	"log/slog"
	"sync"

	"cross_arb/internal/domain"
)

// ResendRequest is a recorded SendResendRequest call.
type ResendRequest struct {
	Begin, End uint64
}

// MockSession records everything sent through it and never talks to a venue.
// It serves as both an execution and a market data session.
type MockSession struct {
	mu       sync.Mutex
	loggedOn bool
	failWith error

	orders  []domain.Order
	cancels []domain.Order
	resends []ResendRequest
	subs    map[domain.Instrument]bool
}

// NewMockSession creates a logged-on mock.
func NewMockSession() *MockSession {
	return &MockSession{loggedOn: true, subs: make(map[domain.Instrument]bool)}
}

func (m *MockSession) LoggedOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedOn
}

func (m *MockSession) Start(ctx context.Context) error {
	m.SetLoggedOn(true)
	return nil
}

func (m *MockSession) Stop() { m.SetLoggedOn(false) }

// SetLoggedOn toggles the session state.
func (m *MockSession) SetLoggedOn(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggedOn = on
}

// FailWith makes every subsequent send return err. nil restores success.
func (m *MockSession) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MockSession) check() error {
	if !m.loggedOn {
		return ErrNoSession
	}
	return m.failWith
}

func (m *MockSession) SendNewOrder(ctx context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.orders = append(m.orders, o)
	slog.Info("MOCK EXECUTION: New Order", slog.String("order", o.String()))
	return nil
}

func (m *MockSession) SendCancel(ctx context.Context, o domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.cancels = append(m.cancels, o)
	slog.Info("MOCK EXECUTION: Cancel Order", slog.String("order", o.String()))
	return nil
}

func (m *MockSession) SendResendRequest(ctx context.Context, begin, end uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.resends = append(m.resends, ResendRequest{Begin: begin, End: end})
	return nil
}

func (m *MockSession) Subscribe(inst domain.Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedOn {
		return ErrNoSession
	}
	m.subs[inst] = true
	return nil
}

func (m *MockSession) Unsubscribe(inst domain.Instrument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedOn {
		return ErrNoSession
	}
	delete(m.subs, inst)
	return nil
}

// Orders returns the orders sent so far.
func (m *MockSession) Orders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Order(nil), m.orders...)
}

// Cancels returns the cancel requests sent so far.
func (m *MockSession) Cancels() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Order(nil), m.cancels...)
}

// Resends returns the resend requests sent so far.
func (m *MockSession) Resends() []ResendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ResendRequest(nil), m.resends...)
}

// Subscribed reports whether inst is subscribed.
func (m *MockSession) Subscribed(inst domain.Instrument) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[inst]
}
