package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Payment statuses reported by the gateway.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Checkout is the gateway side of a deposit.
type Checkout struct {
	Reference   string
	CheckoutURL string
	Status      string
}

// Gateway represents the external payment gateway interface.
type Gateway interface {
	// CreateCheckout opens a payment for amount under our reference. Status is
	// StatusSucceeded when the gateway captured the money synchronously.
	CreateCheckout(ctx context.Context, reference string, amount int64) (Checkout, error)
	// PaymentStatus polls the outcome of a previously created checkout.
	PaymentStatus(ctx context.Context, reference string) (string, error)
}

// MockGateway simulates an external payment gateway for local runs and tests.
type MockGateway struct {
	// FailureRate is the probability a checkout ends failed (0.0 to 1.0).
	FailureRate float64
	// Synchronous makes CreateCheckout capture immediately.
	Synchronous bool
	// MaxDelay bounds the simulated network latency.
	MaxDelay time.Duration
	BaseURL  string

	mu       sync.Mutex
	payments map[string]string
	rnd      *rand.Rand
}

// NewMockGateway creates a new MockGateway with default settings.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate: 0.1,
		MaxDelay:    200 * time.Millisecond,
		BaseURL:     "https://pay.example.test/checkout/",
		payments:    map[string]string{},
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *MockGateway) CreateCheckout(ctx context.Context, reference string, amount int64) (Checkout, error) {
	if amount <= 0 {
		return Checkout{}, fmt.Errorf("gateway rejected amount %d", amount)
	}
	if err := g.wait(ctx); err != nil {
		return Checkout{}, err
	}
	status := StatusPending
	if g.Synchronous {
		status = g.settle()
	}
	g.mu.Lock()
	g.payments[reference] = status
	g.mu.Unlock()
	return Checkout{Reference: reference, CheckoutURL: g.BaseURL + reference, Status: status}, nil
}

// PaymentStatus settles a pending mock payment on first poll.
func (g *MockGateway) PaymentStatus(ctx context.Context, reference string) (string, error) {
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.payments[reference]
	if !ok {
		return "", fmt.Errorf("unknown payment reference %q", reference)
	}
	if status == StatusPending {
		status = g.settleLocked()
		g.payments[reference] = status
	}
	return status, nil
}

// SetStatus forces the outcome of a reference.
func (g *MockGateway) SetStatus(reference, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[reference] = status
}

func (g *MockGateway) settle() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settleLocked()
}

func (g *MockGateway) settleLocked() string {
	if g.rnd.Float64() < g.FailureRate {
		return StatusFailed
	}
	return StatusSucceeded
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.MaxDelay <= 0 {
		return nil
	}
	g.mu.Lock()
	delay := time.Duration(g.rnd.Int63n(int64(g.MaxDelay)))
	g.mu.Unlock()
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway call canceled: %w", ctx.Err())
	}
}
