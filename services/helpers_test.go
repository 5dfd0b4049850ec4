package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"table-order/models"

	"go.uber.org/zap"
)

// recordingPublisher keeps every event it is given.
type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type testEnv struct {
	store    *MemStore
	events   *recordingPublisher
	users    *UserService
	menu     *MenuService
	cart     *CartService
	checkout *CheckoutService
	orders   *OrderService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()
	store := NewMemStore()
	events := &recordingPublisher{}
	return &testEnv{
		store:    store,
		events:   events,
		users:    NewUserService(store, log),
		menu:     NewMenuService(store, log),
		cart:     NewCartService(store, log),
		checkout: NewCheckoutService(store, events, log, 1),
		orders:   NewOrderService(store, events, log, 1),
	}
}

func (e *testEnv) addItem(t *testing.T, name string, price int64, category string) models.MenuItem {
	t.Helper()
	it, err := e.menu.Create(context.Background(), MenuItemInput{Name: name, Price: price, Category: category})
	if err != nil {
		t.Fatalf("create menu item %q: %v", name, err)
	}
	return *it
}

func (e *testEnv) addCustomer(t *testing.T, username string) models.Identity {
	t.Helper()
	id, err := e.users.Register(context.Background(), username, "secret123", "")
	if err != nil {
		t.Fatalf("register %q: %v", username, err)
	}
	return id
}

func (e *testEnv) setCart(t *testing.T, customerID, itemID int64, qty int) {
	t.Helper()
	if err := e.cart.Upsert(context.Background(), customerID, itemID, qty); err != nil {
		t.Fatalf("cart upsert %d x%d: %v", itemID, qty, err)
	}
}

// fixedClock is a controllable time source for the store and services.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
