package services

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"table-order/models"

	"go.uber.org/zap"
)

func TestCheckout_Scenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.addItem(t, "Burger", 15000, models.CategoryFood)
	b := env.addItem(t, "Cola", 20000, models.CategoryDrink)
	c := env.addCustomer(t, "alice")
	env.setCart(t, c.UserID, a.ID, 2)
	env.setCart(t, c.UserID, b.ID, 1)

	order, err := env.checkout.Checkout(ctx, c.UserID, 5)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if order.TotalPrice != 50000 {
		t.Errorf("total = %d, want 50000", order.TotalPrice)
	}
	if order.Status != models.OrderStatusConfirmed {
		t.Errorf("status = %q, want CONFIRMED", order.Status)
	}
	if order.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("payment status = %q, want PAID", order.PaymentStatus)
	}
	if order.TableNumber != 5 {
		t.Errorf("table = %d, want 5", order.TableNumber)
	}
	if order.QueueNumber != 1 {
		t.Errorf("queue number = %d, want 1", order.QueueNumber)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(order.Lines))
	}

	cart, err := env.cart.List(ctx, c.UserID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cart.Lines) != 0 {
		t.Errorf("cart still has %d lines after checkout", len(cart.Lines))
	}

	stored, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.TotalPrice != 50000 || len(stored.Lines) != 2 {
		t.Errorf("stored order = %+v", stored)
	}
	if got := env.events.types(); !reflect.DeepEqual(got, []string{EventOrderCreated}) {
		t.Errorf("events = %v, want [order.created]", got)
	}
}

func TestCheckout_TotalMatchesLines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.addCustomer(t, "alice")
	prices := []int64{100, 2550, 9999, 40000}
	for i, p := range prices {
		it := env.addItem(t, "item", p, models.CategoryFood)
		env.setCart(t, c.UserID, it.ID, i+1)
	}

	order, err := env.checkout.Checkout(ctx, c.UserID, 3)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	var sum int64
	for _, l := range order.Lines {
		if l.Subtotal != l.UnitPrice*int64(l.Quantity) {
			t.Errorf("line %d: subtotal %d != %d x %d", l.MenuItemID, l.Subtotal, l.UnitPrice, l.Quantity)
		}
		sum += l.Subtotal
	}
	if sum != order.TotalPrice {
		t.Errorf("sum of lines = %d, total = %d", sum, order.TotalPrice)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.addCustomer(t, "alice")

	_, err := env.checkout.Checkout(ctx, c.UserID, 1)
	var empty *EmptyCartError
	if !errors.As(err, &empty) {
		t.Fatalf("err = %v, want EmptyCartError", err)
	}
	n, err := env.orders.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("orders = %d, want 0", n)
	}
	if len(env.events.types()) != 0 {
		t.Errorf("events published for a failed checkout: %v", env.events.types())
	}
}

func TestCheckout_InvalidTable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.addItem(t, "Soup", 12000, models.CategoryFood)
	c := env.addCustomer(t, "alice")
	env.setCart(t, c.UserID, item.ID, 1)

	for _, table := range []int{0, -4} {
		_, err := env.checkout.Checkout(ctx, c.UserID, table)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != "tableNumber" {
			t.Errorf("table %d: err = %v, want tableNumber ValidationError", table, err)
		}
	}
	cart, _ := env.cart.List(ctx, c.UserID)
	if len(cart.Lines) != 1 {
		t.Errorf("cart lines = %d, want the cart untouched", len(cart.Lines))
	}
}

func TestCheckout_DeletedItemLeavesCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	keep := env.addItem(t, "Soup", 12000, models.CategoryFood)
	gone1 := env.addItem(t, "Tea", 5000, models.CategoryDrink)
	gone2 := env.addItem(t, "Cake", 9000, models.CategoryDessert)
	c := env.addCustomer(t, "alice")
	env.setCart(t, c.UserID, gone2.ID, 1)
	env.setCart(t, c.UserID, keep.ID, 2)
	env.setCart(t, c.UserID, gone1.ID, 1)

	for _, id := range []int64{gone2.ID, gone1.ID} {
		if err := env.menu.Delete(ctx, id); err != nil {
			t.Fatalf("Delete %d: %v", id, err)
		}
	}

	_, err := env.checkout.Checkout(ctx, c.UserID, 2)
	var missing *ItemNotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want ItemNotFoundError", err)
	}
	if want := []int64{gone1.ID, gone2.ID}; !reflect.DeepEqual(missing.IDs, want) {
		t.Errorf("missing ids = %v, want %v", missing.IDs, want)
	}

	cart, err := env.cart.List(ctx, c.UserID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cart.Lines) != 3 {
		t.Errorf("cart lines = %d, want 3 (rolled back)", len(cart.Lines))
	}
	if n, _ := env.orders.Count(ctx); n != 0 {
		t.Errorf("orders = %d, want 0", n)
	}
}

func TestCheckout_SnapshotSurvivesCatalogChanges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.addItem(t, "Soup", 12000, models.CategoryFood)
	c := env.addCustomer(t, "alice")
	env.setCart(t, c.UserID, item.ID, 2)

	order, err := env.checkout.Checkout(ctx, c.UserID, 4)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := env.menu.Update(ctx, item.ID, MenuItemInput{Name: "Soup XL", Price: 99000, Category: models.CategoryFood}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := env.menu.Delete(ctx, item.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	stored, err := env.orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	l := stored.Lines[0]
	if l.Name != "Soup" || l.UnitPrice != 12000 || l.Subtotal != 24000 {
		t.Errorf("line = %+v, want the checkout-time snapshot", l)
	}
	if stored.TotalPrice != 24000 {
		t.Errorf("total = %d, want 24000", stored.TotalPrice)
	}
}

func TestCheckout_ConcurrentQueueNumbersUnique(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.addItem(t, "Soup", 12000, models.CategoryFood)

	const n = 20
	customers := make([]models.Identity, n)
	for i := range customers {
		customers[i] = env.addCustomer(t, "guest_"+string(rune('a'+i)))
		env.setCart(t, customers[i].UserID, item.ID, 1)
	}

	var wg sync.WaitGroup
	queue := make(chan int64, n)
	errs := make(chan error, n)
	for _, c := range customers {
		wg.Add(1)
		go func(customerID int64) {
			defer wg.Done()
			o, err := env.checkout.Checkout(ctx, customerID, 1)
			if err != nil {
				errs <- err
				return
			}
			queue <- o.QueueNumber
		}(c.UserID)
	}
	wg.Wait()
	close(queue)
	close(errs)

	for err := range errs {
		t.Errorf("Checkout: %v", err)
	}
	seen := map[int64]bool{}
	for q := range queue {
		if seen[q] {
			t.Errorf("queue number %d handed out twice", q)
		}
		seen[q] = true
	}
	if len(seen) != n {
		t.Errorf("distinct queue numbers = %d, want %d", len(seen), n)
	}
}

func TestCheckout_DoubleSubmitPlacesOneOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.addItem(t, "Soup", 12000, models.CategoryFood)
	c := env.addCustomer(t, "alice")
	env.setCart(t, c.UserID, item.ID, 1)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.checkout.Checkout(ctx, c.UserID, 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, empty int
	for err := range results {
		var e *EmptyCartError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &e):
			empty++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || empty != 1 {
		t.Errorf("ok = %d, empty = %d, want one of each", ok, empty)
	}
}

func TestCheckoutItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	soup := env.addItem(t, "Soup", 12000, models.CategoryFood)
	tea := env.addItem(t, "Tea", 5000, models.CategoryDrink)
	c := env.addCustomer(t, "alice")
	env.setCart(t, c.UserID, tea.ID, 4)

	order, err := env.checkout.CheckoutItems(ctx, c.UserID, []int64{soup.ID, tea.ID, soup.ID}, 7)
	if err != nil {
		t.Fatalf("CheckoutItems: %v", err)
	}
	if order.TotalPrice != 29000 {
		t.Errorf("total = %d, want 29000", order.TotalPrice)
	}
	if len(order.Lines) != 2 || order.Lines[0].MenuItemID != soup.ID || order.Lines[0].Quantity != 2 {
		t.Errorf("lines = %+v, want soup x2 first", order.Lines)
	}
	cart, _ := env.cart.List(ctx, c.UserID)
	if len(cart.Lines) != 1 {
		t.Errorf("cart lines = %d, want the cart untouched", len(cart.Lines))
	}
}

func TestCheckoutItems_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	soup := env.addItem(t, "Soup", 12000, models.CategoryFood)
	c := env.addCustomer(t, "alice")

	_, err := env.checkout.CheckoutItems(ctx, c.UserID, nil, 1)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "items" {
		t.Errorf("empty list: err = %v, want items ValidationError", err)
	}

	_, err = env.checkout.CheckoutItems(ctx, c.UserID, []int64{9, soup.ID, 3, 9}, 1)
	var missing *ItemNotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want ItemNotFoundError", err)
	}
	if want := []int64{3, 9}; !reflect.DeepEqual(missing.IDs, want) {
		t.Errorf("missing = %v, want %v", missing.IDs, want)
	}
	if n, _ := env.orders.Count(ctx); n != 0 {
		t.Errorf("orders = %d, want 0", n)
	}
}

// conflictStore fails the first failures transactions with a conflict.
type conflictStore struct {
	*MemStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *conflictStore) InTx(ctx context.Context, fn func(Queries) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return &ConcurrencyConflictError{Err: errors.New("could not serialize access")}
	}
	return s.MemStore.InTx(ctx, fn)
}

func TestCheckout_RetriesConcurrencyConflict(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		retries  int
		wantErr  bool
	}{
		{"no conflict", 0, 1, false},
		{"one conflict retried", 1, 1, false},
		{"conflicts exhaust retries", 2, 1, true},
		{"retries disabled", 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			item := env.addItem(t, "Soup", 12000, models.CategoryFood)
			c := env.addCustomer(t, "alice")
			env.setCart(t, c.UserID, item.ID, 1)

			store := &conflictStore{MemStore: env.store, failures: tt.failures}
			svc := NewCheckoutService(store, nil, zap.NewNop(), tt.retries)
			_, err := svc.Checkout(ctx, c.UserID, 1)

			var conflict *ConcurrencyConflictError
			if tt.wantErr {
				if !errors.As(err, &conflict) {
					t.Fatalf("err = %v, want ConcurrencyConflictError", err)
				}
				cart, _ := env.cart.List(ctx, c.UserID)
				if len(cart.Lines) != 1 {
					t.Errorf("cart lines = %d, want 1 after failed checkout", len(cart.Lines))
				}
				return
			}
			if err != nil {
				t.Fatalf("Checkout: %v", err)
			}
		})
	}
}

func TestCollapseItemIDs(t *testing.T) {
	got, err := collapseItemIDs(7, []int64{3, 5, 3, 3, 1})
	if err != nil {
		t.Fatalf("collapseItemIDs: %v", err)
	}
	want := []models.CartEntry{
		{CustomerID: 7, MenuItemID: 3, Quantity: 3},
		{CustomerID: 7, MenuItemID: 5, Quantity: 1},
		{CustomerID: 7, MenuItemID: 1, Quantity: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("collapseItemIDs = %+v, want %+v", got, want)
	}
}

func TestCollapseItemIDs_TooManyRepeats(t *testing.T) {
	ids := make([]int64, MaxQuantity+1)
	for i := range ids {
		ids[i] = 3
	}
	_, err := collapseItemIDs(7, ids)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "items" {
		t.Errorf("err = %v, want items ValidationError", err)
	}
	if _, err := collapseItemIDs(7, ids[:MaxQuantity]); err != nil {
		t.Errorf("%d repeats: %v", MaxQuantity, err)
	}
}

func TestCheckout_TableNumberBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.addCustomer(t, "alice")
	soup := env.addItem(t, "Soup", 100, "food")
	env.setCart(t, c.UserID, soup.ID, 1)

	var verr *ValidationError
	if _, err := env.checkout.Checkout(ctx, c.UserID, MaxTableNumber+1); !errors.As(err, &verr) || verr.Field != "tableNumber" {
		t.Errorf("Checkout err = %v, want tableNumber ValidationError", err)
	}
	if _, err := env.checkout.CheckoutItems(ctx, c.UserID, []int64{soup.ID}, 1<<40); !errors.As(err, &verr) || verr.Field != "tableNumber" {
		t.Errorf("CheckoutItems err = %v, want tableNumber ValidationError", err)
	}
	o, err := env.checkout.Checkout(ctx, c.UserID, MaxTableNumber)
	if err != nil {
		t.Fatalf("Checkout at table %d: %v", MaxTableNumber, err)
	}
	if o.TableNumber != MaxTableNumber {
		t.Errorf("table = %d, want %d", o.TableNumber, MaxTableNumber)
	}
}

func TestCheckout_TotalOverflowRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.addCustomer(t, "alice")
	gold := env.addItem(t, "Gold plate", math.MaxInt64/2, "food")
	env.setCart(t, c.UserID, gold.ID, 3)

	if _, err := env.cart.List(ctx, c.UserID); err == nil {
		t.Error("List: want an error for an unrepresentable total")
	}
	_, err := env.checkout.Checkout(ctx, c.UserID, 1)
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "total" {
		t.Fatalf("Checkout err = %v, want total ValidationError", err)
	}
	if n, _ := env.orders.Count(ctx); n != 0 {
		t.Errorf("orders = %d, want none", n)
	}
	if entries, _ := env.store.ListCartEntries(ctx, c.UserID); len(entries) != 1 {
		t.Errorf("cart entries = %d, want the cart kept", len(entries))
	}
}
