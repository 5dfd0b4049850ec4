package services

import (
	"context"
	"fmt"

	"table-order/models"

	"go.uber.org/zap"
)

// CheckoutService turns a cart, or an explicit list of menu item ids, into a
// confirmed and paid order.
type CheckoutService struct {
	store   Store
	events  Publisher
	log     *zap.Logger
	retries int
}

// NewCheckoutService returns a checkout engine that retries a lost
// transaction race up to retries times before reporting it.
func NewCheckoutService(store Store, events Publisher, log *zap.Logger, retries int) *CheckoutService {
	if retries < 0 {
		retries = 0
	}
	return &CheckoutService{store: store, events: events, log: log, retries: retries}
}

// Checkout converts the customer's whole cart into an order and empties the
// cart, all in one transaction.
func (s *CheckoutService) Checkout(ctx context.Context, customerID int64, tableNumber int) (*models.Order, error) {
	if err := validateTable(tableNumber); err != nil {
		return nil, err
	}
	var order *models.Order
	err := retryOnConflict(ctx, s.log, "checkout", s.retries, func() error {
		return s.store.InTx(ctx, func(q Queries) error {
			entries, err := q.DrainCart(ctx, customerID)
			if err != nil {
				return fmt.Errorf("drain cart: %w", err)
			}
			if len(entries) == 0 {
				return &EmptyCartError{CustomerID: customerID}
			}
			order, err = placeOrder(ctx, q, customerID, tableNumber, entries)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.placed(ctx, order, "cart")
	return order, nil
}

// CheckoutItems places an order straight from menu item ids. A repeated id
// counts as one more unit of that item. The customer's cart is not touched.
func (s *CheckoutService) CheckoutItems(ctx context.Context, customerID int64, itemIDs []int64, tableNumber int) (*models.Order, error) {
	if err := validateTable(tableNumber); err != nil {
		return nil, err
	}
	if len(itemIDs) == 0 {
		return nil, invalid("items", "must not be empty")
	}
	entries, err := collapseItemIDs(customerID, itemIDs)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	err = retryOnConflict(ctx, s.log, "checkout_items", s.retries, func() error {
		return s.store.InTx(ctx, func(q Queries) error {
			var err error
			order, err = placeOrder(ctx, q, customerID, tableNumber, entries)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.placed(ctx, order, "items")
	return order, nil
}

func (s *CheckoutService) placed(ctx context.Context, o *models.Order, source string) {
	s.log.Info("order placed",
		zap.Int64("order_id", o.ID),
		zap.Int64("customer_id", o.CustomerID),
		zap.Int64("queue_number", o.QueueNumber),
		zap.Int("table_number", o.TableNumber),
		zap.Int64("total_price", o.TotalPrice),
		zap.String("source", source))
	publish(ctx, s.events, s.log, newOrderEvent(EventOrderCreated, o))
}

// placeOrder prices entries at the current catalog, takes the next queue
// number and persists the order. It must run inside a transaction.
func placeOrder(ctx context.Context, q Queries, customerID int64, tableNumber int, entries []models.CartEntry) (*models.Order, error) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.MenuItemID
	}
	items, missing, err := lookupItems(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &ItemNotFoundError{IDs: missing}
	}

	o := &models.Order{
		CustomerID:    customerID,
		TableNumber:   tableNumber,
		PaymentStatus: models.PaymentStatusPaid,
		Status:        models.OrderStatusConfirmed,
	}
	for _, e := range entries {
		it := items[e.MenuItemID]
		sub, ok := lineSubtotal(it.Price, e.Quantity)
		if !ok {
			return nil, errTotalTooLarge()
		}
		if o.TotalPrice, ok = addMoney(o.TotalPrice, sub); !ok {
			return nil, errTotalTooLarge()
		}
		line := models.OrderLine{
			MenuItemID:  it.ID,
			Name:        it.Name,
			Description: it.Description,
			Category:    it.Category,
			ImageURL:    it.ImageURL,
			Quantity:    e.Quantity,
			UnitPrice:   it.Price,
			Subtotal:    sub,
		}
		o.Lines = append(o.Lines, line)
	}

	o.QueueNumber, err = q.NextQueueNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("next queue number: %w", err)
	}
	if err := q.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

// collapseItemIDs turns [3, 5, 3] into entries {3: 2, 5: 1}, keeping first-seen order.
func collapseItemIDs(customerID int64, ids []int64) ([]models.CartEntry, error) {
	idx := make(map[int64]int, len(ids))
	var entries []models.CartEntry
	for _, id := range ids {
		if i, ok := idx[id]; ok {
			if entries[i].Quantity == MaxQuantity {
				return nil, invalid("items", fmt.Sprintf("item %d repeated more than %d times", id, MaxQuantity))
			}
			entries[i].Quantity++
			continue
		}
		idx[id] = len(entries)
		entries = append(entries, models.CartEntry{CustomerID: customerID, MenuItemID: id, Quantity: 1})
	}
	return entries, nil
}

func validateTable(n int) error {
	if n < 1 {
		return invalid("tableNumber", "must be a positive number")
	}
	if n > MaxTableNumber {
		return invalid("tableNumber", fmt.Sprintf("must be at most %d", MaxTableNumber))
	}
	return nil
}
