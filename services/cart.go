package services

import (
	"context"
	"fmt"

	"table-order/models"

	"go.uber.org/zap"
)

type CartService struct {
	store Store
	log   *zap.Logger
}

func NewCartService(store Store, log *zap.Logger) *CartService {
	return &CartService{store: store, log: log}
}

// Upsert sets the quantity of one item in the customer's cart. A repeated
// call replaces the stored quantity; it does not add to it.
func (s *CartService) Upsert(ctx context.Context, customerID, menuItemID int64, quantity int) error {
	if quantity < 1 {
		return invalid("quantity", "must be at least 1")
	}
	if quantity > MaxQuantity {
		return invalid("quantity", fmt.Sprintf("must be at most %d", MaxQuantity))
	}
	item, err := s.store.GetMenuItem(ctx, menuItemID)
	if err != nil {
		return fmt.Errorf("get menu item: %w", err)
	}
	if item == nil {
		return invalid("menuItemId", fmt.Sprintf("menu item %d does not exist", menuItemID))
	}
	err = s.store.UpsertCartEntry(ctx, models.CartEntry{
		CustomerID: customerID,
		MenuItemID: menuItemID,
		Quantity:   quantity,
	})
	if err != nil {
		return fmt.Errorf("upsert cart entry: %w", err)
	}
	s.log.Debug("cart entry set",
		zap.Int64("customer_id", customerID),
		zap.Int64("menu_item_id", menuItemID),
		zap.Int("quantity", quantity))
	return nil
}

// List returns the cart priced against the current catalog.
func (s *CartService) List(ctx context.Context, customerID int64) (*models.Cart, error) {
	entries, err := s.store.ListCartEntries(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list cart entries: %w", err)
	}
	cart := &models.Cart{CustomerID: customerID, Lines: []models.CartLine{}}
	if len(entries) == 0 {
		return cart, nil
	}

	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.MenuItemID
	}
	items, _, err := lookupItems(ctx, s.store, ids)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		line := models.CartLine{MenuItemID: e.MenuItemID, Quantity: e.Quantity}
		if it, ok := items[e.MenuItemID]; ok {
			line.Name = it.Name
			line.Description = it.Description
			line.Price = it.Price
			line.Category = it.Category
			line.ImageURL = it.ImageURL
			sub, ok := lineSubtotal(it.Price, e.Quantity)
			if !ok {
				return nil, errTotalTooLarge()
			}
			if cart.Total, ok = addMoney(cart.Total, sub); !ok {
				return nil, errTotalTooLarge()
			}
			line.Subtotal = sub
			line.Available = true
		}
		cart.Lines = append(cart.Lines, line)
	}
	return cart, nil
}

func (s *CartService) Remove(ctx context.Context, customerID, menuItemID int64) error {
	ok, err := s.store.DeleteCartEntry(ctx, customerID, menuItemID)
	if err != nil {
		return fmt.Errorf("delete cart entry: %w", err)
	}
	if !ok {
		return &NotFoundError{Resource: "cart item", ID: menuItemID}
	}
	return nil
}

func (p pgQueries) UpsertCartEntry(ctx context.Context, e models.CartEntry) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO cart_items (customer_id, menu_item_id, quantity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (customer_id, menu_item_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			updated_at = now()`,
		e.CustomerID, e.MenuItemID, e.Quantity,
	)
	return err
}

func (p pgQueries) ListCartEntries(ctx context.Context, customerID int64) ([]models.CartEntry, error) {
	return p.cartEntries(ctx, `
		SELECT customer_id, menu_item_id, quantity FROM cart_items
		WHERE customer_id = $1
		ORDER BY id`,
		customerID,
	)
}

func (p pgQueries) DeleteCartEntry(ctx context.Context, customerID, menuItemID int64) (bool, error) {
	tag, err := p.q.Exec(ctx, `DELETE FROM cart_items WHERE customer_id = $1 AND menu_item_id = $2`, customerID, menuItemID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p pgQueries) DrainCart(ctx context.Context, customerID int64) ([]models.CartEntry, error) {
	return p.cartEntries(ctx, `
		WITH drained AS (
			DELETE FROM cart_items WHERE customer_id = $1
			RETURNING id, customer_id, menu_item_id, quantity
		)
		SELECT customer_id, menu_item_id, quantity FROM drained ORDER BY id`,
		customerID,
	)
}

func (p pgQueries) cartEntries(ctx context.Context, sql string, args ...any) ([]models.CartEntry, error) {
	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.CartEntry
	for rows.Next() {
		var e models.CartEntry
		if err := rows.Scan(&e.CustomerID, &e.MenuItemID, &e.Quantity); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
