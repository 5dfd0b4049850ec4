package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"table-order/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// OrderService manages placed orders: status changes and queries.
type OrderService struct {
	store   Store
	events  Publisher
	log     *zap.Logger
	retries int
}

func NewOrderService(store Store, events Publisher, log *zap.Logger, retries int) *OrderService {
	return &OrderService{store: store, events: events, log: log, retries: retries}
}

// NormalizeStatus accepts loosely formatted input such as `"in_queue"` or
// ` Delivered ` and returns the canonical upper-case form.
func NormalizeStatus(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.ToUpper(strings.TrimSpace(s))
}

func ValidStatus(s string) bool {
	for _, st := range models.OrderStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// NextStatus returns the status that normally follows s. Used to suggest the
// next step to staff; UpdateStatus itself accepts any member.
func NextStatus(s string) (string, bool) {
	for i, st := range models.OrderStatuses {
		if st == s && i+1 < len(models.OrderStatuses) {
			return models.OrderStatuses[i+1], true
		}
	}
	return "", false
}

// UpdateStatus overwrites the order's status with any valid status, forward
// or backward, and records the change.
func (s *OrderService) UpdateStatus(ctx context.Context, actor models.Identity, orderID int64, status string) (*models.Order, error) {
	st := NormalizeStatus(status)
	if !ValidStatus(st) {
		return nil, &InvalidStatusError{Status: st}
	}

	var prev string
	err := retryOnConflict(ctx, s.log, "update_status", s.retries, func() error {
		return s.store.InTx(ctx, func(q Queries) error {
			p, found, err := q.UpdateOrderStatus(ctx, orderID, st)
			if err != nil {
				return fmt.Errorf("update order status: %w", err)
			}
			if !found {
				return &NotFoundError{Resource: "order", ID: orderID}
			}
			prev = p
			return q.AddStatusChange(ctx, models.StatusChange{
				OrderID:    orderID,
				FromStatus: p,
				ToStatus:   st,
				ChangedBy:  actor.UserID,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.log.Info("order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", prev),
		zap.String("to", st),
		zap.Int64("changed_by", actor.UserID))

	ev := newOrderEvent(EventOrderStatusChanged, o)
	ev.PreviousStatus = prev
	ev.ChangedBy = actor.UserID
	publish(ctx, s.events, s.log, ev)
	return o, nil
}

func (s *OrderService) Get(ctx context.Context, orderID int64) (*models.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o == nil {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	return o, nil
}

func (s *OrderService) ListAll(ctx context.Context) ([]models.Order, error) {
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) ListByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	orders, err := s.store.ListOrdersByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list customer orders: %w", err)
	}
	return orders, nil
}

func (s *OrderService) Count(ctx context.Context) (int64, error) {
	n, err := s.store.CountOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// History returns the status changes of an order, oldest first.
func (s *OrderService) History(ctx context.Context, orderID int64) ([]models.StatusChange, error) {
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}
	changes, err := s.store.ListStatusChanges(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list status changes: %w", err)
	}
	return changes, nil
}

// retryOnConflict runs fn and repeats it up to retries times while it fails
// with a ConcurrencyConflictError.
func retryOnConflict(ctx context.Context, log *zap.Logger, op string, retries int, fn func() error) error {
	err := fn()
	for attempt := 1; attempt <= retries; attempt++ {
		var conflict *ConcurrencyConflictError
		if !errors.As(err, &conflict) || ctx.Err() != nil {
			return err
		}
		log.Warn("retrying after concurrency conflict",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		err = fn()
	}
	return err
}

func (p pgQueries) NextQueueNumber(ctx context.Context) (int64, error) {
	var n int64
	err := p.q.QueryRow(ctx, `UPDATE queue_counter SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&n)
	return n, err
}

func (p pgQueries) CreateOrder(ctx context.Context, o *models.Order) error {
	err := p.q.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO orders (customer_id, table_number, total_price, payment_status, status, queue_number)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, customer_id, created_at, updated_at
		)
		SELECT ins.id, ins.created_at, ins.updated_at, COALESCE(NULLIF(u.name, ''), u.username, '')
		FROM ins LEFT JOIN users u ON u.id = ins.customer_id`,
		o.CustomerID, o.TableNumber, o.TotalPrice, o.PaymentStatus, o.Status, o.QueueNumber,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt, &o.CustomerName)
	if err != nil {
		return err
	}
	for i, l := range o.Lines {
		_, err := p.q.Exec(ctx, `
			INSERT INTO order_items (order_id, position, menu_item_id, name, description, category, image_url, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			o.ID, i, l.MenuItemID, l.Name, l.Description, l.Category, l.ImageURL, l.Quantity, l.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", l.MenuItemID, err)
		}
	}
	return nil
}

const orderSelect = `
	SELECT o.id, o.customer_id, COALESCE(NULLIF(u.name, ''), u.username, ''), o.table_number,
		o.total_price, o.payment_status, o.status, o.queue_number, o.created_at, o.updated_at
	FROM orders o LEFT JOIN users u ON u.id = o.customer_id`

func (p pgQueries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	orders, err := p.listOrders(ctx, orderSelect+` WHERE o.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (p pgQueries) ListOrders(ctx context.Context) ([]models.Order, error) {
	return p.listOrders(ctx, orderSelect+` ORDER BY o.queue_number`)
}

func (p pgQueries) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	return p.listOrders(ctx, orderSelect+` WHERE o.customer_id = $1 ORDER BY o.queue_number`, customerID)
}

func (p pgQueries) listOrders(ctx context.Context, sql string, args ...any) ([]models.Order, error) {
	rows, err := p.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.CustomerName, &o.TableNumber,
			&o.TotalPrice, &o.PaymentStatus, &o.Status, &o.QueueNumber, &o.CreatedAt, &o.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}
	return orders, p.loadLines(ctx, orders)
}

func (p pgQueries) loadLines(ctx context.Context, orders []models.Order) error {
	ids := make([]int64, len(orders))
	pos := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		pos[o.ID] = i
	}
	rows, err := p.q.Query(ctx, `
		SELECT order_id, menu_item_id, name, description, category, image_url, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID int64
		var l models.OrderLine
		if err := rows.Scan(&orderID, &l.MenuItemID, &l.Name, &l.Description, &l.Category, &l.ImageURL, &l.Quantity, &l.UnitPrice); err != nil {
			return err
		}
		l.Subtotal = l.UnitPrice * int64(l.Quantity)
		o := &orders[pos[orderID]]
		o.Lines = append(o.Lines, l)
	}
	return rows.Err()
}

func (p pgQueries) CountOrders(ctx context.Context) (int64, error) {
	var n int64
	err := p.q.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	return n, err
}

func (p pgQueries) UpdateOrderStatus(ctx context.Context, id int64, status string) (string, bool, error) {
	var prev string
	err := p.q.QueryRow(ctx, `
		UPDATE orders o SET status = $2, updated_at = now()
		FROM (SELECT id, status FROM orders WHERE id = $1 FOR UPDATE) old
		WHERE o.id = old.id
		RETURNING old.status`,
		id, status,
	).Scan(&prev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return prev, true, nil
}

func (p pgQueries) AddStatusChange(ctx context.Context, c models.StatusChange) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, changed_by)
		VALUES ($1, $2, $3, $4)`,
		c.OrderID, c.FromStatus, c.ToStatus, c.ChangedBy,
	)
	return err
}

func (p pgQueries) ListStatusChanges(ctx context.Context, orderID int64) ([]models.StatusChange, error) {
	rows, err := p.q.Query(ctx, `
		SELECT order_id, from_status, to_status, changed_by, changed_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := []models.StatusChange{}
	for rows.Next() {
		var c models.StatusChange
		if err := rows.Scan(&c.OrderID, &c.FromStatus, &c.ToStatus, &c.ChangedBy, &c.ChangedAt); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
