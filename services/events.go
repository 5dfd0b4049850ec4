package services

import (
	"context"
	"errors"
	"time"

	"table-order/models"

	"go.uber.org/zap"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent is emitted after an order change has been committed.
type OrderEvent struct {
	Type           string    `json:"type"`
	OrderID        int64     `json:"orderId"`
	CustomerID     int64     `json:"customerId"`
	QueueNumber    int64     `json:"queueNumber"`
	TableNumber    int       `json:"tableNumber"`
	TotalPrice     int64     `json:"totalPrice"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	ChangedBy      int64     `json:"changedBy,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func newOrderEvent(typ string, o *models.Order) OrderEvent {
	return OrderEvent{
		Type:        typ,
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		QueueNumber: o.QueueNumber,
		TableNumber: o.TableNumber,
		TotalPrice:  o.TotalPrice,
		Status:      o.Status,
		OccurredAt:  time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
}

// Publishers fans an event out to every publisher and joins their errors.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, ev OrderEvent) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// publish delivers ev best-effort. The order is already committed, so a
// failure is only logged.
func publish(ctx context.Context, pub Publisher, log *zap.Logger, ev OrderEvent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil {
		log.Warn("order event not delivered",
			zap.String("event", ev.Type),
			zap.Int64("order_id", ev.OrderID),
			zap.Error(err))
	}
}
