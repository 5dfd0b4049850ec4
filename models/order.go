package models

import "time"

const (
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusInQueue    = "IN_QUEUE"
	OrderStatusInProgress = "IN_PROGRESS"
	OrderStatusDelivered  = "DELIVERED"

	PaymentStatusPaid = "PAID"
)

// OrderStatuses lists the lifecycle in display order.
var OrderStatuses = []string{
	OrderStatusConfirmed,
	OrderStatusInQueue,
	OrderStatusInProgress,
	OrderStatusDelivered,
}

// Order is a placed order. Lines and TotalPrice are snapshots taken at
// checkout; only Status and PaymentStatus change afterwards.
type Order struct {
	ID            int64       `json:"orderId"`
	CustomerID    int64       `json:"customerId"`
	CustomerName  string      `json:"customerName"`
	TableNumber   int         `json:"tableNumber"`
	Lines         []OrderLine `json:"items"`
	TotalPrice    int64       `json:"totalPrice"`
	PaymentStatus string      `json:"paymentStatus"`
	Status        string      `json:"status"`
	QueueNumber   int64       `json:"queueNumber"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// OrderLine is a line item with the catalog details copied at checkout.
type OrderLine struct {
	MenuItemID  int64  `json:"menuId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	ImageURL    string `json:"imageUrl"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Subtotal    int64  `json:"price"`
}

// StatusChange is one row of an order's status history.
type StatusChange struct {
	OrderID    int64     `json:"orderId"`
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	ChangedBy  int64     `json:"changedBy"`
	ChangedAt  time.Time `json:"changedAt"`
}
