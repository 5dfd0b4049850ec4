package services

import (
	"context"
	"time"

	"table-order/models"
)

const (
	AudienceStaff    = "staff"
	AudienceCustomer = "customer"
)

// MessagePointer locates the chat message that renders an order card for one audience.
type MessagePointer struct {
	OrderID   int64
	Audience  string
	ChatID    int64
	MessageID int
}

// Queries is the persistence surface used by the services. Single-row
// getters return (nil, nil) when the row does not exist.
type Queries interface {
	GetMenuItem(ctx context.Context, id int64) (*models.MenuItem, error)
	GetMenuItems(ctx context.Context, ids []int64) ([]models.MenuItem, error)
	ListMenu(ctx context.Context) ([]models.MenuItem, error)
	CreateMenuItem(ctx context.Context, item *models.MenuItem) error
	UpdateMenuItem(ctx context.Context, item *models.MenuItem) (bool, error)
	DeleteMenuItem(ctx context.Context, id int64) (bool, error)
	CountMenu(ctx context.Context) (int64, error)

	UpsertCartEntry(ctx context.Context, e models.CartEntry) error
	ListCartEntries(ctx context.Context, customerID int64) ([]models.CartEntry, error)
	DeleteCartEntry(ctx context.Context, customerID, menuItemID int64) (bool, error)
	// DrainCart removes and returns every entry of the customer's cart in
	// insertion order.
	DrainCart(ctx context.Context, customerID int64) ([]models.CartEntry, error)

	NextQueueNumber(ctx context.Context) (int64, error)
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID int64) ([]models.Order, error)
	CountOrders(ctx context.Context) (int64, error)
	// UpdateOrderStatus returns the previous status; found is false for an unknown order.
	UpdateOrderStatus(ctx context.Context, id int64, status string) (prev string, found bool, err error)
	AddStatusChange(ctx context.Context, c models.StatusChange) error
	ListStatusChanges(ctx context.Context, orderID int64) ([]models.StatusChange, error)

	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByTelegramID(ctx context.Context, tgUserID int64) (*models.User, error)

	// Throttle keys come from throttleKey.
	LoginCooldownUntil(ctx context.Context, key string) (time.Time, error)
	RecordLoginFailed(ctx context.Context, key string) error
	RecordLoginSuccess(ctx context.Context, key string) error

	GetMessagePointer(ctx context.Context, orderID int64, audience string) (*MessagePointer, error)
	SaveMessagePointer(ctx context.Context, p MessagePointer) error
}

// Store is Queries plus transactions.
type Store interface {
	Queries
	// InTx runs fn inside one serializable transaction. A returned error rolls
	// everything back. Lost races surface as *ConcurrencyConflictError.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}
