package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"table-order/models"
)

// MemStore is an in-process Store for local runs (DB_DRIVER=memory) and
// tests. Transactions are serialized by a mutex and work on a copy of the
// state that replaces the live state only when fn succeeds.
type MemStore struct {
	memQueries
	mu  sync.Mutex
	st  *memState
	now func() time.Time
}

func NewMemStore() *MemStore {
	s := &MemStore{st: newMemState(), now: time.Now}
	s.memQueries = memQueries{s: s}
	return s
}

func (s *MemStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(memQueries{s: s, tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *MemStore) Ping(context.Context) error { return nil }

type cartKey struct {
	customerID int64
	menuItemID int64
}

type memCartEntry struct {
	quantity int
	seq      int64
}

type memThrottle struct {
	failCount     int
	cooldownUntil time.Time
}

type pointerKey struct {
	orderID  int64
	audience string
}

type memState struct {
	menu     map[int64]models.MenuItem
	cart     map[cartKey]memCartEntry
	orders   map[int64]models.Order
	history  []models.StatusChange
	users    map[int64]models.User
	throttle map[string]memThrottle
	pointers map[pointerKey]MessagePointer

	lastMenuID  int64
	lastOrderID int64
	lastUserID  int64
	cartSeq     int64
	queue       int64
}

func newMemState() *memState {
	return &memState{
		menu:     map[int64]models.MenuItem{},
		cart:     map[cartKey]memCartEntry{},
		orders:   map[int64]models.Order{},
		users:    map[int64]models.User{},
		throttle: map[string]memThrottle{},
		pointers: map[pointerKey]MessagePointer{},
	}
}

func (st *memState) clone() *memState {
	c := *st
	c.menu = make(map[int64]models.MenuItem, len(st.menu))
	for k, v := range st.menu {
		c.menu[k] = v
	}
	c.cart = make(map[cartKey]memCartEntry, len(st.cart))
	for k, v := range st.cart {
		c.cart[k] = v
	}
	// Lines are never mutated in place, so orders can share them.
	c.orders = make(map[int64]models.Order, len(st.orders))
	for k, v := range st.orders {
		c.orders[k] = v
	}
	c.history = append([]models.StatusChange(nil), st.history...)
	c.users = make(map[int64]models.User, len(st.users))
	for k, v := range st.users {
		c.users[k] = v
	}
	c.throttle = make(map[string]memThrottle, len(st.throttle))
	for k, v := range st.throttle {
		c.throttle[k] = v
	}
	c.pointers = make(map[pointerKey]MessagePointer, len(st.pointers))
	for k, v := range st.pointers {
		c.pointers[k] = v
	}
	return &c
}

// memQueries reads and writes either the transaction's working copy (tx) or,
// under the store mutex, the live state.
type memQueries struct {
	s  *MemStore
	tx *memState
}

func (q memQueries) state() (*memState, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.s.mu.Lock()
	return q.s.st, q.s.mu.Unlock
}

func (q memQueries) GetMenuItem(_ context.Context, id int64) (*models.MenuItem, error) {
	st, done := q.state()
	defer done()
	it, ok := st.menu[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (q memQueries) GetMenuItems(_ context.Context, ids []int64) ([]models.MenuItem, error) {
	st, done := q.state()
	defer done()
	seen := map[int64]bool{}
	items := []models.MenuItem{}
	for _, id := range ids {
		if it, ok := st.menu[id]; ok && !seen[id] {
			items = append(items, it)
		}
		seen[id] = true
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (q memQueries) ListMenu(context.Context) ([]models.MenuItem, error) {
	st, done := q.state()
	defer done()
	items := make([]models.MenuItem, 0, len(st.menu))
	for _, it := range st.menu {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Category != items[j].Category {
			return items[i].Category < items[j].Category
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (q memQueries) CreateMenuItem(_ context.Context, item *models.MenuItem) error {
	st, done := q.state()
	defer done()
	st.lastMenuID++
	item.ID = st.lastMenuID
	st.menu[item.ID] = *item
	return nil
}

func (q memQueries) UpdateMenuItem(_ context.Context, item *models.MenuItem) (bool, error) {
	st, done := q.state()
	defer done()
	if _, ok := st.menu[item.ID]; !ok {
		return false, nil
	}
	st.menu[item.ID] = *item
	return true, nil
}

func (q memQueries) DeleteMenuItem(_ context.Context, id int64) (bool, error) {
	st, done := q.state()
	defer done()
	if _, ok := st.menu[id]; !ok {
		return false, nil
	}
	delete(st.menu, id)
	return true, nil
}

func (q memQueries) CountMenu(context.Context) (int64, error) {
	st, done := q.state()
	defer done()
	return int64(len(st.menu)), nil
}

func (q memQueries) UpsertCartEntry(_ context.Context, e models.CartEntry) error {
	st, done := q.state()
	defer done()
	k := cartKey{e.CustomerID, e.MenuItemID}
	ce, ok := st.cart[k]
	if !ok {
		st.cartSeq++
		ce.seq = st.cartSeq
	}
	ce.quantity = e.Quantity
	st.cart[k] = ce
	return nil
}

func (st *memState) cartOf(customerID int64) []models.CartEntry {
	type seqEntry struct {
		models.CartEntry
		seq int64
	}
	var found []seqEntry
	for k, v := range st.cart {
		if k.customerID == customerID {
			found = append(found, seqEntry{models.CartEntry{CustomerID: k.customerID, MenuItemID: k.menuItemID, Quantity: v.quantity}, v.seq})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })
	entries := make([]models.CartEntry, len(found))
	for i, f := range found {
		entries[i] = f.CartEntry
	}
	return entries
}

func (q memQueries) ListCartEntries(_ context.Context, customerID int64) ([]models.CartEntry, error) {
	st, done := q.state()
	defer done()
	return st.cartOf(customerID), nil
}

func (q memQueries) DeleteCartEntry(_ context.Context, customerID, menuItemID int64) (bool, error) {
	st, done := q.state()
	defer done()
	k := cartKey{customerID, menuItemID}
	if _, ok := st.cart[k]; !ok {
		return false, nil
	}
	delete(st.cart, k)
	return true, nil
}

func (q memQueries) DrainCart(_ context.Context, customerID int64) ([]models.CartEntry, error) {
	st, done := q.state()
	defer done()
	entries := st.cartOf(customerID)
	for _, e := range entries {
		delete(st.cart, cartKey{customerID, e.MenuItemID})
	}
	return entries, nil
}

func (q memQueries) NextQueueNumber(context.Context) (int64, error) {
	st, done := q.state()
	defer done()
	st.queue++
	return st.queue, nil
}

func (st *memState) displayName(userID int64) string {
	u, ok := st.users[userID]
	if !ok {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

func (q memQueries) CreateOrder(_ context.Context, o *models.Order) error {
	st, done := q.state()
	defer done()
	for _, existing := range st.orders {
		if existing.QueueNumber == o.QueueNumber {
			return fmt.Errorf("queue number %d already used by order %d", o.QueueNumber, existing.ID)
		}
	}
	st.lastOrderID++
	o.ID = st.lastOrderID
	o.CreatedAt = q.s.now().UTC()
	o.UpdatedAt = o.CreatedAt
	o.CustomerName = st.displayName(o.CustomerID)
	stored := *o
	stored.Lines = append([]models.OrderLine(nil), o.Lines...)
	st.orders[o.ID] = stored
	return nil
}

func copyOrder(o models.Order) models.Order {
	o.Lines = append([]models.OrderLine(nil), o.Lines...)
	return o
}

func (q memQueries) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	st, done := q.state()
	defer done()
	o, ok := st.orders[id]
	if !ok {
		return nil, nil
	}
	o = copyOrder(o)
	return &o, nil
}

func (q memQueries) listOrders(keep func(models.Order) bool) []models.Order {
	st, done := q.state()
	defer done()
	orders := []models.Order{}
	for _, o := range st.orders {
		if keep(o) {
			orders = append(orders, copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].QueueNumber < orders[j].QueueNumber })
	return orders
}

func (q memQueries) ListOrders(context.Context) ([]models.Order, error) {
	return q.listOrders(func(models.Order) bool { return true }), nil
}

func (q memQueries) ListOrdersByCustomer(_ context.Context, customerID int64) ([]models.Order, error) {
	return q.listOrders(func(o models.Order) bool { return o.CustomerID == customerID }), nil
}

func (q memQueries) CountOrders(context.Context) (int64, error) {
	st, done := q.state()
	defer done()
	return int64(len(st.orders)), nil
}

func (q memQueries) UpdateOrderStatus(_ context.Context, id int64, status string) (string, bool, error) {
	st, done := q.state()
	defer done()
	o, ok := st.orders[id]
	if !ok {
		return "", false, nil
	}
	prev := o.Status
	o.Status = status
	o.UpdatedAt = q.s.now().UTC()
	st.orders[id] = o
	return prev, true, nil
}

func (q memQueries) AddStatusChange(_ context.Context, c models.StatusChange) error {
	st, done := q.state()
	defer done()
	c.ChangedAt = q.s.now().UTC()
	st.history = append(st.history, c)
	return nil
}

func (q memQueries) ListStatusChanges(_ context.Context, orderID int64) ([]models.StatusChange, error) {
	st, done := q.state()
	defer done()
	changes := []models.StatusChange{}
	for _, c := range st.history {
		if c.OrderID == orderID {
			changes = append(changes, c)
		}
	}
	return changes, nil
}

func (q memQueries) CreateUser(_ context.Context, u *models.User) error {
	st, done := q.state()
	defer done()
	for _, existing := range st.users {
		if existing.Username == u.Username {
			return &ConflictError{Message: fmt.Sprintf("username %q is already taken", u.Username)}
		}
		if u.TelegramID != nil && existing.TelegramID != nil && *existing.TelegramID == *u.TelegramID {
			return &ConflictError{Message: "telegram account already linked"}
		}
	}
	st.lastUserID++
	u.ID = st.lastUserID
	u.CreatedAt = q.s.now().UTC()
	st.users[u.ID] = *u
	return nil
}

func (q memQueries) findUser(match func(models.User) bool) *models.User {
	st, done := q.state()
	defer done()
	for _, u := range st.users {
		if match(u) {
			return &u
		}
	}
	return nil
}

func (q memQueries) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	return q.findUser(func(u models.User) bool { return u.ID == id }), nil
}

func (q memQueries) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	return q.findUser(func(u models.User) bool { return u.Username == username }), nil
}

func (q memQueries) GetUserByTelegramID(_ context.Context, tgUserID int64) (*models.User, error) {
	return q.findUser(func(u models.User) bool { return u.TelegramID != nil && *u.TelegramID == tgUserID }), nil
}

func (q memQueries) LoginCooldownUntil(_ context.Context, key string) (time.Time, error) {
	st, done := q.state()
	defer done()
	return st.throttle[key].cooldownUntil, nil
}

func (q memQueries) RecordLoginFailed(_ context.Context, key string) error {
	st, done := q.state()
	defer done()
	t := st.throttle[key]
	t.failCount++
	t.cooldownUntil = q.s.now().Add(time.Duration(CooldownSecondsForFailCount(t.failCount)) * time.Second)
	st.throttle[key] = t
	return nil
}

func (q memQueries) RecordLoginSuccess(_ context.Context, key string) error {
	st, done := q.state()
	defer done()
	delete(st.throttle, key)
	return nil
}

func (q memQueries) GetMessagePointer(_ context.Context, orderID int64, audience string) (*MessagePointer, error) {
	st, done := q.state()
	defer done()
	mp, ok := st.pointers[pointerKey{orderID, audience}]
	if !ok {
		return nil, nil
	}
	return &mp, nil
}

func (q memQueries) SaveMessagePointer(_ context.Context, mp MessagePointer) error {
	st, done := q.state()
	defer done()
	st.pointers[pointerKey{mp.OrderID, mp.Audience}] = mp
	return nil
}
