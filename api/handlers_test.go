package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"table-order/auth"
	"table-order/models"
	"table-order/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type envelope struct {
	OK         bool            `json:"ok"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	MissingIDs []int64         `json:"missingIds"`
}

type testServer struct {
	router *gin.Engine
	menu   *services.MenuService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	store := services.NewMemStore()
	d := Deps{
		Store:     store,
		Users:     services.NewUserService(store, log),
		Menu:      services.NewMenuService(store, log),
		Cart:      services.NewCartService(store, log),
		Checkout:  services.NewCheckoutService(store, nil, log, 1),
		Orders:    services.NewOrderService(store, nil, log, 1),
		JWTSecret: testSecret,
		JWTTTL:    time.Hour,
		Log:       log,
	}
	return &testServer{router: NewRouter(d), menu: d.Menu}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	return s.doFrom(t, "", method, path, token, body)
}

// doFrom sends the request from remoteAddr ("" keeps the httptest default).
func (s *testServer) doFrom(t *testing.T, remoteAddr, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, env
}

// customerToken registers and logs in a customer through the API.
func (s *testServer) customerToken(t *testing.T, username string) string {
	t.Helper()
	creds := map[string]string{"username": username, "password": "secret123"}
	if w, env := s.do(t, http.MethodPost, "/auth/register", "", creds); w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, env.Error)
	}
	w, env := s.do(t, http.MethodPost, "/auth/login", "", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, env.Error)
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		t.Fatalf("login data %s: %v", env.Data, err)
	}
	return data.Token
}

func adminToken(t *testing.T) string {
	t.Helper()
	tok, err := auth.GenerateToken(models.Identity{UserID: 999, Username: "admin", Role: models.RoleAdmin}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func (s *testServer) addItem(t *testing.T, name string, price int64, category string) models.MenuItem {
	t.Helper()
	it, err := s.menu.Create(context.Background(), services.MenuItemInput{Name: name, Price: price, Category: category})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return *it
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, env := s.do(t, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || !env.OK {
		t.Errorf("health = %d %+v", w.Code, env)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)
	tok := s.customerToken(t, "alice")

	w, env := s.do(t, http.MethodGet, "/auth/me", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d %s", w.Code, env.Error)
	}
	var me models.Identity
	if err := json.Unmarshal(env.Data, &me); err != nil || me.Username != "alice" || me.Role != models.RoleCustomer {
		t.Errorf("me = %+v, %v", me, err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"duplicate username", http.MethodPost, "/auth/register", "", map[string]string{"username": "alice", "password": "secret123"}, http.StatusConflict},
		{"short password", http.MethodPost, "/auth/register", "", map[string]string{"username": "bob", "password": "123"}, http.StatusBadRequest},
		{"missing fields", http.MethodPost, "/auth/register", "", map[string]string{"username": "bob"}, http.StatusBadRequest},
		{"wrong password", http.MethodPost, "/auth/login", "", map[string]string{"username": "carol", "password": "secret123"}, http.StatusUnauthorized},
		{"no token", http.MethodGet, "/auth/me", "", nil, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/auth/me", "not-a-jwt", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, tt.method, tt.path, tt.token, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d (%s), want %d", w.Code, env.Error, tt.want)
			}
			if env.OK {
				t.Error("ok = true on an error response")
			}
		})
	}
}

func TestLoginThrottled(t *testing.T) {
	s := newTestServer(t)
	s.customerToken(t, "alice")

	s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "wrong-one"})
	w, _ := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "alice", "password": "secret123"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestLoginThrottledPerClient(t *testing.T) {
	s := newTestServer(t)
	s.customerToken(t, "alice")
	wrong := map[string]string{"username": "alice", "password": "wrong-one"}
	right := map[string]string{"username": "alice", "password": "secret123"}

	s.doFrom(t, "203.0.113.9:5000", http.MethodPost, "/auth/login", "", wrong)
	if w, _ := s.doFrom(t, "203.0.113.9:5001", http.MethodPost, "/auth/login", "", right); w.Code != http.StatusTooManyRequests {
		t.Errorf("same client: status = %d, want 429", w.Code)
	}
	if w, env := s.doFrom(t, "198.51.100.4:6000", http.MethodPost, "/auth/login", "", right); w.Code != http.StatusOK {
		t.Errorf("other client: status = %d (%s), want 200", w.Code, env.Error)
	}

	// X-Forwarded-For from an untrusted peer is ignored.
	w := httptest.NewRecorder()
	body, _ := json.Marshal(right)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "192.0.2.200")
	req.RemoteAddr = "203.0.113.9:5002"
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("spoofed forwarded-for: status = %d, want 429", w.Code)
	}
}

func TestListOrdersEmptyIsArray(t *testing.T) {
	s := newTestServer(t)
	tok := s.customerToken(t, "alice")
	for _, tc := range []struct{ path, token string }{
		{"/orders/my", tok},
		{"/orders", adminToken(t)},
	} {
		w, env := s.do(t, http.MethodGet, tc.path, tc.token, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: status = %d", tc.path, w.Code)
		}
		if string(env.Data) != "[]" {
			t.Errorf("GET %s: data = %s, want []", tc.path, env.Data)
		}
	}
}

func TestCartAndCheckout(t *testing.T) {
	s := newTestServer(t)
	burger := s.addItem(t, "Burger", 15000, models.CategoryFood)
	cola := s.addItem(t, "Cola", 20000, models.CategoryDrink)
	tok := s.customerToken(t, "alice")

	for _, req := range []map[string]any{
		{"menuItemId": burger.ID, "quantity": 5},
		{"menuItemId": burger.ID, "quantity": 2},
		{"menuItemId": cola.ID, "quantity": 1},
	} {
		if w, env := s.do(t, http.MethodPost, "/cart/items", tok, req); w.Code != http.StatusOK {
			t.Fatalf("add to cart: %d %s", w.Code, env.Error)
		}
	}

	w, env := s.do(t, http.MethodGet, "/cart", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get cart: %d", w.Code)
	}
	var cart models.Cart
	if err := json.Unmarshal(env.Data, &cart); err != nil {
		t.Fatal(err)
	}
	if len(cart.Lines) != 2 || cart.Total != 50000 {
		t.Errorf("cart = %+v, want 2 lines totalling 50000", cart)
	}

	if w, _ := s.do(t, http.MethodPost, "/cart/items", tok, map[string]any{"menuItemId": cola.ID, "quantity": 0}); w.Code != http.StatusBadRequest {
		t.Errorf("zero quantity: status = %d, want 400", w.Code)
	}
	if w, _ := s.do(t, http.MethodPost, "/cart/checkout", tok, map[string]any{"tableNumber": 0}); w.Code != http.StatusBadRequest {
		t.Errorf("table 0: status = %d, want 400", w.Code)
	}

	w, env = s.do(t, http.MethodPost, "/cart/checkout", tok, map[string]any{"tableNumber": 5})
	if w.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", w.Code, env.Error)
	}
	var order models.Order
	if err := json.Unmarshal(env.Data, &order); err != nil {
		t.Fatal(err)
	}
	if order.TotalPrice != 50000 || order.Status != models.OrderStatusConfirmed || order.PaymentStatus != models.PaymentStatusPaid || order.TableNumber != 5 {
		t.Errorf("order = %+v", order)
	}

	if w, env := s.do(t, http.MethodPost, "/cart/checkout", tok, map[string]any{"tableNumber": 5}); w.Code != http.StatusBadRequest || !strings.Contains(env.Error, "empty") {
		t.Errorf("empty cart checkout: %d %q", w.Code, env.Error)
	}

	w, env = s.do(t, http.MethodGet, "/orders/my", tok, nil)
	var mine []models.Order
	if err := json.Unmarshal(env.Data, &mine); err != nil || w.Code != http.StatusOK || len(mine) != 1 {
		t.Errorf("my orders = %d %s", w.Code, env.Data)
	}
}

func TestCreateOrderFromItems(t *testing.T) {
	s := newTestServer(t)
	soup := s.addItem(t, "Soup", 12000, models.CategoryFood)
	tok := s.customerToken(t, "alice")

	w, env := s.do(t, http.MethodPost, "/orders", tok, map[string]any{"items": []int64{soup.ID, soup.ID}, "tableNumber": 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", w.Code, env.Error)
	}

	w, env = s.do(t, http.MethodPost, "/orders", tok, map[string]any{"items": []int64{soup.ID, 77, 42}, "tableNumber": 3})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing items: status = %d, want 400", w.Code)
	}
	if len(env.MissingIDs) != 2 || env.MissingIDs[0] != 42 || env.MissingIDs[1] != 77 {
		t.Errorf("missingIds = %v, want [42 77]", env.MissingIDs)
	}
}

func TestRoleChecks(t *testing.T) {
	s := newTestServer(t)
	s.addItem(t, "Soup", 12000, models.CategoryFood)
	cust := s.customerToken(t, "alice")
	admin := adminToken(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"customer lists all orders", http.MethodGet, "/orders", cust, nil, http.StatusForbidden},
		{"customer counts orders", http.MethodGet, "/orders/count", cust, nil, http.StatusForbidden},
		{"customer changes status", http.MethodPut, "/orders/1/status", cust, map[string]string{"status": "DELIVERED"}, http.StatusForbidden},
		{"customer creates menu item", http.MethodPost, "/menu", cust, map[string]any{"name": "X", "price": 1, "category": "food"}, http.StatusForbidden},
		{"admin uses the cart", http.MethodGet, "/cart", admin, nil, http.StatusForbidden},
		{"admin lists orders", http.MethodGet, "/orders", admin, nil, http.StatusOK},
		{"admin creates menu item", http.MethodPost, "/menu", admin, map[string]any{"name": "Tea", "price": 5000, "category": "drink"}, http.StatusCreated},
		{"public menu", http.MethodGet, "/menu", "", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, tt.method, tt.path, tt.token, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d (%s), want %d", w.Code, env.Error, tt.want)
			}
		})
	}
}

func TestOrderVisibility(t *testing.T) {
	s := newTestServer(t)
	soup := s.addItem(t, "Soup", 12000, models.CategoryFood)
	alice := s.customerToken(t, "alice")
	bob := s.customerToken(t, "bob")

	_, env := s.do(t, http.MethodPost, "/orders", alice, map[string]any{"items": []int64{soup.ID}, "tableNumber": 1})
	var order models.Order
	if err := json.Unmarshal(env.Data, &order); err != nil {
		t.Fatal(err)
	}
	path := "/orders/" + itoa(int(order.ID))

	if w, _ := s.do(t, http.MethodGet, path, alice, nil); w.Code != http.StatusOK {
		t.Errorf("owner: status = %d, want 200", w.Code)
	}
	if w, _ := s.do(t, http.MethodGet, path, bob, nil); w.Code != http.StatusNotFound {
		t.Errorf("other customer: status = %d, want 404", w.Code)
	}
	if w, _ := s.do(t, http.MethodGet, path, adminToken(t), nil); w.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", w.Code)
	}
}

func TestUpdateStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	soup := s.addItem(t, "Soup", 12000, models.CategoryFood)
	cust := s.customerToken(t, "alice")
	admin := adminToken(t)

	_, env := s.do(t, http.MethodPost, "/orders", cust, map[string]any{"items": []int64{soup.ID}, "tableNumber": 1})
	var order models.Order
	if err := json.Unmarshal(env.Data, &order); err != nil {
		t.Fatal(err)
	}
	path := "/orders/" + itoa(int(order.ID)) + "/status"

	tests := []struct {
		name       string
		body       any
		wantCode   int
		wantStatus string
	}{
		{"json object", map[string]string{"status": "IN_QUEUE"}, http.StatusOK, models.OrderStatusInQueue},
		{"json string", `"in_progress"`, http.StatusOK, models.OrderStatusInProgress},
		{"bare text", "delivered", http.StatusOK, models.OrderStatusDelivered},
		{"backward", map[string]string{"status": "confirmed"}, http.StatusOK, models.OrderStatusConfirmed},
		{"invalid", map[string]string{"status": "BOGUS"}, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, http.MethodPut, path, admin, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d (%s), want %d", w.Code, env.Error, tt.wantCode)
			}
			if tt.wantStatus == "" {
				return
			}
			var o models.Order
			if err := json.Unmarshal(env.Data, &o); err != nil {
				t.Fatal(err)
			}
			if o.Status != tt.wantStatus {
				t.Errorf("order status = %q, want %q", o.Status, tt.wantStatus)
			}
		})
	}

	if w, _ := s.do(t, http.MethodPut, "/orders/9999/status", admin, map[string]string{"status": "IN_QUEUE"}); w.Code != http.StatusNotFound {
		t.Errorf("unknown order: status = %d, want 404", w.Code)
	}

	w, env := s.do(t, http.MethodGet, "/orders/"+itoa(int(order.ID))+"/history", admin, nil)
	var history []models.StatusChange
	if err := json.Unmarshal(env.Data, &history); err != nil || w.Code != http.StatusOK || len(history) != 4 {
		t.Errorf("history = %d %s", w.Code, env.Data)
	}
}
