package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"table-order/auth"
	"table-order/services"

	"github.com/gin-gonic/gin"
)

func (h *handler) health(c *gin.Context) {
	if err := h.Store.Ping(c.Request.Context()); err != nil {
		fail(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	ok(c, gin.H{"status": "up"})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, name+": must be a positive integer")
		return 0, false
	}
	return id, true
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// auth

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

func (h *handler) register(c *gin.Context) {
	var req credentials
	if !bind(c, &req) {
		return
	}
	id, err := h.Users.Register(c.Request.Context(), req.Username, req.Password, req.Name)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	created(c, id)
}

func (h *handler) login(c *gin.Context) {
	var req credentials
	if !bind(c, &req) {
		return
	}
	id, err := h.Users.Authenticate(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	token, err := auth.GenerateToken(id, h.JWTSecret, h.JWTTTL)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, gin.H{"token": token, "user": id})
}

func (h *handler) me(c *gin.Context) {
	id, err := h.Users.Get(c.Request.Context(), identity(c).UserID)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, id)
}

// menu

func (h *handler) listMenu(c *gin.Context) {
	items, err := h.Menu.List(c.Request.Context())
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, items)
}

func (h *handler) getMenuItem(c *gin.Context) {
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	item, err := h.Menu.FindByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, item)
}

func (h *handler) countMenu(c *gin.Context) {
	n, err := h.Menu.Count(c.Request.Context())
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, gin.H{"count": n})
}

func (h *handler) createMenuItem(c *gin.Context) {
	var in services.MenuItemInput
	if !bind(c, &in) {
		return
	}
	item, err := h.Menu.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	created(c, item)
}

func (h *handler) updateMenuItem(c *gin.Context) {
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	var in services.MenuItemInput
	if !bind(c, &in) {
		return
	}
	item, err := h.Menu.Update(c.Request.Context(), id, in)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, item)
}

func (h *handler) deleteMenuItem(c *gin.Context) {
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	if err := h.Menu.Delete(c.Request.Context(), id); err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, gin.H{"deleted": id})
}

// cart

type cartItemRequest struct {
	MenuItemID int64 `json:"menuItemId" binding:"required"`
	Quantity   int   `json:"quantity"`
}

type tableRequest struct {
	TableNumber int `json:"tableNumber"`
}

func (h *handler) getCart(c *gin.Context) {
	cart, err := h.Cart.List(c.Request.Context(), identity(c).UserID)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, cart)
}

func (h *handler) upsertCartItem(c *gin.Context) {
	var req cartItemRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	customerID := identity(c).UserID
	if err := h.Cart.Upsert(ctx, customerID, req.MenuItemID, req.Quantity); err != nil {
		writeError(c, h.Log, err)
		return
	}
	cart, err := h.Cart.List(ctx, customerID)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, cart)
}

func (h *handler) removeCartItem(c *gin.Context) {
	menuItemID, valid := paramID(c, "menuItemId")
	if !valid {
		return
	}
	if err := h.Cart.Remove(c.Request.Context(), identity(c).UserID, menuItemID); err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, gin.H{"removed": menuItemID})
}

func (h *handler) checkout(c *gin.Context) {
	var req tableRequest
	if !bind(c, &req) {
		return
	}
	order, err := h.Checkout.Checkout(c.Request.Context(), identity(c).UserID, req.TableNumber)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	created(c, order)
}

// orders

type createOrderRequest struct {
	Items       []int64 `json:"items"`
	TableNumber int     `json:"tableNumber"`
}

func (h *handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if !bind(c, &req) {
		return
	}
	order, err := h.Checkout.CheckoutItems(c.Request.Context(), identity(c).UserID, req.Items, req.TableNumber)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	created(c, order)
}

func (h *handler) listOrders(c *gin.Context) {
	orders, err := h.Orders.ListAll(c.Request.Context())
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, orders)
}

func (h *handler) myOrders(c *gin.Context) {
	orders, err := h.Orders.ListByCustomer(c.Request.Context(), identity(c).UserID)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, orders)
}

func (h *handler) countOrders(c *gin.Context) {
	n, err := h.Orders.Count(c.Request.Context())
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, gin.H{"count": n})
}

func (h *handler) getOrder(c *gin.Context) {
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	order, err := h.Orders.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	caller := identity(c)
	if !caller.IsAdmin() && order.CustomerID != caller.UserID {
		// Same answer as a missing order so ids cannot be probed.
		writeError(c, h.Log, &services.NotFoundError{Resource: "order", ID: id})
		return
	}
	ok(c, order)
}

func (h *handler) orderHistory(c *gin.Context) {
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	ctx := c.Request.Context()
	order, err := h.Orders.Get(ctx, id)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	caller := identity(c)
	if !caller.IsAdmin() && order.CustomerID != caller.UserID {
		writeError(c, h.Log, &services.NotFoundError{Resource: "order", ID: id})
		return
	}
	changes, err := h.Orders.History(ctx, id)
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, changes)
}

// statusFromBody accepts {"status":"IN_QUEUE"}, a JSON string "IN_QUEUE" or
// the bare text IN_QUEUE.
func statusFromBody(body []byte) string {
	var obj struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && obj.Status != "" {
		return obj.Status
	}
	return strings.TrimSpace(string(body))
}

func (h *handler) updateStatus(c *gin.Context) {
	id, valid := paramID(c, "id")
	if !valid {
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1024))
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable body")
		return
	}
	order, err := h.Orders.UpdateStatus(c.Request.Context(), identity(c), id, statusFromBody(body))
	if err != nil {
		writeError(c, h.Log, err)
		return
	}
	ok(c, order)
}
