package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"table-order/models"
	"table-order/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the services the HTTP layer talks to.
type Deps struct {
	Store     services.Store
	Users     *services.UserService
	Menu      *services.MenuService
	Cart      *services.CartService
	Checkout  *services.CheckoutService
	Orders    *services.OrderService
	JWTSecret string
	JWTTTL    time.Duration
	Log       *zap.Logger

	// TrustedProxies may set X-Forwarded-For; with none, the client IP is
	// the peer address.
	TrustedProxies []string
}

type handler struct {
	Deps
}

// NewRouter wires every route. Role checks happen here; the services trust
// the identity they are given.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(d.TrustedProxies); err != nil {
		d.Log.Warn("invalid trusted proxies, trusting none", zap.Strings("proxies", d.TrustedProxies), zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), RequestID(), AccessLog(d.Log))

	h := &handler{d}
	authed := Authenticate(d.JWTSecret)
	adminOnly := RequireRole(models.RoleAdmin)
	customerOnly := RequireRole(models.RoleCustomer)

	r.GET("/health", h.health)

	a := r.Group("/auth")
	a.POST("/register", h.register)
	a.POST("/login", h.login)
	a.GET("/me", authed, h.me)

	m := r.Group("/menu")
	m.GET("", h.listMenu)
	m.GET("/count", authed, adminOnly, h.countMenu)
	m.GET("/:id", h.getMenuItem)
	m.POST("", authed, adminOnly, h.createMenuItem)
	m.PUT("/:id", authed, adminOnly, h.updateMenuItem)
	m.DELETE("/:id", authed, adminOnly, h.deleteMenuItem)

	c := r.Group("/cart", authed, customerOnly)
	c.GET("", h.getCart)
	c.POST("/items", h.upsertCartItem)
	c.DELETE("/items/:menuItemId", h.removeCartItem)
	c.POST("/checkout", h.checkout)

	o := r.Group("/orders", authed)
	o.POST("", customerOnly, h.createOrder)
	o.GET("", adminOnly, h.listOrders)
	o.GET("/my", h.myOrders)
	o.GET("/count", adminOnly, h.countOrders)
	o.GET("/:id", h.getOrder)
	o.GET("/:id/history", h.orderHistory)
	o.PUT("/:id/status", adminOnly, h.updateStatus)

	return r
}

// Server runs the router on an http.Server with graceful shutdown.
type Server struct {
	srv *http.Server
	log *zap.Logger
}

func NewServer(port int, d Deps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: d.Log,
	}
}

// Start blocks until the server stops. A graceful Shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
