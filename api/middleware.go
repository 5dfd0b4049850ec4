package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"table-order/auth"
	"table-order/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDKey    = "requestId"
	identityKey     = "identity"
	requestIDHeader = "X-Request-ID"
)

func itoa(n int) string { return strconv.Itoa(n) }

// RequestID tags every request with an id, reusing the caller's X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Authenticate requires a valid bearer token and stores the caller identity.
func Authenticate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		tokenStr, found := strings.CutPrefix(h, "Bearer ")
		if !found || tokenStr == "" {
			fail(c, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		id, err := auth.ParseToken(tokenStr, secret)
		if err != nil {
			fail(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireRole lets the request through only for the listed roles.
// It must run after Authenticate.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identity(c)
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		fail(c, http.StatusForbidden, "forbidden")
	}
}

func identity(c *gin.Context) models.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(models.Identity)
	return id
}
