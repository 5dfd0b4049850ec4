package api

import (
	"errors"
	"net/http"

	"table-order/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"ok": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": msg})
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
		emptyCart  *services.EmptyCartError
		missing    *services.ItemNotFoundError
		badStatus  *services.InvalidStatusError
		conflict   *services.ConflictError
		race       *services.ConcurrencyConflictError
		throttled  *services.ThrottledError
	)
	switch {
	case errors.As(err, &missing):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error(), "missingIds": missing.IDs})
	case errors.As(err, &validation), errors.As(err, &emptyCart), errors.As(err, &badStatus):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		fail(c, http.StatusConflict, err.Error())
	case errors.As(err, &race):
		fail(c, http.StatusConflict, "the request raced with another one, please retry")
	case errors.As(err, &throttled):
		c.Header("Retry-After", itoa(int(throttled.Wait.Seconds())))
		fail(c, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, err.Error())
	default:
		log.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		fail(c, http.StatusInternalServerError, "internal error")
	}
}
