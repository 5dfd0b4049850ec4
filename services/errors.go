package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"table-order/models"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// ValidationError is returned for malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

type EmptyCartError struct {
	CustomerID int64
}

func (e *EmptyCartError) Error() string { return "cart is empty" }

// ItemNotFoundError names every requested menu item id that does not exist.
type ItemNotFoundError struct {
	IDs []int64
}

func (e *ItemNotFoundError) Error() string {
	parts := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "menu items not found: " + strings.Join(parts, ", ")
}

type InvalidStatusError struct {
	Status string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %q, allowed: %s", e.Status, strings.Join(models.OrderStatuses, ", "))
}

// ConcurrencyConflictError means a concurrent transaction won a race; the
// whole operation may be retried.
type ConcurrencyConflictError struct {
	Err error
}

func (e *ConcurrencyConflictError) Error() string {
	return "concurrent update conflict: " + e.Err.Error()
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

// ConflictError is a uniqueness clash on user-supplied data, e.g. a taken username.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

type ThrottledError struct {
	Wait time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %ds", int(e.Wait.Seconds()))
}
