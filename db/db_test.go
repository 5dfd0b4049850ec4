package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsSerializationFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"wrapped", fmt.Errorf("insert order: %w", &pgconn.PgError{Code: "40001"}), true},
		{"unique", &pgconn.PgError{Code: "23505"}, false},
	}
	for _, tt := range tests {
		if got := IsSerializationFailure(tt.err); got != tt.want {
			t.Errorf("%s: IsSerializationFailure = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	queueDup := &pgconn.PgError{Code: "23505", ConstraintName: "orders_queue_number_key"}
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"any constraint", queueDup, "", true},
		{"matching constraint", queueDup, "orders_queue_number_key", true},
		{"other constraint", queueDup, "users_username_key", false},
		{"wrapped", fmt.Errorf("x: %w", queueDup), "orders_queue_number_key", true},
		{"not unique", &pgconn.PgError{Code: "23503"}, "", false},
		{"plain", errors.New("23505"), "", false},
	}
	for _, tt := range tests {
		if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
			t.Errorf("%s: IsUniqueViolation = %v, want %v", tt.name, got, tt.want)
		}
	}
}
