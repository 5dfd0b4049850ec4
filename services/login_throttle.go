package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
)

const ThrottleCooldownCapSeconds = 30

// throttleKey scopes failed attempts to one account from one client.
func throttleKey(username, clientIP string) string {
	if clientIP == "" {
		return username
	}
	return username + "@" + clientIP
}

// throttleWait returns how long key must wait before the next attempt (0 if
// no cooldown).
func (s *UserService) throttleWait(ctx context.Context, key string) (time.Duration, error) {
	until, err := s.store.LoginCooldownUntil(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("login throttle: %w", err)
	}
	if until.IsZero() {
		return 0, nil
	}
	if now := s.now(); now.Before(until) {
		// round up to whole seconds
		return (until.Sub(now) + time.Second - 1).Truncate(time.Second), nil
	}
	return 0, nil
}

// CooldownSecondsForFailCount returns min(30, 2^failCount).
func CooldownSecondsForFailCount(failCount int) int {
	s := int(math.Pow(2, float64(failCount)))
	if s > ThrottleCooldownCapSeconds {
		return ThrottleCooldownCapSeconds
	}
	return s
}

func (p pgQueries) LoginCooldownUntil(ctx context.Context, key string) (time.Time, error) {
	var until *time.Time
	err := p.q.QueryRow(ctx, `SELECT cooldown_until FROM login_throttle WHERE throttle_key = $1`, key).Scan(&until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	if until == nil {
		return time.Time{}, nil
	}
	return *until, nil
}

// RecordLoginFailed increments fail_count and sets cooldown_until = now() + min(30, 2^fail_count) seconds.
func (p pgQueries) RecordLoginFailed(ctx context.Context, key string) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO login_throttle (throttle_key, fail_count, last_failed_at, cooldown_until, updated_at)
		VALUES ($1, 1, now(), now() + (LEAST(30, POWER(2, 1)::int) || ' seconds')::interval, now())
		ON CONFLICT (throttle_key) DO UPDATE SET
			fail_count = login_throttle.fail_count + 1,
			last_failed_at = now(),
			cooldown_until = now() + (LEAST(30, POWER(2, login_throttle.fail_count + 1)::int) || ' seconds')::interval,
			updated_at = now()`,
		key,
	)
	return err
}

func (p pgQueries) RecordLoginSuccess(ctx context.Context, key string) error {
	_, err := p.q.Exec(ctx, `
		UPDATE login_throttle
		SET fail_count = 0, last_failed_at = NULL, cooldown_until = NULL, updated_at = now()
		WHERE throttle_key = $1`,
		key,
	)
	return err
}
