package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// GetMessagePointer returns the chat message holding the order's card for
// the audience, or nil if no card was sent yet.
func (p pgQueries) GetMessagePointer(ctx context.Context, orderID int64, audience string) (*MessagePointer, error) {
	mp := MessagePointer{OrderID: orderID, Audience: audience}
	err := p.q.QueryRow(ctx, `
		SELECT chat_id, message_id FROM order_message_pointers WHERE order_id = $1 AND audience = $2`,
		orderID, audience,
	).Scan(&mp.ChatID, &mp.MessageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &mp, nil
}

func (p pgQueries) SaveMessagePointer(ctx context.Context, mp MessagePointer) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO order_message_pointers (order_id, audience, chat_id, message_id, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (order_id, audience) DO UPDATE SET
			chat_id = EXCLUDED.chat_id,
			message_id = EXCLUDED.message_id,
			updated_at = now()`,
		mp.OrderID, mp.Audience, mp.ChatID, mp.MessageID,
	)
	return err
}
