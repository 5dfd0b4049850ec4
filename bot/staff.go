package bot

import (
	"context"
	"fmt"
	"strings"

	"table-order/models"
	"table-order/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func (b *Bot) runStaff(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.staffBot.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		b.staffBot.StopReceivingUpdates()
	}()

	b.log.Info("staff bot started", zap.String("username", b.staffBot.Self.UserName))
	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if strings.HasPrefix(update.CallbackQuery.Data, services.OrderStatusCallbackPrefix) {
				b.handleOrderStatusCallback(ctx, update.CallbackQuery)
			}
		case update.Message != nil:
			b.handleStaffMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) staffAnswer(callbackID, text string) {
	if _, err := b.staffBot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Debug("answer staff callback", zap.Error(err))
	}
}

func (b *Bot) staffSend(chatID int64, text string) {
	if _, err := b.staffBot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn("staff send", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// staffIdentity resolves the sender and reports whether they may act as staff.
func (b *Bot) staffIdentity(ctx context.Context, from *tgbotapi.User) (models.Identity, bool) {
	if from == nil {
		return models.Identity{}, false
	}
	id, err := b.identity(ctx, from)
	if err != nil {
		b.log.Error("resolve staff user", zap.Int64("tg_user_id", from.ID), zap.Error(err))
		return models.Identity{}, false
	}
	return id, id.IsAdmin()
}

func (b *Bot) handleOrderStatusCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	orderID, status, ok := services.ParseStatusCallback(cq.Data)
	if !ok {
		b.staffAnswer(cq.ID, "Invalid callback.")
		return
	}
	actor, allowed := b.staffIdentity(ctx, cq.From)
	if !allowed {
		b.staffAnswer(cq.ID, "Unauthorized.")
		return
	}
	if _, err := b.svc.Orders.UpdateStatus(ctx, actor, orderID, status); err != nil {
		b.log.Warn("order status update failed",
			zap.Int64("order_id", orderID),
			zap.String("status", status),
			zap.Int64("actor", actor.UserID),
			zap.Error(err))
		b.staffAnswer(cq.ID, userMessage(err))
		return
	}
	// The card is re-rendered by the status_changed event.
	b.staffAnswer(cq.ID, "✅ "+services.StatusLabel(status))
}

func (b *Bot) handleStaffMessage(ctx context.Context, msg *tgbotapi.Message) {
	_, allowed := b.staffIdentity(ctx, msg.From)
	if !allowed {
		b.staffSend(msg.Chat.ID, "This bot is for restaurant staff only.")
		return
	}
	switch strings.TrimSpace(msg.Text) {
	case "/queue":
		b.sendQueue(ctx, msg.Chat.ID)
	case "/count":
		n, err := b.svc.Orders.Count(ctx)
		if err != nil {
			b.log.Error("count orders", zap.Error(err))
			b.staffSend(msg.Chat.ID, "Could not count orders.")
			return
		}
		b.staffSend(msg.Chat.ID, fmt.Sprintf("Orders so far: %d", n))
	default:
		b.staffSend(msg.Chat.ID, "Commands: /queue, /count")
	}
}

// openOrders returns the orders not yet delivered, in queue order.
func openOrders(orders []models.Order) []models.Order {
	var open []models.Order
	for _, o := range orders {
		if o.Status != models.OrderStatusDelivered {
			open = append(open, o)
		}
	}
	return open
}

func (b *Bot) sendQueue(ctx context.Context, chatID int64) {
	orders, err := b.svc.Orders.ListAll(ctx)
	if err != nil {
		b.log.Error("list orders", zap.Error(err))
		b.staffSend(chatID, "Could not load orders.")
		return
	}
	open := openOrders(orders)
	if len(open) == 0 {
		b.staffSend(chatID, "No open orders.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Open orders\n\n")
	for _, o := range open {
		fmt.Fprintf(&sb, "Q%d · #%d · table %d · %s\n", o.QueueNumber, o.ID, o.TableNumber, services.StatusLabel(o.Status))
	}
	b.staffSend(chatID, sb.String())
}
