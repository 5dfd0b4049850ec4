package bot

import (
	"context"
	"strings"
	"sync"

	"table-order/config"
	"table-order/models"
	"table-order/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Services are the domain services the bots drive.
type Services struct {
	Store    services.Store
	Users    *services.UserService
	Menu     *services.MenuService
	Cart     *services.CartService
	Checkout *services.CheckoutService
	Orders   *services.OrderService
}

// Bot runs the customer bot and, when configured, the staff bot that
// receives order cards.
type Bot struct {
	api      *tgbotapi.BotAPI // customer bot (TELEGRAM_TOKEN)
	staffBot *tgbotapi.BotAPI // staff bot (STAFF_BOT_TOKEN), may be nil
	cfg      config.TelegramConfig
	svc      Services
	log      *zap.Logger

	awaitingTable   map[int64]bool // tg users asked for their table number
	awaitingTableMu sync.Mutex

	orderLocks [orderLockStripes]sync.Mutex // serializes card edits per order
}

func New(cfg config.TelegramConfig, svc Services, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	b := &Bot{
		api:           api,
		cfg:           cfg,
		svc:           svc,
		log:           log,
		awaitingTable: make(map[int64]bool),
	}
	if cfg.StaffToken != "" {
		staff, err := tgbotapi.NewBotAPI(cfg.StaffToken)
		if err != nil {
			log.Warn("staff bot disabled", zap.Error(err))
		} else {
			b.staffBot = staff
		}
	}
	return b, nil
}

// SetServices replaces the services after construction. The bot is built
// before the order services because they publish to it.
func (b *Bot) SetServices(svc Services) { b.svc = svc }

// Start polls both bots until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	if err := b.setCommands(); err != nil {
		b.log.Warn("set bot commands", zap.Error(err))
	}
	if b.staffBot != nil {
		go b.runStaff(ctx)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	b.log.Info("customer bot started", zap.String("username", b.api.Self.UserName))
	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			b.handleCallback(ctx, update.CallbackQuery)
		case update.Message != nil:
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) setCommands() error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Start"},
		tgbotapi.BotCommand{Command: "menu", Description: "Browse the menu"},
		tgbotapi.BotCommand{Command: "cart", Description: "Show my cart"},
		tgbotapi.BotCommand{Command: "orders", Description: "My orders"},
	)
	_, err := b.api.Request(cfg)
	return err
}

// Publish refreshes the order cards after an order event. It never blocks the
// caller on Telegram.
func (b *Bot) Publish(_ context.Context, ev services.OrderEvent) error {
	go b.RefreshOrderCards(context.Background(), ev.OrderID)
	return nil
}

// identity maps a Telegram user onto an account, creating it on first contact.
func (b *Bot) identity(ctx context.Context, from *tgbotapi.User) (models.Identity, error) {
	name := strings.TrimSpace(from.FirstName + " " + from.LastName)
	return b.svc.Users.ResolveTelegram(ctx, from.ID, name, b.cfg.AdminID != 0 && from.ID == b.cfg.AdminID)
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) sendWithInline(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// editWithInline replaces a message in place, falling back to a new message.
func (b *Bot) editWithInline(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, kb)
	if _, err := b.api.Send(edit); err != nil {
		if strings.Contains(err.Error(), "not modified") {
			return
		}
		b.sendWithInline(chatID, text, kb)
	}
}

func (b *Bot) apiForAudience(audience string) *tgbotapi.BotAPI {
	if audience == services.AudienceStaff {
		return b.staffBot
	}
	return b.api
}

// cardMarkup converts OrderCardContent.Buttons to a Telegram inline keyboard.
func cardMarkup(c services.OrderCardContent) *tgbotapi.InlineKeyboardMarkup {
	if len(c.Buttons) == 0 {
		return nil
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range c.Buttons {
		var btns []tgbotapi.InlineKeyboardButton
		for _, btn := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.CallbackData))
		}
		rows = append(rows, btns)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// UpsertOrderCard edits the order's existing card for the audience, or sends
// a new one and remembers where it went.
func (b *Bot) UpsertOrderCard(ctx context.Context, audience string, orderID, chatID int64, content services.OrderCardContent) {
	api := b.apiForAudience(audience)
	if api == nil {
		return
	}
	log := b.log.With(zap.Int64("order_id", orderID), zap.String("audience", audience))

	ptr, err := b.svc.Store.GetMessagePointer(ctx, orderID, audience)
	if err != nil {
		log.Warn("get card pointer", zap.Error(err))
		return
	}
	if ptr != nil {
		edit := tgbotapi.NewEditMessageText(ptr.ChatID, ptr.MessageID, content.Text)
		if kb := cardMarkup(content); kb != nil {
			edit.ReplyMarkup = kb
		} else {
			edit.ReplyMarkup = &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
		}
		_, err := api.Send(edit)
		switch {
		case err == nil:
			return
		case strings.Contains(err.Error(), "not modified"):
			return
		case strings.Contains(err.Error(), "not found"):
			// card was deleted in the chat: post a fresh one below
			chatID = ptr.ChatID
		default:
			log.Warn("edit card", zap.Error(err))
			return
		}
	}

	msg := tgbotapi.NewMessage(chatID, content.Text)
	if kb := cardMarkup(content); kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := api.Send(msg)
	if err != nil {
		log.Warn("send card", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	err = b.svc.Store.SaveMessagePointer(ctx, services.MessagePointer{
		OrderID:   orderID,
		Audience:  audience,
		ChatID:    chatID,
		MessageID: sent.MessageID,
	})
	if err != nil {
		log.Warn("save card pointer", zap.Error(err))
	}
}

const orderLockStripes = 64

// orderLock maps an order onto a fixed set of mutexes. Orders sharing a
// stripe also share the lock.
func (b *Bot) orderLock(orderID int64) *sync.Mutex {
	i := orderID % orderLockStripes
	if i < 0 {
		i = -i
	}
	return &b.orderLocks[i]
}

func (b *Bot) lockOrder(orderID int64) func() {
	mu := b.orderLock(orderID)
	mu.Lock()
	return mu.Unlock
}

// RefreshOrderCards re-renders the staff card and, for customers who ordered
// through Telegram, the customer card.
func (b *Bot) RefreshOrderCards(ctx context.Context, orderID int64) {
	unlock := b.lockOrder(orderID)
	defer unlock()

	o, err := b.svc.Orders.Get(ctx, orderID)
	if err != nil {
		b.log.Warn("refresh cards: get order", zap.Int64("order_id", orderID), zap.Error(err))
		return
	}
	if b.staffBot != nil && b.cfg.StaffChatID != 0 {
		b.UpsertOrderCard(ctx, services.AudienceStaff, o.ID, b.cfg.StaffChatID, services.BuildStaffCard(o))
	}
	tgID, ok, err := b.svc.Users.TelegramID(ctx, o.CustomerID)
	if err != nil {
		b.log.Warn("refresh cards: customer chat", zap.Int64("order_id", orderID), zap.Error(err))
		return
	}
	if ok {
		b.UpsertOrderCard(ctx, services.AudienceCustomer, o.ID, tgID, services.BuildCustomerCard(o))
	}
}
