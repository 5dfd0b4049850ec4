package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"table-order/models"
	"table-order/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const maxPickQuantity = 5

var categoryTitles = map[string]string{
	models.CategoryFood:    "🍲 Food",
	models.CategoryDrink:   "🥤 Drinks",
	models.CategoryDessert: "🍰 Desserts",
}

func mainKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Menu", "menu"),
			tgbotapi.NewInlineKeyboardButtonData("🛒 Cart", "cart"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🧾 My orders", "orders"),
		),
	)
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	id, err := b.identity(ctx, msg.From)
	if err != nil {
		b.log.Error("resolve telegram user", zap.Int64("tg_user_id", msg.From.ID), zap.Error(err))
		b.send(chatID, "Something went wrong, please try again.")
		return
	}

	switch {
	case text == "/start":
		b.setAwaitingTable(msg.From.ID, false)
		b.sendWithInline(chatID, fmt.Sprintf("Welcome, %s! Order from your table and we bring it over.", firstNonEmpty(id.Name, id.Username)), mainKeyboard())
	case text == "/menu":
		b.sendCategories(ctx, chatID)
	case text == "/cart":
		b.sendCart(ctx, chatID, 0, id)
	case text == "/orders":
		b.sendOrders(ctx, chatID, id)
	case b.isAwaitingTable(msg.From.ID):
		b.handleTableNumber(ctx, chatID, msg.From.ID, id, text)
	default:
		b.sendWithInline(chatID, "Use the buttons below.", mainKeyboard())
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	msgID := cq.Message.MessageID
	data := cq.Data

	id, err := b.identity(ctx, cq.From)
	if err != nil {
		b.log.Error("resolve telegram user", zap.Int64("tg_user_id", cq.From.ID), zap.Error(err))
		b.answer(cq.ID, "Something went wrong.")
		return
	}

	toast := ""
	switch {
	case data == "menu":
		b.sendCategories(ctx, chatID)
	case data == "cart":
		b.sendCart(ctx, chatID, 0, id)
	case data == "orders":
		b.sendOrders(ctx, chatID, id)
	case strings.HasPrefix(data, "cat:"):
		b.sendCategoryItems(ctx, chatID, msgID, strings.TrimPrefix(data, "cat:"))
	case strings.HasPrefix(data, "item:"):
		itemID, err := strconv.ParseInt(strings.TrimPrefix(data, "item:"), 10, 64)
		if err == nil {
			b.sendQuantityPicker(ctx, chatID, msgID, itemID)
		}
	case strings.HasPrefix(data, "qty:"):
		toast = b.setQuantity(ctx, chatID, id, data)
	case strings.HasPrefix(data, "rm:"):
		itemID, err := strconv.ParseInt(strings.TrimPrefix(data, "rm:"), 10, 64)
		if err != nil {
			break
		}
		if err := b.svc.Cart.Remove(ctx, id.UserID, itemID); err != nil {
			toast = userMessage(err)
		}
		b.sendCart(ctx, chatID, msgID, id)
	case data == "checkout":
		b.setAwaitingTable(cq.From.ID, true)
		b.send(chatID, "Please send your table number (the number on the table stand).")
	}
	b.answer(cq.ID, toast)
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Debug("answer callback", zap.Error(err))
	}
}

func (b *Bot) setAwaitingTable(tgUserID int64, v bool) {
	b.awaitingTableMu.Lock()
	defer b.awaitingTableMu.Unlock()
	if v {
		b.awaitingTable[tgUserID] = true
	} else {
		delete(b.awaitingTable, tgUserID)
	}
}

func (b *Bot) isAwaitingTable(tgUserID int64) bool {
	b.awaitingTableMu.Lock()
	defer b.awaitingTableMu.Unlock()
	return b.awaitingTable[tgUserID]
}

// groupByCategory keeps the catalog order inside each category.
func groupByCategory(items []models.MenuItem) map[string][]models.MenuItem {
	out := make(map[string][]models.MenuItem)
	for _, it := range items {
		out[it.Category] = append(out[it.Category], it)
	}
	return out
}

func (b *Bot) sendCategories(ctx context.Context, chatID int64) {
	items, err := b.svc.Menu.List(ctx)
	if err != nil {
		b.log.Error("list menu", zap.Error(err))
		b.send(chatID, "The menu is unavailable right now.")
		return
	}
	groups := groupByCategory(items)
	var row []tgbotapi.InlineKeyboardButton
	for _, c := range models.Categories {
		if len(groups[c]) > 0 {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(categoryTitles[c], "cat:"+c))
		}
	}
	if len(row) == 0 {
		b.send(chatID, "The menu is empty for now.")
		return
	}
	b.sendWithInline(chatID, "Choose a category:", tgbotapi.NewInlineKeyboardMarkup(
		row,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🛒 Cart", "cart")),
	))
}

func (b *Bot) sendCategoryItems(ctx context.Context, chatID int64, msgID int, category string) {
	items, err := b.svc.Menu.List(ctx)
	if err != nil {
		b.log.Error("list menu", zap.Error(err))
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, it := range groupByCategory(items)[category] {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%s · %s", it.Name, services.FormatPrice(it.Price)),
				"item:"+strconv.FormatInt(it.ID, 10),
			),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Categories", "menu"),
		tgbotapi.NewInlineKeyboardButtonData("🛒 Cart", "cart"),
	))
	title := categoryTitles[category]
	if title == "" {
		title = category
	}
	b.editWithInline(chatID, msgID, title, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) sendQuantityPicker(ctx context.Context, chatID int64, msgID int, itemID int64) {
	it, err := b.svc.Menu.FindByID(ctx, itemID)
	if err != nil {
		b.send(chatID, userMessage(err))
		return
	}
	var row []tgbotapi.InlineKeyboardButton
	for n := 1; n <= maxPickQuantity; n++ {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(n), fmt.Sprintf("qty:%d:%d", it.ID, n)))
	}
	text := fmt.Sprintf("%s\n%s\n\nPrice: %s\nHow many?", it.Name, it.Description, services.FormatPrice(it.Price))
	b.editWithInline(chatID, msgID, text, tgbotapi.NewInlineKeyboardMarkup(
		row,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "cat:"+it.Category)),
	))
}

// setQuantity handles "qty:<itemID>:<n>". The picked number replaces what the
// cart held for that item.
func (b *Bot) setQuantity(ctx context.Context, chatID int64, id models.Identity, data string) string {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return ""
	}
	itemID, err1 := strconv.ParseInt(parts[1], 10, 64)
	qty, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil {
		return ""
	}
	if err := b.svc.Cart.Upsert(ctx, id.UserID, itemID, qty); err != nil {
		return userMessage(err)
	}
	b.sendCart(ctx, chatID, 0, id)
	return fmt.Sprintf("Cart updated: × %d", qty)
}

func cartText(cart *models.Cart) string {
	if len(cart.Lines) == 0 {
		return "Your cart is empty."
	}
	var sb strings.Builder
	sb.WriteString("🛒 Your cart\n\n")
	for _, l := range cart.Lines {
		if !l.Available {
			fmt.Fprintf(&sb, "• item #%d × %d (no longer available)\n", l.MenuItemID, l.Quantity)
			continue
		}
		fmt.Fprintf(&sb, "• %s × %d = %s\n", l.Name, l.Quantity, services.FormatPrice(l.Subtotal))
	}
	fmt.Fprintf(&sb, "\nTotal: %s", services.FormatPrice(cart.Total))
	return sb.String()
}

// sendCart shows the cart; msgID > 0 edits that message instead.
func (b *Bot) sendCart(ctx context.Context, chatID int64, msgID int, id models.Identity) {
	cart, err := b.svc.Cart.List(ctx, id.UserID)
	if err != nil {
		b.log.Error("list cart", zap.Int64("customer_id", id.UserID), zap.Error(err))
		b.send(chatID, "Could not load your cart.")
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, l := range cart.Lines {
		label := l.Name
		if label == "" {
			label = "#" + strconv.FormatInt(l.MenuItemID, 10)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ "+label, "rm:"+strconv.FormatInt(l.MenuItemID, 10)),
		))
	}
	if len(cart.Lines) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Checkout", "checkout")))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📋 Menu", "menu")))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	if msgID > 0 {
		b.editWithInline(chatID, msgID, cartText(cart), kb)
		return
	}
	b.sendWithInline(chatID, cartText(cart), kb)
}

func parseTableNumber(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func (b *Bot) handleTableNumber(ctx context.Context, chatID, tgUserID int64, id models.Identity, text string) {
	table, ok := parseTableNumber(text)
	if !ok {
		b.send(chatID, "Please send the table number as digits, e.g. 12.")
		return
	}
	b.setAwaitingTable(tgUserID, false)

	order, err := b.svc.Checkout.Checkout(ctx, id.UserID, table)
	if err != nil {
		b.sendWithInline(chatID, userMessage(err), mainKeyboard())
		return
	}
	// The order card itself arrives through the order.created event.
	b.send(chatID, fmt.Sprintf("✅ Order placed and paid. Queue number: %d", order.QueueNumber))
}

func (b *Bot) sendOrders(ctx context.Context, chatID int64, id models.Identity) {
	orders, err := b.svc.Orders.ListByCustomer(ctx, id.UserID)
	if err != nil {
		b.log.Error("list customer orders", zap.Int64("customer_id", id.UserID), zap.Error(err))
		b.send(chatID, "Could not load your orders.")
		return
	}
	if len(orders) == 0 {
		b.sendWithInline(chatID, "You have no orders yet.", mainKeyboard())
		return
	}
	var sb strings.Builder
	sb.WriteString("🧾 Your orders\n\n")
	for _, o := range orders {
		fmt.Fprintf(&sb, "#%d · queue %d · table %d · %s · %s\n",
			o.ID, o.QueueNumber, o.TableNumber, services.FormatPrice(o.TotalPrice), services.StatusLabel(o.Status))
	}
	b.send(chatID, sb.String())
}

// userMessage turns a service error into text safe to show a customer.
func userMessage(err error) string {
	var (
		validation *services.ValidationError
		notFound   *services.NotFoundError
		emptyCart  *services.EmptyCartError
		missing    *services.ItemNotFoundError
		race       *services.ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &emptyCart):
		return "Your cart is empty. Add something from the menu first."
	case errors.As(err, &missing):
		return "Some items are no longer on the menu, please remove them from your cart: " + joinIDs(missing.IDs)
	case errors.As(err, &validation), errors.As(err, &notFound):
		return err.Error()
	case errors.As(err, &race):
		return "We were busy, please try again."
	default:
		return "Something went wrong, please try again."
	}
}

func joinIDs(ids []int64) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = "#" + strconv.FormatInt(id, 10)
	}
	return strings.Join(s, ", ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
