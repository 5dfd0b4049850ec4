package services

import (
	"fmt"
	"strconv"
	"strings"

	"table-order/models"
)

const OrderStatusCallbackPrefix = "order_status:"

// OrderCardButton is one inline button (text + callback_data).
type OrderCardButton struct {
	Text         string
	CallbackData string
}

// OrderCardContent is the text and optional inline keyboard for an order card.
type OrderCardContent struct {
	Text    string
	Buttons [][]OrderCardButton
}

var statusLabels = map[string]string{
	models.OrderStatusConfirmed:  "✅ Confirmed",
	models.OrderStatusInQueue:    "🕒 In queue",
	models.OrderStatusInProgress: "👨‍🍳 Being prepared",
	models.OrderStatusDelivered:  "🍽 Served",
}

var nextActionLabels = map[string]string{
	models.OrderStatusInQueue:    "Put in queue",
	models.OrderStatusInProgress: "Start preparing",
	models.OrderStatusDelivered:  "Mark served",
}

func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return status
}

// FormatPrice renders minor units with thousands separators: 50000 -> "50,000".
func FormatPrice(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// StatusCallbackData encodes a status button as "order_status:<id>:<STATUS>".
func StatusCallbackData(orderID int64, status string) string {
	return OrderStatusCallbackPrefix + strconv.FormatInt(orderID, 10) + ":" + status
}

// ParseStatusCallback is the inverse of StatusCallbackData.
func ParseStatusCallback(data string) (orderID int64, status string, ok bool) {
	rest, found := strings.CutPrefix(data, OrderStatusCallbackPrefix)
	if !found {
		return 0, "", false
	}
	idStr, status, found := strings.Cut(rest, ":")
	if !found || status == "" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, status, true
}

func writeLines(b *strings.Builder, o *models.Order) {
	for _, l := range o.Lines {
		fmt.Fprintf(b, "• %s × %d = %s\n", l.Name, l.Quantity, FormatPrice(l.Subtotal))
	}
}

// BuildStaffCard returns the kitchen-facing card with a button that moves the
// order to its next status.
func BuildStaffCard(o *models.Order) OrderCardContent {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%d · queue %d · table %d\n", o.ID, o.QueueNumber, o.TableNumber)
	if o.CustomerName != "" {
		fmt.Fprintf(&b, "Customer: %s\n", o.CustomerName)
	}
	b.WriteString("\n")
	writeLines(&b, o)
	fmt.Fprintf(&b, "\nTotal: %s (%s)\n", FormatPrice(o.TotalPrice), o.PaymentStatus)
	fmt.Fprintf(&b, "Status: %s", StatusLabel(o.Status))

	var buttons [][]OrderCardButton
	if next, ok := NextStatus(o.Status); ok {
		buttons = [][]OrderCardButton{
			{{Text: nextActionLabels[next], CallbackData: StatusCallbackData(o.ID, next)}},
		}
	}
	return OrderCardContent{Text: b.String(), Buttons: buttons}
}

// BuildCustomerCard returns the card shown to the customer who placed the order.
func BuildCustomerCard(o *models.Order) OrderCardContent {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%d\nYour queue number: %d\nTable: %d\n\n", o.ID, o.QueueNumber, o.TableNumber)
	writeLines(&b, o)
	fmt.Fprintf(&b, "\nTotal paid: %s\n", FormatPrice(o.TotalPrice))
	fmt.Fprintf(&b, "Status: %s", StatusLabel(o.Status))
	return OrderCardContent{Text: b.String()}
}
