package services

import "math"

const (
	// MaxQuantity bounds the units of one menu item in a cart or order.
	MaxQuantity = 999
	// MaxTableNumber bounds table numbers accepted at checkout.
	MaxTableNumber = 9999
)

// lineSubtotal returns price * quantity, or false when it does not fit in int64.
func lineSubtotal(price int64, quantity int) (int64, bool) {
	if price < 0 || quantity < 0 {
		return 0, false
	}
	if quantity != 0 && price > math.MaxInt64/int64(quantity) {
		return 0, false
	}
	return price * int64(quantity), true
}

// addMoney returns a + b for non-negative amounts, or false on overflow.
func addMoney(a, b int64) (int64, bool) {
	if b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}

func errTotalTooLarge() error {
	return invalid("total", "exceeds the largest amount an order can carry")
}
