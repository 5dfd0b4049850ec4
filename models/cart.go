package models

// CartEntry is one stored (customer, menu item) quantity.
type CartEntry struct {
	CustomerID int64
	MenuItemID int64
	Quantity   int
}

// CartLine is a cart entry joined with the current catalog.
// Available is false when the menu item no longer exists; such lines carry
// no price and are left out of the total.
type CartLine struct {
	MenuItemID  int64  `json:"menuId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Category    string `json:"category"`
	ImageURL    string `json:"imageUrl"`
	Quantity    int    `json:"quantity"`
	Subtotal    int64  `json:"subtotal"`
	Available   bool   `json:"available"`
}

type Cart struct {
	CustomerID int64      `json:"customerId"`
	Lines      []CartLine `json:"items"`
	Total      int64      `json:"total"`
}
