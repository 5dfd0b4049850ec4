package models

type MenuItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`    // minor currency units
	Category    string `json:"category"` // "food", "drink", "dessert"
	ImageURL    string `json:"imageUrl"`
}

const (
	CategoryFood    = "food"
	CategoryDrink   = "drink"
	CategoryDessert = "dessert"
)

var Categories = []string{CategoryFood, CategoryDrink, CategoryDessert}

func ValidCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}
