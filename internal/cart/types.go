package cart

import "github.com/shopspring/decimal"

// MaxQuantity is the upper bound for a single cart line.
const MaxQuantity = 100

// Product is the catalog row as seen by the cart and checkout.
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Available bool            `json:"available"`
}

// Line is one product in a user's cart, priced at the current catalog price.
type Line struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Available bool            `json:"available"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// View is the cart returned to clients.
type View struct {
	Lines []Line          `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// Total sums quantity times unit price across lines.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
