package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-shop-orderflow/internal/inventory"
)

// OrderItem is an order line. Price is the unit price captured when the
// stock was reserved and never changes afterwards.
type OrderItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// Subtotal is Price * Quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order owns its items; products and users are referenced by id.
type Order struct {
	ID              string      `json:"id"`
	UserID          string      `json:"userId"`
	Items           []OrderItem `json:"orderItems"`
	Status          Status      `json:"status"`
	ShippingAddress string      `json:"shippingAddress"`
	BillingAddress  string      `json:"billingAddress"`
	CreatedAt       time.Time   `json:"orderDate"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// TotalPrice is always derived from the items.
func (o *Order) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Lines returns the stock held by the order.
func (o *Order) Lines() []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// MarshalJSON adds the derived total.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		TotalPrice decimal.Decimal `json:"totalPrice"`
	}{plain(o), o.TotalPrice()})
}
