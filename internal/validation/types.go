package validation

// OrderItemRequest is one requested order line.
type OrderItemRequest struct {
	ProductID string `json:"productId" validate:"required,notblank"`
	Quantity  int    `json:"quantity" validate:"required,min=1"` // must be >= 1
}

// CreateOrderRequest is the payload for POST /api/orders
type CreateOrderRequest struct {
	UserID          string             `json:"userId" validate:"required,notblank"`
	OrderItems      []OrderItemRequest `json:"orderItems" validate:"required,min=1,dive"` // at least one item
	ShippingAddress string             `json:"shippingAddress" validate:"required,notblank,max=512"`
	BillingAddress  string             `json:"billingAddress" validate:"required,notblank,max=512"`
}

// AddItemRequest is the payload for POST /api/cart/:userId/add-item
type AddItemRequest struct {
	ProductID string `json:"productId" validate:"required,notblank"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// FromCartRequest carries the query parameters of POST /api/orders/from-cart/:userId
type FromCartRequest struct {
	ShippingAddress string `form:"shippingAddress" validate:"required,notblank,max=512"`
	BillingAddress  string `form:"billingAddress" validate:"required,notblank,max=512"`
}
