package validation

// AddCartItemRequest is the payload for POST /cart/items
type AddCartItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,min=1,max=100"`
}

// SetQuantityRequest is the payload for PUT /cart/items/:product_id. Zero removes the line.
type SetQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=100"`
}

// CheckoutRequest is the payload for POST /orders
type CheckoutRequest struct {
	ShippingAddress string `json:"shipping_address" validate:"required,max=500"`
	BillingAddress  string `json:"billing_address" validate:"required,max=500"`
}

// AddressRequest is the payload for PUT /orders/:id/address. At least one field is required.
type AddressRequest struct {
	ShippingAddress *string `json:"shipping_address" validate:"omitempty,min=1,max=500"`
	BillingAddress  *string `json:"billing_address" validate:"omitempty,min=1,max=500"`
}

// StatusRequest is the payload for PUT /orders/:id/status. The status value
// is checked by the order engine after the caller's role.
type StatusRequest struct {
	Status         string `json:"status" validate:"required"`
	TrackingNumber string `json:"tracking_number,omitempty" validate:"max=100"`
}

// CardPaymentRequest is the payload for POST /payments/card
type CardPaymentRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

// MobileMoneyRequest is the payload for POST /payments/mobile-money
type MobileMoneyRequest struct {
	OrderID string `json:"order_id" validate:"required"`
	Phone   string `json:"phone_number" validate:"required,msisdn"`
}
