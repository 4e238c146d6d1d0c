package bodegasdk

import "encoding/json"

// Error titles used by the payments endpoint, kept stable for the checkout
// clients that branch on them.
const (
	PaymentErrorMissingFields    ErrorCode = "Missing required fields"
	PaymentErrorInvalidAmount    ErrorCode = "Invalid amount"
	PaymentErrorInvalidCurrency  ErrorCode = "Invalid currency"
	PaymentErrorMethodNotAllowed ErrorCode = "Method Not Allowed"
	PaymentErrorCard             ErrorCode = "Card Error"
	PaymentErrorInvalidRequest   ErrorCode = "Invalid Request"
	PaymentErrorInternal         ErrorCode = "Internal Server Error"
)

// CreatePaymentIntentRequest carries a caller-supplied amount in major units.
// Amount is a json.Number so both `"amount": 9.99` and `"amount": "9.99"` are
// accepted, matching what payment forms tend to post.
type CreatePaymentIntentRequest struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

// CreatePaymentIntentResponse returns the gateway-assigned handles the
// client-side SDK needs to confirm the payment. Both values are opaque.
type CreatePaymentIntentResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId"`
}
