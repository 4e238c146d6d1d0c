// Package payments normalizes caller-supplied amounts into the payment
// gateway's minor-unit representation and requests payment intents.
package payments

import (
	"context"
	"math"
)

// Currencies the gateway accepts from us. Codes are matched lowercase, with
// no trimming: a padded "Usd " is rejected, a plain "USD" is not.
var allowedCurrencies = map[string]bool{
	"vnd": true,
	"usd": true,
	"eur": true,
	"gbp": true,
}

// AllowedCurrency reports whether an already-lowercased code is accepted.
func AllowedCurrency(currency string) bool {
	return allowedCurrencies[currency]
}

// MinorUnits converts a major-unit amount into the gateway's smallest
// denomination. VND is a zero-decimal currency so the amount passes through;
// the others are two-decimal and multiply by 100. Rounding is math.Round
// (half away from zero), applied once, after the multiply, so binary-float
// artifacts like 10.005*100 = 1000.499... round down to 1000.
func MinorUnits(amount float64, currency string) int64 {
	if currency == "vnd" {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

// ErrorKind is the closed classification of gateway failures. The mapping
// from the provider's error taxonomy happens exactly once, in the gateway
// implementation; callers switch on the kind and never inspect strings.
type ErrorKind int

const (
	// KindInternal is any failure that is neither the card's nor the
	// request's fault.
	KindInternal ErrorKind = iota
	// KindCard is a card-specific decline or failure.
	KindCard
	// KindInvalidRequest means the gateway rejected the request itself.
	KindInvalidRequest
)

// Error is a typed gateway failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

type CreateIntentParams struct {
	// Amount in minor units.
	Amount   int64
	Currency string
}

// Intent carries the gateway-assigned handles. Both values are opaque
// pass-throughs for the caller's client-side SDK.
type Intent struct {
	ID           string
	ClientSecret string
}

// Gateway creates payment intents. Implementations return *Error for
// gateway-side failures.
type Gateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error)
}
