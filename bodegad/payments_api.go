package bodegad

import (
	"errors"
	"net/http"
	"strings"

	"cdr.dev/slog"

	"github.com/bodega-app/bodega/bodegad/httpapi"
	"github.com/bodega-app/bodega/bodegad/payments"
	"github.com/bodega-app/bodega/bodegasdk"
)

// createPaymentIntent validates and normalizes a caller-supplied amount and
// requests a payment intent from the gateway. The endpoint is called from
// browser checkouts, so it owns its preflight response and method handling.
func (api *API) createPaymentIntent(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodOptions:
		rw.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		httpapi.Error(rw, http.StatusMethodNotAllowed, bodegasdk.PaymentErrorMethodNotAllowed,
			"only POST is accepted")
		return
	}

	var req bodegasdk.CreatePaymentIntentRequest
	if !httpapi.Read(rw, r, &req) {
		return
	}

	// A zero amount is indistinguishable from an absent one to the checkout
	// clients, so both fall under the missing-fields fault.
	amount, parseErr := req.Amount.Float64()
	if req.Amount == "" || req.Currency == "" || (parseErr == nil && amount == 0) {
		httpapi.Error(rw, http.StatusBadRequest, bodegasdk.PaymentErrorMissingFields,
			"amount and currency are required")
		return
	}

	if parseErr != nil || amount < 0 {
		httpapi.Error(rw, http.StatusBadRequest, bodegasdk.PaymentErrorInvalidAmount,
			"amount must be a positive number")
		return
	}

	// Lowercased, never trimmed: padded codes are the caller's bug.
	currency := strings.ToLower(req.Currency)
	if !payments.AllowedCurrency(currency) {
		httpapi.Error(rw, http.StatusBadRequest, bodegasdk.PaymentErrorInvalidCurrency,
			"currency must be one of: vnd, usd, eur, gbp")
		return
	}

	minorUnits := payments.MinorUnits(amount, currency)
	api.Logger.Debug(ctx, "creating payment intent",
		slog.F("amount", amount),
		slog.F("currency", currency),
		slog.F("minor_units", minorUnits),
	)

	intent, err := api.Payments.CreateIntent(ctx, payments.CreateIntentParams{
		Amount:   minorUnits,
		Currency: currency,
	})
	if err != nil {
		api.Logger.Warn(ctx, "payment intent creation failed", slog.Error(err))
		writePaymentError(rw, err)
		return
	}

	httpapi.Write(rw, http.StatusOK, bodegasdk.CreatePaymentIntentResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
	})
}

// writePaymentError maps the gateway's closed error kinds onto HTTP statuses.
// Card and request-validation failures are the caller's to fix; everything
// else is ours.
func writePaymentError(rw http.ResponseWriter, err error) {
	var gatewayErr *payments.Error
	if !errors.As(err, &gatewayErr) {
		httpapi.Error(rw, http.StatusInternalServerError, bodegasdk.PaymentErrorInternal,
			"Failed to create payment intent")
		return
	}

	switch gatewayErr.Kind {
	case payments.KindCard:
		httpapi.Error(rw, http.StatusBadRequest, bodegasdk.PaymentErrorCard, gatewayErr.Message)
	case payments.KindInvalidRequest:
		httpapi.Error(rw, http.StatusBadRequest, bodegasdk.PaymentErrorInvalidRequest, gatewayErr.Message)
	default:
		message := gatewayErr.Message
		if message == "" {
			message = "Failed to create payment intent"
		}
		httpapi.Error(rw, http.StatusInternalServerError, bodegasdk.PaymentErrorInternal, message)
	}
}
