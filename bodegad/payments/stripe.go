package payments

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"

	"github.com/coder/quartz"
)

// StripeGateway implements Gateway against Stripe's PaymentIntents API.
type StripeGateway struct {
	client *stripeclient.API
	clock  quartz.Clock
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs the client once with the given secret key.
// The key is injected at boot; there is no ambient global initialization.
func NewStripeGateway(secretKey string, clock quartz.Clock) *StripeGateway {
	if clock == nil {
		clock = quartz.NewReal()
	}
	sc := &stripeclient.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{client: sc, clock: clock}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, params CreateIntentParams) (Intent, error) {
	piParams := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(params.Amount),
		Currency: stripe.String(params.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	piParams.AddMetadata("created_at", g.clock.Now().UTC().Format(time.RFC3339))

	pi, err := g.client.PaymentIntents.New(piParams)
	if err != nil {
		return Intent{}, mapStripeError(err)
	}
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

// mapStripeError folds Stripe's error taxonomy into the closed Error type.
func mapStripeError(err error) *Error {
	var sErr *stripe.Error
	if !errors.As(err, &sErr) {
		return &Error{Kind: KindInternal, Message: err.Error()}
	}

	kind := KindInternal
	switch sErr.Type {
	case stripe.ErrorTypeCard:
		kind = KindCard
	case stripe.ErrorTypeInvalidRequest:
		kind = KindInvalidRequest
	}

	msg := sErr.Msg
	if msg == "" {
		msg = sErr.Error()
	}
	return &Error{Kind: kind, Message: msg}
}
