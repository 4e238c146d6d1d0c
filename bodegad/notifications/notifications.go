// Package notifications turns stored notification records into delivered (or
// failed) push messages, and exposes the send path the synchronous API
// endpoints reuse.
package notifications

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/bodega-app/bodega/bodegad/database"
)

// Notification types understood by the clients.
const (
	TypeOrderStatusUpdate = "order_status_update"
	TypeOrderReminder     = "order_reminder"
)

// Defaults applied when a record is missing display strings.
const (
	DefaultTitle = "Order update"
	DefaultBody  = "Your order status has been updated"
)

// ErrTokenNotFound is recorded verbatim onto records whose user has no
// registered delivery address in either source. It is a terminal,
// non-retried failure.
var ErrTokenNotFound = xerrors.New("No FCM token found")

// Message is a transport-neutral push message with a single target. Exactly
// one of Token or Topic is set. Platform delivery hints are fixed constants
// owned by the gateway handler, not carried here.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
	Token string
	Topic string
}

// DeliveryFunc delivers a composed message and returns the gateway-assigned
// message id. Implementations make exactly one gateway call per invocation.
type DeliveryFunc func(ctx context.Context) (messageID string, err error)

// Handler constructs deliveries for a push gateway. The two-step shape keeps
// message validation separate from the send itself, so a malformed message
// never costs a gateway call.
type Handler interface {
	Dispatcher(msg Message) (DeliveryFunc, error)
}

// Error is a typed delivery failure carrying the gateway's error code, which
// is written back onto failed records as errorCode.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TokenStore is the subset of the database used for address resolution.
type TokenStore interface {
	GetDeviceToken(ctx context.Context, userID string) (database.DeviceToken, error)
	GetUser(ctx context.Context, userID string) (database.User, error)
}

// ResolveToken finds a user's push-delivery address: the token registry is
// preferred as the freshest source, the profile record's embedded token is
// the fallback. ErrTokenNotFound is returned when both yield nothing.
func ResolveToken(ctx context.Context, store TokenStore, userID string) (string, error) {
	registered, err := store.GetDeviceToken(ctx, userID)
	if err != nil && !xerrors.Is(err, database.ErrNoRows) {
		return "", xerrors.Errorf("get device token: %w", err)
	}
	if err == nil && registered.Token != "" {
		return registered.Token, nil
	}

	user, err := store.GetUser(ctx, userID)
	if err != nil && !xerrors.Is(err, database.ErrNoRows) {
		return "", xerrors.Errorf("get user: %w", err)
	}
	if err == nil && user.FCMToken != "" {
		return user.FCMToken, nil
	}

	return "", ErrTokenNotFound
}
