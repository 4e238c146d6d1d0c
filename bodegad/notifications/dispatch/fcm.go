// Package dispatch contains push-gateway handlers. FCM is the only gateway
// the clients register tokens with today.
package dispatch

import (
	"context"

	"firebase.google.com/go/v4/messaging"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/bodega-app/bodega/bodegad/notifications"
)

// Fixed delivery hints. The Android channel and click action are contracts
// with the Flutter client; changing them breaks tap-through routing.
const (
	androidChannelID   = "order_updates"
	androidClickAction = "FLUTTER_NOTIFICATION_CLICK"
	androidPriority    = "high"
	notificationSound  = "default"
)

// Sender is the slice of the FCM client we use. *messaging.Client satisfies
// it; tests substitute their own.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMHandler struct {
	sender Sender
	log    slog.Logger
}

var _ notifications.Handler = (*FCMHandler)(nil)

func NewFCMHandler(sender Sender, log slog.Logger) *FCMHandler {
	return &FCMHandler{sender: sender, log: log.Named("dispatcher.fcm")}
}

func (h *FCMHandler) Dispatcher(msg notifications.Message) (notifications.DeliveryFunc, error) {
	if msg.Token == "" && msg.Topic == "" {
		return nil, xerrors.New("message has no target")
	}
	if msg.Token != "" && msg.Topic != "" {
		return nil, xerrors.New("message has both token and topic targets")
	}
	return h.dispatch(buildMessage(msg)), nil
}

// dispatch returns a DeliveryFunc making exactly one send call.
func (h *FCMHandler) dispatch(out *messaging.Message) notifications.DeliveryFunc {
	return func(ctx context.Context) (string, error) {
		messageID, err := h.sender.Send(ctx, out)
		if err != nil {
			return "", &notifications.Error{
				Code: errorCode(err),
				Err:  xerrors.Errorf("send push message: %w", err),
			}
		}
		h.log.Debug(ctx, "sent push message", slog.F("fcm_message_id", messageID))
		return messageID, nil
	}
}

func buildMessage(msg notifications.Message) *messaging.Message {
	return &messaging.Message{
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data:  msg.Data,
		Token: msg.Token,
		Topic: msg.Topic,
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				ChannelID:   androidChannelID,
				Sound:       notificationSound,
				ClickAction: androidClickAction,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: notificationSound,
					Badge: intPtr(1),
				},
			},
		},
	}
}

// errorCode maps the gateway's typed failures to the errorCode written onto
// failed records. The mapping happens once, here at the boundary.
func errorCode(err error) string {
	switch {
	case messaging.IsUnregistered(err):
		return "messaging/registration-token-not-registered"
	case messaging.IsInvalidArgument(err):
		return "messaging/invalid-argument"
	case messaging.IsQuotaExceeded(err):
		return "messaging/quota-exceeded"
	case messaging.IsSenderIDMismatch(err):
		return "messaging/sender-id-mismatch"
	case messaging.IsUnavailable(err):
		return "messaging/unavailable"
	case messaging.IsInternal(err):
		return "messaging/internal"
	default:
		return "messaging/unknown"
	}
}

func intPtr(i int) *int {
	return &i
}
