// Package database defines the document-store contract shared by the API,
// the notification dispatcher and the reminder scanner. Implementations live
// in dbfirestore (production) and dbmem (tests, local development).
package database

import (
	"context"
	"time"

	"golang.org/x/xerrors"
)

// ErrNoRows is returned by point lookups when no document exists for the
// given key. Implementations must map their native not-found condition to
// this sentinel so callers can branch on it.
var ErrNoRows = xerrors.New("no rows found")

// Notification is a stored push-notification record. It is created by the
// reminder scanner or an upstream order-status writer and mutated only by the
// dispatcher, which writes the delivery outcome back onto it.
//
// Sent is tri-state: nil means unprocessed, true delivered, false attempted
// and failed. Error and ErrorCode are populated only on failure, MessageID
// only on success. SentAt is set exactly once, on the transition out of
// unprocessed.
type Notification struct {
	ID      string            `firestore:"-" json:"id"`
	UserID  string            `firestore:"userId" json:"userId"`
	OrderID string            `firestore:"orderId,omitempty" json:"orderId,omitempty"`
	Type    string            `firestore:"type" json:"type"`
	Title   string            `firestore:"title" json:"title"`
	Body    string            `firestore:"body" json:"body"`
	Data    map[string]string `firestore:"data" json:"data"`
	Read    bool              `firestore:"read" json:"read"`

	Sent      *bool      `firestore:"sent" json:"sent,omitempty"`
	SentAt    *time.Time `firestore:"sentAt" json:"sentAt,omitempty"`
	MessageID string     `firestore:"messageId" json:"messageId,omitempty"`
	Error     string     `firestore:"error" json:"error,omitempty"`
	ErrorCode string     `firestore:"errorCode" json:"errorCode,omitempty"`

	// LeasedUntil guards against concurrent dispatchers picking up the same
	// record. A record is acquirable only when Sent is nil and the lease has
	// expired.
	LeasedUntil time.Time `firestore:"leasedUntil" json:"leasedUntil,omitempty"`

	CreatedAt time.Time `firestore:"createdAt,serverTimestamp" json:"createdAt"`
}

// Processed reports whether a delivery outcome has already been recorded.
func (n Notification) Processed() bool {
	return n.Sent != nil
}

// DeviceToken is the token-registry record, the preferred and freshest source
// of a user's push-delivery address.
type DeviceToken struct {
	UserID    string    `firestore:"-" json:"userId"`
	Token     string    `firestore:"token" json:"token"`
	Platform  string    `firestore:"platform" json:"platform,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// User is the profile record. FCMToken is the fallback delivery address used
// when no token-registry record exists.
type User struct {
	ID       string `firestore:"-" json:"id"`
	Email    string `firestore:"email" json:"email,omitempty"`
	FCMToken string `firestore:"fcmToken" json:"fcmToken,omitempty"`
	IsAdmin  bool   `firestore:"isAdmin" json:"isAdmin"`
}

// OrderStatusPending is the only order status the reminder scanner acts on.
const OrderStatusPending = "pending"

// Order is the subset of the order record the scanner needs.
type Order struct {
	ID          string    `firestore:"-" json:"id"`
	UserID      string    `firestore:"userId" json:"userId"`
	OrderNumber string    `firestore:"orderNumber" json:"orderNumber,omitempty"`
	Status      string    `firestore:"status" json:"status"`
	OrderDate   time.Time `firestore:"orderDate" json:"orderDate"`
}

type AcquireUnsentNotificationsParams struct {
	// Count caps how many records a single dispatcher pass claims.
	Count int
	// LeaseUntil is written onto every claimed record in the same store
	// operation that reads it, so two concurrent passes cannot claim the
	// same record.
	LeaseUntil time.Time
	Now        time.Time
}

type MarkNotificationSentParams struct {
	ID        string
	MessageID string
	SentAt    time.Time
}

type MarkNotificationFailedParams struct {
	ID        string
	Error     string
	ErrorCode string
	SentAt    time.Time
}

type InsertNotificationParams struct {
	UserID  string
	OrderID string
	Type    string
	Title   string
	Body    string
	Data    map[string]string
}

// Store is the document-store surface consumed by this service: point lookups
// by user id, a filtered scan over orders, notification creation, and
// conditional outcome write-backs.
type Store interface {
	// GetDeviceToken returns the token-registry record for a user, or
	// ErrNoRows when the user has none.
	GetDeviceToken(ctx context.Context, userID string) (DeviceToken, error)
	// GetUser returns the profile record, or ErrNoRows.
	GetUser(ctx context.Context, userID string) (User, error)

	// AcquireUnsentNotifications atomically claims up to Count unprocessed
	// notification records by taking a lease on them. Records already
	// processed, or still leased, are never returned.
	AcquireUnsentNotifications(ctx context.Context, arg AcquireUnsentNotificationsParams) ([]Notification, error)
	// MarkNotificationSent records a successful delivery. It is conditional:
	// a record that already has an outcome is left untouched.
	MarkNotificationSent(ctx context.Context, arg MarkNotificationSentParams) error
	// MarkNotificationFailed records a terminal delivery failure, under the
	// same condition as MarkNotificationSent.
	MarkNotificationFailed(ctx context.Context, arg MarkNotificationFailedParams) error
	// InsertNotification creates a new unprocessed notification record and
	// returns it with its store-assigned id and creation timestamp.
	InsertNotification(ctx context.Context, arg InsertNotificationParams) (Notification, error)

	// GetPendingOrdersBefore returns orders whose status is exactly
	// "pending" and whose order date is at or before the cutoff.
	GetPendingOrdersBefore(ctx context.Context, cutoff time.Time) ([]Order, error)
}
