// Package dbfirestore implements database.Store on Cloud Firestore.
//
// Notification records are created with explicit null `sent` and zero
// `leasedUntil` fields so the unprocessed set stays queryable; Firestore
// cannot filter on missing fields. Upstream writers creating notification
// records directly must write both fields the same way.
// The acquire/mark operations run as per-document transactions, which is what
// makes the dispatcher's at-most-once write-back hold under concurrent
// delivery.
package dbfirestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/xerrors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bodega-app/bodega/bodegad/database"
)

const (
	collectionDeviceTokens  = "fcm_tokens"
	collectionUsers         = "users"
	collectionNotifications = "notifications"
	collectionOrders        = "orders"
)

// New wraps an initialized Firestore client. The client is constructed once
// at boot and injected; this package never builds its own.
func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

type Store struct {
	client *firestore.Client
}

var _ database.Store = (*Store)(nil)

func (s *Store) GetDeviceToken(ctx context.Context, userID string) (database.DeviceToken, error) {
	snap, err := s.client.Collection(collectionDeviceTokens).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return database.DeviceToken{}, database.ErrNoRows
	}
	if err != nil {
		return database.DeviceToken{}, xerrors.Errorf("get device token: %w", err)
	}

	var token database.DeviceToken
	if err := snap.DataTo(&token); err != nil {
		return database.DeviceToken{}, xerrors.Errorf("decode device token: %w", err)
	}
	token.UserID = snap.Ref.ID
	return token, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (database.User, error) {
	snap, err := s.client.Collection(collectionUsers).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return database.User{}, database.ErrNoRows
	}
	if err != nil {
		return database.User{}, xerrors.Errorf("get user: %w", err)
	}

	var user database.User
	if err := snap.DataTo(&user); err != nil {
		return database.User{}, xerrors.Errorf("decode user: %w", err)
	}
	user.ID = snap.Ref.ID
	return user, nil
}

func (s *Store) AcquireUnsentNotifications(ctx context.Context, arg database.AcquireUnsentNotificationsParams) ([]database.Notification, error) {
	// Equality on sent plus a range on leasedUntil is a composite-indexed
	// query; see firestore.indexes.json.
	query := s.client.Collection(collectionNotifications).
		Where("sent", "==", nil).
		Where("leasedUntil", "<=", arg.Now).
		OrderBy("leasedUntil", firestore.Asc)
	if arg.Count > 0 {
		query = query.Limit(arg.Count)
	}

	var candidates []*firestore.DocumentRef
	iter := query.Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("query unsent notifications: %w", err)
		}
		candidates = append(candidates, snap.Ref)
	}

	// The query is a plain read; the claim itself is transactional per
	// document, so a record raced away by another dispatcher is skipped
	// rather than double-acquired.
	var acquired []database.Notification
	for _, ref := range candidates {
		notif, ok, err := s.acquireOne(ctx, ref, arg)
		if err != nil {
			return acquired, xerrors.Errorf("acquire notification %s: %w", ref.ID, err)
		}
		if ok {
			acquired = append(acquired, notif)
		}
	}
	return acquired, nil
}

func (s *Store) acquireOne(ctx context.Context, ref *firestore.DocumentRef, arg database.AcquireUnsentNotificationsParams) (database.Notification, bool, error) {
	var notif database.Notification
	claimed := false

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		claimed = false
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := snap.DataTo(&notif); err != nil {
			return err
		}
		notif.ID = ref.ID
		if notif.Processed() || notif.LeasedUntil.After(arg.Now) {
			return nil
		}

		claimed = true
		notif.LeasedUntil = arg.LeaseUntil
		return tx.Update(ref, []firestore.Update{
			{Path: "leasedUntil", Value: arg.LeaseUntil},
		})
	})
	if err != nil {
		return database.Notification{}, false, err
	}
	return notif, claimed, nil
}

func (s *Store) MarkNotificationSent(ctx context.Context, arg database.MarkNotificationSentParams) error {
	return s.markProcessed(ctx, arg.ID, []firestore.Update{
		{Path: "sent", Value: true},
		{Path: "sentAt", Value: firestore.ServerTimestamp},
		{Path: "messageId", Value: arg.MessageID},
	})
}

func (s *Store) MarkNotificationFailed(ctx context.Context, arg database.MarkNotificationFailedParams) error {
	updates := []firestore.Update{
		{Path: "sent", Value: false},
		{Path: "sentAt", Value: firestore.ServerTimestamp},
		{Path: "error", Value: arg.Error},
	}
	if arg.ErrorCode != "" {
		updates = append(updates, firestore.Update{Path: "errorCode", Value: arg.ErrorCode})
	}
	return s.markProcessed(ctx, arg.ID, updates)
}

// markProcessed applies the outcome only if no outcome exists yet, keeping
// sentAt write-once and the record immutable after processing.
func (s *Store) markProcessed(ctx context.Context, id string, updates []firestore.Update) error {
	ref := s.client.Collection(collectionNotifications).Doc(id)
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return database.ErrNoRows
		}
		if err != nil {
			return err
		}
		var notif database.Notification
		if err := snap.DataTo(&notif); err != nil {
			return err
		}
		if notif.Processed() {
			return nil
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		return xerrors.Errorf("mark notification %s: %w", id, err)
	}
	return nil
}

func (s *Store) InsertNotification(ctx context.Context, arg database.InsertNotificationParams) (database.Notification, error) {
	ref := s.client.Collection(collectionNotifications).NewDoc()
	notif := database.Notification{
		UserID:  arg.UserID,
		OrderID: arg.OrderID,
		Type:    arg.Type,
		Title:   arg.Title,
		Body:    arg.Body,
		Data:    arg.Data,
	}
	if _, err := ref.Create(ctx, notif); err != nil {
		return database.Notification{}, xerrors.Errorf("insert notification: %w", err)
	}
	notif.ID = ref.ID
	return notif, nil
}

func (s *Store) GetPendingOrdersBefore(ctx context.Context, cutoff time.Time) ([]database.Order, error) {
	iter := s.client.Collection(collectionOrders).
		Where("status", "==", database.OrderStatusPending).
		Where("orderDate", "<=", cutoff).
		Documents(ctx)
	defer iter.Stop()

	var orders []database.Order
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("query pending orders: %w", err)
		}
		var order database.Order
		if err := snap.DataTo(&order); err != nil {
			return nil, xerrors.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		order.ID = snap.Ref.ID
		orders = append(orders, order)
	}
	return orders, nil
}
