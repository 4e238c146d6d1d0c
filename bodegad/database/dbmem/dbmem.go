// Package dbmem is an in-memory database.Store used by tests and local
// development.
package dbmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bodega-app/bodega/bodegad/database"
)

// New returns an in-memory implementation of database.Store.
func New() *Store {
	return &Store{
		deviceTokens:  make(map[string]database.DeviceToken),
		users:         make(map[string]database.User),
		notifications: make(map[string]*database.Notification),
	}
}

type Store struct {
	mu sync.Mutex

	deviceTokens  map[string]database.DeviceToken
	users         map[string]database.User
	notifications map[string]*database.Notification
	orders        []database.Order
}

var _ database.Store = (*Store)(nil)

func (s *Store) GetDeviceToken(_ context.Context, userID string) (database.DeviceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.deviceTokens[userID]
	if !ok {
		return database.DeviceToken{}, database.ErrNoRows
	}
	return token, nil
}

func (s *Store) GetUser(_ context.Context, userID string) (database.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return database.User{}, database.ErrNoRows
	}
	return user, nil
}

func (s *Store) AcquireUnsentNotifications(_ context.Context, arg database.AcquireUnsentNotificationsParams) ([]database.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var acquirable []*database.Notification
	for _, n := range s.notifications {
		if n.Processed() {
			continue
		}
		if n.LeasedUntil.After(arg.Now) {
			continue
		}
		acquirable = append(acquirable, n)
	}
	// Oldest first, for deterministic batches.
	sort.Slice(acquirable, func(i, j int) bool {
		return acquirable[i].CreatedAt.Before(acquirable[j].CreatedAt)
	})

	if arg.Count > 0 && len(acquirable) > arg.Count {
		acquirable = acquirable[:arg.Count]
	}

	acquired := make([]database.Notification, 0, len(acquirable))
	for _, n := range acquirable {
		n.LeasedUntil = arg.LeaseUntil
		acquired = append(acquired, *n)
	}
	return acquired, nil
}

func (s *Store) MarkNotificationSent(_ context.Context, arg database.MarkNotificationSentParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[arg.ID]
	if !ok {
		return database.ErrNoRows
	}
	if n.Processed() {
		return nil
	}
	sent := true
	sentAt := arg.SentAt
	n.Sent = &sent
	n.SentAt = &sentAt
	n.MessageID = arg.MessageID
	n.Error = ""
	n.ErrorCode = ""
	return nil
}

func (s *Store) MarkNotificationFailed(_ context.Context, arg database.MarkNotificationFailedParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[arg.ID]
	if !ok {
		return database.ErrNoRows
	}
	if n.Processed() {
		return nil
	}
	sent := false
	sentAt := arg.SentAt
	n.Sent = &sent
	n.SentAt = &sentAt
	n.Error = arg.Error
	n.ErrorCode = arg.ErrorCode
	return nil
}

func (s *Store) InsertNotification(_ context.Context, arg database.InsertNotificationParams) (database.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := &database.Notification{
		ID:        uuid.NewString(),
		UserID:    arg.UserID,
		OrderID:   arg.OrderID,
		Type:      arg.Type,
		Title:     arg.Title,
		Body:      arg.Body,
		Data:      arg.Data,
		CreatedAt: time.Now(),
	}
	s.notifications[n.ID] = n
	return *n, nil
}

func (s *Store) GetPendingOrdersBefore(_ context.Context, cutoff time.Time) ([]database.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []database.Order
	for _, order := range s.orders {
		if order.Status != database.OrderStatusPending {
			continue
		}
		if order.OrderDate.After(cutoff) {
			continue
		}
		pending = append(pending, order)
	}
	return pending, nil
}

// Seed helpers below are exported for tests only.

func (s *Store) UpsertDeviceToken(token database.DeviceToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceTokens[token.UserID] = token
}

func (s *Store) UpsertUser(user database.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *Store) InsertOrder(order database.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, order)
}

// GetNotification returns a copy of a stored notification.
func (s *Store) GetNotification(id string) (database.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return database.Notification{}, false
	}
	return *n, true
}

// Notifications returns copies of all stored notifications.
func (s *Store) Notifications() []database.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]database.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		all = append(all, *n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all
}
