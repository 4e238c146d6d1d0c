package notifications_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/slogtest"

	"github.com/bodega-app/bodega/bodegad/database"
	"github.com/bodega-app/bodega/bodegad/database/dbmem"
	"github.com/bodega-app/bodega/bodegad/notifications"
)

const testWait = 10 * time.Second

func testLogger(t *testing.T) slog.Logger {
	return slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}).Leveled(slog.LevelDebug)
}

// fakeHandler records every composed message and can be told to fail.
type fakeHandler struct {
	mu        sync.Mutex
	messages  []notifications.Message
	sendCount atomic.Int64

	err       error
	messageID string
}

func (h *fakeHandler) Dispatcher(msg notifications.Message) (notifications.DeliveryFunc, error) {
	return func(_ context.Context) (string, error) {
		h.mu.Lock()
		h.messages = append(h.messages, msg)
		h.mu.Unlock()
		h.sendCount.Add(1)
		if h.err != nil {
			return "", h.err
		}
		if h.messageID != "" {
			return h.messageID, nil
		}
		return "projects/test/messages/1", nil
	}, nil
}

func (h *fakeHandler) sent() []notifications.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]notifications.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// writeInterceptor counts outcome write-backs passing through to the store.
type writeInterceptor struct {
	database.Store
	markedSent   atomic.Int64
	markedFailed atomic.Int64
}

func (w *writeInterceptor) MarkNotificationSent(ctx context.Context, arg database.MarkNotificationSentParams) error {
	w.markedSent.Add(1)
	return w.Store.MarkNotificationSent(ctx, arg)
}

func (w *writeInterceptor) MarkNotificationFailed(ctx context.Context, arg database.MarkNotificationFailedParams) error {
	w.markedFailed.Add(1)
	return w.Store.MarkNotificationFailed(ctx, arg)
}

func runDispatcher(t *testing.T, store database.Store, handler notifications.Handler) {
	t.Helper()
	dispatcher := notifications.NewDispatcher(store, handler, testLogger(t), notifications.DispatcherOptions{
		// The first pass runs immediately; the interval only matters for
		// subsequent ones, which these tests never reach.
		Interval: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	dispatcher.Run(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), testWait)
		defer stopCancel()
		_ = dispatcher.Stop(stopCtx)
	})
}

func TestDispatcher_Delivers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dbmem.New()
	store.UpsertDeviceToken(database.DeviceToken{UserID: "user-1", Token: "registry-token"})

	notif, err := store.InsertNotification(ctx, database.InsertNotificationParams{
		UserID: "user-1",
		Type:   notifications.TypeOrderStatusUpdate,
		Title:  "Order confirmed",
		Body:   "Your order #42 was confirmed",
		Data: map[string]string{
			"orderId":     "order-42",
			"newStatus":   "confirmed",
			"oldStatus":   "pending",
			"orderNumber": "42",
		},
	})
	require.NoError(t, err)

	handler := &fakeHandler{messageID: "projects/test/messages/abc"}
	runDispatcher(t, store, handler)

	require.Eventually(t, func() bool {
		got, ok := store.GetNotification(notif.ID)
		return ok && got.Processed()
	}, testWait, 10*time.Millisecond)

	got, _ := store.GetNotification(notif.ID)
	require.NotNil(t, got.Sent)
	assert.True(t, *got.Sent)
	assert.Equal(t, "projects/test/messages/abc", got.MessageID)
	assert.NotNil(t, got.SentAt)
	assert.Empty(t, got.Error)

	msgs := handler.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "registry-token", msgs[0].Token)
	assert.Equal(t, "Order confirmed", msgs[0].Title)
	assert.Equal(t, map[string]string{
		"orderId":        "order-42",
		"newStatus":      "confirmed",
		"oldStatus":      "pending",
		"orderNumber":    "42",
		"type":           notifications.TypeOrderStatusUpdate,
		"notificationId": notif.ID,
	}, msgs[0].Data)
}

func TestDispatcher_DefaultsAndProfileFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dbmem.New()
	// No registry record: the profile's embedded token is the fallback.
	store.UpsertUser(database.User{ID: "user-2", FCMToken: "profile-token"})

	notif, err := store.InsertNotification(ctx, database.InsertNotificationParams{
		UserID: "user-2",
	})
	require.NoError(t, err)

	handler := &fakeHandler{}
	runDispatcher(t, store, handler)

	require.Eventually(t, func() bool {
		got, ok := store.GetNotification(notif.ID)
		return ok && got.Processed()
	}, testWait, 10*time.Millisecond)

	msgs := handler.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "profile-token", msgs[0].Token)
	assert.Equal(t, notifications.DefaultTitle, msgs[0].Title)
	assert.Equal(t, notifications.DefaultBody, msgs[0].Body)
	assert.Equal(t, notifications.TypeOrderStatusUpdate, msgs[0].Data["type"])
	assert.Equal(t, "", msgs[0].Data["orderId"])
}

func TestDispatcher_NoToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dbmem.New()

	notif, err := store.InsertNotification(ctx, database.InsertNotificationParams{
		UserID: "user-without-token",
	})
	require.NoError(t, err)

	handler := &fakeHandler{}
	runDispatcher(t, store, handler)

	require.Eventually(t, func() bool {
		got, ok := store.GetNotification(notif.ID)
		return ok && got.Processed()
	}, testWait, 10*time.Millisecond)

	got, _ := store.GetNotification(notif.ID)
	require.NotNil(t, got.Sent)
	assert.False(t, *got.Sent)
	assert.Equal(t, "No FCM token found", got.Error)
	assert.NotNil(t, got.SentAt)
	// Terminal failure: the gateway was never called.
	assert.Zero(t, handler.sendCount.Load())
}

func TestDispatcher_GatewayFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dbmem.New()
	store.UpsertDeviceToken(database.DeviceToken{UserID: "user-3", Token: "tok"})

	notif, err := store.InsertNotification(ctx, database.InsertNotificationParams{
		UserID: "user-3",
	})
	require.NoError(t, err)

	handler := &fakeHandler{err: &notifications.Error{
		Code: "messaging/registration-token-not-registered",
		Err:  xerrors.New("requested entity was not found"),
	}}
	runDispatcher(t, store, handler)

	require.Eventually(t, func() bool {
		got, ok := store.GetNotification(notif.ID)
		return ok && got.Processed()
	}, testWait, 10*time.Millisecond)

	got, _ := store.GetNotification(notif.ID)
	require.NotNil(t, got.Sent)
	assert.False(t, *got.Sent)
	assert.Equal(t, "requested entity was not found", got.Error)
	assert.Equal(t, "messaging/registration-token-not-registered", got.ErrorCode)
	assert.Empty(t, got.MessageID)
	// At-most-one attempt: no retries after the failure.
	assert.EqualValues(t, 1, handler.sendCount.Load())
}

func TestDispatcher_ResolutionError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dbmem.New()
	notif, err := store.InsertNotification(ctx, database.InsertNotificationParams{
		UserID: "user-4",
	})
	require.NoError(t, err)

	// Token lookups blow up; the failure must be recorded, not raised.
	failing := &failingTokenStore{Store: store, err: xerrors.New("store unavailable")}
	handler := &fakeHandler{}
	runDispatcher(t, failing, handler)

	require.Eventually(t, func() bool {
		got, ok := store.GetNotification(notif.ID)
		return ok && got.Processed()
	}, testWait, 10*time.Millisecond)

	got, _ := store.GetNotification(notif.ID)
	require.NotNil(t, got.Sent)
	assert.False(t, *got.Sent)
	assert.Contains(t, got.Error, "store unavailable")
	assert.Zero(t, handler.sendCount.Load())
}

func TestDispatcher_ProcessedRecordUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := dbmem.New()
	store.UpsertDeviceToken(database.DeviceToken{UserID: "user-5", Token: "tok"})

	done, err := store.InsertNotification(ctx, database.InsertNotificationParams{UserID: "user-5"})
	require.NoError(t, err)
	sentAt := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, store.MarkNotificationSent(ctx, database.MarkNotificationSentParams{
		ID: done.ID, MessageID: "already-sent", SentAt: sentAt,
	}))

	// A control record proves the pass ran to completion.
	control, err := store.InsertNotification(ctx, database.InsertNotificationParams{UserID: "user-5"})
	require.NoError(t, err)

	interceptor := &writeInterceptor{Store: store}
	handler := &fakeHandler{}
	runDispatcher(t, interceptor, handler)

	require.Eventually(t, func() bool {
		got, ok := store.GetNotification(control.ID)
		return ok && got.Processed()
	}, testWait, 10*time.Millisecond)

	// Only the control record produced a gateway call and a write-back; the
	// processed record was never acquired.
	assert.EqualValues(t, 1, handler.sendCount.Load())
	assert.EqualValues(t, 1, interceptor.markedSent.Load())
	assert.Zero(t, interceptor.markedFailed.Load())

	got, _ := store.GetNotification(done.ID)
	assert.Equal(t, "already-sent", got.MessageID)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(sentAt))
}

type failingTokenStore struct {
	database.Store
	err error
}

func (s *failingTokenStore) GetDeviceToken(context.Context, string) (database.DeviceToken, error) {
	return database.DeviceToken{}, s.err
}

func (s *failingTokenStore) GetUser(context.Context, string) (database.User, error) {
	return database.User{}, s.err
}
