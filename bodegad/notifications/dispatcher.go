package notifications

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/quartz"

	"github.com/bodega-app/bodega/bodegad/database"
)

const (
	defaultInterval        = 15 * time.Second
	defaultLeasePeriod     = 2 * time.Minute
	defaultBatchSize       = 25
	defaultDispatchTimeout = 30 * time.Second
)

// DispatcherOptions tune the polling loop. Zero values fall back to sane
// defaults.
type DispatcherOptions struct {
	// Interval between store polls.
	Interval time.Duration
	// LeasePeriod is how long an acquired record is invisible to other
	// dispatcher passes. It must comfortably exceed DispatchTimeout.
	LeasePeriod time.Duration
	// BatchSize caps records claimed per pass.
	BatchSize int
	// DispatchTimeout bounds a single gateway call.
	DispatchTimeout time.Duration

	Clock   quartz.Clock
	Metrics *Metrics
}

// Dispatcher consumes unprocessed notification records and processes each
// through a pipeline of acquire -> resolve address -> compose -> deliver ->
// write back.
//
// Failures never propagate out of the loop: the write-back is the result.
// A record is attempted at most once per acquisition, and the store-side
// conditional acquire/mark keeps the outcome write-once under concurrent
// delivery.
type Dispatcher struct {
	store   database.Store
	handler Handler
	log     slog.Logger
	clock   quartz.Clock
	metrics *Metrics
	opts    DispatcherOptions

	stopOnce sync.Once
	quit     chan any
	done     chan any
}

func NewDispatcher(store database.Store, handler Handler, log slog.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.LeasePeriod <= 0 {
		opts.LeasePeriod = defaultLeasePeriod
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Dispatcher{
		store:   store,
		handler: handler,
		log:     log.Named("dispatcher"),
		clock:   opts.Clock,
		metrics: opts.Metrics,
		opts:    opts,

		quit: make(chan any),
		done: make(chan any),
	}
}

// Run starts the polling loop in the background. It returns immediately;
// use Stop for a graceful shutdown.
func (d *Dispatcher) Run(ctx context.Context) {
	go func() {
		err := d.loop(ctx)
		if err != nil && !xerrors.Is(err, context.Canceled) {
			d.log.Error(ctx, "dispatcher stopped with error", slog.Error(err))
		}
	}()
}

func (d *Dispatcher) loop(ctx context.Context) error {
	defer func() {
		close(d.done)
		d.log.Info(context.Background(), "gracefully stopped")
	}()

	ticker := d.clock.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	// Process immediately, then on every tick.
	for {
		if err := d.process(ctx); err != nil {
			d.log.Error(ctx, "failed to process notifications", slog.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.quit:
			return nil
		case <-ticker.C:
		}
	}
}

// process claims a batch of unprocessed records and dispatches them
// concurrently. Only store-level acquisition failures surface as an error;
// per-record failures become write-backs.
func (d *Dispatcher) process(ctx context.Context) error {
	now := d.clock.Now().UTC()
	msgs, err := d.store.AcquireUnsentNotifications(ctx, database.AcquireUnsentNotificationsParams{
		Count:      d.opts.BatchSize,
		LeaseUntil: now.Add(d.opts.LeasePeriod),
		Now:        now,
	})
	if err != nil {
		return xerrors.Errorf("acquire notifications: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	d.log.Debug(ctx, "acquired notifications", slog.F("count", len(msgs)))

	var eg errgroup.Group
	for _, msg := range msgs {
		eg.Go(func() error {
			d.dispatch(ctx, msg)
			return nil
		})
	}
	_ = eg.Wait()
	return nil
}

// dispatch processes a single record end to end. Every failure path records
// the outcome onto the record and returns; the triggering acquisition is
// always considered handled so the record is never redelivered.
func (d *Dispatcher) dispatch(ctx context.Context, notif database.Notification) {
	logger := d.log.With(slog.F("notification_id", notif.ID), slog.F("user_id", notif.UserID))

	token, err := ResolveToken(ctx, d.store, notif.UserID)
	if xerrors.Is(err, ErrTokenNotFound) {
		logger.Info(ctx, "no delivery address for user")
		d.writeFailure(ctx, logger, notif, ErrTokenNotFound.Error(), "")
		return
	}
	if err != nil {
		// Store unavailable mid-resolution. Recorded as data, swallowed.
		logger.Warn(ctx, "address resolution failed", slog.Error(err))
		d.writeFailure(ctx, logger, notif, err.Error(), "")
		return
	}

	msg := composeMessage(notif)
	msg.Token = token

	deliver, err := d.handler.Dispatcher(msg)
	if err != nil {
		logger.Warn(ctx, "dispatcher construction failed", slog.Error(err))
		d.writeFailure(ctx, logger, notif, err.Error(), "")
		return
	}

	dctx, cancel := context.WithTimeout(ctx, d.opts.DispatchTimeout)
	defer cancel()

	messageID, err := deliver(dctx)
	if err != nil {
		var typed *Error
		var code string
		if xerrors.As(err, &typed) {
			code = typed.Code
		}
		logger.Warn(ctx, "message dispatch failed", slog.Error(err))
		d.writeFailure(ctx, logger, notif, err.Error(), code)
		return
	}

	logger.Debug(ctx, "message dispatch succeeded", slog.F("message_id", messageID))
	d.metrics.DispatchedCount.WithLabelValues(ResultSent).Inc()
	err = d.store.MarkNotificationSent(ctx, database.MarkNotificationSentParams{
		ID:        notif.ID,
		MessageID: messageID,
		SentAt:    d.clock.Now().UTC(),
	})
	if err != nil {
		logger.Error(ctx, "failed to record dispatch outcome", slog.Error(err))
	}
}

func (d *Dispatcher) writeFailure(ctx context.Context, logger slog.Logger, notif database.Notification, message, code string) {
	d.metrics.DispatchedCount.WithLabelValues(ResultFailed).Inc()
	err := d.store.MarkNotificationFailed(ctx, database.MarkNotificationFailedParams{
		ID:        notif.ID,
		Error:     message,
		ErrorCode: code,
		SentAt:    d.clock.Now().UTC(),
	})
	if err != nil {
		logger.Error(ctx, "failed to record dispatch outcome", slog.Error(err))
	}
}

// composeMessage builds the outgoing push message: defaulted display strings
// and the fixed six-field data map the clients key off, with empty-string
// defaults so every key is always present.
func composeMessage(notif database.Notification) Message {
	title := notif.Title
	if title == "" {
		title = DefaultTitle
	}
	body := notif.Body
	if body == "" {
		body = DefaultBody
	}
	typ := notif.Type
	if typ == "" {
		typ = TypeOrderStatusUpdate
	}

	return Message{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"orderId":        notif.Data["orderId"],
			"newStatus":      notif.Data["newStatus"],
			"oldStatus":      notif.Data["oldStatus"],
			"orderNumber":    notif.Data["orderNumber"],
			"type":           typ,
			"notificationId": notif.ID,
		},
	}
}

// Stop gracefully stops the loop, waiting for the in-flight pass to finish.
func (d *Dispatcher) Stop(ctx context.Context) error {
	var err error
	d.stopOnce.Do(func() {
		close(d.quit)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-d.done:
		}
	})
	return err
}
