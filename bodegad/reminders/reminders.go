// Package reminders periodically sweeps the order store for stale pending
// orders and creates reminder notification records for the dispatcher to
// deliver. It never sends anything itself.
package reminders

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bodega-app/bodega/bodegad/database"
	"github.com/bodega-app/bodega/bodegad/notifications"
)

const (
	// DefaultInterval is the sweep cadence; DefaultPendingAge is how long an
	// order may sit in "pending" before it earns a reminder. They are equal
	// on purpose, matching the documented every-30-minutes schedule.
	DefaultInterval   = 30 * time.Minute
	DefaultPendingAge = 30 * time.Minute

	reminderTitle = "Order reminder"
	reminderBody  = "Your order is awaiting confirmation. Please hold on a moment."
)

type Options struct {
	Interval   time.Duration
	PendingAge time.Duration
	Clock      quartz.Clock
	Registerer prometheus.Registerer
}

// Scanner runs the periodic sweep. Reminders are not suppressed by prior
// reminders: an order still pending on the next sweep gets another record.
type Scanner struct {
	store database.Store
	log   slog.Logger
	clock quartz.Clock
	opts  Options

	created prometheus.Counter
	failed  prometheus.Counter

	stopOnce sync.Once
	quit     chan any
	done     chan any
}

func NewScanner(store database.Store, log slog.Logger, opts Options) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.PendingAge <= 0 {
		opts.PendingAge = DefaultPendingAge
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Scanner{
		store: store,
		log:   log.Named("reminders"),
		clock: opts.Clock,
		opts:  opts,

		created: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "bodegad", Subsystem: "reminders", Name: "created_total",
			Help: "Reminder notification records created.",
		}),
		failed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "bodegad", Subsystem: "reminders", Name: "failed_total",
			Help: "Reminder creations that failed.",
		}),

		quit: make(chan any),
		done: make(chan any),
	}
}

// Run starts the sweep loop in the background. The first sweep happens after
// one full interval; a freshly booted server has nothing new to remind about.
func (s *Scanner) Run(ctx context.Context) {
	go func() {
		err := s.loop(ctx)
		if err != nil && !xerrors.Is(err, context.Canceled) {
			s.log.Error(ctx, "scanner stopped with error", slog.Error(err))
		}
	}()
}

func (s *Scanner) loop(ctx context.Context) error {
	defer func() {
		close(s.done)
		s.log.Info(context.Background(), "gracefully stopped")
	}()

	ticker := s.clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.quit:
			return nil
		case <-ticker.C:
		}

		if err := s.Sweep(ctx); err != nil {
			s.log.Error(ctx, "sweep failed", slog.Error(err))
		}
	}
}

// Sweep performs one scan: every order pending since before (now - age) gets
// one new reminder record. Creations fan out concurrently and the sweep joins
// only after all have settled; a single failure is counted and logged but
// never aborts the others.
func (s *Scanner) Sweep(ctx context.Context) error {
	cutoff := s.clock.Now().UTC().Add(-s.opts.PendingAge)

	orders, err := s.store.GetPendingOrdersBefore(ctx, cutoff)
	if err != nil {
		return xerrors.Errorf("query pending orders: %w", err)
	}
	s.log.Debug(ctx, "found stale pending orders", slog.F("count", len(orders)), slog.F("cutoff", cutoff))
	if len(orders) == 0 {
		return nil
	}

	var eg errgroup.Group
	for _, order := range orders {
		eg.Go(func() error {
			_, err := s.store.InsertNotification(ctx, database.InsertNotificationParams{
				UserID:  order.UserID,
				OrderID: order.ID,
				Type:    notifications.TypeOrderReminder,
				Title:   reminderTitle,
				Body:    reminderBody,
				Data: map[string]string{
					"orderId": order.ID,
					"type":    "reminder",
				},
			})
			if err != nil {
				s.failed.Inc()
				s.log.Warn(ctx, "failed to create reminder",
					slog.F("order_id", order.ID), slog.Error(err))
				return nil
			}
			s.created.Inc()
			return nil
		})
	}
	_ = eg.Wait()
	return nil
}

// Stop gracefully stops the loop.
func (s *Scanner) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.quit)
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-s.done:
		}
	})
	return err
}
