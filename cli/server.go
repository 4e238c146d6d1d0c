package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
	"google.golang.org/api/option"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"

	"github.com/coder/serpent"

	"github.com/bodega-app/bodega/bodegad"
	"github.com/bodega-app/bodega/bodegad/database/dbfirestore"
	"github.com/bodega-app/bodega/bodegad/httpmw"
	"github.com/bodega-app/bodega/bodegad/notifications"
	"github.com/bodega-app/bodega/bodegad/notifications/dispatch"
	"github.com/bodega-app/bodega/bodegad/payments"
	"github.com/bodega-app/bodega/bodegad/reminders"
)

func server() *serpent.Command {
	var (
		address          string
		projectID        string
		credentialsFile  string
		stripeSecretKey  string
		dispatchInterval time.Duration
		reminderInterval time.Duration
		pendingAge       time.Duration
		verbose          bool
	)

	cmd := &serpent.Command{
		Use:   "server",
		Short: "Run the bodega server",
		Handler: func(inv *serpent.Invocation) error {
			ctx, stop := signal.NotifyContext(inv.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.Make(sloghuman.Sink(inv.Stderr))
			if verbose {
				logger = logger.Leveled(slog.LevelDebug)
			} else {
				logger = logger.Leveled(slog.LevelInfo)
			}

			if stripeSecretKey == "" {
				return xerrors.New("--stripe-secret-key (or $BODEGA_STRIPE_SECRET_KEY) is required")
			}

			// All gateway clients are constructed exactly once here and
			// injected; nothing below reaches for ambient globals.
			var fbOpts []option.ClientOption
			if credentialsFile != "" {
				fbOpts = append(fbOpts, option.WithCredentialsFile(credentialsFile))
			}
			fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, fbOpts...)
			if err != nil {
				return xerrors.Errorf("initialize firebase app: %w", err)
			}
			firestoreClient, err := fbApp.Firestore(ctx)
			if err != nil {
				return xerrors.Errorf("initialize firestore client: %w", err)
			}
			defer firestoreClient.Close()
			messagingClient, err := fbApp.Messaging(ctx)
			if err != nil {
				return xerrors.Errorf("initialize messaging client: %w", err)
			}
			authClient, err := fbApp.Auth(ctx)
			if err != nil {
				return xerrors.Errorf("initialize auth client: %w", err)
			}

			store := dbfirestore.New(firestoreClient)
			registry := prometheus.NewRegistry()
			pusher := dispatch.NewFCMHandler(messagingClient, logger)

			dispatcher := notifications.NewDispatcher(store, pusher, logger, notifications.DispatcherOptions{
				Interval: dispatchInterval,
				Metrics:  notifications.NewMetrics(registry),
			})
			scanner := reminders.NewScanner(store, logger, reminders.Options{
				Interval:   reminderInterval,
				PendingAge: pendingAge,
				Registerer: registry,
			})

			api := bodegad.New(bodegad.Options{
				Logger:             logger,
				Database:           store,
				Pusher:             pusher,
				Payments:           payments.NewStripeGateway(stripeSecretKey, nil),
				Verifier:           &httpmw.FirebaseVerifier{Client: authClient},
				PrometheusRegistry: registry,
			})

			dispatcher.Run(ctx)
			scanner.Run(ctx)

			srv := &http.Server{
				Addr:              address,
				Handler:           api.Handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info(ctx, "listening", slog.F("address", address))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return xerrors.Errorf("serve: %w", err)
			case <-ctx.Done():
			}

			logger.Info(context.Background(), "shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			_ = dispatcher.Stop(shutdownCtx)
			_ = scanner.Stop(shutdownCtx)
			return nil
		},
	}

	cmd.Options = serpent.OptionSet{
		{
			Flag:        "address",
			Env:         "BODEGA_ADDRESS",
			Default:     "127.0.0.1:8080",
			Description: "HTTP listen address.",
			Value:       serpent.StringOf(&address),
		},
		{
			Flag:        "project-id",
			Env:         "BODEGA_PROJECT_ID",
			Description: "Firebase project id. Discovered from credentials when empty.",
			Value:       serpent.StringOf(&projectID),
		},
		{
			Flag:        "credentials-file",
			Env:         "BODEGA_CREDENTIALS_FILE",
			Description: "Path to a service-account key. Application-default credentials are used when empty.",
			Value:       serpent.StringOf(&credentialsFile),
		},
		{
			Flag:        "stripe-secret-key",
			Env:         "BODEGA_STRIPE_SECRET_KEY",
			Description: "Stripe API secret key.",
			Value:       serpent.StringOf(&stripeSecretKey),
		},
		{
			Flag:        "dispatch-interval",
			Env:         "BODEGA_DISPATCH_INTERVAL",
			Default:     "15s",
			Description: "How often the dispatcher polls for unprocessed notifications.",
			Value:       serpent.DurationOf(&dispatchInterval),
		},
		{
			Flag:        "reminder-interval",
			Env:         "BODEGA_REMINDER_INTERVAL",
			Default:     "30m",
			Description: "How often the reminder scanner sweeps pending orders.",
			Value:       serpent.DurationOf(&reminderInterval),
		},
		{
			Flag:        "reminder-pending-age",
			Env:         "BODEGA_REMINDER_PENDING_AGE",
			Default:     "30m",
			Description: "How long an order may stay pending before it earns a reminder.",
			Value:       serpent.DurationOf(&pendingAge),
		},
		{
			Flag:          "verbose",
			FlagShorthand: "v",
			Env:           "BODEGA_VERBOSE",
			Description:   "Enable debug logging.",
			Value:         serpent.BoolOf(&verbose),
		},
	}
	return cmd
}
