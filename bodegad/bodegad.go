// Package bodegad is the bodega server: an HTTP API for direct sends, topic
// broadcasts and payment-intent creation, plus the background notification
// dispatcher and reminder scanner.
package bodegad

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdr.dev/slog"

	"github.com/coder/quartz"

	"github.com/bodega-app/bodega/bodegad/database"
	"github.com/bodega-app/bodega/bodegad/httpmw"
	"github.com/bodega-app/bodega/bodegad/notifications"
	"github.com/bodega-app/bodega/bodegad/payments"
)

type Options struct {
	Logger   slog.Logger
	Database database.Store
	// Pusher sends composed push messages. The background dispatcher and the
	// synchronous endpoints share the same handler.
	Pusher   notifications.Handler
	Payments payments.Gateway
	Verifier httpmw.Verifier
	Clock    quartz.Clock

	PrometheusRegistry *prometheus.Registry
}

type API struct {
	Options

	// Handler serves all routes; mount it on an http.Server.
	Handler http.Handler
}

func New(opts Options) *API {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.PrometheusRegistry == nil {
		opts.PrometheusRegistry = prometheus.NewRegistry()
	}

	api := &API{Options: opts}

	r := chi.NewRouter()
	r.Use(
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			// Preflight responses are owned by the handlers; the payments
			// endpoint answers OPTIONS with 204 itself.
			OptionsPassthrough: true,
		}),
		httprate.LimitByIP(60, time.Minute),
	)

	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.PrometheusRegistry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/notifications", func(r chi.Router) {
			r.Use(httpmw.ExtractIdentity(opts.Verifier))
			r.Post("/direct", api.postDirectNotification)
			r.Post("/topic", api.postTopicNotification)
		})
		// All methods route to the handler, which answers OPTIONS and 405
		// itself per the payment clients' CORS contract.
		r.HandleFunc("/payments/intent", api.createPaymentIntent)
	})

	api.Handler = r
	return api
}
