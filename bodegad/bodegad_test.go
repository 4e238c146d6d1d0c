package bodegad_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"cdr.dev/slog/sloggers/slogtest"

	"github.com/bodega-app/bodega/bodegad"
	"github.com/bodega-app/bodega/bodegad/database"
	"github.com/bodega-app/bodega/bodegad/httpmw"
	"github.com/bodega-app/bodega/bodegad/notifications"
	"github.com/bodega-app/bodega/bodegad/payments"
	"github.com/bodega-app/bodega/bodegasdk"
)

// Bearer tokens the fake verifier accepts.
const (
	adminToken  = "admin-token"
	memberToken = "member-token"
)

type fakeGateway struct {
	lastParams payments.CreateIntentParams
	calls      atomic.Int64
	intent     payments.Intent
	err        error
}

func (g *fakeGateway) CreateIntent(_ context.Context, params payments.CreateIntentParams) (payments.Intent, error) {
	g.lastParams = params
	g.calls.Add(1)
	if g.err != nil {
		return payments.Intent{}, g.err
	}
	return g.intent, nil
}

type fakePusher struct {
	last  notifications.Message
	calls atomic.Int64
	err   error
}

func (p *fakePusher) Dispatcher(msg notifications.Message) (notifications.DeliveryFunc, error) {
	return func(context.Context) (string, error) {
		p.last = msg
		p.calls.Add(1)
		if p.err != nil {
			return "", p.err
		}
		return "projects/test/messages/1", nil
	}, nil
}

// storeInterceptor counts reads so tests can prove an endpoint rejected
// before touching the store.
type storeInterceptor struct {
	database.Store
	reads atomic.Int64
}

func (s *storeInterceptor) GetUser(ctx context.Context, id string) (database.User, error) {
	s.reads.Add(1)
	return s.Store.GetUser(ctx, id)
}

func (s *storeInterceptor) GetDeviceToken(ctx context.Context, id string) (database.DeviceToken, error) {
	s.reads.Add(1)
	return s.Store.GetDeviceToken(ctx, id)
}

func testVerifier() httpmw.Verifier {
	return httpmw.VerifierFunc(func(_ context.Context, token string) (httpmw.Identity, error) {
		switch token {
		case adminToken:
			return httpmw.Identity{UserID: "admin-1"}, nil
		case memberToken:
			return httpmw.Identity{UserID: "member-1"}, nil
		default:
			return httpmw.Identity{}, xerrors.New("invalid token")
		}
	})
}

func newTestAPI(t *testing.T, store database.Store, pusher notifications.Handler, gateway payments.Gateway) *bodegad.API {
	t.Helper()
	return bodegad.New(bodegad.Options{
		Logger:   slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
		Database: store,
		Pusher:   pusher,
		Payments: gateway,
		Verifier: testVerifier(),
	})
}

func doJSON(t *testing.T, api *bodegad.API, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) bodegasdk.Response {
	t.Helper()
	var resp bodegasdk.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}
