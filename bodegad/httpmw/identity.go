// Package httpmw contains the HTTP middleware used by bodegad.
package httpmw

import (
	"context"
	"net/http"
	"strings"

	"github.com/bodega-app/bodega/bodegad/httpapi"
	"github.com/bodega-app/bodega/bodegasdk"
)

type identityContextKey struct{}

// Identity is the per-request caller context resolved from the external
// identity provider. It carries only the opaque caller id; admin status is
// read from the caller's profile record, not from here.
type Identity struct {
	UserID string
}

// Verifier checks a bearer token against the identity provider and returns
// the caller it belongs to.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// RequestIdentity returns the identity stored by ExtractIdentity. It panics
// when called from a handler not routed through the middleware, since that is
// a programming error.
func RequestIdentity(r *http.Request) Identity {
	identity, ok := r.Context().Value(identityContextKey{}).(Identity)
	if !ok {
		panic("developer error: identity middleware not provided")
	}
	return identity
}

// ExtractIdentity authenticates the request with the identity provider. It
// rejects with 401 unauthenticated before any other work happens; handlers
// behind it can rely on RequestIdentity being populated.
func ExtractIdentity(verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				httpapi.Error(rw, http.StatusUnauthorized, bodegasdk.ErrorCodeUnauthenticated,
					"User must be authenticated to send notifications")
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				httpapi.Error(rw, http.StatusUnauthorized, bodegasdk.ErrorCodeUnauthenticated,
					"User must be authenticated to send notifications")
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
