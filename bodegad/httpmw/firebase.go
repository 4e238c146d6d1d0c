package httpmw

import (
	"context"

	fbauth "firebase.google.com/go/v4/auth"
	"golang.org/x/xerrors"
)

// FirebaseVerifier verifies Firebase ID tokens issued to the mobile and web
// clients.
type FirebaseVerifier struct {
	Client *fbauth.Client
}

var _ Verifier = (*FirebaseVerifier)(nil)

func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	decoded, err := v.Client.VerifyIDToken(ctx, token)
	if err != nil {
		return Identity{}, xerrors.Errorf("verify id token: %w", err)
	}
	return Identity{UserID: decoded.UID}, nil
}
