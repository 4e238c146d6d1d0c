package bodegad

import (
	"net/http"

	"golang.org/x/xerrors"

	"cdr.dev/slog"

	"github.com/bodega-app/bodega/bodegad/database"
	"github.com/bodega-app/bodega/bodegad/httpapi"
	"github.com/bodega-app/bodega/bodegad/httpmw"
	"github.com/bodega-app/bodega/bodegad/notifications"
	"github.com/bodega-app/bodega/bodegasdk"
)

// postDirectNotification sends a push message to one user's registered
// device, resolving the address the same way the background dispatcher does.
// Nothing is persisted; the response is the only record of the outcome.
func (api *API) postDirectNotification(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !api.requireAdmin(rw, r, "Only admins can send direct notifications") {
		return
	}

	var req bodegasdk.SendDirectNotificationRequest
	if !httpapi.Read(rw, r, &req) {
		return
	}

	token, err := notifications.ResolveToken(ctx, api.Database, req.UserID)
	if xerrors.Is(err, notifications.ErrTokenNotFound) {
		httpapi.Error(rw, http.StatusNotFound, bodegasdk.ErrorCodeNotFound,
			"FCM token not found for user")
		return
	}
	if err != nil {
		httpapi.InternalError(rw, xerrors.Errorf("get FCM token: %w", err))
		return
	}

	api.send(rw, r, notifications.Message{
		Title: req.Title,
		Body:  req.Body,
		Data:  req.Data,
		Token: token,
	})
}

// postTopicNotification broadcasts to every device subscribed to a topic.
func (api *API) postTopicNotification(rw http.ResponseWriter, r *http.Request) {
	if !api.requireAdmin(rw, r, "Only admins can send topic notifications") {
		return
	}

	var req bodegasdk.SendTopicNotificationRequest
	if !httpapi.Read(rw, r, &req) {
		return
	}

	api.send(rw, r, notifications.Message{
		Title: req.Title,
		Body:  req.Body,
		Data:  req.Data,
		Topic: req.Topic,
	})
}

// requireAdmin reads the caller's profile record and rejects non-admins.
// Authentication itself already happened in the identity middleware.
func (api *API) requireAdmin(rw http.ResponseWriter, r *http.Request, denial string) bool {
	ctx := r.Context()
	identity := httpmw.RequestIdentity(r)

	caller, err := api.Database.GetUser(ctx, identity.UserID)
	if err != nil && !xerrors.Is(err, database.ErrNoRows) {
		httpapi.InternalError(rw, xerrors.Errorf("get caller profile: %w", err))
		return false
	}
	if !caller.IsAdmin {
		httpapi.Error(rw, http.StatusForbidden, bodegasdk.ErrorCodePermissionDenied, denial)
		return false
	}
	return true
}

// send makes the single gateway call and writes the synchronous result.
func (api *API) send(rw http.ResponseWriter, r *http.Request, msg notifications.Message) {
	ctx := r.Context()

	deliver, err := api.Pusher.Dispatcher(msg)
	if err != nil {
		httpapi.InternalError(rw, xerrors.Errorf("compose notification: %w", err))
		return
	}

	messageID, err := deliver(ctx)
	if err != nil {
		api.Logger.Warn(ctx, "direct send failed", slog.Error(err))
		httpapi.InternalError(rw, err)
		return
	}

	httpapi.Write(rw, http.StatusOK, bodegasdk.SendNotificationResponse{
		Success:   true,
		MessageID: messageID,
	})
}
