package bodegasdk

// ErrorCode classifies a request failure in a caller-facing way. The
// notification endpoints use the closed category set below; the payments
// endpoint uses the title constants in payments.go. Handlers never invent
// codes outside of these.
type ErrorCode string

const (
	ErrorCodeUnauthenticated  ErrorCode = "unauthenticated"
	ErrorCodePermissionDenied ErrorCode = "permission-denied"
	ErrorCodeInvalidArgument  ErrorCode = "invalid-argument"
	ErrorCodeNotFound         ErrorCode = "not-found"
	ErrorCodeInternal         ErrorCode = "internal"
)

// Response is the structured error body returned by every API endpoint on
// failure.
type Response struct {
	Error   ErrorCode `json:"error"`
	Message string    `json:"message"`
}
