package bodegasdk

// SendDirectNotificationRequest targets a single user's registered device.
type SendDirectNotificationRequest struct {
	UserID string            `json:"userId" validate:"required"`
	Title  string            `json:"title" validate:"required"`
	Body   string            `json:"body" validate:"required"`
	Data   map[string]string `json:"data,omitempty"`
}

// SendTopicNotificationRequest fans out to every device subscribed to a topic.
type SendTopicNotificationRequest struct {
	Topic string            `json:"topic" validate:"required"`
	Title string            `json:"title" validate:"required"`
	Body  string            `json:"body" validate:"required"`
	Data  map[string]string `json:"data,omitempty"`
}

type SendNotificationResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}
