package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// CreatedNotification is the creation boundary result.
type CreatedNotification struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type UnreadCount struct {
	Count int64 `json:"count"`
}

type DeletedCount struct {
	Deleted int64 `json:"deleted"`
}
