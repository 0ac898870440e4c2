package reconcile

import "time"

// RefreshFailedMessage is shown when a recovery reload itself fails.
const RefreshFailedMessage = "failed to refresh tasks, please retry"

// Notice is a user-visible, dismissible notification.
type Notice struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
