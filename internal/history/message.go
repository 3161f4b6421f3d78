package history

import "time"

// Message is a single recorded chat message. Messages are write-only with
// respect to model context: the transcript sent to the API lives in the
// session, never here.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
