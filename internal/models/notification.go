package models

import "time"

// Notification is a queued fan-out message. The engine only decides that
// a notification is warranted and who receives it; delivery is an external
// concern.
type Notification struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	StudentID  string    `json:"student_id,omitempty"`
	CaseID     string    `json:"case_id,omitempty"`
	Message    string    `json:"message"`
	Recipients []string  `json:"recipients"`
	CreatedAt  time.Time `json:"created_at"`
}
