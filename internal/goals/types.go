// Package goals tracks per-member sprint goals: capture from chat, storage,
// completion detection and month-end carry-over.
package goals

import "time"

// GoalStatus is the lifecycle of a captured goal.
type GoalStatus string

const (
	StatusActive    GoalStatus = "active"
	StatusCompleted GoalStatus = "completed"
	StatusCarried   GoalStatus = "carried"
)

// Goal is one captured commitment. Text is stored as the member phrased it,
// minus the capture prefix.
type Goal struct {
	ID          string
	ChatID      int64
	UserID      int64
	Username    string
	Text        string
	Status      GoalStatus
	SprintID    string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
