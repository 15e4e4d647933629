package ledger

import (
	"time"

	"github.com/Olwiba/KoruClub/internal/calendar"
)

// RunStatus is the closed set of job-run states. Transitions are one-way:
//
//	Pending -> Completed | Skipped | Failed
//	Missed  -> Manual
//
// Completed, Skipped, Failed and Manual are terminal. Missed never reverts.
// Anything else is a programming error and is rejected by the store.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusCompleted RunStatus = "completed"
	StatusSkipped   RunStatus = "skipped"
	StatusFailed    RunStatus = "failed"
	StatusMissed    RunStatus = "missed"
	StatusManual    RunStatus = "manual"
)

// JobRun is one evaluated-or-detected occurrence of a job type. At most one
// run exists per (JobType, ScheduledFor) pair; runs are mutated in place to
// their terminal status and never deleted.
type JobRun struct {
	ID            string
	JobType       calendar.JobType
	ScheduledFor  time.Time
	Status        RunStatus
	ExecutedAt    *time.Time
	SkippedReason string
	MessageID     string
	Error         string
}

// SchedulerState is the singleton heartbeat record bounding the reconciliation
// search window. Overwritten, never historized.
type SchedulerState struct {
	LastHeartbeat    time.Time
	SchedulerStarted time.Time
}
