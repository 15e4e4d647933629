// Package ledger is the durable record of every scheduled-job evaluation:
// fired, skipped, completed, failed, missed, or manually resolved. It also
// holds the scheduler heartbeat used for downtime detection.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/Olwiba/KoruClub/internal/calendar"
)

// timeFormat matches the rest of the store: RFC3339Nano in UTC, so the exact
// (job_type, scheduled_for) equality check in RecordMissed is a plain string
// comparison.
const timeFormat = time.RFC3339Nano

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the wall clock. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func encodeTime(t time.Time) string { return t.UTC().Format(timeFormat) }
func decodeTime(raw string) (time.Time, error) {
	return time.Parse(timeFormat, raw)
}

// RecordFired inserts a Pending run for a live tick and returns its id.
func (s *Store) RecordFired(ctx context.Context, jt calendar.JobType, scheduledFor time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, job_type, scheduled_for, status) VALUES (?, ?, ?, ?)`,
		id, jt.String(), encodeTime(scheduledFor), string(StatusPending),
	)
	if err != nil {
		return "", errors.Wrapf(err, "record fired %s", jt)
	}
	return id, nil
}

// RecordSkipped transitions a Pending run to Skipped.
func (s *Store) RecordSkipped(ctx context.Context, runID, reason string) error {
	return s.finishPending(ctx, runID, StatusSkipped, "skipped_reason", reason)
}

// RecordCompleted transitions a Pending run to Completed, attaching the
// dispatched message id.
func (s *Store) RecordCompleted(ctx context.Context, runID, messageID string) error {
	return s.finishPending(ctx, runID, StatusCompleted, "message_id", messageID)
}

// RecordFailed transitions a Pending run to Failed with the captured error text.
func (s *Store) RecordFailed(ctx context.Context, runID, errText string) error {
	return s.finishPending(ctx, runID, StatusFailed, "err", errText)
}

// finishPending applies one of the allowed Pending -> terminal transitions.
// A zero row count means the run was not Pending (or does not exist); that is
// a programming error and it fails loudly instead of overwriting.
func (s *Store) finishPending(ctx context.Context, runID string, to RunStatus, column, value string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, executed_at = ?, `+column+` = ? WHERE id = ? AND status = ?`,
		string(to), encodeTime(s.now()), value, runID, string(StatusPending),
	)
	if err != nil {
		return errors.Wrapf(err, "transition run %s to %s", runID, to)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Newf("run %s is not pending; refusing transition to %s", runID, to)
	}
	return nil
}

// RecordMissed inserts a Missed run for an occurrence that fell inside a
// downtime window. Idempotent: a no-op when any run already exists for the
// exact (jobType, scheduledFor) pair.
func (s *Store) RecordMissed(ctx context.Context, jt calendar.JobType, scheduledFor time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, job_type, scheduled_for, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT (job_type, scheduled_for) DO NOTHING`,
		uuid.NewString(), jt.String(), encodeTime(scheduledFor), string(StatusMissed),
	)
	if err != nil {
		return errors.Wrapf(err, "record missed %s", jt)
	}
	return nil
}

// RecordManualTrigger resolves the most recent Missed run of the job type to
// Manual, or inserts a fresh Manual run when none exists. The whole operation
// is one transaction: it either fully applies or not at all. Returns whether
// a missed run was resolved.
func (s *Store) RecordManualTrigger(ctx context.Context, jt calendar.JobType, messageID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "begin manual trigger")
	}
	defer func() { _ = tx.Rollback() }()

	now := encodeTime(s.now())

	var runID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM job_runs WHERE job_type = ? AND status = ? ORDER BY scheduled_for DESC LIMIT 1`,
		jt.String(), string(StatusMissed),
	).Scan(&runID)

	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx,
			`UPDATE job_runs SET status = ?, executed_at = ?, message_id = ? WHERE id = ?`,
			string(StatusManual), now, nullIfEmpty(messageID), runID,
		)
		if err != nil {
			return false, errors.Wrap(err, "resolve missed run")
		}
		if err := tx.Commit(); err != nil {
			return false, errors.Wrap(err, "commit manual trigger")
		}
		return true, nil

	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO job_runs (id, job_type, scheduled_for, status, executed_at, message_id)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), jt.String(), now, string(StatusManual), now, nullIfEmpty(messageID),
		)
		if err != nil {
			return false, errors.Wrap(err, "insert manual run")
		}
		if err := tx.Commit(); err != nil {
			return false, errors.Wrap(err, "commit manual trigger")
		}
		return false, nil

	default:
		return false, errors.Wrap(err, "find missed run")
	}
}

// Heartbeat upserts the singleton state row. The first-ever call also stamps
// schedulerStarted; later calls leave it untouched.
func (s *Store) Heartbeat(ctx context.Context) error {
	now := encodeTime(s.now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_state (id, last_heartbeat, scheduler_started) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET last_heartbeat = excluded.last_heartbeat`,
		now, now,
	)
	if err != nil {
		return errors.Wrap(err, "heartbeat")
	}
	return nil
}

// GetState returns the singleton scheduler state, or nil before the first
// heartbeat.
func (s *Store) GetState(ctx context.Context) (*SchedulerState, error) {
	var hb, started string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_heartbeat, scheduler_started FROM scheduler_state WHERE id = 1`,
	).Scan(&hb, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get state")
	}

	st := &SchedulerState{}
	if st.LastHeartbeat, err = decodeTime(hb); err != nil {
		return nil, errors.Wrap(err, "decode last_heartbeat")
	}
	if st.SchedulerStarted, err = decodeTime(started); err != nil {
		return nil, errors.Wrap(err, "decode scheduler_started")
	}
	return st, nil
}

// MissedJobs returns all runs currently Missed, ascending by scheduled instant.
func (s *Store) MissedJobs(ctx context.Context) ([]JobRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_type, scheduled_for, status, executed_at, skipped_reason, message_id, err
		 FROM job_runs WHERE status = ? ORDER BY scheduled_for ASC`,
		string(StatusMissed),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list missed jobs")
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// GetRun fetches the run for an exact (jobType, scheduledFor) pair, or nil.
func (s *Store) GetRun(ctx context.Context, jt calendar.JobType, scheduledFor time.Time) (*JobRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_type, scheduled_for, status, executed_at, skipped_reason, message_id, err
		 FROM job_runs WHERE job_type = ? AND scheduled_for = ?`,
		jt.String(), encodeTime(scheduledFor),
	)
	if err != nil {
		return nil, errors.Wrap(err, "get run")
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	run, err := scanRun(rows)
	if err != nil {
		return nil, err
	}
	return &run, rows.Err()
}

func scanRun(rows *sql.Rows) (JobRun, error) {
	var (
		run                          JobRun
		jobType, scheduledFor, state string
		executedAt                   sql.NullString
		reason, messageID, errText   sql.NullString
	)
	if err := rows.Scan(&run.ID, &jobType, &scheduledFor, &state, &executedAt, &reason, &messageID, &errText); err != nil {
		return JobRun{}, errors.Wrap(err, "scan run")
	}

	jt, err := calendar.ParseJobType(jobType)
	if err != nil {
		return JobRun{}, err
	}
	run.JobType = jt
	run.Status = RunStatus(state)

	if run.ScheduledFor, err = decodeTime(scheduledFor); err != nil {
		return JobRun{}, errors.Wrap(err, "decode scheduled_for")
	}
	if executedAt.Valid {
		t, err := decodeTime(executedAt.String)
		if err != nil {
			return JobRun{}, errors.Wrap(err, "decode executed_at")
		}
		run.ExecutedAt = &t
	}
	run.SkippedReason = reason.String
	run.MessageID = messageID.String
	run.Error = errText.String
	return run, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
