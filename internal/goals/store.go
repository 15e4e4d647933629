package goals

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const timeFormat = time.RFC3339Nano

// Store persists goals in the shared bot database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the clock. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Add records a new active goal for the current sprint and returns it.
func (s *Store) Add(ctx context.Context, chatID, userID int64, username, text string) (Goal, error) {
	now := s.now()
	g := Goal{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    userID,
		Username:  username,
		Text:      text,
		Status:    StatusActive,
		SprintID:  SprintID(now),
		CreatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, chat_id, user_id, username, text, status, sprint_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.ChatID, g.UserID, g.Username, g.Text, string(g.Status), g.SprintID,
		g.CreatedAt.UTC().Format(timeFormat))
	if err != nil {
		return Goal{}, errors.Wrap(err, "insert goal")
	}
	return g, nil
}

// ActiveForUser returns the user's active goals, oldest first.
func (s *Store) ActiveForUser(ctx context.Context, userID int64) ([]Goal, error) {
	return s.query(ctx, `
		SELECT id, chat_id, user_id, username, text, status, sprint_id, created_at, completed_at
		FROM goals WHERE user_id = ? AND status = ? ORDER BY created_at ASC`,
		userID, string(StatusActive))
}

// BySprint returns every goal captured for the given sprint, oldest first.
func (s *Store) BySprint(ctx context.Context, sprintID string) ([]Goal, error) {
	return s.query(ctx, `
		SELECT id, chat_id, user_id, username, text, status, sprint_id, created_at, completed_at
		FROM goals WHERE sprint_id = ? ORDER BY created_at ASC`,
		sprintID)
}

// Complete marks one goal completed. Completing a non-active goal is an error.
func (s *Store) Complete(ctx context.Context, goalID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(StatusCompleted), s.now().UTC().Format(timeFormat), goalID, string(StatusActive))
	if err != nil {
		return errors.Wrap(err, "complete goal")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "complete goal rows")
	}
	if n == 0 {
		return errors.Newf("goal %s is not active", goalID)
	}
	return nil
}

// CarryOver flags every remaining active goal as carried into the next
// sprint and returns how many were carried. Run at month end.
func (s *Store) CarryOver(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET status = ? WHERE status = ?`,
		string(StatusCarried), string(StatusActive))
	if err != nil {
		return 0, errors.Wrap(err, "carry over goals")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "carry over rows")
	}
	return int(n), nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query goals")
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		var (
			g           Goal
			status      string
			username    sql.NullString
			createdAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.ChatID, &g.UserID, &username, &g.Text, &status,
			&g.SprintID, &createdAt, &completedAt); err != nil {
			return nil, errors.Wrap(err, "scan goal")
		}
		g.Status = GoalStatus(status)
		g.Username = username.String
		if g.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, errors.Wrapf(err, "goal %s created_at", g.ID)
		}
		if completedAt.Valid {
			t, err := time.Parse(timeFormat, completedAt.String)
			if err != nil {
				return nil, errors.Wrapf(err, "goal %s completed_at", g.ID)
			}
			g.CompletedAt = &t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
