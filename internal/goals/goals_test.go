package goals

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Olwiba/KoruClub/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestSprintIDParityNormalization(t *testing.T) {
	cases := []struct {
		date time.Time
		want string
	}{
		// Odd ISO weeks open a cycle and keep their own label.
		{time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC), "2026-W07"},
		// Even weeks fold back onto the opening odd week.
		{time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC), "2026-W05"},
		// Both weeks of one cycle share a label.
		{time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC), "2026-W07"},
		// Week 2 of 2026 folds onto week 1, which starts in calendar 2025.
		{time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), "2026-W01"},
		{time.Date(2026, 12, 28, 10, 0, 0, 0, time.UTC), "2026-W53"},
		{time.Date(2027, 1, 4, 10, 0, 0, 0, time.UTC), "2027-W01"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, SprintID(tc.date), "for %s", tc.date.Format("2006-01-02"))
	}
}

func TestStoreAddCompleteCarryOver(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 9, 9, 30, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })

	g1, err := st.Add(ctx, -100, 7, "ari", "ship the onboarding flow")
	require.NoError(t, err)
	require.Equal(t, "2026-W07", g1.SprintID)

	g2, err := st.Add(ctx, -100, 7, "ari", "write three blog posts")
	require.NoError(t, err)

	_, err = st.Add(ctx, -100, 8, "blake", "run twice a week")
	require.NoError(t, err)

	active, err := st.ActiveForUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, g1.ID, active[0].ID)

	require.NoError(t, st.Complete(ctx, g1.ID))
	require.ErrorContains(t, st.Complete(ctx, g1.ID), "not active")

	active, err = st.ActiveForUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, g2.ID, active[0].ID)

	sprint, err := st.BySprint(ctx, "2026-W07")
	require.NoError(t, err)
	require.Len(t, sprint, 3)
	require.Equal(t, StatusCompleted, sprint[0].Status)
	require.NotNil(t, sprint[0].CompletedAt)

	// Month end: the two remaining active goals roll forward.
	carried, err := st.CarryOver(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, carried)

	active, err = st.ActiveForUser(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestExtractByPattern(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "capture phrase",
			text: "hey all! my goal is to launch the beta by friday.",
			want: []string{"launch the beta by friday"},
		},
		{
			name: "multiple lines and bullets",
			text: "this sprint:\n- finish the billing migration\n2) interview two candidates",
			want: []string{"finish the billing migration", "interview two candidates"},
		},
		{
			name: "i will",
			text: "I will read one chapter every night",
			want: []string{"read one chapter every night"},
		},
		{
			name: "no goal",
			text: "good morning everyone",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, extractByPattern(tc.text))
		})
	}
}

func TestDetectCompletion(t *testing.T) {
	active := []Goal{
		{ID: "a", Text: "launch the beta signup page"},
		{ID: "b", Text: "read one chapter every night"},
	}

	g, ok := DetectCompletion("just shipped the beta signup page!", active)
	require.True(t, ok)
	require.Equal(t, "a", g.ID)

	// Completion phrase without enough overlap binds to nothing.
	_, ok = DetectCompletion("finally done with my taxes", active)
	require.False(t, ok)

	// Overlap without a completion phrase is just chatter.
	_, ok = DetectCompletion("still working on the beta signup page", active)
	require.False(t, ok)

	_, ok = DetectCompletion("crossed off everything", nil)
	require.False(t, ok)
}
