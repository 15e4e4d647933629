package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Olwiba/KoruClub/internal/calendar"
	"github.com/Olwiba/KoruClub/internal/ledger"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

func newTestReconciler(st *ledger.Store, at time.Time) *Reconciler {
	r := NewReconciler(calendar.NewEngine(time.UTC), st, logx.Nop())
	r.SetClock(func() time.Time { return at })
	return r
}

func TestReconcileFirstRunRecordsBaseline(t *testing.T) {
	st := newTestLedger(t)
	ctx := context.Background()
	at := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return at })

	r := newTestReconciler(st, at)
	require.NoError(t, r.Run(ctx, nil))

	state, err := st.GetState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.True(t, state.LastHeartbeat.Equal(at))

	missed, err := st.MissedJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, missed)
}

func TestReconcileShortDowntimeOnlyHeartbeats(t *testing.T) {
	st := newTestLedger(t)
	ctx := context.Background()
	// Heartbeat 30 seconds before a window that contains a kickoff instant.
	last := time.Date(2026, 2, 2, 8, 59, 45, 0, time.UTC)
	st.SetClock(func() time.Time { return last })
	require.NoError(t, st.Heartbeat(ctx))

	now := last.Add(30 * time.Second)
	st.SetClock(func() time.Time { return now })
	r := newTestReconciler(st, now)
	require.NoError(t, r.Run(ctx, nil))

	missed, err := st.MissedJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, missed)

	state, err := st.GetState(ctx)
	require.NoError(t, err)
	require.True(t, state.LastHeartbeat.Equal(now))
}

func TestReconcileDowntimeWindow(t *testing.T) {
	st := newTestLedger(t)
	ctx := context.Background()
	// Down from Monday Feb 2nd 08:00 to Wednesday Feb 4th 10:00. The only
	// occurrence inside that window is the Feb 2nd kickoff: Feb 4th is the
	// first Wednesday, outside the check-in ranges, and no review, demo or
	// month-end instant falls in between.
	last := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return last })
	require.NoError(t, st.Heartbeat(ctx))

	now := time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })

	core := newTestCore(t, st, &fakeAdapter{}, now)
	r := newTestReconciler(st, now)
	require.NoError(t, r.Run(ctx, core))

	missed, err := st.MissedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	require.Equal(t, calendar.Kickoff, missed[0].JobType)
	require.True(t, missed[0].ScheduledFor.Equal(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)))
	require.Equal(t, ledger.StatusMissed, missed[0].Status)

	// The display cache picks up what reconciliation found.
	require.Len(t, core.MissedJobs(), 1)

	state, err := st.GetState(ctx)
	require.NoError(t, err)
	require.True(t, state.LastHeartbeat.Equal(now))
}

func TestReconcileWindowBoundsAreStrict(t *testing.T) {
	st := newTestLedger(t)
	ctx := context.Background()
	// Heartbeat exactly at the kickoff instant: that occurrence had its
	// chance to fire while the process was up, so it is not missed.
	last := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return last })
	require.NoError(t, st.Heartbeat(ctx))

	now := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })
	r := newTestReconciler(st, now)
	require.NoError(t, r.Run(ctx, nil))

	missed, err := st.MissedJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, missed)
}

func TestReconcileLongWindowFindsEachOccurrenceOnce(t *testing.T) {
	st := newTestLedger(t)
	ctx := context.Background()
	// Down across a week that covers a kickoff (Feb 2nd) and nothing else in
	// early February, then reconcile twice. RecordMissed is idempotent, so
	// the second pass must not duplicate rows.
	last := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return last })
	require.NoError(t, st.Heartbeat(ctx))

	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return now })
	r := newTestReconciler(st, now)
	require.NoError(t, r.Run(ctx, nil))

	// Rewind the heartbeat and reconcile the same window again.
	st.SetClock(func() time.Time { return last })
	require.NoError(t, st.Heartbeat(ctx))
	st.SetClock(func() time.Time { return now })
	require.NoError(t, r.Run(ctx, nil))

	missed, err := st.MissedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	require.Equal(t, calendar.Kickoff, missed[0].JobType)
}
