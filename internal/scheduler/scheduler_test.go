package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Olwiba/KoruClub/internal/calendar"
	"github.com/Olwiba/KoruClub/internal/ledger"
	"github.com/Olwiba/KoruClub/internal/storage"
	"github.com/Olwiba/KoruClub/internal/transport"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

type fakeAdapter struct {
	mu     sync.Mutex
	sent   []string
	fail   error
	nextID int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                               { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return transport.MessageRef{}, f.fail
	}
	f.nextID++
	f.sent = append(f.sent, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return ledger.NewStore(db)
}

func newTestCore(t *testing.T, st *ledger.Store, adapter transport.Adapter, at time.Time) *Core {
	t.Helper()
	c := New(Config{
		Calendar:   calendar.NewEngine(time.UTC),
		Ledger:     st,
		Dispatcher: adapter,
		Retry:      RetryPolicy{Max: 3, Base: 2 * time.Second},
		Log:        logx.Nop(),
	})
	c.SetClock(func() time.Time { return at })
	c.SetSleep(func(ctx context.Context, d time.Duration) {})
	return c
}

func TestEvaluateQualifyingDayCompletes(t *testing.T) {
	st := newTestLedger(t)
	adapter := &fakeAdapter{}
	// Monday February 2nd 2026, day 2, first-occurrence range.
	at := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	c := newTestCore(t, st, adapter, at)
	c.dest = transport.ChatTarget{ChatID: -100}

	c.evaluate(calendar.Kickoff)

	require.Equal(t, 1, adapter.sentCount())
	run, err := st.GetRun(context.Background(), calendar.Kickoff, at)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, ledger.StatusCompleted, run.Status)
	require.Equal(t, "1", run.MessageID)
	require.NotNil(t, run.ExecutedAt)
}

func TestEvaluateNonQualifyingDaySkips(t *testing.T) {
	st := newTestLedger(t)
	adapter := &fakeAdapter{}
	// Monday February 9th 2026 is the second Monday; kickoff wants 1st or 3rd.
	at := time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC)
	c := newTestCore(t, st, adapter, at)

	c.evaluate(calendar.Kickoff)

	require.Zero(t, adapter.sentCount())
	run, err := st.GetRun(context.Background(), calendar.Kickoff, at)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, ledger.StatusSkipped, run.Status)
	require.NotEmpty(t, run.SkippedReason)
}

func TestDispatchRetryExhaustion(t *testing.T) {
	st := newTestLedger(t)
	adapter := &fakeAdapter{fail: errors.New("telegram unreachable")}
	at := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	c := newTestCore(t, st, adapter, at)

	var delays []time.Duration
	c.SetSleep(func(ctx context.Context, d time.Duration) { delays = append(delays, d) })

	c.evaluate(calendar.Kickoff)

	// Linear backoff between attempts: base, then 2*base. No sleep after
	// the final attempt.
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)

	run, err := st.GetRun(context.Background(), calendar.Kickoff, at)
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, ledger.StatusFailed, run.Status)
	require.Contains(t, run.Error, "after 3 attempts")
	require.Contains(t, run.Error, "telegram unreachable")
}

func TestStartStopIdempotence(t *testing.T) {
	st := newTestLedger(t)
	c := newTestCore(t, st, &fakeAdapter{}, time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC))
	dest := transport.ChatTarget{ChatID: -42}

	require.Equal(t, Inactive, c.State())
	require.True(t, c.Start(dest))
	require.Equal(t, Active, c.State())
	require.Equal(t, dest, c.Destination())

	// Second start must not register a duplicate trigger set.
	require.False(t, c.Start(dest))

	c.Stop()
	require.Equal(t, Inactive, c.State())
	c.Stop() // stopping again is a no-op

	// A full restart is allowed after a stop.
	require.True(t, c.Start(dest))
	c.Stop()
}

func TestStartWritesHeartbeat(t *testing.T) {
	st := newTestLedger(t)
	at := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return at })
	c := newTestCore(t, st, &fakeAdapter{}, at)

	require.True(t, c.Start(transport.ChatTarget{ChatID: -42}))
	defer c.Stop()

	state, err := st.GetState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)
	require.True(t, state.LastHeartbeat.Equal(at))
}

func TestManualTriggerWithoutMissedRun(t *testing.T) {
	st := newTestLedger(t)
	adapter := &fakeAdapter{}
	at := time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return at })
	c := newTestCore(t, st, adapter, at)

	sent, resolved, err := c.ManualTrigger(context.Background(), calendar.CheckIn, transport.ChatTarget{ChatID: -7})
	require.NoError(t, err)
	require.True(t, sent)
	require.False(t, resolved)
	require.Equal(t, 1, adapter.sentCount())
}

func TestManualTriggerResolvesMissedRun(t *testing.T) {
	st := newTestLedger(t)
	adapter := &fakeAdapter{}
	ctx := context.Background()
	missedAt := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.RecordMissed(ctx, calendar.Kickoff, missedAt))

	c := newTestCore(t, st, adapter, missedAt.Add(48*time.Hour))

	sent, resolved, err := c.ManualTrigger(ctx, calendar.Kickoff, transport.ChatTarget{ChatID: -7})
	require.NoError(t, err)
	require.True(t, sent)
	require.True(t, resolved)

	run, err := st.GetRun(ctx, calendar.Kickoff, missedAt)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusManual, run.Status)
	require.Empty(t, c.MissedJobs())
}

func TestMonthEndHookRunsAfterSend(t *testing.T) {
	st := newTestLedger(t)
	adapter := &fakeAdapter{}
	// Saturday February 28th 2026 is the last day of the month.
	at := time.Date(2026, 2, 28, 18, 0, 0, 0, time.UTC)

	hooked := false
	c := New(Config{
		Calendar:   calendar.NewEngine(time.UTC),
		Ledger:     st,
		Dispatcher: adapter,
		Log:        logx.Nop(),
		OnMonthEnd: func(ctx context.Context) { hooked = true },
	})
	c.SetClock(func() time.Time { return at })

	c.evaluate(calendar.MonthEnd)
	require.True(t, hooked)

	// The hook only fires on month end, not on other completed jobs.
	hooked = false
	c.SetClock(func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) })
	c.evaluate(calendar.Kickoff)
	require.False(t, hooked)
}

func TestCronSpecFor(t *testing.T) {
	require.Equal(t, "0 9 * * 1", cronSpecFor(calendar.Kickoff))
	require.Equal(t, "30 9 * * 3", cronSpecFor(calendar.CheckIn))
	require.Equal(t, "0 16 * * 5", cronSpecFor(calendar.Review))
	require.Equal(t, "0 10 * * 6", cronSpecFor(calendar.Demo))
	require.Equal(t, "0 18 * * *", cronSpecFor(calendar.MonthEnd))
}
