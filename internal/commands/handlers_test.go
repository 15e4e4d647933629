package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Olwiba/KoruClub/internal/calendar"
	"github.com/Olwiba/KoruClub/internal/goals"
	"github.com/Olwiba/KoruClub/internal/ledger"
	"github.com/Olwiba/KoruClub/internal/llm"
	"github.com/Olwiba/KoruClub/internal/scheduler"
	"github.com/Olwiba/KoruClub/internal/storage"
	"github.com/Olwiba/KoruClub/internal/transport"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

type fixture struct {
	adapter  *fakeAdapter
	handlers *Handlers
	ledger   *ledger.Store
	goals    *goals.Store
}

func newFixture(t *testing.T, at time.Time) *fixture {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "bot.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	adapter := &fakeAdapter{}
	cal := calendar.NewEngine(time.UTC)
	led := ledger.NewStore(db)
	gst := goals.NewStore(db)
	gst.SetClock(func() time.Time { return at })

	core := scheduler.New(scheduler.Config{
		Calendar:   cal,
		Ledger:     led,
		Dispatcher: adapter,
		Log:        logx.Nop(),
	})
	core.SetClock(func() time.Time { return at })

	ex := goals.NewExtractor(llm.NewClient(llm.Config{}, logx.Nop()), logx.Nop())
	h := NewHandlers(core, adapter, cal, led, gst, ex, transport.ChatTarget{ChatID: -100}, logx.Nop())
	h.SetClock(func() time.Time { return at })

	return &fixture{adapter: adapter, handlers: h, ledger: led, goals: gst}
}

func (f *fixture) request(fromID int64, args ...string) *Request {
	return &Request{
		Chat:    transport.ChatTarget{ChatID: -100},
		FromID:  fromID,
		Args:    args,
		Adapter: f.adapter,
		Log:     logx.Nop(),
	}
}

func TestGoalCommands(t *testing.T) {
	f := newFixture(t, time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, f.handlers.cmdGoal(ctx, f.request(7, "ship", "the", "beta")))
	require.Contains(t, f.adapter.lastSent(), "2026-W07")
	require.Contains(t, f.adapter.lastSent(), "ship the beta")

	require.NoError(t, f.handlers.cmdGoals(ctx, f.request(7)))
	require.Contains(t, f.adapter.lastSent(), "1. ship the beta")

	require.NoError(t, f.handlers.cmdDone(ctx, f.request(7, "1")))
	require.Contains(t, f.adapter.lastSent(), "Completed: ship the beta")

	require.NoError(t, f.handlers.cmdGoals(ctx, f.request(7)))
	require.Contains(t, f.adapter.lastSent(), "No active goals")

	require.NoError(t, f.handlers.cmdDone(ctx, f.request(7, "5")))
	require.Contains(t, f.adapter.lastSent(), "0 active goal")
}

func TestTriggerReportsMissedResolution(t *testing.T) {
	f := newFixture(t, time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	missedAt := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.ledger.RecordMissed(ctx, calendar.Kickoff, missedAt))

	require.NoError(t, f.handlers.cmdTrigger(ctx, f.request(1, "kickoff")))
	require.Contains(t, f.adapter.lastSent(), "resolved a missed run")

	// No missed run left: a second trigger just sends.
	require.NoError(t, f.handlers.cmdTrigger(ctx, f.request(1, "kickoff")))
	require.NotContains(t, f.adapter.lastSent(), "resolved")

	require.NoError(t, f.handlers.cmdTrigger(ctx, f.request(1, "whatever")))
	require.Contains(t, f.adapter.lastSent(), "unknown job type")
}

func TestFreeTextCompletionClaim(t *testing.T) {
	// Outside any collection window; completion claims still work.
	f := newFixture(t, time.Date(2026, 2, 9, 20, 0, 0, 0, time.UTC))
	ctx := context.Background()

	_, err := f.goals.Add(ctx, -100, 7, "ari", "launch the beta signup page")
	require.NoError(t, err)

	f.handlers.FreeText(ctx, transport.Message{
		ChatID: -100, FromID: 7, FromUsername: "ari",
		Text: "just shipped the beta signup page", IsGroup: true,
	})
	require.Contains(t, f.adapter.lastSent(), "Marked complete for @ari")

	active, err := f.goals.ActiveForUser(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestFreeTextCaptureRequiresOpenWindow(t *testing.T) {
	// Monday Feb 2nd 2026: kickoff fired and completed at 09:00, message
	// arrives at 09:40, inside the collection window.
	at := time.Date(2026, 2, 2, 9, 40, 0, 0, time.UTC)
	f := newFixture(t, at)
	ctx := context.Background()

	kickoffAt := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	runID, err := f.ledger.RecordFired(ctx, calendar.Kickoff, kickoffAt)
	require.NoError(t, err)
	require.NoError(t, f.ledger.RecordCompleted(ctx, runID, "11"))

	f.handlers.FreeText(ctx, transport.Message{
		ChatID: -100, FromID: 7, FromUsername: "ari",
		Text: "my goal is to finish the billing migration", IsGroup: true,
	})
	require.Contains(t, f.adapter.lastSent(), "Recorded 1 goal(s)")

	active, err := f.goals.ActiveForUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "finish the billing migration", active[0].Text)
}

func TestFreeTextCaptureClosedWindow(t *testing.T) {
	// Same Monday but 13:00: window closed, chatter is ignored.
	at := time.Date(2026, 2, 2, 13, 0, 0, 0, time.UTC)
	f := newFixture(t, at)
	ctx := context.Background()

	kickoffAt := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	runID, err := f.ledger.RecordFired(ctx, calendar.Kickoff, kickoffAt)
	require.NoError(t, err)
	require.NoError(t, f.ledger.RecordCompleted(ctx, runID, "11"))

	f.handlers.FreeText(ctx, transport.Message{
		ChatID: -100, FromID: 7, Text: "my goal is to finish the billing migration", IsGroup: true,
	})

	active, err := f.goals.ActiveForUser(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, active)
}
