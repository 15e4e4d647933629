// Package scheduler owns the five recurring sprint triggers, the per-tick
// evaluation protocol, the heartbeat cadence, and startup reconciliation of
// occurrences that fell into a downtime window.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Olwiba/KoruClub/internal/calendar"
	"github.com/Olwiba/KoruClub/internal/ledger"
	"github.com/Olwiba/KoruClub/internal/transport"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

// Core drives the sprint cadence. One instance per process; the command
// layer holds it, nothing global.
type Core struct {
	cal        *calendar.Engine
	ledger     *ledger.Store
	dispatcher transport.Adapter
	retry      RetryPolicy
	log        logx.Logger
	hbEvery    time.Duration
	onMonthEnd func(ctx context.Context)

	now   func() time.Time
	sleep sleepFunc

	mu    sync.Mutex
	state State
	cron  *cron.Cron
	dest  transport.ChatTarget

	// display cache: refreshed after every evaluation, cleared on Stop.
	dispMu sync.RWMutex
	next   []calendar.NextOccurrence
	missed []ledger.JobRun
}

func New(cfg Config) *Core {
	hb := cfg.HeartbeatEvery
	if hb <= 0 {
		hb = 60 * time.Second
	}
	return &Core{
		cal:        cfg.Calendar,
		ledger:     cfg.Ledger,
		dispatcher: cfg.Dispatcher,
		retry:      cfg.Retry.withDefaults(),
		log:        cfg.Log,
		hbEvery:    hb,
		onMonthEnd: cfg.OnMonthEnd,
		now:        time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// SetClock and SetSleep override timing primitives. Test hooks.
func (c *Core) SetClock(now func() time.Time) { c.now = now }
func (c *Core) SetSleep(fn sleepFunc)         { c.sleep = fn }

// Start registers the five triggers plus the heartbeat interval and marks
// the scheduler active. If already active it reports false and registers
// nothing; duplicate triggers must never coexist.
func (c *Core) Start(dest transport.ChatTarget) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Active {
		c.log.Debug("start requested but scheduler already active")
		return false
	}

	cr := cron.New(cron.WithLocation(c.cal.Location()))
	for _, jt := range calendar.AllJobTypes() {
		jt := jt
		if _, err := cr.AddFunc(cronSpecFor(jt), func() { c.evaluate(jt) }); err != nil {
			// Specs are static; a parse failure is a defect, not a runtime
			// condition. Log and keep the remaining triggers.
			c.log.Error("trigger registration failed", logx.String("job", jt.String()), logx.Err(err))
		}
	}
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", c.hbEvery), func() { c.beat() }); err != nil {
		c.log.Error("heartbeat registration failed", logx.Err(err))
	}

	c.cron = cr
	c.dest = dest
	c.state = Active
	cr.Start()

	// Heartbeat once immediately so downtime windows close on start.
	c.beat()
	c.refreshNext()

	c.log.Info("scheduler started",
		logx.Int64("dest", dest.ChatID),
		logx.String("tz", c.cal.Location().String()))
	return true
}

// Stop cancels all triggers and the heartbeat, marks the scheduler inactive
// and clears the display cache. Stopping an inactive scheduler is a no-op.
// An in-flight retry loop started by an earlier tick runs to completion;
// future ticks are prevented because their registrations are gone.
func (c *Core) Stop() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	wasActive := c.state == Active
	c.state = Inactive
	c.mu.Unlock()

	if cr != nil {
		cr.Stop()
	}

	c.dispMu.Lock()
	c.next = nil
	c.missed = nil
	c.dispMu.Unlock()

	if wasActive {
		c.log.Info("scheduler stopped")
	}
}

func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Core) Destination() transport.ChatTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dest
}

// NextOccurrences returns the cached display list (live-computed when empty).
func (c *Core) NextOccurrences() []calendar.NextOccurrence {
	c.dispMu.RLock()
	cached := c.next
	c.dispMu.RUnlock()
	if cached != nil {
		return cached
	}
	return c.cal.AllNextOccurrences(c.now())
}

// MissedJobs returns the cached missed-run list.
func (c *Core) MissedJobs() []ledger.JobRun {
	c.dispMu.RLock()
	defer c.dispMu.RUnlock()
	return c.missed
}

func (c *Core) setMissedCache(runs []ledger.JobRun) {
	c.dispMu.Lock()
	c.missed = runs
	c.dispMu.Unlock()
}

func (c *Core) refreshNext() {
	occ := c.cal.AllNextOccurrences(c.now())
	c.dispMu.Lock()
	c.next = occ
	c.dispMu.Unlock()
}

// cronSpecFor maps a job type's static time-of-day onto a coarse tick:
// weekday jobs fire weekly on their weekday, MonthEnd fires daily and lets
// the calendar predicate decide.
func cronSpecFor(jt calendar.JobType) string {
	h, m := jt.Clock()
	if wd, ok := jt.Weekday(); ok {
		return fmt.Sprintf("%d %d * * %d", m, h, int(wd))
	}
	return fmt.Sprintf("%d %d * * *", m, h)
}

func (c *Core) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.ledger.Heartbeat(ctx); err != nil {
		c.log.Warn("heartbeat write failed", logx.Err(err))
	}
}

// evaluate runs the per-tick protocol for one job type. The trigger has
// fired; the calendar rule decides whether today is a real occurrence.
// Retries are not cancelled by Stop, so the context here is deliberately
// detached from the run context.
func (c *Core) evaluate(jt calendar.JobType) {
	ctx := context.Background()
	now := c.now().In(c.cal.Location())
	scheduledFor := c.cal.InstantFor(jt, now)

	runID, err := c.ledger.RecordFired(ctx, jt, scheduledFor)
	if err != nil {
		// Persistence trouble must not crash the scheduling loop.
		c.log.Error("record fired failed", logx.String("job", jt.String()), logx.Err(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in trigger evaluation", logx.String("job", jt.String()), logx.Any("panic", r))
			_ = c.ledger.RecordFailed(ctx, runID, fmt.Sprintf("panic: %v", r))
		}
		c.refreshNext()
	}()

	if !c.cal.IsOccurrence(jt, now) {
		reason := c.cal.SkipReason(jt, now)
		if err := c.ledger.RecordSkipped(ctx, runID, reason); err != nil {
			c.log.Warn("record skipped failed", logx.String("job", jt.String()), logx.Err(err))
		}
		c.log.Debug("tick skipped", logx.String("job", jt.String()), logx.String("reason", reason))
		return
	}

	ref, err := c.dispatch(ctx, jt, c.Destination())
	if err != nil {
		c.log.Warn("dispatch failed after retries", logx.String("job", jt.String()), logx.Err(err))
		if lerr := c.ledger.RecordFailed(ctx, runID, err.Error()); lerr != nil {
			c.log.Error("record failed failed", logx.String("job", jt.String()), logx.Err(lerr))
		}
		return
	}

	if err := c.ledger.RecordCompleted(ctx, runID, strconv.Itoa(ref.MessageID)); err != nil {
		c.log.Error("record completed failed", logx.String("job", jt.String()), logx.Err(err))
		return
	}
	if jt == calendar.MonthEnd && c.onMonthEnd != nil {
		c.onMonthEnd(ctx)
	}
	c.log.Info("sprint message sent",
		logx.String("job", jt.String()),
		logx.Time("scheduled_for", scheduledFor),
		logx.Int("message_id", ref.MessageID))
}

// dispatch sends the job's fixed message with bounded linear-backoff retry:
// up to Max attempts, delay Base*attempt between them. Sequential and
// blocking; the caller records the outcome after it returns.
func (c *Core) dispatch(ctx context.Context, jt calendar.JobType, dest transport.ChatTarget) (transport.MessageRef, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.Max; attempt++ {
		ref, err := c.dispatcher.SendText(ctx, dest, MessageFor(jt), nil)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		if attempt < c.retry.Max {
			delay := c.retry.Base * time.Duration(attempt)
			c.log.Debug("send failed; retrying",
				logx.String("job", jt.String()),
				logx.Int("attempt", attempt),
				logx.Duration("delay", delay),
				logx.Err(err))
			c.sleep(ctx, delay)
		}
	}
	return transport.MessageRef{}, fmt.Errorf("send %s after %d attempts: %w", jt, c.retry.Max, lastErr)
}

// ManualTrigger sends a job's message outside the normal tick and resolves
// the most recent missed run of that type if one exists. Returns whether the
// send happened and whether a missed run was resolved. The destination is
// explicit so manual triggers work while the scheduler is inactive.
func (c *Core) ManualTrigger(ctx context.Context, jt calendar.JobType, dest transport.ChatTarget) (sent bool, resolvedMissed bool, err error) {
	ref, err := c.dispatch(ctx, jt, dest)
	if err != nil {
		return false, false, err
	}

	resolvedMissed, err = c.ledger.RecordManualTrigger(ctx, jt, strconv.Itoa(ref.MessageID))
	if err != nil {
		// The message went out; surface the ledger failure but report the send.
		return true, false, err
	}

	missed, lerr := c.ledger.MissedJobs(ctx)
	if lerr == nil {
		c.setMissedCache(missed)
	}
	c.refreshNext()
	return true, resolvedMissed, nil
}
