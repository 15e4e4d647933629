package scheduler

import (
	"context"
	"time"

	"github.com/Olwiba/KoruClub/internal/calendar"
	"github.com/Olwiba/KoruClub/internal/ledger"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

// downtimeThreshold is the minimum heartbeat gap worth reconciling. Gaps
// below it are restarts and deploys, not outages.
const downtimeThreshold = 60 * time.Second

// Reconciler walks the downtime window between the last recorded heartbeat
// and now, recording every occurrence that should have fired as missed. It
// runs once at startup, before the scheduler starts, and never dispatches
// anything itself.
type Reconciler struct {
	cal    *calendar.Engine
	ledger *ledger.Store
	log    logx.Logger

	now func() time.Time
}

func NewReconciler(cal *calendar.Engine, st *ledger.Store, log logx.Logger) *Reconciler {
	return &Reconciler{cal: cal, ledger: st, log: log, now: time.Now}
}

// SetClock overrides the clock. Test hook.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Run performs the reconciliation pass and loads the resulting missed runs
// into the scheduler's display cache. A nil core skips the cache reload.
func (r *Reconciler) Run(ctx context.Context, core *Core) error {
	state, err := r.ledger.GetState(ctx)
	if err != nil {
		return err
	}

	now := r.now().In(r.cal.Location())

	if state == nil {
		// First run ever: no window to inspect, just set the baseline.
		r.log.Info("no scheduler state; recording baseline heartbeat")
		return r.ledger.Heartbeat(ctx)
	}

	last := state.LastHeartbeat.In(r.cal.Location())
	gap := now.Sub(last)
	if gap < downtimeThreshold {
		r.log.Debug("downtime below threshold; nothing to reconcile",
			logx.Duration("gap", gap))
		return r.ledger.Heartbeat(ctx)
	}

	r.log.Info("reconciling downtime window",
		logx.Time("from", last),
		logx.Time("to", now),
		logx.Duration("gap", gap))

	recorded := 0
	for _, jt := range calendar.AllJobTypes() {
		n, err := r.walkGap(ctx, jt, last, now)
		if err != nil {
			return err
		}
		recorded += n
	}
	if recorded > 0 {
		r.log.Warn("missed occurrences recorded during downtime", logx.Int("count", recorded))
	}

	if core != nil {
		missed, err := r.ledger.MissedJobs(ctx)
		if err != nil {
			r.log.Warn("missed job reload failed", logx.Err(err))
		} else {
			core.setMissedCache(missed)
		}
	}

	return r.ledger.Heartbeat(ctx)
}

// walkGap visits each calendar day the window touches and records the job's
// occurrence as missed when its instant falls strictly inside (last, now).
// Instants before the last heartbeat already had their chance to fire;
// instants at or after now belong to the live scheduler.
func (r *Reconciler) walkGap(ctx context.Context, jt calendar.JobType, last, now time.Time) (int, error) {
	recorded := 0
	for day := r.cal.Midnight(last); !day.After(now); day = day.AddDate(0, 0, 1) {
		if !r.cal.IsOccurrence(jt, day) {
			continue
		}
		at := r.cal.InstantFor(jt, day)
		if !at.After(last) || !at.Before(now) {
			continue
		}
		if err := r.ledger.RecordMissed(ctx, jt, at); err != nil {
			return recorded, err
		}
		r.log.Info("missed occurrence recorded",
			logx.String("job", jt.String()),
			logx.Time("scheduled_for", at))
		recorded++
	}
	return recorded, nil
}
