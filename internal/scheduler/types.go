package scheduler

import (
	"context"
	"time"

	"github.com/Olwiba/KoruClub/internal/calendar"
	"github.com/Olwiba/KoruClub/internal/ledger"
	"github.com/Olwiba/KoruClub/internal/transport"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

// State is the scheduler lifecycle. There are no package-level singletons;
// a Core instance owns its trigger handles and this flag.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// RetryPolicy bounds dispatch attempts. Backoff is linear: the delay before
// retry n is Base*n.
type RetryPolicy struct {
	Max  int
	Base time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Max <= 0 {
		p.Max = 3
	}
	if p.Base <= 0 {
		p.Base = 2 * time.Second
	}
	return p
}

// Config wires the Core's collaborators.
type Config struct {
	Calendar   *calendar.Engine
	Ledger     *ledger.Store
	Dispatcher transport.Adapter
	Retry      RetryPolicy
	Log        logx.Logger

	// HeartbeatEvery defaults to 60s.
	HeartbeatEvery time.Duration

	// OnMonthEnd runs after a month-end message goes out (goal carry-over).
	OnMonthEnd func(ctx context.Context)
}

// sleepFunc lets tests observe and collapse the retry delays.
type sleepFunc func(ctx context.Context, d time.Duration)
