package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Olwiba/KoruClub/internal/calendar"
	"github.com/Olwiba/KoruClub/internal/goals"
	"github.com/Olwiba/KoruClub/internal/ledger"
	"github.com/Olwiba/KoruClub/internal/scheduler"
	"github.com/Olwiba/KoruClub/internal/transport"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

// collectionWindow is how long after a kickoff or check-in prompt free-text
// messages are treated as goal statements.
const collectionWindow = 2 * time.Hour

// Handlers binds the command table to the bot's collaborators.
type Handlers struct {
	core      *scheduler.Core
	adapter   transport.Adapter
	cal       *calendar.Engine
	ledger    *ledger.Store
	goals     *goals.Store
	extractor *goals.Extractor
	group     transport.ChatTarget
	log       logx.Logger

	now func() time.Time
}

func NewHandlers(core *scheduler.Core, adapter transport.Adapter, cal *calendar.Engine,
	led *ledger.Store, gst *goals.Store, ex *goals.Extractor,
	group transport.ChatTarget, log logx.Logger) *Handlers {
	return &Handlers{
		core:      core,
		adapter:   adapter,
		cal:       cal,
		ledger:    led,
		goals:     gst,
		extractor: ex,
		group:     group,
		log:       log,
		now:       time.Now,
	}
}

// SetClock overrides the clock. Test hook.
func (h *Handlers) SetClock(now func() time.Time) { h.now = now }

func (h *Handlers) Commands() []Command {
	return []Command{
		{
			Route:       "goal",
			Description: "record a sprint goal",
			Usage:       "/goal <text>",
			Access:      AccessEveryone,
			Handle:      h.cmdGoal,
		},
		{
			Route:       "goals",
			Description: "list your active goals",
			Usage:       "/goals",
			Access:      AccessEveryone,
			Handle:      h.cmdGoals,
		},
		{
			Route:       "done",
			Description: "mark one of your goals completed",
			Usage:       "/done <number>",
			Access:      AccessEveryone,
			Handle:      h.cmdDone,
		},
		{
			Route:       "sprint",
			Description: "show the current sprint and its goals",
			Usage:       "/sprint",
			Access:      AccessEveryone,
			Handle:      h.cmdSprint,
		},
		{
			Route:       "schedule",
			Description: "control the sprint scheduler",
			Usage:       "/schedule start|stop|status",
			Access:      AccessOwnerOnly,
			Handle:      h.cmdSchedule,
		},
		{
			Route:       "missed",
			Description: "list jobs missed during downtime",
			Usage:       "/missed",
			Access:      AccessEveryone,
			Handle:      h.cmdMissed,
		},
		{
			Route:       "trigger",
			Description: "manually send a job's message",
			Usage:       "/trigger <kickoff|checkin|review|demo|monthend>",
			Access:      AccessOwnerOnly,
			Handle:      h.cmdTrigger,
		},
	}
}

func (h *Handlers) cmdGoal(ctx context.Context, req *Request) error {
	text := strings.TrimSpace(strings.Join(req.Args, " "))
	if text == "" {
		return req.Reply(ctx, "usage: /goal <text>")
	}
	g, err := h.goals.Add(ctx, req.Chat.ChatID, req.FromID, req.Username, text)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Goal recorded for %s: %s", g.SprintID, g.Text))
}

func (h *Handlers) cmdGoals(ctx context.Context, req *Request) error {
	active, err := h.goals.ActiveForUser(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return req.Reply(ctx, "No active goals. Set one with /goal <text>.")
	}
	var b strings.Builder
	b.WriteString("Your active goals:\n")
	for i, g := range active {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, g.Text, g.SprintID)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (h *Handlers) cmdDone(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "usage: /done <number> (see /goals)")
	}
	n, err := strconv.Atoi(req.Args[0])
	if err != nil || n < 1 {
		return req.Reply(ctx, "usage: /done <number> (see /goals)")
	}
	active, err := h.goals.ActiveForUser(ctx, req.FromID)
	if err != nil {
		return err
	}
	if n > len(active) {
		return req.Reply(ctx, fmt.Sprintf("You have %d active goal(s).", len(active)))
	}
	g := active[n-1]
	if err := h.goals.Complete(ctx, g.ID); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("Nice! Completed: %s", g.Text))
}

func (h *Handlers) cmdSprint(ctx context.Context, req *Request) error {
	sprintID := goals.SprintID(h.now())
	all, err := h.goals.BySprint(ctx, sprintID)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sprint %s\n", sprintID)
	if len(all) == 0 {
		b.WriteString("No goals recorded yet.")
		return req.Reply(ctx, b.String())
	}
	for _, g := range all {
		mark := " "
		switch g.Status {
		case goals.StatusCompleted:
			mark = "x"
		case goals.StatusCarried:
			mark = ">"
		}
		name := g.Username
		if name == "" {
			name = strconv.FormatInt(g.UserID, 10)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", mark, name, g.Text)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (h *Handlers) cmdSchedule(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "usage: /schedule start|stop|status")
	}
	switch req.Args[0] {
	case "start":
		if h.core.Start(h.group) {
			return req.Reply(ctx, "Scheduler started.")
		}
		return req.Reply(ctx, "Scheduler is already running.")
	case "stop":
		h.core.Stop()
		return req.Reply(ctx, "Scheduler stopped.")
	case "status":
		return req.Reply(ctx, h.statusText())
	default:
		return req.Reply(ctx, "usage: /schedule start|stop|status")
	}
}

func (h *Handlers) statusText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduler: %s\n", h.core.State())
	b.WriteString("Upcoming:\n")
	for _, occ := range h.core.NextOccurrences() {
		fmt.Fprintf(&b, "  %s at %s\n", occ.Label, occ.At.Format("Mon Jan 2 15:04"))
	}
	if missed := h.core.MissedJobs(); len(missed) > 0 {
		fmt.Fprintf(&b, "Missed: %d (see /missed)\n", len(missed))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handlers) cmdMissed(ctx context.Context, req *Request) error {
	missed, err := h.ledger.MissedJobs(ctx)
	if err != nil {
		return err
	}
	if len(missed) == 0 {
		return req.Reply(ctx, "No missed jobs.")
	}
	var b strings.Builder
	b.WriteString("Missed while down:\n")
	for _, run := range missed {
		fmt.Fprintf(&b, "  %s scheduled %s\n",
			run.JobType.Label(), run.ScheduledFor.Format("Mon Jan 2 15:04"))
	}
	b.WriteString("Resolve one with /trigger <job>.")
	return req.Reply(ctx, b.String())
}

func (h *Handlers) cmdTrigger(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, "usage: /trigger <kickoff|checkin|review|demo|monthend>")
	}
	jt, err := calendar.ParseJobType(req.Args[0])
	if err != nil {
		return req.Reply(ctx, err.Error())
	}

	sent, resolved, err := h.core.ManualTrigger(ctx, jt, h.group)
	if err != nil {
		return err
	}
	if !sent {
		return req.Reply(ctx, "Send failed; nothing recorded.")
	}
	if resolved {
		return req.Reply(ctx, fmt.Sprintf("%s sent; resolved a missed run.", jt.Label()))
	}
	return req.Reply(ctx, fmt.Sprintf("%s sent.", jt.Label()))
}

// FreeText handles non-command group chatter: completion claims first, then
// goal capture while a collection window is open.
func (h *Handlers) FreeText(ctx context.Context, msg transport.Message) {
	active, err := h.goals.ActiveForUser(ctx, msg.FromID)
	if err != nil {
		h.log.Warn("active goal lookup failed", logx.Err(err))
		return
	}

	if g, ok := goals.DetectCompletion(msg.Text, active); ok {
		if err := h.goals.Complete(ctx, g.ID); err != nil {
			h.log.Warn("goal completion failed", logx.Err(err))
			return
		}
		h.replyTo(ctx, msg, fmt.Sprintf("Marked complete for %s: %s", displayName(msg), g.Text))
		return
	}

	if !h.collectionWindowOpen(ctx) {
		return
	}
	found := h.extractor.Extract(ctx, msg.Text)
	if len(found) == 0 {
		return
	}
	for _, text := range found {
		if _, err := h.goals.Add(ctx, msg.ChatID, msg.FromID, msg.FromUsername, text); err != nil {
			h.log.Warn("goal capture failed", logx.Err(err))
			return
		}
	}
	h.replyTo(ctx, msg, fmt.Sprintf("Recorded %d goal(s) for %s. Check them with /goals.",
		len(found), displayName(msg)))
}

// collectionWindowOpen reports whether a kickoff or check-in prompt went out
// recently enough that plain messages should be read as goal statements.
func (h *Handlers) collectionWindowOpen(ctx context.Context) bool {
	now := h.now().In(h.cal.Location())
	for _, jt := range []calendar.JobType{calendar.Kickoff, calendar.CheckIn} {
		at, ok := h.cal.MostRecentOccurrence(jt, now)
		if !ok || now.Sub(at) > collectionWindow {
			continue
		}
		run, err := h.ledger.GetRun(ctx, jt, at)
		if err != nil {
			h.log.Warn("run lookup failed", logx.Err(err))
			continue
		}
		if run != nil && (run.Status == ledger.StatusCompleted || run.Status == ledger.StatusManual) {
			return true
		}
	}
	return false
}

func (h *Handlers) replyTo(ctx context.Context, msg transport.Message, text string) {
	_, err := h.adapter.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID}, text, nil)
	if err != nil {
		h.log.Warn("reply failed", logx.Err(err))
	}
}

func displayName(msg transport.Message) string {
	if msg.FromUsername != "" {
		return "@" + msg.FromUsername
	}
	return strconv.FormatInt(msg.FromID, 10)
}
