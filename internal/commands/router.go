// Package commands routes chat updates to handlers. The routing table is
// flat: one token per command, remaining tokens become arguments. Non-command
// group text flows to an optional free-text handler for goal capture.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Olwiba/KoruClub/internal/transport"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Route       string
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}

// Request carries one parsed command invocation.
type Request struct {
	Chat     transport.ChatTarget
	FromID   int64
	Username string
	Command  string
	Args     []string

	Adapter transport.Adapter
	Log     logx.Logger
}

// Reply sends text back to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

const handlerTimeout = 30 * time.Second

// Router matches updates against the registered command table. One worker
// drains the job queue so handlers never block the update loop.
type Router struct {
	mu     sync.RWMutex
	cmds   map[string]Command
	order  []string
	owners []int64

	adapter  transport.Adapter
	log      logx.Logger
	freeText func(ctx context.Context, msg transport.Message)

	jobs chan func()
}

func NewRouter(adapter transport.Adapter, log logx.Logger, owners []int64) *Router {
	return &Router{
		cmds:    map[string]Command{},
		owners:  append([]int64(nil), owners...),
		adapter: adapter,
		log:     log,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners swaps the owner list. Safe during config hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetFreeTextHandler installs the handler for non-command group messages.
func (r *Router) SetFreeTextHandler(fn func(ctx context.Context, msg transport.Message)) {
	r.mu.Lock()
	r.freeText = fn
	r.mu.Unlock()
}

// Register replaces the command table. A /help command is always injected.
func (r *Router) Register(cmds []Command) {
	table := map[string]Command{}
	var order []string
	for _, c := range cmds {
		route := strings.TrimSpace(strings.TrimPrefix(c.Route, "/"))
		if route == "" || c.Handle == nil {
			continue
		}
		table[route] = c
		order = append(order, route)
	}

	help := Command{
		Route:       "help",
		Description: "show available commands",
		Usage:       "/help",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	}
	table["help"] = help
	order = append(order, "help")
	sort.Strings(order)

	r.mu.Lock()
	r.cmds = table
	r.order = order
	r.mu.Unlock()
}

// Run drains the handler queue until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.jobs:
			job()
		}
	}
}

// HandleUpdate parses one update and enqueues the matching handler.
func (r *Router) HandleUpdate(ctx context.Context, up transport.Update) {
	if up.Kind != transport.UpdateMessage || up.Message == nil {
		return
	}
	msg := *up.Message
	text := strings.TrimSpace(msg.Text)

	if !strings.HasPrefix(text, "/") {
		r.mu.RLock()
		free := r.freeText
		r.mu.RUnlock()
		if free != nil && msg.IsGroup {
			r.enqueue(func() { free(ctx, msg) })
		}
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	// strip @BotName suffix used in group chats
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	args := parts[1:]

	r.mu.RLock()
	cmd, ok := r.cmds[word]
	owners := append([]int64(nil), r.owners...)
	r.mu.RUnlock()

	chat := transport.ChatTarget{ChatID: msg.ChatID}
	if !ok {
		_, _ = r.adapter.SendText(ctx, chat, "unknown command. try /help", nil)
		return
	}

	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = r.adapter.SendText(ctx, chat, "unauthorized", nil)
		r.log.Warn("unauthorized command",
			logx.String("cmd", cmd.Route),
			logx.Int64("from", msg.FromID))
		return
	}

	req := &Request{
		Chat:     chat,
		FromID:   msg.FromID,
		Username: msg.FromUsername,
		Command:  cmd.Route,
		Args:     args,
		Adapter:  r.adapter,
		Log: r.log.With(
			logx.String("cmd", cmd.Route),
			logx.Int64("chat", msg.ChatID),
			logx.Int64("from", msg.FromID)),
	}

	r.enqueue(func() { r.execute(ctx, cmd, req) })
}

func (r *Router) enqueue(job func()) {
	select {
	case r.jobs <- job:
	default:
		r.log.Warn("command queue full; dropping")
	}
}

func (r *Router) execute(ctx context.Context, cmd Command, req *Request) {
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			req.Log.Error("panic in command handler", logx.Any("panic", rec))
		}
	}()

	start := time.Now()
	if err := cmd.Handle(ctx, req); err != nil {
		req.Log.Warn("command failed", logx.Err(err))
		_ = req.Reply(ctx, fmt.Sprintf("%s failed: %v", req.Command, err))
		return
	}
	req.Log.Debug("command handled", logx.Duration("took", time.Since(start)))
}

func (r *Router) helpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, route := range r.order {
		c := r.cmds[route]
		fmt.Fprintf(&b, "%s - %s\n", c.Usage, c.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
