// Package app wires the bot together: config, logging, storage, the sprint
// scheduler and the command surface.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Olwiba/KoruClub/internal/adapters/telegram"
	"github.com/Olwiba/KoruClub/internal/calendar"
	"github.com/Olwiba/KoruClub/internal/commands"
	"github.com/Olwiba/KoruClub/internal/config"
	"github.com/Olwiba/KoruClub/internal/goals"
	"github.com/Olwiba/KoruClub/internal/health"
	"github.com/Olwiba/KoruClub/internal/ledger"
	"github.com/Olwiba/KoruClub/internal/llm"
	"github.com/Olwiba/KoruClub/internal/scheduler"
	"github.com/Olwiba/KoruClub/internal/storage"
	"github.com/Olwiba/KoruClub/internal/transport"
	"github.com/Olwiba/KoruClub/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	db      *sql.DB

	cal    *calendar.Engine
	ledger *ledger.Store
	goals  *goals.Store

	core   *scheduler.Core
	recon  *scheduler.Reconciler
	router *commands.Router
	health *health.Server

	updates chan transport.Update
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the telegram sink disabled, set its target, then apply
	// the real config so Apply never warns about a missing chat.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, adapter)
	log = log.With(logx.String("comp", "app"))
	if cfg.Telegram.OpsChat != 0 {
		logSvc.SetTelegramTarget(cfg.Telegram.OpsChat)
	}
	logSvc.Apply(mapLogConfig(cfg))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout})
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if cfg.Scheduler.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	cal := calendar.NewEngine(loc)
	led := ledger.NewStore(db)
	gst := goals.NewStore(db)

	retryBase, err := config.ParseDurationOrDefault("scheduler.retry_base", cfg.Scheduler.RetryBase, 0)
	if err != nil {
		return nil, err
	}
	schedLog := log.With(logx.String("comp", "scheduler"))
	core := scheduler.New(scheduler.Config{
		Calendar:   cal,
		Ledger:     led,
		Dispatcher: adapter,
		Retry:      scheduler.RetryPolicy{Max: cfg.Scheduler.RetryMax, Base: retryBase},
		Log:        schedLog,
		OnMonthEnd: func(ctx context.Context) {
			carried, err := gst.CarryOver(ctx)
			if err != nil {
				schedLog.Warn("goal carry-over failed", logx.Err(err))
				return
			}
			if carried > 0 {
				schedLog.Info("goals carried to next sprint", logx.Int("count", carried))
			}
		},
	})
	recon := scheduler.NewReconciler(cal, led, log.With(logx.String("comp", "reconcile")))

	llmTimeout, err := config.ParseDurationOrDefault("llm.timeout", cfg.LLM.Timeout, 20*time.Second)
	if err != nil {
		return nil, err
	}
	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: llmTimeout,
	}, log.With(logx.String("comp", "llm")))
	extractor := goals.NewExtractor(llmClient, log.With(logx.String("comp", "goals")))

	group := transport.ChatTarget{ChatID: cfg.Telegram.GroupChat}
	handlers := commands.NewHandlers(core, adapter, cal, led, gst, extractor, group,
		log.With(logx.String("comp", "commands")))
	router := commands.NewRouter(adapter, log.With(logx.String("comp", "commands")), cfg.Telegram.OwnerUserIDs)
	router.Register(handlers.Commands())
	router.SetFreeTextHandler(handlers.FreeText)

	healthSrv := health.NewServer(core, led, log)

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: adapter,
		db:      db,
		cal:     cal,
		ledger:  led,
		goals:   gst,
		core:    core,
		recon:   recon,
		router:  router,
		health:  healthSrv,
		updates: make(chan transport.Update, 256),
		done:    make(chan struct{}),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	// Close the downtime window before anything can fire.
	if err := a.recon.Run(runCtx, a.core); err != nil {
		cancel()
		return fmt.Errorf("reconcile downtime: %w", err)
	}

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	if cfg.Scheduler.Enabled {
		a.core.Start(transport.ChatTarget{ChatID: cfg.Telegram.GroupChat})
	} else {
		a.log.Info("scheduler disabled; start it with /schedule start")
	}

	a.health.Apply(runCtx, health.Config{Enabled: cfg.Health.Enabled, Addr: cfg.Health.Addr})

	go a.router.Run(runCtx)
	go a.dispatchLoop(runCtx)
	go a.reloadLoop(runCtx)
	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("started")
	return nil
}

func (a *App) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			a.router.HandleUpdate(ctx, up)
		}
	}
}

// reloadLoop applies config hot-reloads: log sinks, owner list and the
// health listener follow the file; storage and telegram token changes need
// a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			if cfg.Telegram.OpsChat != 0 {
				a.logs.SetTelegramTarget(cfg.Telegram.OpsChat)
			} else {
				a.logs.SetTelegramTarget(0)
			}
			a.logs.Apply(mapLogConfig(cfg))
			a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
			a.health.Apply(ctx, health.Config{Enabled: cfg.Health.Enabled, Addr: cfg.Health.Addr})
			a.log.Info("config reloaded")
		}
	}
}

// Stop unwinds in dependency order, each step bounded so one component
// cannot stall the shutdown.
func (a *App) Stop(ctx context.Context) {
	a.log.Info("stopping")
	if a.cancel != nil {
		a.cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("step", name))
		}
	}

	step("scheduler", 2*time.Second, func(context.Context) { a.core.Stop() })
	step("health", 3*time.Second, func(c context.Context) { a.health.Stop(c) })
	step("telegram", 5*time.Second, func(c context.Context) { _ = a.adapter.Stop(c) })
	step("storage", 2*time.Second, func(context.Context) { _ = a.db.Close() })

	_ = a.logs.Close()
	close(a.done)
}

// Done is closed once Stop finishes.
func (a *App) Done() <-chan struct{} { return a.done }

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func validateConfig(ctx context.Context, cfg *config.Config) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Telegram.GroupChat == 0 {
		return fmt.Errorf("telegram.group_chat is required")
	}
	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if cfg.Scheduler.RetryMax < 0 {
		return fmt.Errorf("scheduler.retry_max must be >= 0")
	}
	for _, field := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"scheduler.retry_base", cfg.Scheduler.RetryBase},
		{"llm.timeout", cfg.LLM.Timeout},
	} {
		if _, err := config.ParseDurationOrDefault(field.path, field.raw, 0); err != nil {
			return err
		}
	}
	if cfg.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}
