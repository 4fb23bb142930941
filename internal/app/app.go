// Package app wires the pieces together: config, logging, guild store,
// audit storage, session supervisor, control API, and the voice watchdog.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"idlebot/internal/appconfig"
	"idlebot/internal/engine"
	"idlebot/internal/envfile"
	"idlebot/internal/guildconf"
	"idlebot/internal/httpapi"
	"idlebot/internal/logring"
	"idlebot/internal/platform/discord"
	"idlebot/internal/runtime/supervisor"
	"idlebot/internal/session"
	"idlebot/internal/storage"
	"idlebot/internal/watchdog"
	logx "idlebot/pkg/logx"
)

type App struct {
	log  logx.Logger
	logs *logx.Service
	ring *logring.Ring

	cfgm     *appconfig.Manager
	guilds   *guildconf.Store
	store    storage.Store
	sessions *session.Supervisor
	api      *httpapi.Server
	dog      *watchdog.Watchdog

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgm := appconfig.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	ring := logring.New(logring.DefaultCap)
	logSvc, log := logx.New(cfg.LogxConfig(), ring)
	log = log.With(logx.String("comp", "app"))

	guilds := guildconf.Load(cfg.Discord.GuildConfigFile, logSvc.Logger().With(logx.String("comp", "guildconf")))

	var store storage.Store
	if cfg.Storage != nil {
		st, err := storage.Open(storage.Config{
			Driver: cfg.Storage.Driver,
			Path:   cfg.Storage.Path,
		}, logSvc.Logger().With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		if store != nil {
			log.Info("audit storage enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	a := &App{
		log:    log,
		logs:   logSvc,
		ring:   ring,
		cfgm:   cfgm,
		guilds: guilds,
		store:  store,
	}

	gate := guildconf.NewGate(guilds)
	factory := func(token string) (session.Bot, error) {
		client, err := discord.New(token, logSvc.Logger().With(logx.String("comp", "discord")))
		if err != nil {
			return nil, err
		}
		prefix := "."
		if c := cfgm.Get(); c != nil {
			prefix = c.Discord.CommandPrefix
		}
		return engine.New(client, guilds, gate,
			logSvc.Logger().With(logx.String("comp", "engine")),
			engine.Options{Prefix: prefix, Audit: a.auditChat}), nil
	}

	a.sessions = session.New(factory, cfg.Discord.EnvFile, logSvc.Logger().With(logx.String("comp", "session")))
	a.api = httpapi.New(httpapi.Config{
		Addr:       cfg.HTTP.Addr,
		RatePerSec: cfg.HTTP.RatePerSec,
		Burst:      cfg.HTTP.Burst,
		Pprof:      cfg.Pprof.Enabled,
	}, a.sessions, guilds, ring, store, logSvc.Logger().With(logx.String("comp", "httpapi")))
	a.dog = watchdog.New(a.sessions, guilds, logSvc.Logger().With(logx.String("comp", "watchdog")))

	return a, nil
}

// auditChat records in-chat command executions, best effort.
func (a *App) auditChat(origin, actor, action, target string, ok bool, opErr error) {
	if a.store == nil {
		return
	}
	e := storage.AuditEntry{
		At:     time.Now(),
		Origin: origin,
		Actor:  actor,
		Action: action,
		Target: target,
		OK:     ok,
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendAudit(ctx, e); err != nil {
		a.log.Debug("audit append failed", logx.Err(err))
	}
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	// Initial session. A missing token is not fatal: the panel stays up and
	// the operator supplies one through /api/restart.
	token := envfile.Token(cfg.Discord.EnvFile)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("DISCORD_TOKEN"))
	}
	if err := a.sessions.Start(token); err != nil {
		a.log.Warn("bot session not started", logx.Err(err))
	}

	a.api.Start(a.sup.Context())

	if err := a.dog.Apply(cfg.Watchdog.Enabled, cfg.Watchdog.Schedule); err != nil {
		a.log.Warn("watchdog schedule rejected", logx.Err(err))
	}
	a.dog.Start()

	// Config hot-reload: apply logging, HTTP, and watchdog changes live.
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, okc := <-sub:
				if !okc || cfg == nil {
					return
				}
				a.logs.Apply(cfg.LogxConfig())
				a.api.Reconfigure(c, httpapi.Config{
					Addr:       cfg.HTTP.Addr,
					RatePerSec: cfg.HTTP.RatePerSec,
					Burst:      cfg.HTTP.Burst,
					Pprof:      cfg.Pprof.Enabled,
				})
				if err := a.dog.Apply(cfg.Watchdog.Enabled, cfg.Watchdog.Schedule); err != nil {
					a.log.Warn("watchdog schedule rejected", logx.Err(err))
				}
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second),
		supervisor.WithStopOnCleanExit(true))

	a.log.Info("app started")
	return nil
}

// Stop tears everything down in order, each step bounded so one wedged
// component cannot stall the whole shutdown.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("watchdog", 2*time.Second, func(c context.Context) error { a.dog.Stop(); return nil })
	step("httpapi", 3*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("session", 6*time.Second, func(c context.Context) error { a.sessions.Stop(); return nil })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
