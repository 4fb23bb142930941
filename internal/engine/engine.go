// Package engine runs the bot session as a single-goroutine event loop.
// The loop exclusively owns session state; code on other goroutines reaches
// it only through Submit, which hands a closure to the loop and waits a
// bounded time for the result.
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"idlebot/internal/guildconf"
	"idlebot/internal/platform"
	"idlebot/internal/runtime/supervisor"
	logx "idlebot/pkg/logx"
)

// State tracks the gateway session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// AuditFunc records a control action. Best effort; errors are the
// recorder's problem.
type AuditFunc func(origin, actor, action, target string, ok bool, opErr error)

type Options struct {
	// Prefix for in-chat commands. Defaults to ".".
	Prefix string

	// TaskBuffer and EventBuffer size the loop's inbound channels.
	TaskBuffer  int
	EventBuffer int

	// Audit, when set, receives one record per executed chat command.
	Audit AuditFunc
}

type Engine struct {
	client platform.Client
	store  *guildconf.Store
	gate   guildconf.Gate
	log    logx.Logger

	prefix string
	audit  AuditFunc

	state atomic.Int32
	self  string // loop-owned, set on ready

	tasks  chan *task
	events chan platform.Event

	sup       *supervisor.Supervisor
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func New(client platform.Client, store *guildconf.Store, gate guildconf.Gate, log logx.Logger, opts Options) *Engine {
	if opts.Prefix == "" {
		opts.Prefix = "."
	}
	if opts.TaskBuffer <= 0 {
		opts.TaskBuffer = 16
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		client: client,
		store:  store,
		gate:   gate,
		log:    log,
		prefix: opts.Prefix,
		audit:  opts.Audit,
		tasks:  make(chan *task, opts.TaskBuffer),
		events: make(chan platform.Event, opts.EventBuffer),
		done:   make(chan struct{}),
	}
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) Ready() bool { return e.State() == StateReady }

// Start connects the platform client and launches the loop. Safe to call
// once per engine; an engine is single-use (close it, build a new one).
func (e *Engine) Start(ctx context.Context) error {
	var err error
	e.startOnce.Do(func() {
		e.state.Store(int32(StateConnecting))
		if err = e.client.Open(ctx, e.events); err != nil {
			e.state.Store(int32(StateDisconnected))
			return
		}
		e.sup = supervisor.New(ctx, supervisor.WithLogger(e.log))
		e.sup.Go0("engine.loop", e.run)
	})
	return err
}

// Close shuts the loop down and disconnects the client. Idempotent.
// Waiters blocked in Submit observe ErrClosed; queued work is abandoned.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		e.state.Store(int32(StateDisconnected))
		err = e.client.Close(ctx)
		if e.sup != nil {
			e.sup.Cancel()
			if werr := e.sup.Wait(ctx); werr != nil && err == nil {
				err = werr
			}
		}
	})
	return err
}

func (e *Engine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case t := <-e.tasks:
			e.runTask(t)
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleEvent(ev platform.Event) {
	switch ev.Kind {
	case platform.EventReady:
		e.self = ev.Self
		e.state.Store(int32(StateReady))
		e.log.Info("session ready", logx.String("self", ev.Self))
	case platform.EventDisconnect:
		e.state.Store(int32(StateDisconnected))
		e.log.Warn("gateway disconnected")
	case platform.EventMessage:
		if ev.Message != nil {
			e.handleMessage(ev.Message)
		}
	}
}
