// Package session owns the bot lifecycle: at most one live engine, with
// start, stop, and restart-with-new-token transitions serialized behind a
// single lifecycle lock.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"idlebot/internal/engine"
	"idlebot/internal/envfile"
	"idlebot/internal/platform"
	logx "idlebot/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("bot session already running")
	ErrBadToken       = errors.New("token is missing or still the placeholder")
)

// stopBudget bounds how long Stop waits for a clean engine close before
// releasing the handle anyway. Forward progress beats cleanliness here:
// a wedged old session must never block starting a new one.
const stopBudget = 5 * time.Second

// Bot is the engine surface the supervisor and the HTTP layer consume.
// *engine.Engine satisfies it; tests substitute fakes.
type Bot interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
	Ready() bool
	ListGuilds(timeout time.Duration) ([]engine.GuildStatus, error)
	VoiceChannels(timeout time.Duration, guildID string) ([]engine.VoiceChannelInfo, error)
	FetchChannel(timeout time.Duration, channelID string) (platform.Channel, error)
	JoinOrMoveVoice(timeout time.Duration, guildID, channelID string) (engine.JoinResult, error)
	LeaveVoice(timeout time.Duration, guildID string) error
	SendMessage(timeout time.Duration, channelID, content, imageURL string) error
}

// Factory builds a disconnected Bot for a token.
type Factory func(token string) (Bot, error)

type Supervisor struct {
	factory Factory
	envPath string
	log     logx.Logger

	// opMu serializes lifecycle transitions; mu guards the handle for
	// readers that must not block behind a slow stop.
	opMu sync.Mutex
	mu   sync.RWMutex

	cur    Bot
	cancel context.CancelFunc
}

func New(factory Factory, envPath string, log logx.Logger) *Supervisor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Supervisor{factory: factory, envPath: envPath, log: log}
}

// Current returns the live bot handle, or nil when stopped.
func (s *Supervisor) Current() Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *Supervisor) Running() bool { return s.Current() != nil }

// Start brings up a session with the given token. Refuses placeholder or
// empty tokens, and refuses to start over a live session.
func (s *Supervisor) Start(token string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(token)
}

// Stop tears down the live session, waiting at most stopBudget for a clean
// close. The handle is released regardless, so Start always works after.
func (s *Supervisor) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
}

// Restart stops the session, persists the new token to the env file, and
// starts fresh. Pending operations against the old session resolve (or time
// out) against the old engine only; the new engine never sees them.
func (s *Supervisor) Restart(token string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if token == "" || token == envfile.Placeholder {
		return ErrBadToken
	}

	s.stopLocked()

	if err := envfile.SetToken(s.envPath, token); err != nil {
		// The session still restarts with the new token in memory.
		s.log.Error("persisting new token failed", logx.Err(err))
	}
	return s.startLocked(token)
}

func (s *Supervisor) startLocked(token string) error {
	if token == "" || token == envfile.Placeholder {
		s.log.Warn("start refused: no usable token configured")
		return ErrBadToken
	}
	if s.cur != nil {
		return ErrAlreadyRunning
	}

	bot, err := s.factory(token)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := bot.Start(ctx); err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.cur = bot
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Info("bot session started")
	return nil
}

func (s *Supervisor) stopLocked() {
	s.mu.Lock()
	bot := s.cur
	cancel := s.cancel
	s.cur = nil
	s.cancel = nil
	s.mu.Unlock()

	if bot == nil {
		return
	}

	ctx, cancelWait := context.WithTimeout(context.Background(), stopBudget)
	defer cancelWait()
	if err := bot.Close(ctx); err != nil {
		s.log.Warn("session close was not clean; handle released anyway", logx.Err(err))
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("bot session stopped")
}
