// Package watchdog keeps the bot parked in each guild's configured voice
// channel. On a cron schedule it asks the engine, through the bridge, to
// rejoin any configured channel the bot has fallen out of.
package watchdog

import (
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"idlebot/internal/guildconf"
	"idlebot/internal/session"
	logx "idlebot/pkg/logx"
)

// checkBudget bounds each bridged join attempt.
const checkBudget = 10 * time.Second

type Watchdog struct {
	sessions *session.Supervisor
	guilds   *guildconf.Store
	log      logx.Logger

	cron    *cron.Cron
	entryID cron.EntryID
}

func New(sessions *session.Supervisor, guilds *guildconf.Store, log logx.Logger) *Watchdog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watchdog{
		sessions: sessions,
		guilds:   guilds,
		log:      log,
		cron:     cron.New(),
	}
}

// Apply reschedules the check. Disabled or empty spec removes it. A bad spec
// is returned to the caller and the previous schedule keeps running.
func (w *Watchdog) Apply(enabled bool, spec string) error {
	if !enabled || spec == "" {
		if w.entryID != 0 {
			w.cron.Remove(w.entryID)
			w.entryID = 0
			w.log.Info("voice watchdog disabled")
		}
		return nil
	}

	id, err := w.cron.AddFunc(spec, w.check)
	if err != nil {
		return err
	}
	if w.entryID != 0 {
		w.cron.Remove(w.entryID)
	}
	w.entryID = id
	w.log.Info("voice watchdog scheduled", logx.String("spec", spec))
	return nil
}

func (w *Watchdog) Start() { w.cron.Start() }

// Stop halts scheduling and waits for an in-flight check to finish.
func (w *Watchdog) Stop() {
	<-w.cron.Stop().Done()
}

func (w *Watchdog) check() {
	bot := w.sessions.Current()
	if bot == nil || !bot.Ready() {
		return
	}

	for guildID, cfg := range w.guilds.All() {
		if cfg.ChannelID == nil {
			continue
		}
		channelID := strconv.FormatInt(*cfg.ChannelID, 10)

		res, err := bot.JoinOrMoveVoice(checkBudget, guildID, channelID)
		if err != nil {
			w.log.Warn("watchdog rejoin failed",
				logx.String("guild", guildID),
				logx.String("channel", channelID),
				logx.Err(err))
			continue
		}
		if res.Moved {
			w.log.Info("watchdog moved bot back to configured channel",
				logx.String("guild", guildID),
				logx.String("channel", res.ChannelName))
		}
	}
}
