// Package discord adapts bwmarrin/discordgo to the platform.Client surface.
// All discordgo error types are mapped to the platform taxonomy here; nothing
// above this package imports discordgo.
package discord

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"idlebot/internal/platform"
	logx "idlebot/pkg/logx"
)

type Adapter struct {
	log logx.Logger
	s   *discordgo.Session

	runMu   sync.Mutex
	running bool
	out     chan<- platform.Event

	// droppedEvents counts events dropped because the engine loop lagged
	// behind the gateway. Logged in batches to avoid per-event spam.
	droppedEvents uint64
}

// New builds a disconnected adapter for the given bot token.
func New(token string, log logx.Logger) (*Adapter, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent
	return &Adapter{log: log, s: s}, nil
}

func (a *Adapter) Open(ctx context.Context, out chan<- platform.Event) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	a.runMu.Unlock()

	a.s.AddHandler(func(s *discordgo.Session, _ *discordgo.Ready) {
		self := ""
		if s.State != nil && s.State.User != nil {
			self = s.State.User.Username
		}
		a.forward(platform.Event{Kind: platform.EventReady, Self: self})
	})

	a.s.AddHandler(func(s *discordgo.Session, _ *discordgo.Disconnect) {
		a.forward(platform.Event{Kind: platform.EventDisconnect})
	})

	a.s.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.GuildID == "" {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		a.forward(platform.Event{
			Kind: platform.EventMessage,
			Message: &platform.Message{
				GuildID:       m.GuildID,
				ChannelID:     m.ChannelID,
				AuthorID:      m.Author.ID,
				Content:       m.Content,
				AuthorIsAdmin: a.isAdmin(m.Author.ID, m.ChannelID),
				AuthorIsOwner: a.isGuildOwner(m.GuildID, m.Author.ID),
			},
		})
	})

	if err := a.s.Open(); err != nil {
		a.runMu.Lock()
		a.running = false
		a.runMu.Unlock()
		return err
	}
	a.log.Info("gateway connected")
	return nil
}

// forward delivers an event to the engine loop without ever blocking a
// discordgo dispatch goroutine.
func (a *Adapter) forward(ev platform.Event) {
	a.runMu.Lock()
	out := a.out
	running := a.running
	a.runMu.Unlock()
	if !running || out == nil {
		return
	}
	select {
	case out <- ev:
	default:
		if n := atomic.AddUint64(&a.droppedEvents, 1); n%64 == 1 {
			a.log.Warn("inbound events dropped (engine busy)", logx.Uint64("total", n))
		}
	}
}

func (a *Adapter) Close(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()
	if !wasRunning {
		return nil
	}

	// discordgo's Close blocks on the websocket teardown; keep shutdown
	// bounded by the caller's context.
	done := make(chan error, 1)
	go func() { done <- a.s.Close() }()

	grace := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case err := <-done:
		a.log.Info("gateway closed")
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		a.log.Warn("gateway close grace elapsed; continuing")
		return nil
	}
}

func (a *Adapter) Guilds() []platform.Guild {
	st := a.s.State
	if st == nil {
		return nil
	}
	st.RLock()
	defer st.RUnlock()
	out := make([]platform.Guild, 0, len(st.Guilds))
	for _, g := range st.Guilds {
		out = append(out, platform.Guild{ID: g.ID, Name: g.Name, MemberCount: g.MemberCount})
	}
	return out
}

func (a *Adapter) Guild(guildID string) (platform.Guild, error) {
	if a.s.State != nil {
		if g, err := a.s.State.Guild(guildID); err == nil {
			return platform.Guild{ID: g.ID, Name: g.Name, MemberCount: g.MemberCount}, nil
		}
	}
	g, err := a.s.Guild(guildID)
	if err != nil {
		return platform.Guild{}, mapRESTError(err)
	}
	return platform.Guild{ID: g.ID, Name: g.Name, MemberCount: g.MemberCount}, nil
}

func (a *Adapter) Channel(channelID string) (platform.Channel, error) {
	if a.s.State != nil {
		if ch, err := a.s.State.Channel(channelID); err == nil {
			return toChannel(ch), nil
		}
	}
	ch, err := a.s.Channel(channelID)
	if err != nil {
		return platform.Channel{}, mapRESTError(err)
	}
	return toChannel(ch), nil
}

func (a *Adapter) GuildVoiceChannels(guildID string) ([]platform.VoiceChannel, error) {
	if a.s.State == nil {
		return nil, platform.ErrNotFound
	}
	g, err := a.s.State.Guild(guildID)
	if err != nil {
		return nil, platform.ErrNotFound
	}

	botID := ""
	if a.s.State.User != nil {
		botID = a.s.State.User.ID
	}

	out := make([]platform.VoiceChannel, 0, len(g.Channels))
	for _, ch := range g.Channels {
		if ch.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}
		vc := platform.VoiceChannel{ID: ch.ID, Name: ch.Name}
		if botID != "" {
			if perms, err := a.s.UserChannelPermissions(botID, ch.ID); err == nil {
				vc.CanView = perms&discordgo.PermissionViewChannel != 0
				vc.CanConnect = perms&discordgo.PermissionVoiceConnect != 0
			}
		}
		out = append(out, vc)
	}
	return out, nil
}

func (a *Adapter) JoinVoice(guildID, channelID string) error {
	// ChannelVoiceJoin moves the existing connection when the bot is
	// already in voice in this guild. Muted and deafened: the bot idles.
	_, err := a.s.ChannelVoiceJoin(guildID, channelID, true, true)
	return mapRESTError(err)
}

func (a *Adapter) LeaveVoice(guildID string) error {
	a.s.RLock()
	vc := a.s.VoiceConnections[guildID]
	a.s.RUnlock()
	if vc == nil {
		return platform.ErrNotConnected
	}
	return vc.Disconnect()
}

func (a *Adapter) VoiceChannelID(guildID string) (string, bool) {
	a.s.RLock()
	vc := a.s.VoiceConnections[guildID]
	a.s.RUnlock()
	if vc == nil {
		return "", false
	}
	vc.RLock()
	id := vc.ChannelID
	vc.RUnlock()
	return id, id != ""
}

func (a *Adapter) SendMessage(channelID, content, imageURL string) error {
	if a.s.State != nil && a.s.State.User != nil {
		perms, err := a.s.UserChannelPermissions(a.s.State.User.ID, channelID)
		if err != nil {
			return mapRESTError(err)
		}
		if perms&discordgo.PermissionSendMessages == 0 {
			return platform.ErrForbidden
		}
	}

	msg := &discordgo.MessageSend{Content: content}
	if imageURL != "" {
		msg.Embed = &discordgo.MessageEmbed{
			Image: &discordgo.MessageEmbedImage{URL: imageURL},
		}
	}
	_, err := a.s.ChannelMessageSendComplex(channelID, msg)
	return mapRESTError(err)
}

func (a *Adapter) isAdmin(userID, channelID string) bool {
	perms, err := a.s.UserChannelPermissions(userID, channelID)
	if err != nil {
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

func (a *Adapter) isGuildOwner(guildID, userID string) bool {
	if a.s.State == nil {
		return false
	}
	g, err := a.s.State.Guild(guildID)
	if err != nil {
		return false
	}
	return g.OwnerID == userID
}

func toChannel(ch *discordgo.Channel) platform.Channel {
	return platform.Channel{
		ID:      ch.ID,
		Name:    ch.Name,
		GuildID: ch.GuildID,
		Voice:   ch.Type == discordgo.ChannelTypeGuildVoice,
	}
}

// mapRESTError converts discordgo REST failures into the platform taxonomy.
// Anything unrecognized passes through for the caller to log.
func mapRESTError(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusNotFound:
			return platform.ErrNotFound
		case http.StatusForbidden:
			return platform.ErrForbidden
		}
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return platform.ErrNotFound
	}
	return err
}
