// Package platform defines the capability surface the engine needs from the
// chat platform, plus the error taxonomy every adapter must map its own
// failure modes into. The engine never sees a platform library error.
package platform

import (
	"context"
	"errors"
)

var (
	// ErrNotFound: the guild or channel does not exist or is not visible.
	ErrNotFound = errors.New("not found")
	// ErrForbidden: the bot lacks the platform permission for the action.
	ErrForbidden = errors.New("forbidden")
	// ErrNotConnected: a voice action was requested with no active session.
	ErrNotConnected = errors.New("not connected to a voice channel")
	// ErrNotVoice: the target channel is not a voice channel.
	ErrNotVoice = errors.New("not a voice channel")
)

// Guild is a server the bot is a member of.
type Guild struct {
	ID          string
	Name        string
	MemberCount int
}

// Channel is a single channel, voice or text.
type Channel struct {
	ID      string
	Name    string
	GuildID string
	Voice   bool
}

// VoiceChannel is a voice channel annotated with the bot's own permissions,
// used for the operator-facing channel picker.
type VoiceChannel struct {
	ID         string
	Name       string
	CanView    bool
	CanConnect bool
}

// Message is an inbound guild message, enriched with the author's standing
// so the engine can gate commands without extra platform calls.
type Message struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	Content   string

	AuthorIsAdmin bool // administrator permission in this channel
	AuthorIsOwner bool // guild owner
}

type EventKind string

const (
	EventReady      EventKind = "ready"
	EventMessage    EventKind = "message"
	EventDisconnect EventKind = "disconnect"
)

// Event is one inbound platform event, delivered to the engine loop.
type Event struct {
	Kind    EventKind
	Self    string // bot user tag, set on EventReady
	Message *Message
}

// Client is the platform connection the engine drives. Implementations must
// be safe to call from the engine goroutine after Open; Close may be called
// from any goroutine.
type Client interface {
	// Open connects and starts forwarding events to out. Sends must never
	// block: drop and count instead when the consumer lags.
	Open(ctx context.Context, out chan<- Event) error
	// Close disconnects. Idempotent; bounded by ctx.
	Close(ctx context.Context) error

	// Guilds lists the guilds the bot is currently in.
	Guilds() []Guild
	// Guild resolves one guild (ErrNotFound, ErrForbidden).
	Guild(guildID string) (Guild, error)
	// Channel fetches a channel by ID (ErrNotFound, ErrForbidden).
	Channel(channelID string) (Channel, error)
	// GuildVoiceChannels lists the guild's voice channels with the bot's
	// own view/connect permissions resolved (ErrNotFound).
	GuildVoiceChannels(guildID string) ([]VoiceChannel, error)

	// JoinVoice connects to the channel, moving there if the bot is
	// already in voice in the same guild.
	JoinVoice(guildID, channelID string) error
	// LeaveVoice disconnects the guild's voice session (ErrNotConnected).
	LeaveVoice(guildID string) error
	// VoiceChannelID reports the channel of the guild's active voice
	// session, if any.
	VoiceChannelID(guildID string) (string, bool)

	// SendMessage posts content and/or an embedded image to the channel
	// (ErrNotFound, ErrForbidden).
	SendMessage(channelID, content, imageURL string) error
}
