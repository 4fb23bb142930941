package engine

import (
	"sort"
	"strings"
	"time"

	"idlebot/internal/platform"
)

// GuildStatus is one row of the status report.
type GuildStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
	VoiceStatus string `json:"vc_status"`
}

// VoiceChannelInfo is a voice channel the bot can both see and join.
type VoiceChannelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// JoinResult reports the outcome of JoinOrMoveVoice.
type JoinResult struct {
	ChannelName string
	Moved       bool
}

// ListGuilds reports every guild with its voice-connection status.
func (e *Engine) ListGuilds(timeout time.Duration) ([]GuildStatus, error) {
	v, err := e.Submit(timeout, func() (any, error) {
		return e.listGuilds(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]GuildStatus), nil
}

// VoiceChannels lists joinable voice channels of a guild, sorted by name
// (case-insensitive).
func (e *Engine) VoiceChannels(timeout time.Duration, guildID string) ([]VoiceChannelInfo, error) {
	v, err := e.Submit(timeout, func() (any, error) {
		return e.voiceChannels(guildID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]VoiceChannelInfo), nil
}

// FetchChannel resolves a channel by ID.
func (e *Engine) FetchChannel(timeout time.Duration, channelID string) (platform.Channel, error) {
	v, err := e.Submit(timeout, func() (any, error) {
		return e.client.Channel(channelID)
	})
	if err != nil {
		return platform.Channel{}, err
	}
	return v.(platform.Channel), nil
}

// JoinOrMoveVoice connects the bot to a voice channel, moving it when it is
// already in voice elsewhere in the same guild.
func (e *Engine) JoinOrMoveVoice(timeout time.Duration, guildID, channelID string) (JoinResult, error) {
	v, err := e.Submit(timeout, func() (any, error) {
		return e.joinOrMoveVoice(guildID, channelID)
	})
	if err != nil {
		return JoinResult{}, err
	}
	return v.(JoinResult), nil
}

// LeaveVoice disconnects the bot from voice in a guild.
func (e *Engine) LeaveVoice(timeout time.Duration, guildID string) error {
	_, err := e.Submit(timeout, func() (any, error) {
		return nil, e.client.LeaveVoice(guildID)
	})
	return err
}

// SendMessage posts content and/or an image embed to a channel. At least
// one of content and imageURL must be set.
func (e *Engine) SendMessage(timeout time.Duration, channelID, content, imageURL string) error {
	if strings.TrimSpace(content) == "" && strings.TrimSpace(imageURL) == "" {
		return ErrInvalidInput
	}
	_, err := e.Submit(timeout, func() (any, error) {
		return nil, e.client.SendMessage(channelID, content, imageURL)
	})
	return err
}

// In-context implementations below run only inside the engine loop.

func (e *Engine) listGuilds() []GuildStatus {
	guilds := e.client.Guilds()
	out := make([]GuildStatus, 0, len(guilds))
	for _, g := range guilds {
		status := "Not connected"
		if chID, ok := e.client.VoiceChannelID(g.ID); ok {
			name := chID
			if ch, err := e.client.Channel(chID); err == nil && ch.Name != "" {
				name = ch.Name
			}
			status = "Connected to " + name
		}
		out = append(out, GuildStatus{
			ID:          g.ID,
			Name:        g.Name,
			MemberCount: g.MemberCount,
			VoiceStatus: status,
		})
	}
	return out
}

func (e *Engine) voiceChannels(guildID string) ([]VoiceChannelInfo, error) {
	chans, err := e.client.GuildVoiceChannels(guildID)
	if err != nil {
		return nil, err
	}
	out := make([]VoiceChannelInfo, 0, len(chans))
	for _, ch := range chans {
		if !ch.CanView || !ch.CanConnect {
			continue
		}
		out = append(out, VoiceChannelInfo{ID: ch.ID, Name: ch.Name})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (e *Engine) joinOrMoveVoice(guildID, channelID string) (JoinResult, error) {
	if _, err := e.client.Guild(guildID); err != nil {
		return JoinResult{}, err
	}
	ch, err := e.client.Channel(channelID)
	if err != nil {
		return JoinResult{}, err
	}
	if ch.GuildID != guildID {
		return JoinResult{}, platform.ErrNotFound
	}
	if !ch.Voice {
		return JoinResult{}, platform.ErrNotVoice
	}

	cur, connected := e.client.VoiceChannelID(guildID)
	if connected && cur == channelID {
		return JoinResult{ChannelName: ch.Name}, nil
	}
	if err := e.client.JoinVoice(guildID, channelID); err != nil {
		return JoinResult{}, err
	}
	return JoinResult{ChannelName: ch.Name, Moved: connected}, nil
}
