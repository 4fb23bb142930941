package engine

import (
	"errors"
	"strconv"
	"strings"

	"idlebot/internal/guildconf"
	"idlebot/internal/platform"
	logx "idlebot/pkg/logx"
)

const (
	replyNotOwner   = "❌ Only the **Server Owner** can use the `.adduser` command."
	replyNotAllowed = "❌ You must have the **Administrator** permission or be explicitly added " +
		"by the server owner to use this command."
)

// handleMessage dispatches prefix commands. Runs inside the engine loop;
// failures reply to the channel and log, they never take the loop down.
func (e *Engine) handleMessage(m *platform.Message) {
	if !strings.HasPrefix(m.Content, e.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, e.prefix))
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		e.cmdHelp(m)
	case "adduser":
		e.cmdAddUser(m, args)
	case "vcchannelid":
		e.cmdSetChannel(m, args)
	case "joinvc":
		e.cmdJoinVC(m)
	case "leavevc":
		e.cmdLeaveVC(m)
	default:
		// Unknown commands are silently ignored.
	}
}

func (e *Engine) reply(m *platform.Message, text string) {
	if err := e.client.SendMessage(m.ChannelID, text, ""); err != nil {
		e.log.Warn("command reply failed",
			logx.String("channel", m.ChannelID), logx.Err(err))
	}
}

// authorized applies the admin-or-allowed gate to the message author.
func (e *Engine) authorized(m *platform.Message) bool {
	actor, err := strconv.ParseInt(m.AuthorID, 10, 64)
	if err != nil {
		return false
	}
	return e.gate.IsAuthorized(actor, m.AuthorIsAdmin, m.GuildID)
}

func (e *Engine) note(m *platform.Message, action, target string, opErr error) {
	if opErr != nil {
		e.log.Warn("chat command failed",
			logx.String("cmd", action),
			logx.String("guild", m.GuildID),
			logx.String("actor", m.AuthorID),
			logx.Err(opErr))
	} else {
		e.log.Info("chat command",
			logx.String("cmd", action),
			logx.String("guild", m.GuildID),
			logx.String("actor", m.AuthorID))
	}
	if e.audit != nil {
		e.audit("chat", m.AuthorID, action, target, opErr == nil, opErr)
	}
}

func (e *Engine) cmdHelp(m *platform.Message) {
	e.reply(m, strings.Join([]string{
		"**Bot Commands**",
		"",
		"⚙️ Server Owner Commands",
		"`.adduser <@user>` -> Allows a member to use the configuration commands (`.vcchannelid`, `.joinvc`, `.leavevc`).",
		"",
		"🎤 Admin/Allowed User Commands",
		"`.vcchannelid <ID>` -> Sets the specific voice channel ID.",
		"`.joinvc` -> Makes the bot connect to the saved voice channel ID.",
		"`.leavevc` -> Forces the bot to disconnect.",
	}, "\n"))
}

func (e *Engine) cmdAddUser(m *platform.Message, args []string) {
	if !m.AuthorIsOwner {
		e.reply(m, replyNotOwner)
		return
	}
	if len(args) != 1 {
		e.reply(m, "❌ Usage: `.adduser <@user>`")
		return
	}
	userID, ok := parseMention(args[0])
	if !ok {
		e.reply(m, "❌ Error: Could not resolve that user. Mention them or pass their ID.")
		return
	}

	err := e.store.AddAllowedUser(m.GuildID, userID)
	e.note(m, "adduser", strconv.FormatInt(userID, 10), err)
	switch {
	case errors.Is(err, guildconf.ErrAlreadyAllowed):
		e.reply(m, "❌ <@"+strconv.FormatInt(userID, 10)+"> is already allowed to use the commands.")
	case err != nil:
		e.reply(m, "❌ Error saving the configuration. Check logs.")
	default:
		e.reply(m, "✅ <@"+strconv.FormatInt(userID, 10)+"> can now use the voice configuration commands.")
	}
}

func (e *Engine) cmdSetChannel(m *platform.Message, args []string) {
	if !e.authorized(m) {
		e.reply(m, replyNotAllowed)
		return
	}
	if len(args) != 1 {
		e.reply(m, "❌ Usage: `.vcchannelid <channel_id>`")
		return
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		e.reply(m, "❌ Error: The Channel ID must be a valid number.")
		return
	}

	err = e.store.SetChannel(m.GuildID, targetID)
	e.note(m, "vcchannelid", args[0], err)
	if err != nil {
		e.reply(m, "❌ Error saving the configuration. Check logs.")
		return
	}

	// The ID is saved either way; resolving the channel only improves the
	// confirmation message.
	if ch, cerr := e.client.Channel(args[0]); cerr == nil {
		e.reply(m, "✅ Success! Default voice channel for this server is now set to **"+ch.Name+"** (`"+args[0]+"`).")
	} else {
		e.reply(m, "✅ Success! Channel ID `"+args[0]+"` is saved, but I could not find or access that channel.")
	}
}

func (e *Engine) cmdJoinVC(m *platform.Message) {
	if !e.authorized(m) {
		e.reply(m, replyNotAllowed)
		return
	}
	cfg := e.store.Get(m.GuildID)
	if cfg.ChannelID == nil {
		e.reply(m, "❌ Error: A voice channel must be set first. Use `.vcchannelid <channel_id>`.")
		return
	}
	channelID := strconv.FormatInt(*cfg.ChannelID, 10)

	res, err := e.joinOrMoveVoice(m.GuildID, channelID)
	e.note(m, "joinvc", channelID, err)
	switch {
	case errors.Is(err, platform.ErrNotFound), errors.Is(err, platform.ErrNotVoice):
		e.reply(m, "❌ Error: The configured channel is invalid or not a voice channel. Please set a new ID.")
	case err != nil:
		e.reply(m, "❌ Error joining VC. Check bot permissions (Connect, Speak).")
	case res.Moved:
		e.reply(m, "🎤 Moving to **"+res.ChannelName+"** and going idle!")
	default:
		e.reply(m, "🎤 Joined **"+res.ChannelName+"** and going idle!")
	}
}

func (e *Engine) cmdLeaveVC(m *platform.Message) {
	if !e.authorized(m) {
		e.reply(m, replyNotAllowed)
		return
	}
	err := e.client.LeaveVoice(m.GuildID)
	e.note(m, "leavevc", m.GuildID, err)
	switch {
	case errors.Is(err, platform.ErrNotConnected):
		e.reply(m, "❌ Error: I'm not in a voice channel!")
	case err != nil:
		e.reply(m, "❌ Error leaving the voice channel. Check logs.")
	default:
		e.reply(m, "👋 Left the voice channel.")
	}
}

// parseMention accepts <@123>, <@!123>, or a bare numeric ID.
func parseMention(s string) (int64, bool) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">")
	s = strings.TrimPrefix(s, "!")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
