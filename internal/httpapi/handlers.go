package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"idlebot/internal/engine"
	"idlebot/internal/platform"
	"idlebot/internal/session"
	"idlebot/internal/storage"
	logx "idlebot/pkg/logx"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}

func ok(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

// flexID accepts JSON string or number IDs; the panel's JS sends both.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

// bot returns the live engine handle, or nil with the offline reply written.
func (s *Server) bot(w http.ResponseWriter) session.Bot {
	b := s.sessions.Current()
	if b == nil || !b.Ready() {
		fail(w, http.StatusBadRequest, "Bot is offline.")
		return nil
	}
	return b
}

// note records an HTTP control action to the audit store, best effort.
func (s *Server) note(r *http.Request, action, target string, start time.Time, opErr error) {
	if s.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:     start,
		Origin: "http",
		Actor:  r.RemoteAddr,
		Action: action,
		Target: target,
		OK:     opErr == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := s.audit.AppendAudit(r.Context(), e); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	bot := s.sessions.Current()
	running := bot != nil && bot.Ready()

	guilds := []engine.GuildStatus{}
	if running {
		if g, err := bot.ListGuilds(waitBudget); err == nil {
			guilds = g
		} else {
			s.log.Warn("status guild listing failed", logx.Err(err))
		}
	}

	status := "Offline"
	if running {
		status = "Running"
	}
	var logs []string
	if s.ring != nil {
		logs = s.ring.Lines()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"guilds": guilds,
		"logs":   logs,
	})
}

func (s *Server) handleGetVoiceChannels(w http.ResponseWriter, r *http.Request) {
	bot := s.bot(w)
	if bot == nil {
		return
	}
	guildID := strings.TrimSpace(r.URL.Query().Get("guild_id"))
	if guildID == "" {
		fail(w, http.StatusBadRequest, "Guild ID is required.")
		return
	}
	if _, err := strconv.ParseInt(guildID, 10, 64); err != nil {
		fail(w, http.StatusBadRequest, "Guild ID must be a number.")
		return
	}

	chans, err := bot.VoiceChannels(waitBudget, guildID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		fail(w, http.StatusNotFound, "Guild not found.")
		return
	case err != nil:
		s.bridgeError(w, err)
		return
	}

	type channelOut struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	out := make([]channelOut, 0, len(chans))
	for _, ch := range chans {
		out = append(out, channelOut{ID: ch.ID, Name: "🔊 " + ch.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channels": out})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	bot := s.bot(w)
	if bot == nil {
		return
	}

	var req struct {
		ChannelID flexID `json:"channel_id"`
		Content   string `json:"content"`
		ImageURL  string `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if req.ChannelID == "" {
		fail(w, http.StatusBadRequest, "Channel ID is required.")
		return
	}
	if strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.ImageURL) == "" {
		fail(w, http.StatusBadRequest, "Message content or Image URL is required.")
		return
	}

	// Resolve the channel first so the reply can name it.
	ch, err := bot.FetchChannel(waitBudget, req.ChannelID.String())
	if err == nil {
		err = bot.SendMessage(waitBudget, req.ChannelID.String(), req.Content, req.ImageURL)
	}
	s.note(r, "send_message", req.ChannelID.String(), start, err)

	switch {
	case errors.Is(err, platform.ErrNotFound):
		fail(w, http.StatusInternalServerError, "Channel not found. Check the ID.")
	case errors.Is(err, platform.ErrForbidden):
		fail(w, http.StatusInternalServerError, "Bot does not have permission to send messages in that channel.")
	case errors.Is(err, engine.ErrInvalidInput):
		fail(w, http.StatusBadRequest, "Message content or Image URL is required.")
	case err != nil:
		s.bridgeError(w, err)
	default:
		s.log.Info("message sent", logx.String("channel", "#"+ch.Name))
		ok(w, "Message sent successfully to #"+ch.Name+".")
	}
}

func (s *Server) handleSetVCChannel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	bot := s.bot(w)
	if bot == nil {
		return
	}

	var req struct {
		GuildID   flexID `json:"guild_id"`
		ChannelID flexID `json:"channel_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if req.GuildID == "" || req.ChannelID == "" {
		fail(w, http.StatusBadRequest, "Guild ID and Channel ID are required.")
		return
	}
	channelID, err := strconv.ParseInt(req.ChannelID.String(), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "Error: Channel ID must be a number.")
		return
	}

	// Validate through the engine before persisting.
	ch, err := bot.FetchChannel(waitBudget, req.ChannelID.String())
	switch {
	case errors.Is(err, platform.ErrNotFound):
		s.note(r, "set_vc_channel", req.ChannelID.String(), start, err)
		fail(w, http.StatusInternalServerError, "Error: Channel ID not found.")
		return
	case err != nil:
		s.note(r, "set_vc_channel", req.ChannelID.String(), start, err)
		s.bridgeError(w, err)
		return
	case !ch.Voice:
		s.note(r, "set_vc_channel", req.ChannelID.String(), start, platform.ErrNotVoice)
		fail(w, http.StatusInternalServerError, "Error: #"+ch.Name+" is not a Voice Channel.")
		return
	}

	err = s.guilds.SetChannel(req.GuildID.String(), channelID)
	s.note(r, "set_vc_channel", req.ChannelID.String(), start, err)
	if err != nil {
		fail(w, http.StatusInternalServerError, "Error saving the configuration.")
		return
	}
	s.log.Info("default voice channel set",
		logx.String("guild", req.GuildID.String()), logx.String("channel", ch.Name))
	ok(w, "Success! Default VC set to "+ch.Name+".")
}

func (s *Server) handleForceJoinVC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	bot := s.bot(w)
	if bot == nil {
		return
	}

	var req struct {
		GuildID   flexID `json:"guild_id"`
		ChannelID flexID `json:"channel_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if req.GuildID == "" || req.ChannelID == "" {
		fail(w, http.StatusBadRequest, "Guild ID and Channel ID are required.")
		return
	}
	if _, err := strconv.ParseInt(req.GuildID.String(), 10, 64); err != nil {
		fail(w, http.StatusBadRequest, "Error: Channel/Guild ID must be a number.")
		return
	}
	if _, err := strconv.ParseInt(req.ChannelID.String(), 10, 64); err != nil {
		fail(w, http.StatusBadRequest, "Error: Channel/Guild ID must be a number.")
		return
	}

	res, err := bot.JoinOrMoveVoice(waitBudget, req.GuildID.String(), req.ChannelID.String())
	s.note(r, "force_join_vc", req.GuildID.String()+"/"+req.ChannelID.String(), start, err)

	switch {
	case errors.Is(err, platform.ErrNotFound):
		fail(w, http.StatusInternalServerError,
			"Error: Guild or Channel not found. (Check the IDs and the bot's 'View Channel' permission)")
	case errors.Is(err, platform.ErrForbidden):
		fail(w, http.StatusInternalServerError,
			"Error: Bot does not have 'View Channel' or 'Connect' permission for that channel.")
	case errors.Is(err, platform.ErrNotVoice):
		fail(w, http.StatusInternalServerError, "Error: That channel is not a Voice Channel.")
	case err != nil:
		s.bridgeError(w, err)
	case res.Moved:
		s.log.Info("forced voice move", logx.String("channel", res.ChannelName))
		ok(w, "Moved to "+res.ChannelName+".")
	default:
		s.log.Info("forced voice join", logx.String("channel", res.ChannelName))
		ok(w, "Joined "+res.ChannelName+".")
	}
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		fail(w, http.StatusBadRequest, "No new token provided.")
		return
	}

	s.note(r, "restart", "", start, nil)
	s.log.Info("bot restart initiated with new token")

	// The restart runs asynchronously; the panel polls /api/status for the
	// outcome, exactly as it does for everything else.
	go func(token string) {
		if err := s.sessions.Restart(token); err != nil {
			s.log.Error("bot restart failed", logx.Err(err))
		}
	}(req.Token)

	ok(w, "Bot restart initiated. Check logs for status.")
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		fail(w, http.StatusNotFound, "Audit storage disabled.")
		return
	}
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	entries, err := s.audit.RecentAudit(r.Context(), n)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	bot := s.sessions.Current()
	state := "offline"
	if bot != nil {
		if bot.Ready() {
			state = "ready"
		} else {
			state = "connecting"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "bot": state})
}

// bridgeError maps bridge failures to the panel's error contract.
func (s *Server) bridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotReady), errors.Is(err, engine.ErrClosed):
		fail(w, http.StatusBadRequest, "Bot is offline.")
	case errors.Is(err, engine.ErrTimeout):
		s.log.Warn("bridged operation timed out")
		fail(w, http.StatusInternalServerError, "Operation timed out.")
	default:
		fail(w, http.StatusInternalServerError, fmt.Sprintf("An error occurred: %v", err))
	}
}
