package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"idlebot/internal/engine"
	"idlebot/internal/guildconf"
	"idlebot/internal/logring"
	"idlebot/internal/platform"
	"idlebot/internal/session"
	"idlebot/pkg/logx"
)

// stubBot answers engine calls from canned data.
type stubBot struct {
	ready    bool
	guilds   []engine.GuildStatus
	channels map[string][]engine.VoiceChannelInfo
	byID     map[string]platform.Channel
	joinRes  engine.JoinResult
	joinErr  error
	sendErr  error

	mu   sync.Mutex
	sent []string
}

func (b *stubBot) Start(ctx context.Context) error { return nil }
func (b *stubBot) Close(ctx context.Context) error { return nil }
func (b *stubBot) Ready() bool                     { return b.ready }

func (b *stubBot) ListGuilds(time.Duration) ([]engine.GuildStatus, error) {
	return b.guilds, nil
}

func (b *stubBot) VoiceChannels(_ time.Duration, guildID string) ([]engine.VoiceChannelInfo, error) {
	chs, ok := b.channels[guildID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return chs, nil
}

func (b *stubBot) FetchChannel(_ time.Duration, channelID string) (platform.Channel, error) {
	ch, ok := b.byID[channelID]
	if !ok {
		return platform.Channel{}, platform.ErrNotFound
	}
	return ch, nil
}

func (b *stubBot) JoinOrMoveVoice(time.Duration, string, string) (engine.JoinResult, error) {
	return b.joinRes, b.joinErr
}

func (b *stubBot) LeaveVoice(time.Duration, string) error { return nil }

func (b *stubBot) SendMessage(_ time.Duration, channelID, content, imageURL string) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.mu.Lock()
	b.sent = append(b.sent, channelID+":"+content)
	b.mu.Unlock()
	return nil
}

// stubSessions hands out a fixed bot and records restart tokens.
type stubSessions struct {
	bot *stubBot

	mu       sync.Mutex
	restarts []string
}

func (s *stubSessions) Current() session.Bot {
	if s.bot == nil {
		return nil
	}
	return s.bot
}

func (s *stubSessions) Restart(token string) error {
	s.mu.Lock()
	s.restarts = append(s.restarts, token)
	s.mu.Unlock()
	return nil
}

func (s *stubSessions) restarted(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		if len(s.restarts) >= n {
			out := append([]string(nil), s.restarts...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("expected %d restarts", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestHandler(t *testing.T, bot *stubBot) (http.Handler, *stubSessions, *guildconf.Store) {
	t.Helper()
	store := guildconf.Load(filepath.Join(t.TempDir(), "configs.json"), logx.Nop())
	sess := &stubSessions{bot: bot}
	srv := New(Config{}, sess, store, logring.New(logring.DefaultCap), nil, logx.Nop())
	return srv.Handler(false), sess, store
}

type apiReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, apiReply) {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var reply apiReply
	_ = json.Unmarshal(rec.Body.Bytes(), &reply)
	return rec, reply
}

func TestStatusOffline(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)

	rec, _ := doJSON(t, h, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status string               `json:"status"`
		Guilds []engine.GuildStatus `json:"guilds"`
		Logs   []string             `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "Offline" {
		t.Errorf("status = %q, want Offline", body.Status)
	}
	if body.Guilds == nil || len(body.Guilds) != 0 {
		t.Errorf("guilds = %v, want empty array", body.Guilds)
	}
}

func TestStatusRunning(t *testing.T) {
	bot := &stubBot{
		ready: true,
		guilds: []engine.GuildStatus{
			{ID: "1", Name: "Guild One", MemberCount: 3, VoiceStatus: "Not connected"},
		},
	}
	h, _, _ := newTestHandler(t, bot)

	rec, _ := doJSON(t, h, http.MethodGet, "/api/status", "")
	var body struct {
		Status string               `json:"status"`
		Guilds []engine.GuildStatus `json:"guilds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "Running" || len(body.Guilds) != 1 || body.Guilds[0].Name != "Guild One" {
		t.Errorf("body = %+v", body)
	}
}

func TestVoiceChannelsOfflineBot(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)

	rec, reply := doJSON(t, h, http.MethodGet, "/api/get_voice_channels?guild_id=1", "")
	if rec.Code != http.StatusBadRequest || reply.Message != "Bot is offline." {
		t.Fatalf("code = %d, message = %q", rec.Code, reply.Message)
	}
}

func TestVoiceChannelsValidation(t *testing.T) {
	bot := &stubBot{ready: true, channels: map[string][]engine.VoiceChannelInfo{
		"1": {{ID: "10", Name: "General"}},
	}}
	h, _, _ := newTestHandler(t, bot)

	rec, reply := doJSON(t, h, http.MethodGet, "/api/get_voice_channels", "")
	if rec.Code != http.StatusBadRequest || reply.Message != "Guild ID is required." {
		t.Errorf("missing id: code = %d, message = %q", rec.Code, reply.Message)
	}

	rec, reply = doJSON(t, h, http.MethodGet, "/api/get_voice_channels?guild_id=abc", "")
	if rec.Code != http.StatusBadRequest || reply.Message != "Guild ID must be a number." {
		t.Errorf("non-numeric id: code = %d, message = %q", rec.Code, reply.Message)
	}

	rec, reply = doJSON(t, h, http.MethodGet, "/api/get_voice_channels?guild_id=999", "")
	if rec.Code != http.StatusNotFound || reply.Message != "Guild not found." {
		t.Errorf("unknown guild: code = %d, message = %q", rec.Code, reply.Message)
	}
}

func TestVoiceChannelsSpeakerPrefix(t *testing.T) {
	bot := &stubBot{ready: true, channels: map[string][]engine.VoiceChannelInfo{
		"1": {{ID: "10", Name: "General"}},
	}}
	h, _, _ := newTestHandler(t, bot)

	rec, _ := doJSON(t, h, http.MethodGet, "/api/get_voice_channels?guild_id=1", "")
	var body struct {
		Channels []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Channels) != 1 || body.Channels[0].Name != "🔊 General" {
		t.Errorf("channels = %+v, want speaker-prefixed General", body.Channels)
	}
}

func TestSendMessageValidation(t *testing.T) {
	bot := &stubBot{ready: true, byID: map[string]platform.Channel{
		"20": {ID: "20", Name: "text-chat", GuildID: "1"},
	}}
	h, _, _ := newTestHandler(t, bot)

	rec, reply := doJSON(t, h, http.MethodPost, "/api/send_message", `{"content":"x"}`)
	if rec.Code != http.StatusBadRequest || reply.Message != "Channel ID is required." {
		t.Errorf("missing channel: code = %d, message = %q", rec.Code, reply.Message)
	}

	rec, reply = doJSON(t, h, http.MethodPost, "/api/send_message", `{"channel_id":"20"}`)
	if rec.Code != http.StatusBadRequest || reply.Message != "Message content or Image URL is required." {
		t.Errorf("empty payload: code = %d, message = %q", rec.Code, reply.Message)
	}
}

func TestSendMessageSuccess(t *testing.T) {
	bot := &stubBot{ready: true, byID: map[string]platform.Channel{
		"20": {ID: "20", Name: "text-chat", GuildID: "1"},
	}}
	h, _, _ := newTestHandler(t, bot)

	// Numeric channel_id is accepted too; the panel's JS sends both forms.
	rec, reply := doJSON(t, h, http.MethodPost, "/api/send_message",
		`{"channel_id":20,"content":"hello"}`)
	if rec.Code != http.StatusOK || !reply.Success {
		t.Fatalf("code = %d, reply = %+v", rec.Code, reply)
	}
	if reply.Message != "Message sent successfully to #text-chat." {
		t.Errorf("message = %q", reply.Message)
	}
	if len(bot.sent) != 1 || bot.sent[0] != "20:hello" {
		t.Errorf("sent = %v", bot.sent)
	}
}

func TestSendMessageUnknownChannel(t *testing.T) {
	bot := &stubBot{ready: true, byID: map[string]platform.Channel{}}
	h, _, _ := newTestHandler(t, bot)

	rec, reply := doJSON(t, h, http.MethodPost, "/api/send_message",
		`{"channel_id":"999","content":"hello"}`)
	if rec.Code != http.StatusInternalServerError || reply.Message != "Channel not found. Check the ID." {
		t.Errorf("code = %d, message = %q", rec.Code, reply.Message)
	}
}

func TestSetVCChannel(t *testing.T) {
	bot := &stubBot{ready: true, byID: map[string]platform.Channel{
		"10": {ID: "10", Name: "General", GuildID: "1", Voice: true},
		"20": {ID: "20", Name: "text-chat", GuildID: "1", Voice: false},
	}}
	h, _, store := newTestHandler(t, bot)

	rec, reply := doJSON(t, h, http.MethodPost, "/api/set_vc_channel",
		`{"guild_id":"1","channel_id":"20"}`)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(reply.Message, "not a Voice Channel") {
		t.Errorf("text channel: code = %d, message = %q", rec.Code, reply.Message)
	}
	if cfg := store.Get("1"); cfg.ChannelID != nil {
		t.Error("non-voice channel was persisted")
	}

	rec, reply = doJSON(t, h, http.MethodPost, "/api/set_vc_channel",
		`{"guild_id":"1","channel_id":"10"}`)
	if rec.Code != http.StatusOK || reply.Message != "Success! Default VC set to General." {
		t.Fatalf("code = %d, message = %q", rec.Code, reply.Message)
	}
	if cfg := store.Get("1"); cfg.ChannelID == nil || *cfg.ChannelID != 10 {
		t.Errorf("stored channel = %v, want 10", cfg.ChannelID)
	}
}

func TestForceJoinVC(t *testing.T) {
	bot := &stubBot{ready: true, joinRes: engine.JoinResult{ChannelName: "General"}}
	h, _, _ := newTestHandler(t, bot)

	rec, reply := doJSON(t, h, http.MethodPost, "/api/force_join_vc",
		`{"guild_id":"1","channel_id":"10"}`)
	if rec.Code != http.StatusOK || reply.Message != "Joined General." {
		t.Errorf("join: code = %d, message = %q", rec.Code, reply.Message)
	}

	bot.joinRes = engine.JoinResult{ChannelName: "alpha", Moved: true}
	rec, reply = doJSON(t, h, http.MethodPost, "/api/force_join_vc",
		`{"guild_id":"1","channel_id":"11"}`)
	if rec.Code != http.StatusOK || reply.Message != "Moved to alpha." {
		t.Errorf("move: code = %d, message = %q", rec.Code, reply.Message)
	}

	bot.joinErr = platform.ErrNotFound
	rec, reply = doJSON(t, h, http.MethodPost, "/api/force_join_vc",
		`{"guild_id":"1","channel_id":"999"}`)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(reply.Message, "not found") {
		t.Errorf("not found: code = %d, message = %q", rec.Code, reply.Message)
	}

	rec, reply = doJSON(t, h, http.MethodPost, "/api/force_join_vc",
		`{"guild_id":"abc","channel_id":"10"}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(reply.Message, "must be a number") {
		t.Errorf("non-numeric: code = %d, message = %q", rec.Code, reply.Message)
	}
}

func TestRestartRequiresToken(t *testing.T) {
	h, sess, _ := newTestHandler(t, &stubBot{ready: true})

	rec, reply := doJSON(t, h, http.MethodPost, "/api/restart", `{}`)
	if rec.Code != http.StatusBadRequest || reply.Message != "No new token provided." {
		t.Fatalf("code = %d, message = %q", rec.Code, reply.Message)
	}
	sess.mu.Lock()
	n := len(sess.restarts)
	sess.mu.Unlock()
	if n != 0 {
		t.Errorf("restart triggered without a token")
	}
}

func TestRestartIsAsync(t *testing.T) {
	h, sess, _ := newTestHandler(t, &stubBot{ready: true})

	rec, reply := doJSON(t, h, http.MethodPost, "/api/restart", `{"token":"tok-new"}`)
	if rec.Code != http.StatusOK || reply.Message != "Bot restart initiated. Check logs for status." {
		t.Fatalf("code = %d, message = %q", rec.Code, reply.Message)
	}
	if got := sess.restarted(t, 1); got[0] != "tok-new" {
		t.Errorf("restart token = %q, want tok-new", got[0])
	}
}

func TestRestartWorksWhileOffline(t *testing.T) {
	// Installing a fresh token must not require a live bot.
	h, sess, _ := newTestHandler(t, nil)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/restart", `{"token":"tok"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	sess.restarted(t, 1)
}

func TestAuditDisabled(t *testing.T) {
	h, _, _ := newTestHandler(t, &stubBot{ready: true})

	rec, reply := doJSON(t, h, http.MethodGet, "/api/audit", "")
	if rec.Code != http.StatusNotFound || reply.Message != "Audit storage disabled." {
		t.Errorf("code = %d, message = %q", rec.Code, reply.Message)
	}
}

func TestHealthzStates(t *testing.T) {
	cases := []struct {
		name string
		bot  *stubBot
		want string
	}{
		{"offline", nil, "offline"},
		{"connecting", &stubBot{ready: false}, "connecting"},
		{"ready", &stubBot{ready: true}, "ready"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t, tc.bot)
			rec, _ := doJSON(t, h, http.MethodGet, "/healthz", "")
			var body struct {
				OK  bool   `json:"ok"`
				Bot string `json:"bot"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !body.OK || body.Bot != tc.want {
				t.Errorf("body = %+v, want bot %q", body, tc.want)
			}
		})
	}
}

func TestMutatingEndpointsRateLimited(t *testing.T) {
	bot := &stubBot{ready: true, byID: map[string]platform.Channel{
		"20": {ID: "20", Name: "text-chat", GuildID: "1"},
	}}
	store := guildconf.Load(filepath.Join(t.TempDir(), "configs.json"), logx.Nop())
	srv := New(Config{RatePerSec: 1, Burst: 1}, &stubSessions{bot: bot}, store,
		logring.New(logring.DefaultCap), nil, logx.Nop())
	h := srv.Handler(false)

	body := `{"channel_id":"20","content":"hi"}`
	rec, _ := doJSON(t, h, http.MethodPost, "/api/send_message", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: code = %d", rec.Code)
	}
	rec, reply := doJSON(t, h, http.MethodPost, "/api/send_message", body)
	if rec.Code != http.StatusTooManyRequests || reply.Message != "Too many requests." {
		t.Errorf("second request: code = %d, message = %q", rec.Code, reply.Message)
	}

	// Read endpoints are never limited.
	rec, _ = doJSON(t, h, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status while limited: code = %d", rec.Code)
	}
}
