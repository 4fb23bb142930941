// Package guildconf persists per-guild bot configuration: the default voice
// channel and the allow-list of users who may drive the voice commands.
//
// The on-disk format is a single JSON object keyed by guild ID (decimal
// string):
//
//	{
//	  "123456789": {"channel_id": 555, "allowed_users": [42, 77]},
//	  "987654321": {"channel_id": null, "allowed_users": []}
//	}
//
// The store is mutated both from the engine goroutine (chat commands) and
// from HTTP handler goroutines, so every mutation holds one mutex across the
// whole read-modify-write-flush and the file is rewritten before the call
// returns. A crash after a successful call never loses that write.
package guildconf

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	logx "idlebot/pkg/logx"
)

// ErrAlreadyAllowed is returned when a user is added to an allow-list twice.
var ErrAlreadyAllowed = errors.New("user is already allowed")

// GuildConfig is the persisted configuration for one guild.
// ChannelID is nil until an operator sets a default voice channel.
type GuildConfig struct {
	ChannelID    *int64  `json:"channel_id"`
	AllowedUsers []int64 `json:"allowed_users"`
}

func (c GuildConfig) clone() GuildConfig {
	cp := GuildConfig{AllowedUsers: append([]int64(nil), c.AllowedUsers...)}
	if c.ChannelID != nil {
		id := *c.ChannelID
		cp.ChannelID = &id
	}
	if cp.AllowedUsers == nil {
		cp.AllowedUsers = []int64{}
	}
	return cp
}

// Store holds all guild configs and owns the backing file.
type Store struct {
	path string
	log  logx.Logger

	mu   sync.Mutex
	cfgs map[string]GuildConfig
}

// Load reads the store from path.
//
// A missing or empty file yields an empty store. A corrupted file yields an
// empty store plus a warning; the file itself is left alone until the next
// successful write. Startup never fails on config problems.
func Load(path string, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{path: path, log: log, cfgs: map[string]GuildConfig{}}

	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("guild config unreadable; starting empty", logx.String("path", path), logx.Err(err))
		}
		return s
	}
	if len(b) == 0 {
		return s
	}

	var cfgs map[string]GuildConfig
	if err := json.Unmarshal(b, &cfgs); err != nil {
		log.Warn("guild config corrupted; starting empty", logx.String("path", path), logx.Err(err))
		return s
	}
	for gid, c := range cfgs {
		if c.AllowedUsers == nil {
			c.AllowedUsers = []int64{}
		}
		s.cfgs[gid] = c
	}
	return s
}

// Get returns the config for guildID, defaulted when the guild was never
// written: nil channel, empty allow-list.
func (s *Store) Get(guildID string) GuildConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cfgs[guildID]; ok {
		return c.clone()
	}
	return GuildConfig{AllowedUsers: []int64{}}
}

// All returns a snapshot of every stored guild config.
func (s *Store) All() map[string]GuildConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]GuildConfig, len(s.cfgs))
	for gid, c := range s.cfgs {
		out[gid] = c.clone()
	}
	return out
}

// SetChannel records channelID as the guild's default voice channel and
// flushes the store.
func (s *Store) SetChannel(guildID string, channelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cfgs[guildID]
	if c.AllowedUsers == nil {
		c.AllowedUsers = []int64{}
	}
	c.ChannelID = &channelID
	s.cfgs[guildID] = c
	return s.saveLocked()
}

// AddAllowedUser grants userID access to the guild's gated commands.
// Adding the same user twice returns ErrAlreadyAllowed and changes nothing.
func (s *Store) AddAllowedUser(guildID string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cfgs[guildID]
	if c.AllowedUsers == nil {
		c.AllowedUsers = []int64{}
	}
	for _, u := range c.AllowedUsers {
		if u == userID {
			return ErrAlreadyAllowed
		}
	}
	c.AllowedUsers = append(c.AllowedUsers, userID)
	s.cfgs[guildID] = c
	return s.saveLocked()
}

// IsAllowed reports whether userID is on the guild's allow-list.
func (s *Store) IsAllowed(guildID string, userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cfgs[guildID]
	if !ok {
		return false
	}
	for _, u := range c.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// saveLocked writes the whole store through a temp file + rename so a crash
// mid-write never leaves a truncated config behind. Caller holds s.mu.
func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.cfgs, "", "    ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
