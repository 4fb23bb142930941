// Package envfile reads and rewrites the line-oriented key=value file that
// holds the bot credential. Only the DISCORD_TOKEN line is ever touched;
// every other line keeps its content and position.
package envfile

import (
	"bufio"
	"os"
	"strings"
)

const tokenKey = "DISCORD_TOKEN"

// Placeholder is the unconfigured token value shipped in fresh env files.
// A token containing it is refused by the session supervisor.
const Placeholder = "YOUR_BOT_TOKEN_HERE"

// Token returns the DISCORD_TOKEN value from path, or "" when the file or
// the key is absent.
func Token(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, tokenKey+"=") {
			return strings.TrimSpace(strings.TrimPrefix(line, tokenKey+"="))
		}
	}
	return ""
}

// SetToken rewrites the DISCORD_TOKEN line in place, preserving all other
// lines and their order. The key is appended when absent; a missing file is
// created with a short header.
func SetToken(path, token string) error {
	var lines []string
	if b, err := os.ReadFile(path); err == nil {
		lines = strings.Split(string(b), "\n")
		// Split leaves one empty trailing element for a newline-terminated
		// file; drop it so we don't accumulate blank lines on rewrites.
		if n := len(lines); n > 0 && lines[n-1] == "" {
			lines = lines[:n-1]
		}
	} else {
		lines = []string{"# credentials for the bot control panel"}
	}

	updated := false
	for i, line := range lines {
		if strings.HasPrefix(line, tokenKey+"=") {
			lines[i] = tokenKey + "=" + token
			updated = true
		}
	}
	if !updated {
		lines = append(lines, tokenKey+"="+token)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}
