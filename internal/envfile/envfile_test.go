package envfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetTokenRewritesOnlyTokenLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	orig := "# comment\nOTHER=value\nDISCORD_TOKEN=old\nTRAILING=keep\n"
	if err := os.WriteFile(path, []byte(orig), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := SetToken(path, "new-token"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "# comment\nOTHER=value\nDISCORD_TOKEN=new-token\nTRAILING=keep\n"
	if string(b) != want {
		t.Errorf("file = %q, want %q", b, want)
	}
}

func TestSetTokenAppendsWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OTHER=value\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := SetToken(path, "tok"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if got := Token(path); got != "tok" {
		t.Errorf("Token() = %q, want %q", got, "tok")
	}

	b, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(b), "OTHER=value\n") {
		t.Errorf("existing line lost: %q", b)
	}
}

func TestSetTokenCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")

	if err := SetToken(path, "tok"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if got := Token(path); got != "tok" {
		t.Errorf("Token() = %q, want %q", got, "tok")
	}
}

func TestSetTokenStableAcrossRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := SetToken(path, "one"); err != nil {
		t.Fatal(err)
	}
	if err := SetToken(path, "two"); err != nil {
		t.Fatal(err)
	}
	if err := SetToken(path, "three"); err != nil {
		t.Fatal(err)
	}

	b, _ := os.ReadFile(path)
	if n := strings.Count(string(b), "DISCORD_TOKEN="); n != 1 {
		t.Errorf("file has %d token lines, want 1:\n%s", n, b)
	}
	if got := Token(path); got != "three" {
		t.Errorf("Token() = %q, want %q", got, "three")
	}
}

func TestTokenMissingFile(t *testing.T) {
	if got := Token(filepath.Join(t.TempDir(), "nope")); got != "" {
		t.Errorf("Token() = %q, want empty", got)
	}
}
