package logring

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAppendEvictsOldest(t *testing.T) {
	r := New(50)
	for i := 0; i < 51; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}

	if got := r.Len(); got != 50 {
		t.Fatalf("Len() = %d, want 50", got)
	}
	entries := r.Entries()
	if entries[0].Message != "line 1" {
		t.Errorf("oldest = %q, want %q", entries[0].Message, "line 1")
	}
	if entries[len(entries)-1].Message != "line 50" {
		t.Errorf("newest = %q, want %q", entries[len(entries)-1].Message, "line 50")
	}
}

func TestAppendKeepsOrder(t *testing.T) {
	r := New(3)
	r.Append("a")
	r.Append("b")
	r.Append("c")
	r.Append("d")

	want := []string{"b", "c", "d"}
	entries := r.Entries()
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].Message != w {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Message, w)
		}
	}
}

func TestLinesFormat(t *testing.T) {
	r := New(5)
	at := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	r.AppendAt(at, "bot is operational")

	lines := r.Lines()
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	want := "[2024-03-01 12:30:45 UTC] bot is operational"
	if lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
}

func TestLinesUseUTC(t *testing.T) {
	r := New(5)
	loc := time.FixedZone("UTC+7", 7*3600)
	r.AppendAt(time.Date(2024, 3, 1, 19, 0, 0, 0, loc), "tz check")

	if !strings.HasPrefix(r.Lines()[0], "[2024-03-01 12:00:00 UTC]") {
		t.Errorf("line not converted to UTC: %q", r.Lines()[0])
	}
}

func TestEmptyMessageIgnored(t *testing.T) {
	r := New(5)
	r.Append("")
	if r.Len() != 0 {
		t.Errorf("empty message stored, Len() = %d", r.Len())
	}
}

func TestZeroMaxGetsDefault(t *testing.T) {
	r := New(0)
	for i := 0; i < DefaultCap+10; i++ {
		r.Append("x")
	}
	if r.Len() != DefaultCap {
		t.Errorf("Len() = %d, want %d", r.Len(), DefaultCap)
	}
}
