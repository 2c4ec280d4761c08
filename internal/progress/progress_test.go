package progress

import (
	"strings"
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l := NewLog(t.TempDir())
	tick := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}
	return l
}

func TestAppendNewestFirst(t *testing.T) {
	l := newTestLog(t)

	if err := l.Append("- first thing", "Whiskers"); err != nil {
		t.Fatal(err)
	}
	if err := l.Append("- second thing", "Boots"); err != nil {
		t.Fatal(err)
	}

	content := l.read()
	if !strings.HasPrefix(content, "# MeowDev Progress\n---\n") {
		t.Fatalf("missing header:\n%s", content)
	}
	if strings.Index(content, "second thing") > strings.Index(content, "first thing") {
		t.Fatalf("newest entry not first:\n%s", content)
	}
}

func TestLogReviewStatus(t *testing.T) {
	l := newTestLog(t)

	if err := l.LogReview("T-001", "looks great, pass from me", "Whiskers"); err != nil {
		t.Fatal(err)
	}
	if err := l.LogReview("T-002", "needs error handling", "Whiskers"); err != nil {
		t.Fatal(err)
	}

	content := l.read()
	if !strings.Contains(content, "✅ PASS **T-001**") {
		t.Fatalf("pass verdict not recorded:\n%s", content)
	}
	if !strings.Contains(content, "🔄 needs changes **T-002**") {
		t.Fatalf("fail verdict not recorded:\n%s", content)
	}
}

func TestContextForPromptCapsEntries(t *testing.T) {
	l := newTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Append("- entry", "Boots"); err != nil {
			t.Fatal(err)
		}
	}

	got := l.ContextForPrompt(2)
	if n := strings.Count(got, "## "); n != 2 {
		t.Fatalf("entries = %d, want 2:\n%s", n, got)
	}
}

func TestContextForPromptEmpty(t *testing.T) {
	l := newTestLog(t)
	if got := l.ContextForPrompt(10); got != "(no progress recorded yet)" {
		t.Fatalf("got %q", got)
	}
}

func TestClear(t *testing.T) {
	l := newTestLog(t)
	if err := l.Append("- entry", "Mochi"); err != nil {
		t.Fatal(err)
	}
	if err := l.Clear(); err != nil {
		t.Fatal(err)
	}
	if got := l.read(); got != header {
		t.Fatalf("after clear: %q", got)
	}
}
