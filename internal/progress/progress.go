// Package progress keeps a human-readable markdown progress log in the
// collaboration work directory. Newest entries sit at the top, right under
// the header, so both humans and prompts read the recent history first.
package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	fileName = "progress.md"
	header   = "# MeowDev Progress\n---\n"
)

// Log appends timestamped entries to progress.md inside a work directory.
type Log struct {
	mu   sync.Mutex
	path string
	dir  string
	now  func() time.Time
}

// NewLog creates a progress log rooted at workDir.
func NewLog(workDir string) *Log {
	return &Log{
		path: filepath.Join(workDir, fileName),
		dir:  workDir,
		now:  time.Now,
	}
}

// Append inserts a new entry directly below the header.
func (l *Log) Append(content, author string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := fmt.Sprintf("\n## %s - %s\n%s\n", l.now().Format("2006-01-02 15:04"), author, content)

	existing := l.read()
	if !strings.HasPrefix(existing, "# ") {
		existing = header + existing
	}
	var out string
	if idx := strings.Index(existing, "---\n"); idx >= 0 {
		cut := idx + len("---\n")
		out = existing[:cut] + entry + existing[cut:]
	} else {
		out = existing + entry
	}
	return l.write(out)
}

// LogReview records one review verdict, marking it passed when the reply
// carries the PASS token.
func (l *Log) LogReview(subject, result, catName string) error {
	status := "🔄 needs changes"
	if strings.Contains(strings.ToUpper(result), "PASS") {
		status = "✅ PASS"
	}
	if len(result) > 200 {
		result = result[:200]
	}
	return l.Append(fmt.Sprintf("- %s **%s** review\n  %s", status, subject, result), catName)
}

// LogError records a failure line.
func (l *Log) LogError(errMsg, catName string) error {
	if catName == "" {
		catName = "System"
	}
	return l.Append("- ❌ error: "+errMsg, catName)
}

// ContextForPrompt returns the most recent entries rendered for inclusion
// in a prompt, capped at maxEntries.
func (l *Log) ContextForPrompt(maxEntries int) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	content := l.read()
	if content == "" {
		return "(no progress recorded yet)"
	}
	entries := strings.Split(content, "\n## ")
	if len(entries) < 2 {
		return "(no progress recorded yet)"
	}
	// entries[0] is the header.
	recent := entries[1:]
	if len(recent) > maxEntries {
		recent = recent[:maxEntries]
	}
	return "## " + strings.Join(recent, "\n## ")
}

// Recent returns the last n lines of the raw file.
func (l *Log) Recent(n int) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	content := l.read()
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Clear resets the log to an empty header.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(header)
}

func (l *Log) read() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return ""
	}
	return string(data)
}

func (l *Log) write(content string) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	if err := os.WriteFile(l.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write progress log: %w", err)
	}
	return nil
}
