package cat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/superheromeZzh/meowdev/internal/persistence"
)

// ContextSource supplies the shared conversation state a prompt is built
// from. *persistence.Store satisfies it.
type ContextSource interface {
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]persistence.Message, error)
	Memories(ctx context.Context, catID string, limit int) ([]persistence.Memory, error)
	AllProfile(ctx context.Context) (map[string]string, error)
}

const (
	promptRecentMessages = 30
	promptMemoryLimit    = 10
)

// protocolInstructions is the trailing block every group prompt carries:
// the marker protocol plus group etiquette.
const protocolInstructions = `Reply naturally based on the conversation above. Rules:
- If this topic doesn't need you, reply [skip] and nothing else.
- Don't repeat what other cats already said.
- To remember something for later, add [remember: the fact].
- If you learn something about the user, add [user: key: value].
- To pull another cat into the conversation, add [ask:arch], [ask:stack] or [ask:pixel].
- If the topic deserves more group discussion, add [discuss].
- Task board markers: [new task: title] to create, [claim: T-001] to take a
  pending task, [complete: T-001] when your doing task is finished, [idle]
  when nothing on the board is for you.
- Resolve your own blockers before asking the user to act.`

// BuildPrompt concatenates, in fixed order: the cat's soul, its memories,
// the user profile, the recent chat window, the task board, and the marker
// protocol instructions.
func BuildPrompt(ctx context.Context, src ContextSource, c *Cat, sessionID, boardText string) (string, error) {
	var parts []string
	parts = append(parts, c.CurrentSoul())

	mems, err := src.Memories(ctx, c.ID, promptMemoryLimit)
	if err != nil {
		return "", fmt.Errorf("load memories: %w", err)
	}
	if len(mems) > 0 {
		var lines []string
		for _, m := range mems {
			prefix := "•"
			if m.Importance >= 2 {
				prefix = "★"
			}
			lines = append(lines, prefix+" "+m.Text)
		}
		parts = append(parts, "[Your memories]\n"+strings.Join(lines, "\n"))
	}

	profile, err := src.AllProfile(ctx)
	if err != nil {
		return "", fmt.Errorf("load profile: %w", err)
	}
	if len(profile) > 0 {
		parts = append(parts, "[User profile]\n"+formatProfile(profile))
	}

	msgs, err := src.RecentMessages(ctx, sessionID, promptRecentMessages)
	if err != nil {
		return "", fmt.Errorf("load chat history: %w", err)
	}
	if len(msgs) > 0 {
		var lines []string
		for _, m := range msgs {
			lines = append(lines, m.Role+": "+m.Content)
		}
		parts = append(parts, "[Recent group chat]\n"+strings.Join(lines, "\n"))
	}

	if boardText != "" {
		parts = append(parts, "[Task board]\n"+boardText)
	}

	parts = append(parts, protocolInstructions)
	return strings.Join(parts, "\n\n"), nil
}

func formatProfile(profile map[string]string) string {
	keys := make([]string, 0, len(profile))
	for k := range profile {
		keys = append(keys, k)
	}
	// Deterministic rendering keeps prompts stable across turns.
	sort.Strings(keys)
	var lines []string
	for _, k := range keys {
		lines = append(lines, "- "+k+": "+profile[k])
	}
	return strings.Join(lines, "\n")
}
