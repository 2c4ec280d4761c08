package protocol

import (
	"regexp"
	"strings"
)

// User-authored task verbs typed straight into the chat. These map onto the
// same dispatcher as the cat markers, so the board has exactly one mutation
// surface.
var (
	userAddRe      = regexp.MustCompile(`(?i)^(?:add|new|create)\s+task[:：]\s*(.+)$`)
	userRemoveRe   = regexp.MustCompile(`(?i)^(?:remove|delete|drop|cancel)\s+(T-\d+)\s*$`)
	userReassignRe = regexp.MustCompile(`(?i)(?:assign|give|reassign)\s+(T-\d+)\s+to\s+(\S+)`)
)

// Remove deletes a task regardless of status. User-only; cats never emit it.
type Remove struct {
	TaskID string
}

// Reassign forces a task to doing under a new owner. User-only.
type Reassign struct {
	TaskID string
	Owner  string
}

func (Remove) isAction()   {}
func (Reassign) isAction() {}

// ParseUserCommand recognizes the user's task management verbs.
// Returns nil when the text is not a task command.
func ParseUserCommand(text string) Action {
	text = strings.TrimSpace(text)
	if m := userAddRe.FindStringSubmatch(text); m != nil {
		return Create{Title: strings.TrimSpace(m[1])}
	}
	if m := userRemoveRe.FindStringSubmatch(text); m != nil {
		return Remove{TaskID: m[1]}
	}
	if m := userReassignRe.FindStringSubmatch(text); m != nil {
		return Reassign{TaskID: m[1], Owner: m[2]}
	}
	return nil
}
