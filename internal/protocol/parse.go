package protocol

import (
	"regexp"
	"strings"
)

// Marker syntax, cat-authored. Full-width colons are accepted alongside
// ASCII ones because the soul prompts circulate in mixed-language chats.
var (
	rememberRe = regexp.MustCompile(`\s*\[remember[:：]\s*([^\]]+?)\s*\]`)
	userRe     = regexp.MustCompile(`\s*\[user[:：]\s*([^:：\]]+?)\s*[:：]\s*([^\]]+?)\s*\]`)
	askRe      = regexp.MustCompile(`\s*\[ask[:：]\s*([A-Za-z0-9_-]+)\s*\]`)
	discussRe  = regexp.MustCompile(`\s*\[discuss\]`)
	newTaskRe  = regexp.MustCompile(`\s*\[new task[:：]\s*([^\]]+?)\s*\]`)
	claimRe    = regexp.MustCompile(`\s*\[claim[:：]\s*(T-\d+)\s*\]`)
	completeRe = regexp.MustCompile(`\s*\[complete[:：]\s*(T-\d+)\s*\]`)
	idleRe     = regexp.MustCompile(`\s*\[idle\]`)
	skipRe     = regexp.MustCompile(`\s*\[skip\]`)
)

// ParseResult is the outcome of one parsing pass over a raw cat reply.
type ParseResult struct {
	// Display is the reply with every recognized marker removed, trimmed.
	// Empty display means there is nothing to show even if the raw reply
	// was non-empty.
	Display string

	// Actions holds the extracted control signals in kind order.
	Actions []Action

	// Skip reports that the cat declined the turn. A skipped turn has no
	// side effects: Display is empty and Actions is nil regardless of any
	// other markers in the reply.
	Skip bool
}

// Parse extracts control markers from a raw reply.
//
// Skip is checked before any other marker: a reply containing [skip], or
// whose entire trimmed content is the word "skip", produces no display text
// and no actions. A skipped turn must not leave memory or task-board side
// effects behind.
func Parse(reply string) ParseResult {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return ParseResult{Skip: true}
	}
	if skipRe.MatchString(reply) || strings.EqualFold(trimmed, "skip") {
		return ParseResult{Skip: true}
	}

	var actions []Action
	for _, m := range newTaskRe.FindAllStringSubmatch(reply, -1) {
		actions = append(actions, Create{Title: strings.TrimSpace(m[1])})
	}
	for _, m := range claimRe.FindAllStringSubmatch(reply, -1) {
		actions = append(actions, Claim{TaskID: m[1]})
	}
	for _, m := range completeRe.FindAllStringSubmatch(reply, -1) {
		actions = append(actions, Complete{TaskID: m[1]})
	}
	if idleRe.MatchString(reply) {
		actions = append(actions, Idle{})
	}
	for _, m := range askRe.FindAllStringSubmatch(reply, -1) {
		actions = append(actions, Ask{CatID: strings.ToLower(m[1])})
	}
	if discussRe.MatchString(reply) {
		actions = append(actions, Discuss{})
	}
	for _, m := range rememberRe.FindAllStringSubmatch(reply, -1) {
		actions = append(actions, Remember{Text: strings.TrimSpace(m[1])})
	}
	for _, m := range userRe.FindAllStringSubmatch(reply, -1) {
		actions = append(actions, SetProfile{
			Key:   strings.TrimSpace(m[1]),
			Value: strings.TrimSpace(m[2]),
		})
	}

	return ParseResult{
		Display: Strip(reply),
		Actions: actions,
	}
}

// Strip removes every recognized marker from text and trims the result.
// Stripping is idempotent: stripping already-stripped text is a no-op.
func Strip(text string) string {
	for _, re := range []*regexp.Regexp{
		newTaskRe, claimRe, completeRe, idleRe,
		askRe, discussRe, rememberRe, userRe, skipRe,
	} {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}
