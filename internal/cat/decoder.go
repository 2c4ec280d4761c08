package cat

import (
	"encoding/json"
	"strings"
)

// Decoder reduces raw CLI transport output to the assistant-authored text.
// Each cat gets the decoder matching its CLI's output format at
// construction time.
type Decoder interface {
	Decode(raw string) string
}

// LineDecoder is implemented by decoders whose transport is line-structured
// and can therefore be decoded incrementally during streaming. Lines that
// do not decode are skipped, not fatal.
type LineDecoder interface {
	DecodeLine(line string) (text string, ok bool)
}

// PlainDecoder passes text through, trimmed.
type PlainDecoder struct{}

func (PlainDecoder) Decode(raw string) string {
	return strings.TrimSpace(raw)
}

func (PlainDecoder) DecodeLine(line string) (string, bool) {
	return line + "\n", true
}

// CodexTraceDecoder strips the codex exec tool-call/thinking trace down to
// the final assistant-authored body. The trace ends its metadata with a
// bare "codex" line; everything after it up to the "tokens used" footer is
// the reply. Older traces delimit the header with "--------" lines instead.
type CodexTraceDecoder struct{}

func (CodexTraceDecoder) Decode(raw string) string {
	lines := strings.Split(raw, "\n")

	codexIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "codex" {
			codexIdx = i
		}
	}
	if codexIdx >= 0 {
		var body []string
		for _, line := range lines[codexIdx+1:] {
			if strings.HasPrefix(strings.TrimSpace(line), "tokens used") {
				break
			}
			body = append(body, line)
		}
		if cleaned := strings.TrimSpace(strings.Join(body, "\n")); cleaned != "" {
			return cleaned
		}
	}

	// Fallback: skip past the second "--------" header delimiter.
	var body []string
	inBody := false
	headersPassed := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "--------" {
			headersPassed++
			if headersPassed >= 2 {
				inBody = true
			}
			continue
		}
		if !inBody {
			continue
		}
		if strings.HasPrefix(trimmed, "tokens used") {
			break
		}
		if trimmed == "user" || trimmed == "" ||
			strings.HasPrefix(trimmed, "mcp startup") ||
			strings.HasPrefix(trimmed, "thinking") {
			continue
		}
		body = append(body, line)
	}
	if cleaned := strings.TrimSpace(strings.Join(body, "\n")); cleaned != "" {
		return cleaned
	}
	return strings.TrimSpace(raw)
}

// streamEvent is one line of a line-delimited JSON event stream.
type streamEvent struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Result string `json:"result"`
}

// EventStreamDecoder extracts assistant text from a line-delimited JSON
// event stream: "text" content events are collected, and the terminal
// "result" event is used only when no text events were seen.
type EventStreamDecoder struct{}

func (d EventStreamDecoder) Decode(raw string) string {
	var texts []string
	var result string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "text":
			if ev.Text != "" {
				texts = append(texts, ev.Text)
			}
		case "result":
			result = ev.Result
		}
	}
	if len(texts) > 0 {
		return strings.TrimSpace(strings.Join(texts, ""))
	}
	return strings.TrimSpace(result)
}

func (EventStreamDecoder) DecodeLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return "", false
	}
	if ev.Type == "text" && ev.Text != "" {
		return ev.Text, true
	}
	return "", false
}
