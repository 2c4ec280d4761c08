package cat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultQuotaKeywords matches CLI failures caused by rate limiting or
// quota exhaustion. Case-insensitive substring match.
var DefaultQuotaKeywords = []string{
	"rate limit", "rate_limit", "quota", "exceeded", "429",
	"too many requests", "limit reached", "usage limit",
	"billing", "insufficient", "credits", "budget",
	"capacity", "overloaded", "spending limit",
}

// IsQuotaError reports whether a failure message matches the quota keyword
// set.
func IsQuotaError(msg string, keywords []string) bool {
	if len(keywords) == 0 {
		keywords = DefaultQuotaKeywords
	}
	lower := strings.ToLower(msg)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Agent wraps one cat with everything needed to produce a reply: context
// source, invoker, decoder, and quota fallback.
type Agent struct {
	Cat *Cat

	src           ContextSource
	invoker       Invoker
	logger        *slog.Logger
	tracer        trace.Tracer
	quotaKeywords []string
}

// AgentOptions configures optional Agent collaborators.
type AgentOptions struct {
	Invoker       Invoker
	Logger        *slog.Logger
	Tracer        trace.Tracer
	QuotaKeywords []string
}

// NewAgent creates an Agent for one cat.
func NewAgent(c *Cat, src ContextSource, opts AgentOptions) *Agent {
	inv := opts.Invoker
	if inv == nil {
		inv = ExecInvoker{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	kw := opts.QuotaKeywords
	if len(kw) == 0 {
		kw = DefaultQuotaKeywords
	}
	return &Agent{
		Cat:           c,
		src:           src,
		invoker:       inv,
		logger:        logger,
		tracer:        tracer,
		quotaKeywords: kw,
	}
}

// Speak produces one reply for the cat from the shared conversation state.
// Every failure mode returns a short cat-voiced string rather than an
// error; the session stays usable after any single-call failure.
func (a *Agent) Speak(ctx context.Context, sessionID, boardText string) string {
	prompt, err := BuildPrompt(ctx, a.src, a.Cat, sessionID, boardText)
	if err != nil {
		a.logger.Error("prompt build failed", "cat", a.Cat.ID, "error", err)
		return fmt.Sprintf("(%s got distracted and lost the thread, meow...)", a.Cat.Name)
	}
	return a.speakWithPrompt(ctx, prompt, "", nil)
}

// SpeakStream is Speak with incremental chunk delivery. Chunks are raw
// transport lines run through the cat's line decoder when it has one;
// decoders without line support buffer and deliver the decoded reply as
// one chunk. The returned final text always equals what Speak would have
// produced for the same transport output.
func (a *Agent) SpeakStream(ctx context.Context, sessionID, boardText string, onChunk func(string)) string {
	prompt, err := BuildPrompt(ctx, a.src, a.Cat, sessionID, boardText)
	if err != nil {
		a.logger.Error("prompt build failed", "cat", a.Cat.ID, "error", err)
		return fmt.Sprintf("(%s got distracted and lost the thread, meow...)", a.Cat.Name)
	}
	return a.speakWithPrompt(ctx, prompt, "", onChunk)
}

// SpeakTo appends a phase/task instruction to the group prompt. Used by
// the team orchestrator, which supplies the literal instruction text for
// each phase.
func (a *Agent) SpeakTo(ctx context.Context, sessionID, boardText, instruction, workDir string) string {
	prompt, err := BuildPrompt(ctx, a.src, a.Cat, sessionID, boardText)
	if err != nil {
		a.logger.Error("prompt build failed", "cat", a.Cat.ID, "error", err)
		return fmt.Sprintf("(%s got distracted and lost the thread, meow...)", a.Cat.Name)
	}
	if instruction != "" {
		prompt += "\n\n[Your task right now]\n" + instruction
	}
	return a.speakWithPrompt(ctx, prompt, workDir, nil)
}

func (a *Agent) speakWithPrompt(ctx context.Context, prompt, workDir string, onChunk func(string)) string {
	ctx, span := a.tracer.Start(ctx, "cat.invoke",
		trace.WithAttributes(attribute.String("cat.id", a.Cat.ID)))
	defer span.End()

	raw, err := a.invoke(ctx, a.Cat.Command, prompt, workDir, onChunk)
	if err == nil {
		decoded := a.Cat.Decoder.Decode(raw)
		if decoded == "" {
			return ""
		}
		return decoded
	}

	failure := err.Error() + "\n" + raw
	if IsQuotaError(failure, a.quotaKeywords) && a.Cat.Fallback != nil {
		return a.speakViaFallback(ctx, prompt, workDir)
	}

	switch {
	case errors.Is(err, ErrBinaryNotFound):
		return fmt.Sprintf("(can't find the %s command — %s's brain isn't installed yet, meow...)",
			a.Cat.Command[0], a.Cat.Name)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("(%s thought about it for too long and timed out, meow...)", a.Cat.Name)
	case errors.Is(err, ErrEmptyOutput):
		return ""
	default:
		a.logger.Warn("cat invocation failed", "cat", a.Cat.ID, "error", err)
		short := err.Error()
		if len(short) > 300 {
			short = short[:300]
		}
		return fmt.Sprintf("(%s hit a snag, meow...)\n%s", a.Cat.Name, short)
	}
}

// speakViaFallback re-invokes the designated fallback command once, with an
// impersonation preamble, and prefixes the output with an attribution note.
// Single attempt, never recursive.
func (a *Agent) speakViaFallback(ctx context.Context, prompt, workDir string) string {
	fb := a.Cat.Fallback
	a.logger.Info("quota fallback engaged", "cat", a.Cat.ID, "helper", fb.HelperName)

	fbPrompt := fmt.Sprintf(
		"%s has run out of quota, so you are filling in. Stay fully in %s's voice and persona described below; do not mention the substitution.\n\n%s",
		a.Cat.Name, a.Cat.Name, prompt,
	)
	raw, err := a.invoke(ctx, fb.Command, fbPrompt, workDir, nil)
	if err != nil {
		a.logger.Warn("fallback invocation failed", "cat", a.Cat.ID, "error", err)
		return fmt.Sprintf("(%s is out of quota and the backup didn't answer either, meow...)", a.Cat.Name)
	}
	decoded := PlainDecoder{}.Decode(raw)
	if decoded == "" {
		return ""
	}
	return fmt.Sprintf("*(%s is lending %s a paw)*\n%s", fb.HelperName, a.Cat.Name, decoded)
}

func (a *Agent) invoke(ctx context.Context, command []string, prompt, workDir string, onChunk func(string)) (string, error) {
	if onChunk == nil {
		return a.invoker.Invoke(ctx, command, prompt, workDir)
	}

	ld, canStream := a.Cat.Decoder.(LineDecoder)
	if !canStream {
		// Transport needs the full trace before it can be decoded.
		raw, err := a.invoker.Invoke(ctx, command, prompt, workDir)
		if err == nil {
			if decoded := a.Cat.Decoder.Decode(raw); decoded != "" {
				onChunk(decoded)
			}
		}
		return raw, err
	}

	return a.invoker.Stream(ctx, command, prompt, workDir, func(chunk string) {
		for _, line := range strings.SplitAfter(chunk, "\n") {
			if line == "" {
				continue
			}
			if text, ok := ld.DecodeLine(strings.TrimRight(line, "\n")); ok {
				onChunk(text)
			}
		}
	})
}
