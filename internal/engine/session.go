// Package engine drives the group chat: responder selection, ask-chained
// response rounds, action dispatch onto the task board, and the background
// work loop that drains pending tasks.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/superheromeZzh/meowdev/internal/board"
	"github.com/superheromeZzh/meowdev/internal/bus"
	"github.com/superheromeZzh/meowdev/internal/cat"
	"github.com/superheromeZzh/meowdev/internal/persistence"
	"github.com/superheromeZzh/meowdev/internal/protocol"
)

// maxAskRounds caps ask-chained response rounds. Runaway prevention only;
// normal conversations finish in one or two rounds.
const maxAskRounds = 100

// DefaultMaxWorkRounds caps work loop iterations per trigger.
const DefaultMaxWorkRounds = 100

// Speaker produces one reply for a cat from the shared conversation state.
// *cat.Agent satisfies it.
type Speaker interface {
	Speak(ctx context.Context, sessionID, boardText string) string
	SpeakStream(ctx context.Context, sessionID, boardText string, onChunk func(string)) string
}

// Options configures a Session.
type Options struct {
	MaxWorkRounds int
	Seed          int64
	Logger        *slog.Logger

	// OnReply receives every cat reply shown to the user, in speaking
	// order. OnSystem receives engine status lines. Both optional.
	OnReply  func(catName, text string)
	OnSystem func(text string)
}

// Session owns one chat session: its history, its task board, and the cats
// speaking in it. Cat invocations are strictly sequential; at most one work
// loop runs at a time.
type Session struct {
	ID string

	store     *persistence.Store
	taskBoard *board.TaskBoard
	registry  *cat.Registry
	agents    map[string]Speaker
	policy    *ResponderPolicy
	bus       *bus.Bus
	logger    *slog.Logger

	maxWorkRounds int
	onReply       func(catName, text string)
	onSystem      func(text string)

	stopped  atomic.Bool
	workBusy atomic.Bool
	wg       sync.WaitGroup
}

// NewSession wires a session. agents maps cat id to its Speaker; every
// registry cat must have one.
func NewSession(id string, store *persistence.Store, taskBoard *board.TaskBoard,
	registry *cat.Registry, agents map[string]Speaker, eventBus *bus.Bus, opts Options) *Session {

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxWork := opts.MaxWorkRounds
	if maxWork <= 0 {
		maxWork = DefaultMaxWorkRounds
	}
	onReply := opts.OnReply
	if onReply == nil {
		onReply = func(string, string) {}
	}
	onSystem := opts.OnSystem
	if onSystem == nil {
		onSystem = func(string) {}
	}
	return &Session{
		ID:            id,
		store:         store,
		taskBoard:     taskBoard,
		registry:      registry,
		agents:        agents,
		policy:        NewResponderPolicy(registry, opts.Seed),
		bus:           eventBus,
		logger:        logger,
		maxWorkRounds: maxWork,
		onReply:       onReply,
		onSystem:      onSystem,
	}
}

// Board exposes the session's task board.
func (s *Session) Board() *board.TaskBoard { return s.taskBoard }

// Stop halts further cat invocations. In-flight calls finish; the flag is
// checked before every subsequent invocation.
func (s *Session) Stop() { s.stopped.Store(true) }

// Resume clears a previous Stop.
func (s *Session) Resume() { s.stopped.Store(false) }

// Stopped reports whether the session is paused.
func (s *Session) Stopped() bool { return s.stopped.Load() }

// Wait blocks until any background work loop has finished.
func (s *Session) Wait() { s.wg.Wait() }

// HandleUserMessage records the user's message, runs ask-chained response
// rounds, and kicks the background work loop if the board has pending work
// afterwards.
func (s *Session) HandleUserMessage(ctx context.Context, text string) error {
	if err := s.store.AppendMessage(ctx, "user", text, s.ID); err != nil {
		return fmt.Errorf("record user message: %w", err)
	}

	queue := s.policy.Select(text)
	spoken := make(map[string]bool)

	for round := 0; round < maxAskRounds && len(queue) > 0; round++ {
		var next []*cat.Cat
		discuss := false

		for _, c := range queue {
			if s.stopped.Load() {
				return nil
			}
			asks, d := s.letSpeak(ctx, c)
			discuss = discuss || d
			spoken[c.ID] = true
			for _, id := range asks {
				if asked, ok := s.registry.Get(id); ok {
					next = append(next, asked)
				}
			}
		}

		if discuss {
			for _, c := range s.registry.All() {
				if !spoken[c.ID] {
					next = append(next, c)
				}
			}
		}
		queue = dedupe(next)
	}

	if s.taskBoard.HasPendingWork() {
		s.StartWorkLoop(ctx)
	}
	return nil
}

// letSpeak runs one cat turn: invoke, parse, dispatch actions, persist and
// surface the reply. Returns the cat's [ask:] targets and discuss signal.
func (s *Session) letSpeak(ctx context.Context, c *cat.Cat) (asks []string, discuss bool) {
	speaker, ok := s.agents[c.ID]
	if !ok {
		s.logger.Warn("no speaker registered", "cat", c.ID)
		return nil, false
	}

	raw := speaker.Speak(ctx, s.ID, s.taskBoard.FormatStatus())
	res := protocol.Parse(raw)
	if res.Skip {
		return nil, false
	}

	asks, discuss, _ = s.dispatch(ctx, c.ID, res.Actions)

	if res.Display != "" {
		if err := s.store.AppendMessage(ctx, c.Name, res.Display, s.ID); err != nil {
			s.logger.Error("persist reply failed", "cat", c.ID, "error", err)
		}
		s.onReply(c.Name, res.Display)
	}
	return asks, discuss
}

// dispatch applies parsed actions on behalf of a cat. progressed reports
// whether any action changed board or memory state; illegal transitions
// surface as short system lines and leave state unchanged.
func (s *Session) dispatch(ctx context.Context, catID string, actions []protocol.Action) (asks []string, discuss, progressed bool) {
	for _, a := range actions {
		switch v := a.(type) {
		case protocol.Create:
			t, err := s.taskBoard.Add(ctx, v.Title)
			if err != nil {
				s.logger.Error("task create failed", "title", v.Title, "error", err)
				continue
			}
			s.onSystem(fmt.Sprintf("task %s created: %s", t.ID, t.Title))
			progressed = true
		case protocol.Claim:
			if s.taskBoard.Claim(ctx, v.TaskID, catID) {
				progressed = true
			} else {
				s.onSystem(fmt.Sprintf("%s is not claimable", v.TaskID))
			}
		case protocol.Complete:
			if s.taskBoard.Complete(ctx, v.TaskID) {
				progressed = true
			} else {
				s.onSystem(fmt.Sprintf("%s is not in progress", v.TaskID))
			}
		case protocol.Idle:
			// Nothing to pick up; not progress.
		case protocol.Ask:
			if _, ok := s.registry.Get(v.CatID); ok {
				asks = append(asks, v.CatID)
			}
		case protocol.Discuss:
			discuss = true
		case protocol.Remember:
			if err := s.store.AddMemory(ctx, catID, v.Text, 2); err != nil {
				s.logger.Error("memory write failed", "cat", catID, "error", err)
			} else {
				progressed = true
			}
		case protocol.SetProfile:
			if err := s.store.SetProfile(ctx, v.Key, v.Value); err != nil {
				s.logger.Error("profile write failed", "key", v.Key, "error", err)
			} else {
				progressed = true
			}
		case protocol.Remove:
			if s.taskBoard.Remove(ctx, v.TaskID) {
				s.onSystem(fmt.Sprintf("task %s removed", v.TaskID))
				progressed = true
			} else {
				s.onSystem(fmt.Sprintf("%s does not exist", v.TaskID))
			}
		case protocol.Reassign:
			if s.taskBoard.Reassign(ctx, v.TaskID, v.Owner) {
				s.onSystem(fmt.Sprintf("task %s reassigned to %s", v.TaskID, v.Owner))
				progressed = true
			} else {
				s.onSystem(fmt.Sprintf("%s cannot be reassigned", v.TaskID))
			}
		}
	}
	return asks, discuss, progressed
}

// HandleUserCommand applies a board verb typed by the user directly.
func (s *Session) HandleUserCommand(ctx context.Context, a protocol.Action) {
	s.dispatch(ctx, "user", []protocol.Action{a})
	if s.taskBoard.HasPendingWork() {
		s.StartWorkLoop(ctx)
	}
}

func dedupe(cats []*cat.Cat) []*cat.Cat {
	seen := make(map[string]bool, len(cats))
	var out []*cat.Cat
	for _, c := range cats {
		if !seen[c.ID] {
			seen[c.ID] = true
			out = append(out, c)
		}
	}
	return out
}
