package engine

import (
	"context"

	"github.com/superheromeZzh/meowdev/internal/bus"
	"github.com/superheromeZzh/meowdev/internal/protocol"
)

// TermReason is why a work loop run ended.
type TermReason string

const (
	// ReasonStopped reports a user-requested stop.
	ReasonStopped TermReason = "stopped"
	// ReasonDrained reports normal completion, no pending work left.
	ReasonDrained TermReason = "drained"
	// ReasonConverged reports two consecutive rounds without progress.
	ReasonConverged TermReason = "converged-idle"
	// ReasonRoundCap reports the safety limit tripped with work pending.
	ReasonRoundCap TermReason = "round-cap"
)

// StartWorkLoop launches RunWorkLoop in the background. At most one loop
// runs per session; a second trigger returns false and relies on the
// running loop to pick up the new work.
func (s *Session) StartWorkLoop(ctx context.Context) bool {
	if !s.workBusy.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.workBusy.Store(false)
		s.RunWorkLoop(ctx)
	}()
	return true
}

// RunWorkLoop lets every cat act on the board once per round, repeatedly,
// until the board drains, the session is stopped, two consecutive rounds
// make no progress, or the round cap trips.
func (s *Session) RunWorkLoop(ctx context.Context) TermReason {
	s.publishWorkLoop(bus.TopicWorkLoopStarted, 0, "")
	reason := s.runWorkRounds(ctx)
	s.logger.Info("work loop finished", "session", s.ID, "reason", string(reason))
	s.publishWorkLoop(bus.TopicWorkLoopFinished, 0, string(reason))
	return reason
}

func (s *Session) runWorkRounds(ctx context.Context) TermReason {
	emptyRounds := 0
	for round := 1; round <= s.maxWorkRounds; round++ {
		progressed := false
		for _, c := range s.registry.All() {
			if s.stopped.Load() {
				return ReasonStopped
			}
			if !s.taskBoard.HasPendingWork() {
				return ReasonDrained
			}
			if s.workTurn(ctx, c.ID) {
				progressed = true
			}
		}
		s.publishWorkLoop(bus.TopicWorkLoopRound, round, "")

		if progressed {
			emptyRounds = 0
			continue
		}
		emptyRounds++
		if emptyRounds >= 2 {
			return ReasonConverged
		}
	}
	return ReasonRoundCap
}

// workTurn gives one cat one turn against the current board. Reports
// whether the turn made progress (any non-idle action applied).
func (s *Session) workTurn(ctx context.Context, catID string) bool {
	c, ok := s.registry.Get(catID)
	if !ok {
		return false
	}
	speaker, ok := s.agents[catID]
	if !ok {
		return false
	}

	raw := speaker.Speak(ctx, s.ID, s.taskBoard.FormatStatus())
	res := protocol.Parse(raw)
	if res.Skip {
		return false
	}

	_, _, progressed := s.dispatch(ctx, catID, res.Actions)

	if res.Display != "" {
		if err := s.store.AppendMessage(ctx, c.Name, res.Display, s.ID); err != nil {
			s.logger.Error("persist reply failed", "cat", catID, "error", err)
		}
		s.onReply(c.Name, res.Display)
	}
	return progressed
}

func (s *Session) publishWorkLoop(topic string, round int, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, bus.WorkLoopEvent{
		SessionID: s.ID,
		Round:     round,
		Reason:    reason,
	})
}
