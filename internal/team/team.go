// Package team orchestrates the three cats through the PR-producing
// collaboration pipeline: roundtable discussion, architecture, UI design,
// branch, code, PR, bounded review rounds, UI review, done. VCS failures
// downgrade to warnings and the pipeline continues local-only.
package team

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/superheromeZzh/meowdev/internal/bus"
	"github.com/superheromeZzh/meowdev/internal/progress"
	"github.com/superheromeZzh/meowdev/internal/protocol"
)

// Phase names one stage of the collaboration pipeline.
type Phase string

const (
	PhaseDiscuss    Phase = "discuss"
	PhaseAnalyze    Phase = "analyze"
	PhaseDesign     Phase = "design"
	PhaseGitBranch  Phase = "git-branch"
	PhaseCode       Phase = "code"
	PhaseGitPR      Phase = "git-pr"
	PhaseReviewCode Phase = "review-code"
	PhaseReviewUI   Phase = "review-ui"
	PhaseRevise     Phase = "revise"
	PhaseGitUpdate  Phase = "git-update"
	PhaseDone       Phase = "done"
)

// DefaultMaxReviewRounds bounds the code review loop.
const DefaultMaxReviewRounds = 3

// DefaultBranchPrefix prefixes generated feature branch names.
const DefaultBranchPrefix = "feat/"

const diffPromptLimit = 3000

// Session is the state of one collaboration run. Discarded at the end;
// only the progress log and chat history outlive it.
type Session struct {
	Requirement string
	SessionID   string
	WorkDir     string
	Branch      string
	PRURL       string
	PRNumber    int
	Phase       Phase
	ReviewRound int
}

// Agent produces one cat reply for a phase instruction, working in dir.
// *cat.Agent satisfies it via SpeakTo.
type Agent interface {
	SpeakTo(ctx context.Context, sessionID, boardText, instruction, workDir string) string
}

// Member pairs a cat's identity with its agent.
type Member struct {
	Name  string
	Role  string
	Agent Agent
}

// VCS is the git/gh surface the pipeline depends on. *gitops.Client
// satisfies it.
type VCS interface {
	SetupRepoForPR(ctx context.Context, dir, repoName string) (string, error)
	CreateBranch(ctx context.Context, name, dir string) error
	CommitAll(ctx context.Context, message, dir string) (string, error)
	PushBranch(ctx context.Context, dir string) (string, error)
	CreatePR(ctx context.Context, title, body, dir string) (string, int, error)
	PRDiff(ctx context.Context, number int, dir string) (string, error)
	AddPRComment(ctx context.Context, number int, body, author, dir string) error
}

// History is the append-only chat log the pipeline writes task assignments
// and replies into. *persistence.Store satisfies it.
type History interface {
	AppendMessage(ctx context.Context, role, content, sessionID string) error
}

// Config wires an Orchestrator.
type Config struct {
	Lead        Member
	Implementer Member
	Designer    Member

	VCS     VCS
	History History
	Bus     *bus.Bus
	Logger  *slog.Logger

	MaxReviewRounds int
	BranchPrefix    string
	RepoName        string

	// OnReply receives each cat reply; OnSystem receives pipeline status
	// lines. Presentation belongs to the caller.
	OnReply  func(catName string, phase Phase, text string)
	OnSystem func(phase Phase, text string)
}

// Orchestrator runs the collaboration pipeline.
type Orchestrator struct {
	lead, impl, designer Member

	vcs     VCS
	history History
	bus     *bus.Bus
	logger  *slog.Logger

	maxReviewRounds int
	branchPrefix    string
	repoName        string
	onReply         func(string, Phase, string)
	onSystem        func(Phase, string)
	now             func() time.Time
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		lead:            cfg.Lead,
		impl:            cfg.Implementer,
		designer:        cfg.Designer,
		vcs:             cfg.VCS,
		history:         cfg.History,
		bus:             cfg.Bus,
		logger:          cfg.Logger,
		maxReviewRounds: cfg.MaxReviewRounds,
		branchPrefix:    cfg.BranchPrefix,
		repoName:        cfg.RepoName,
		onReply:         cfg.OnReply,
		onSystem:        cfg.OnSystem,
		now:             time.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxReviewRounds <= 0 {
		o.maxReviewRounds = DefaultMaxReviewRounds
	}
	if o.branchPrefix == "" {
		o.branchPrefix = DefaultBranchPrefix
	}
	if o.repoName == "" {
		o.repoName = "meowdev-output"
	}
	if o.onReply == nil {
		o.onReply = func(string, Phase, string) {}
	}
	if o.onSystem == nil {
		o.onSystem = func(Phase, string) {}
	}
	return o
}

// Run executes the full pipeline and returns the final session state. The
// caller detects local-only mode by an empty PRURL.
func (o *Orchestrator) Run(ctx context.Context, requirement, sessionID, workDir string) (*Session, error) {
	s := &Session{
		Requirement: requirement,
		SessionID:   sessionID,
		WorkDir:     workDir,
	}
	plog := progress.NewLog(workDir)

	o.discuss(ctx, s)
	o.analyze(ctx, s)
	o.design(ctx, s)
	o.createBranch(ctx, s)
	o.code(ctx, s, plog)
	o.openPR(ctx, s)
	o.reviewCode(ctx, s, plog)
	o.reviewUI(ctx, s, plog)

	o.enterPhase(s, PhaseDone)
	return s, nil
}

// discuss runs the roundtable: everyone opines, the implementer and
// designer rebut, the lead summarizes.
func (o *Orchestrator) discuss(ctx context.Context, s *Session) {
	o.enterPhase(s, PhaseDiscuss)
	o.onSystem(PhaseDiscuss, "roundtable discussion")

	for _, m := range []Member{o.lead, o.impl, o.designer} {
		o.speak(ctx, s, m, fmt.Sprintf(
			"The user wants something built: %q.\nShare a short take from your angle as %s (3-5 sentences).",
			s.Requirement, m.Role))
	}
	for _, m := range []Member{o.impl, o.designer} {
		o.speak(ctx, s, m,
			"Having heard the other cats, any additions or disagreements? Keep it short (2-3 sentences).")
	}
	o.speak(ctx, s, o.lead,
		"Pull the discussion together and state the final direction (2-3 sentences).")
}

func (o *Orchestrator) analyze(ctx context.Context, s *Session) {
	o.enterPhase(s, PhaseAnalyze)
	o.onSystem(PhaseAnalyze, "architecture")

	o.speak(ctx, s, o.lead, fmt.Sprintf(
		"Write the formal architecture: tech stack, module split, file layout.\nRequirement: %s",
		s.Requirement))
	o.speak(ctx, s, o.impl,
		"Having read the architecture, give a short implementation take (2-3 sentences).")
}

func (o *Orchestrator) design(ctx context.Context, s *Session) {
	o.enterPhase(s, PhaseDesign)
	o.onSystem(PhaseDesign, "ui design")

	o.speak(ctx, s, o.designer,
		"Design the UI for the architecture: palette with hex values, layout, key interactions.")
	o.speak(ctx, s, o.impl,
		"Any implementation pain points in that UI design? One or two sentences.")
}

// createBranch prepares the repo and feature branch. Failure is a warning;
// the run continues local-only with s.Branch left empty.
func (o *Orchestrator) createBranch(ctx context.Context, s *Session) {
	o.enterPhase(s, PhaseGitBranch)

	name := fmt.Sprintf("%s%s-%d", o.branchPrefix, slugify(s.Requirement), o.now().Unix())
	if _, err := o.vcs.SetupRepoForPR(ctx, s.WorkDir, o.repoName); err != nil {
		o.warn(PhaseGitBranch, "branch setup failed", err)
		return
	}
	if err := o.vcs.CreateBranch(ctx, name, s.WorkDir); err != nil {
		o.warn(PhaseGitBranch, "branch creation failed", err)
		return
	}
	s.Branch = name
	o.onSystem(PhaseGitBranch, "created branch "+name)
}

func (o *Orchestrator) code(ctx context.Context, s *Session, plog *progress.Log) {
	o.enterPhase(s, PhaseCode)
	o.onSystem(PhaseCode, "coding")

	o.speak(ctx, s, o.impl, fmt.Sprintf(
		"Generate the complete project code in the current directory, following the architecture and UI design.\nRequirement: %s",
		s.Requirement))

	if err := plog.Append("- 💻 code written for: "+s.Requirement, o.impl.Name); err != nil {
		o.logger.Warn("progress log write failed", "error", err)
	}
}

// openPR commits, pushes, and opens the PR. Requires a branch; any failure
// keeps the run in local-only review mode.
func (o *Orchestrator) openPR(ctx context.Context, s *Session) {
	o.enterPhase(s, PhaseGitPR)
	if s.Branch == "" {
		return
	}

	if _, err := o.vcs.CommitAll(ctx, "feat: "+truncate(s.Requirement, 50), s.WorkDir); err != nil {
		o.warn(PhaseGitPR, "commit failed", err)
		return
	}
	if _, err := o.vcs.PushBranch(ctx, s.WorkDir); err != nil {
		o.warn(PhaseGitPR, "push failed", err)
		return
	}
	body := fmt.Sprintf("## Requirement\n%s\n\n*Implemented by %s, awaiting review from %s & %s*",
		s.Requirement, o.impl.Name, o.lead.Name, o.designer.Name)
	url, number, err := o.vcs.CreatePR(ctx, "feat: "+truncate(s.Requirement, 80), body, s.WorkDir)
	if err != nil {
		o.warn(PhaseGitPR, "pr creation failed", err)
		return
	}
	s.PRURL = url
	s.PRNumber = number
	o.onSystem(PhaseGitPR, "pr created: "+url)
}

// reviewCode runs the bounded review loop: the lead reviews (with the PR
// diff when one exists), the implementer responds and revises on a fail,
// and the PR is re-pushed. Exhausting the rounds is not an error.
func (o *Orchestrator) reviewCode(ctx context.Context, s *Session, plog *progress.Log) {
	o.onSystem(PhaseReviewCode, "code review")

	for round := 1; round <= o.maxReviewRounds; round++ {
		o.enterPhase(s, PhaseReviewCode)
		s.ReviewRound = round

		task := "Review the code quality and give your verdict. Reply with PASS to approve, otherwise list the most important fixes (3 max)."
		if s.PRNumber != 0 {
			if diff, err := o.vcs.PRDiff(ctx, s.PRNumber, s.WorkDir); err == nil && diff != "" {
				task += "\n\nPR Diff:\n```\n" + truncate(diff, diffPromptLimit) + "\n```"
			}
		}

		review := o.speak(ctx, s, o.lead, task)
		o.commentOnPR(ctx, s, review, o.lead.Name)
		if err := plog.LogReview(fmt.Sprintf("round %d", round), review, o.lead.Name); err != nil {
			o.logger.Warn("progress log write failed", "error", err)
		}

		if passed(review) {
			o.speak(ctx, s, o.designer,
				"The code review passed! Take a look yourself and share a quick reaction (1-2 sentences).")
			return
		}

		o.speak(ctx, s, o.impl, fmt.Sprintf(
			"The review feedback is below. Respond briefly (1-2 sentences), then fix the code.\n\nFeedback: %s",
			review))

		o.enterPhase(s, PhaseRevise)
		o.speak(ctx, s, o.impl, "Revise the code per the review feedback:\n"+review)

		o.updatePR(ctx, s, fmt.Sprintf("fix: address review (round %d)", round),
			fmt.Sprintf("pr updated (round %d)", round), plog)
	}
}

// reviewUI is a single designer pass with the same PASS convention; a fail
// gets one revise-and-push, never a loop.
func (o *Orchestrator) reviewUI(ctx context.Context, s *Session, plog *progress.Log) {
	o.enterPhase(s, PhaseReviewUI)

	review := o.speak(ctx, s, o.designer,
		"Review the code from a UI/UX angle and give your verdict. Reply with PASS to approve, otherwise give concrete fixes.")
	o.commentOnPR(ctx, s, review, o.designer.Name)
	if err := plog.LogReview("ui", review, o.designer.Name); err != nil {
		o.logger.Warn("progress log write failed", "error", err)
	}

	if passed(review) {
		return
	}

	o.speak(ctx, s, o.impl, fmt.Sprintf(
		"The UI review wasn't satisfied. Respond briefly (1-2 sentences), then fix it.\n\nFeedback: %s",
		review))

	o.enterPhase(s, PhaseRevise)
	o.speak(ctx, s, o.impl, "Revise the frontend per the UI review feedback:\n"+review)

	o.updatePR(ctx, s, "fix: UI tweaks", "pr updated (ui fixes)", plog)
}

// speak assigns a phase task to one cat, records both the assignment and
// the cleaned reply in chat history, and surfaces the reply.
func (o *Orchestrator) speak(ctx context.Context, s *Session, m Member, instruction string) string {
	if err := o.history.AppendMessage(ctx, "system", fmt.Sprintf("[%s's task] %s", m.Name, instruction), s.SessionID); err != nil {
		o.logger.Error("record task failed", "cat", m.Name, "error", err)
	}

	raw := m.Agent.SpeakTo(ctx, s.SessionID, "", instruction, s.WorkDir)
	clean := protocol.Strip(raw)
	if clean == "" {
		clean = raw
	}

	if clean != "" {
		if err := o.history.AppendMessage(ctx, m.Name, clean, s.SessionID); err != nil {
			o.logger.Error("record reply failed", "cat", m.Name, "error", err)
		}
		o.onReply(m.Name, s.Phase, clean)
	}
	return clean
}

func (o *Orchestrator) updatePR(ctx context.Context, s *Session, commitMsg, note string, plog *progress.Log) {
	if s.Branch == "" {
		return
	}
	o.enterPhase(s, PhaseGitUpdate)
	if _, err := o.vcs.CommitAll(ctx, commitMsg, s.WorkDir); err != nil {
		o.warn(PhaseGitUpdate, "pr update commit failed", err)
		_ = plog.LogError(err.Error(), "")
		return
	}
	if _, err := o.vcs.PushBranch(ctx, s.WorkDir); err != nil {
		o.warn(PhaseGitUpdate, "pr update push failed", err)
		_ = plog.LogError(err.Error(), "")
		return
	}
	o.onSystem(PhaseGitUpdate, note)
}

func (o *Orchestrator) commentOnPR(ctx context.Context, s *Session, body, author string) {
	if s.PRNumber == 0 {
		return
	}
	if err := o.vcs.AddPRComment(ctx, s.PRNumber, body, author, s.WorkDir); err != nil {
		o.logger.Warn("pr comment failed", "error", err)
	}
}

func (o *Orchestrator) enterPhase(s *Session, p Phase) {
	s.Phase = p
	if o.bus != nil {
		o.bus.Publish(bus.TopicTeamPhase, bus.TeamPhaseEvent{
			SessionID: s.SessionID,
			Phase:     string(p),
			Round:     s.ReviewRound,
		})
	}
}

func (o *Orchestrator) warn(p Phase, what string, err error) {
	o.logger.Warn(what, "phase", string(p), "error", err)
	o.onSystem(p, fmt.Sprintf("⚠️ %s (%v), continuing locally", what, err))
}

// passed reports whether a review reply carries the PASS token, matched
// case-insensitively anywhere in the text.
func passed(review string) bool {
	return strings.Contains(strings.ToUpper(review), "PASS")
}

var (
	slugStripRe = regexp.MustCompile(`[^\w\s-]`)
	slugSpaceRe = regexp.MustCompile(`\s+`)
)

const slugMaxPrefix = 30

// slugify turns requirement text into a branch-name-safe slug. Truncation
// is rune-based so multibyte requirements never leave invalid UTF-8 in
// branch names.
func slugify(text string) string {
	if runes := []rune(text); len(runes) > slugMaxPrefix {
		text = string(runes[:slugMaxPrefix])
	}
	s := slugStripRe.ReplaceAllString(text, "")
	s = slugSpaceRe.ReplaceAllString(s, "-")
	s = strings.ToLower(strings.Trim(s, "-"))
	if s == "" {
		return "feature"
	}
	return s
}

func truncate(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}
