package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/superheromeZzh/meowdev/internal/bus"
	"github.com/superheromeZzh/meowdev/internal/cat"
	"github.com/superheromeZzh/meowdev/internal/config"
	"github.com/superheromeZzh/meowdev/internal/engine"
	"github.com/superheromeZzh/meowdev/internal/gitops"
	"github.com/superheromeZzh/meowdev/internal/persistence"
	"github.com/superheromeZzh/meowdev/internal/protocol"
	"github.com/superheromeZzh/meowdev/internal/team"
	"github.com/superheromeZzh/meowdev/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const welcomeBanner = `The three cats are online 🐱🐱🐱

Just talk; everyone can hear you.
  /team <requirement>   start a dev collaboration (with GitHub PR)
  /merge                merge the pending PR
  /tasks                show the task board
  /history [n]          show recent messages
  /stop | /resume       pause or resume the cats
  /quit                 leave
`

var greetings = map[string]string{
	"arch":  "...I'm here. Speak. (adjusts monocle)",
	"stack": "Hey! Need anything? I'm on it, meow!",
	"pixel": "Hi everyone~ ✨ Full of energy today too, meow ♪",
}

var celebrations = map[string]string{
	"arch":  "...Merged. The code quality was acceptable. (small nod)",
	"stack": "Yes!! Merged, meow!! Another one shipped! 🎉🎉🎉",
	"pixel": "Yay~ Great work everyone! It turned out so pretty ✨",
}

// repl drives the interactive loop. All cat output funnels through
// printReply so transcripts look the same whether a reply came from the
// chat engine or the team pipeline.
type repl struct {
	out      io.Writer
	cfg      config.Config
	store    *persistence.Store
	registry *cat.Registry
	rng      *rand.Rand

	session      *engine.Session
	git          *gitops.Client
	orchestrator *team.Orchestrator
	tracer       trace.Tracer

	// pending PR state from the last /team run.
	prNumber int
	prURL    string
	workDir  string
}

func newREPL(out io.Writer, cfg config.Config, store *persistence.Store, registry *cat.Registry) *repl {
	return &repl{
		out:      out,
		cfg:      cfg,
		store:    store,
		registry: registry,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		tracer:   nooptrace.NewTracerProvider().Tracer(""),
	}
}

func (r *repl) printReply(catName, text string) {
	fmt.Fprintf(r.out, "\n%s> %s\n", catName, text)
}

func (r *repl) printSystem(text string) {
	fmt.Fprintf(r.out, "\n· %s\n", text)
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprint(r.out, welcomeBanner)
	r.greet(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(r.out, "\nyou> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if done := r.handleLine(ctx, text); done {
			return nil
		}
	}
}

// handleLine processes one input line. Returns true when the REPL should
// exit.
func (r *repl) handleLine(ctx context.Context, text string) bool {
	switch {
	case text == "/quit" || text == "/exit":
		fmt.Fprintln(r.out, "The cats wave goodbye 🐾")
		return true
	case text == "/help":
		fmt.Fprint(r.out, welcomeBanner)
	case strings.HasPrefix(text, "/team"):
		requirement := strings.TrimSpace(strings.TrimPrefix(text, "/team"))
		if requirement == "" {
			r.printSystem("Put the requirement after /team, meow~ e.g. `/team build me a TODO helper`")
			return false
		}
		r.runTeam(ctx, requirement)
	case text == "/merge":
		r.handleMerge(ctx)
	case text == "/tasks":
		fmt.Fprintln(r.out, "\n"+r.session.Board().FormatStatus())
	case strings.HasPrefix(text, "/history"):
		r.showHistory(ctx, strings.TrimSpace(strings.TrimPrefix(text, "/history")))
	case text == "/stop":
		r.session.Stop()
		r.printSystem("The cats are taking a nap. /resume wakes them up.")
	case text == "/resume":
		r.session.Resume()
		r.printSystem("The cats stretch and get back to it.")
	default:
		if action := protocol.ParseUserCommand(text); action != nil {
			r.session.HandleUserCommand(ctx, action)
			return false
		}
		if err := r.session.HandleUserMessage(ctx, text); err != nil {
			r.printSystem(fmt.Sprintf("something went wrong: %v", err))
		}
	}
	return false
}

// announceWorkLoops surfaces background work loop completions. Loops kicked
// off by the cron sweeper finish with nobody watching; this is the only
// place the user hears about them.
func (r *repl) announceWorkLoops(events <-chan bus.Event) {
	for ev := range events {
		wl, ok := ev.Payload.(bus.WorkLoopEvent)
		if !ok {
			continue
		}
		r.printSystem(fmt.Sprintf("the cats finished a round of board work (%s)", wl.Reason))
	}
}

// greet has one or two random cats say hello, recorded in history like any
// other reply.
func (r *repl) greet(ctx context.Context) {
	cats := r.registry.All()
	if len(cats) == 0 {
		return
	}
	r.rng.Shuffle(len(cats), func(i, j int) { cats[i], cats[j] = cats[j], cats[i] })
	n := 1 + r.rng.Intn(2)
	if n > len(cats) {
		n = len(cats)
	}
	for _, c := range cats[:n] {
		line, ok := greetings[c.ID]
		if !ok {
			line = fmt.Sprintf("%s pads in and settles on the keyboard, meow.", c.Name)
		}
		r.printReply(c.Name, line)
		if err := r.store.AppendMessage(ctx, c.Name, line, r.session.ID); err != nil {
			r.printSystem(fmt.Sprintf("couldn't record greeting: %v", err))
		}
	}
}

func (r *repl) runTeam(ctx context.Context, requirement string) {
	ctx, span := telemetry.StartSpan(ctx, r.tracer, "team.run",
		telemetry.AttrSessionID.String(r.session.ID))
	defer span.End()

	workDir := r.cfg.WorkDir
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		r.printSystem(fmt.Sprintf("couldn't create work dir: %v", err))
		return
	}

	session, err := r.orchestrator.Run(ctx, requirement, r.session.ID, workDir)
	if err != nil {
		r.printSystem(fmt.Sprintf("team run failed: %v", err))
		return
	}

	if session.PRURL != "" {
		r.prNumber = session.PRNumber
		r.prURL = session.PRURL
		r.workDir = session.WorkDir
		r.printSystem(fmt.Sprintf("✅ Review finished!\n\n🔗 PR: %s\n\nType /merge to merge into %s.",
			session.PRURL, r.cfg.GitMainBranch))
		return
	}

	r.printSystem(fmt.Sprintf("✅ Collaboration done!\n\n%s\n\n*the cats worked hard 🐾*", fileTree(session.WorkDir)))
}

func (r *repl) handleMerge(ctx context.Context) {
	if r.prNumber == 0 {
		r.printSystem("No PR waiting to merge, meow~ Start a collaboration with /team first.")
		return
	}

	r.printSystem(fmt.Sprintf("Merging PR #%d...", r.prNumber))
	result, err := r.git.MergePR(ctx, r.prNumber, r.workDir)
	if err != nil {
		r.printSystem(fmt.Sprintf("❌ Merge failed: %v", err))
		return
	}
	if _, err := r.git.SwitchToMain(ctx, r.workDir); err != nil {
		r.printSystem(fmt.Sprintf("merged, but couldn't switch back to %s: %v", r.cfg.GitMainBranch, err))
	}

	merged := r.prNumber
	r.prNumber = 0
	r.prURL = ""
	r.printSystem(fmt.Sprintf("PR #%d merged into %s ✅\n\n%s", merged, r.cfg.GitMainBranch, result))

	cats := r.registry.All()
	if len(cats) == 0 {
		return
	}
	c := cats[r.rng.Intn(len(cats))]
	line, ok := celebrations[c.ID]
	if !ok {
		line = fmt.Sprintf("%s purrs at the merged PR, meow.", c.Name)
	}
	r.printReply(c.Name, line)
	if err := r.store.AppendMessage(ctx, c.Name, line, r.session.ID); err != nil {
		r.printSystem(fmt.Sprintf("couldn't record celebration: %v", err))
	}
}

func (r *repl) showHistory(ctx context.Context, arg string) {
	n := 20
	if arg != "" {
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed <= 0 {
			r.printSystem("usage: /history [n]")
			return
		}
		n = parsed
	}
	msgs, err := r.store.RecentMessages(ctx, r.session.ID, n)
	if err != nil {
		r.printSystem(fmt.Sprintf("couldn't load history: %v", err))
		return
	}
	if len(msgs) == 0 {
		r.printSystem("(no messages yet)")
		return
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), m.Role, m.Content)
	}
	fmt.Fprintln(r.out, "\n"+strings.TrimRight(b.String(), "\n"))
}

// fileTree renders the output directory for local-only runs.
func fileTree(dir string) string {
	var lines []string
	lines = append(lines, "📁 output/")
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() && (d.Name() == ".git" || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		depth := strings.Count(rel, string(os.PathSeparator))
		icon := "📄"
		if d.IsDir() {
			icon = "📁"
		}
		lines = append(lines, strings.Repeat("  ", depth+1)+icon+" "+rel)
		return nil
	})
	if err != nil || len(lines) == 1 {
		return "(no files yet, meow)"
	}
	return strings.Join(lines, "\n")
}
