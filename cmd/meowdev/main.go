// Command meowdev runs the three-cat dev chat: a REPL where the cat
// personas respond to the user, manage a shared task board, and can be
// sent through the PR-producing team pipeline with /team.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel/trace"

	"github.com/superheromeZzh/meowdev/internal/board"
	"github.com/superheromeZzh/meowdev/internal/bus"
	"github.com/superheromeZzh/meowdev/internal/cat"
	"github.com/superheromeZzh/meowdev/internal/config"
	"github.com/superheromeZzh/meowdev/internal/cron"
	"github.com/superheromeZzh/meowdev/internal/engine"
	"github.com/superheromeZzh/meowdev/internal/gitops"
	"github.com/superheromeZzh/meowdev/internal/persistence"
	"github.com/superheromeZzh/meowdev/internal/team"
	"github.com/superheromeZzh/meowdev/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	sessionFlag := flag.String("session", "", "session id to join (default: a fresh random id)")
	quietFlag := flag.Bool("quiet", false, "log to file only, even on a terminal")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println("meowdev", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := isatty.IsTerminal(os.Stdout.Fd())

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load", err)
	}
	if *sessionFlag != "" {
		cfg.SessionID = *sessionFlag
	}

	// Quiet logs (file-only) in interactive mode so the REPL stays clean.
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive || *quietFlag)
	if err != nil {
		fatalStartup(nil, "logger init", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup", "version", Version, "home", cfg.HomeDir)

	tracer, shutdownTracer, err := telemetry.NewTracer(ctx, telemetry.TraceConfig{
		Enabled:  cfg.TraceExporter != "",
		Exporter: cfg.TraceExporter,
	})
	if err != nil {
		fatalStartup(logger, "tracer init", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	eventBus := bus.New()

	store, err := persistence.Open(cfg.DBPath, eventBus)
	if err != nil {
		fatalStartup(logger, "store open", err)
	}
	defer store.Close()

	taskBoard, err := board.New(ctx, store, eventBus)
	if err != nil {
		fatalStartup(logger, "board load", err)
	}

	registry, agents, err := buildCats(cfg, store, logger, tracer)
	if err != nil {
		fatalStartup(logger, "cat setup", err)
	}

	sessionID := cfg.SessionID
	if sessionID == "" || sessionID == "default" {
		sessionID = uuid.NewString()[:8]
	}

	r := newREPL(os.Stdout, cfg, store, registry)
	r.tracer = tracer
	speakers := make(map[string]engine.Speaker, len(agents))
	for id, a := range agents {
		speakers[id] = a
	}
	session := engine.NewSession(sessionID, store, taskBoard, registry, speakers, eventBus, engine.Options{
		MaxWorkRounds: cfg.MaxWorkRounds,
		Seed:          time.Now().UnixNano(),
		Logger:        logger,
		OnReply:       r.printReply,
		OnSystem:      r.printSystem,
	})
	r.session = session

	git := gitops.New(gitops.Options{
		MainBranch: cfg.GitMainBranch,
		Timeout:    cfg.GitTimeout(),
		Logger:     logger,
	})
	r.git = git
	r.orchestrator = buildOrchestrator(cfg, registry, agents, git, store, eventBus, logger, r)

	workSub := eventBus.Subscribe(bus.TopicWorkLoopFinished)
	defer eventBus.Unsubscribe(workSub)
	go r.announceWorkLoops(workSub.Ch())

	// Background sweep: kick the work loop when the board has pending
	// tasks that no conversation is driving.
	sweeper, err := cron.NewSweeper(cron.Config{
		Expr:   cfg.WorkSweepCron,
		Board:  taskBoard,
		Logger: logger,
		Fire: func(ctx context.Context) {
			session.StartWorkLoop(ctx)
		},
	})
	if err != nil {
		fatalStartup(logger, "sweeper init", err)
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Reload cat souls live while the process runs.
	watcher := config.NewWatcher(cfg.HomeDir, cfg.Cats, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go applyReloads(ctx, watcher, cfg.HomeDir, registry, logger)
	}

	if err := r.run(ctx); err != nil {
		logger.Error("repl terminated", "error", err)
	}

	session.Stop()
	session.Wait()
	logger.Info("shutdown complete")
}

// buildCats constructs the persona registry and one Agent per cat from
// config.
func buildCats(cfg config.Config, store *persistence.Store, logger *slog.Logger, tracer trace.Tracer) (*cat.Registry, map[string]*cat.Agent, error) {
	var cats []*cat.Cat
	for _, entry := range cfg.Cats {
		if entry.ID == "" || len(entry.Command) == 0 {
			return nil, nil, fmt.Errorf("cat %q needs an id and a command", entry.Name)
		}
		c := &cat.Cat{
			ID:        entry.ID,
			Name:      entry.Name,
			Breed:     entry.Breed,
			Role:      entry.Role,
			Nicknames: entry.Nicknames,
			Soul:      entry.Soul,
			Command:   entry.Command,
			Decoder:   decoderFor(entry.Decoder),
		}
		if entry.Fallback != nil {
			c.Fallback = &cat.Fallback{
				Command:    entry.Fallback.Command,
				HelperName: entry.Fallback.HelperName,
			}
		}
		cats = append(cats, c)
	}

	registry := cat.NewRegistry(cats)
	agents := make(map[string]*cat.Agent, len(cats))
	for _, c := range cats {
		agents[c.ID] = cat.NewAgent(c, store, cat.AgentOptions{
			Invoker:       cat.ExecInvoker{Timeout: cfg.CLITimeout()},
			Logger:        logger,
			Tracer:        tracer,
			QuotaKeywords: cfg.QuotaKeywords,
		})
	}
	return registry, agents, nil
}

func decoderFor(name string) cat.Decoder {
	switch name {
	case "codex-trace":
		return cat.CodexTraceDecoder{}
	case "event-stream":
		return cat.EventStreamDecoder{}
	default:
		return cat.PlainDecoder{}
	}
}

// buildOrchestrator assigns pipeline roles by cat id, falling back to
// registration order when the cast is customized.
func buildOrchestrator(cfg config.Config, registry *cat.Registry, agents map[string]*cat.Agent,
	git *gitops.Client, store *persistence.Store, eventBus *bus.Bus, logger *slog.Logger, r *repl) *team.Orchestrator {

	member := func(id string, fallbackIdx int) team.Member {
		c, ok := registry.Get(id)
		if !ok {
			all := registry.All()
			c = all[fallbackIdx%len(all)]
		}
		return team.Member{Name: c.Name, Role: c.Role, Agent: agents[c.ID]}
	}

	return team.New(team.Config{
		Lead:            member("arch", 0),
		Implementer:     member("stack", 1),
		Designer:        member("pixel", 2),
		VCS:             git,
		History:         store,
		Bus:             eventBus,
		Logger:          logger,
		MaxReviewRounds: cfg.MaxReviewRounds,
		BranchPrefix:    cfg.BranchPrefix,
		RepoName:        cfg.RepoName,
		OnReply: func(catName string, _ team.Phase, text string) {
			r.printReply(catName, text)
		},
		OnSystem: func(_ team.Phase, text string) {
			r.printSystem(text)
		},
	})
}

// applyReloads refreshes cat souls in place when their files change. The
// registry's cats are shared pointers, so agents pick the new soul up on
// the next prompt build.
func applyReloads(ctx context.Context, w *config.Watcher, homeDir string, registry *cat.Registry, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			fresh, err := config.LoadFrom(homeDir)
			if err != nil {
				logger.Warn("config reload failed", "path", ev.Path, "error", err)
				continue
			}
			for _, entry := range fresh.Cats {
				if c, ok := registry.Get(entry.ID); ok && entry.Soul != "" {
					c.SetSoul(entry.Soul)
				}
			}
			logger.Info("souls reloaded", "path", ev.Path)
		}
	}
}

func fatalStartup(logger *slog.Logger, phase string, err error) {
	if logger != nil {
		logger.Error("startup failure", "phase", phase, "error", err)
	}
	fmt.Fprintf(os.Stderr, "meowdev: %s: %v\n", phase, err)
	os.Exit(1)
}
