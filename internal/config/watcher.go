package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent reports one changed config or soul file.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher emits a ReloadEvent whenever config.yaml or a cat's soul file
// changes on disk.
type Watcher struct {
	homeDir string
	cats    []CatEntry
	logger  *slog.Logger
	events  chan ReloadEvent
}

// NewWatcher builds a watcher over the home directory's config and the
// given cats' soul files.
func NewWatcher(homeDir string, cats []CatEntry, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		cats:    cats,
		logger:  logger,
		events:  make(chan ReloadEvent, 16),
	}
}

// Events returns the reload event channel. Closed when the watcher stops.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	files := []string{ConfigPath(w.homeDir)}
	for _, c := range w.cats {
		if c.SoulFile == "" {
			continue
		}
		path := c.SoulFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(w.homeDir, path)
		}
		files = append(files, path)
	}
	for _, file := range files {
		_ = fsw.Add(file)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
