package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher reports writes to config.yaml and persona.md in the home directory.
type Watcher struct {
	homeDir string
	logger  *slog.Logger
	events  chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		logger:  logger,
		events:  make(chan ReloadEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start watches the home directory itself so persona.md can be created after
// startup. The events channel is closed when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.homeDir); err != nil {
		_ = fsw.Close()
		return err
	}

	watched := map[string]bool{
		filepath.Clean(ConfigPath(w.homeDir)):  true,
		filepath.Clean(PersonaPath(w.homeDir)): true,
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
				if !watched[filepath.Clean(ev.Name)] {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
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

// PersonaReloader keeps a persona consumer in sync with persona.md.
type PersonaReloader interface {
	SetPersona(persona string)
}

// WatchPersona drains w and pushes persona.md contents into target on change.
// A removed persona.md resets target to "" (the built-in persona).
func WatchPersona(ctx context.Context, w *Watcher, target PersonaReloader) {
	personaPath := filepath.Clean(PersonaPath(w.homeDir))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			if filepath.Clean(ev.Path) != personaPath {
				continue
			}
			if _, err := os.Stat(personaPath); err != nil {
				target.SetPersona("")
				w.logger.Info("persona reset to built-in")
				continue
			}
			target.SetPersona(LoadPersona(w.homeDir))
			w.logger.Info("persona reloaded", "path", ev.Path)
		}
	}
}
