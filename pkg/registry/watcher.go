package registry

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/uvk/uvk/pkg/engine"
)

// EventType classifies a registry change observed on disk.
type EventType string

const (
	// EventInstalled reports a kernelspec directory appearing.
	EventInstalled EventType = "installed"

	// EventRemoved reports a kernelspec directory disappearing.
	EventRemoved EventType = "removed"
)

// Event is one observed registry change.
type Event struct {
	Type   EventType
	Kernel string
}

// Watch reports install/remove events on the kernels directory until ctx is
// cancelled. A long-running host uses this to refresh its kernel list when
// another process mutates the registry. Staging and trash entries (dot-prefixed)
// are filtered out, so only completed swaps are reported.
func (r *Registry) Watch(ctx context.Context) (<-chan Event, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, engine.NewRegistryError("cannot create kernels directory", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, engine.NewRegistryError("cannot create registry watcher", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return nil, engine.NewRegistryError("cannot watch kernels directory", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				out, ok := translate(ev)
				if !ok {
					continue
				}
				select {
				case events <- out:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn().Err(err).Msg("registry watcher error")
			}
		}
	}()

	return events, nil
}

// translate maps a filesystem event to a registry event, dropping anything
// that is not a completed kernelspec directory swap.
func translate(ev fsnotify.Event) (Event, bool) {
	name := filepath.Base(ev.Name)
	if name == "" || strings.HasPrefix(name, ".") {
		return Event{}, false
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		// Renames into the directory surface as Create. Only report entries
		// that are directories holding a kernel.json.
		if _, err := os.Stat(filepath.Join(ev.Name, "kernel.json")); errors.Is(err, fs.ErrNotExist) {
			return Event{}, false
		}
		return Event{Type: EventInstalled, Kernel: name}, true

	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		return Event{Type: EventRemoved, Kernel: name}, true
	}
	return Event{}, false
}
