// Package source feeds workspace mutations from a file into the event bus.
//
// The file holds a JSON array of workspaces and acts as the catalog of
// record for standalone deployments: edits to it surface as Created,
// Updated, and Deleted mutations, exactly as a live catalog would emit
// them. Federated deployments publish mutations onto the bus themselves
// and don't use this package.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"searchwatch/internal/catalog"
	"searchwatch/internal/eventbus"
	"searchwatch/pkg/logx"
)

const debounceDelay = 250 * time.Millisecond

type Source struct {
	path string
	bus  eventbus.Bus
	log  logx.Logger

	mu   sync.Mutex
	last map[string]snapshot
}

// snapshot is one workspace plus its canonical encoding, kept for cheap
// change detection between reloads.
type snapshot struct {
	ws  catalog.Workspace
	enc string
}

func New(path string, bus eventbus.Bus, log logx.Logger) *Source {
	return &Source{path: path, bus: bus, log: log, last: map[string]snapshot{}}
}

func (s *Source) load() ([]catalog.Workspace, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var wss []catalog.Workspace
	if err := json.Unmarshal(raw, &wss); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return wss, nil
}

// sync reloads the file and publishes the difference against the previous
// snapshot as mutation events.
func (s *Source) sync() error {
	wss, err := s.load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]snapshot, len(wss))
	var created, updated, oldSide, deleted []catalog.Workspace
	for _, ws := range wss {
		if ws.ID == "" {
			s.log.Warn("skipping workspace without id", logx.String("title", ws.Title))
			continue
		}
		enc, err := json.Marshal(ws)
		if err != nil {
			return fmt.Errorf("encode workspace %q: %w", ws.ID, err)
		}
		snap := snapshot{ws: ws, enc: string(enc)}
		next[ws.ID] = snap

		prev, ok := s.last[ws.ID]
		switch {
		case !ok:
			created = append(created, ws)
		case prev.enc != snap.enc:
			oldSide = append(oldSide, prev.ws)
			updated = append(updated, ws)
		}
	}
	for id, prev := range s.last {
		if _, ok := next[id]; !ok {
			deleted = append(deleted, prev.ws)
		}
	}
	s.last = next

	if len(created) > 0 {
		s.bus.Publish(eventbus.Mutation{Kind: eventbus.Created, Workspaces: created})
	}
	if len(updated) > 0 {
		s.bus.Publish(eventbus.Mutation{Kind: eventbus.Updated, Workspaces: updated, OldWorkspaces: oldSide})
	}
	if len(deleted) > 0 {
		s.bus.Publish(eventbus.Mutation{Kind: eventbus.Deleted, Workspaces: deleted})
	}
	if len(created)+len(updated)+len(deleted) > 0 {
		s.log.Info("workspace source synced",
			logx.Int("created", len(created)),
			logx.Int("updated", len(updated)),
			logx.Int("deleted", len(deleted)))
	}
	return nil
}

// Run loads the file once, then watches it until ctx ends. A missing or
// malformed file keeps the previous state; the next valid write syncs.
func (s *Source) Run(ctx context.Context) error {
	if err := s.sync(); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("source: initial load: %w", err)
		}
		s.log.Warn("workspace file absent, waiting for it to appear", logx.String("path", s.path))
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("source: watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("source: watch %s: %w", filepath.Dir(s.path), err)
	}

	file := filepath.Base(s.path)
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	// debounce to avoid reacting to partial writes
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, func() {
			if err := s.sync(); err != nil && !os.IsNotExist(err) {
				s.log.Warn("workspace reload failed", logx.String("path", s.path), logx.Err(err))
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("source: watcher closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce()
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("source: watcher closed")
			}
			if err != nil {
				s.log.Warn("workspace watch error", logx.Err(err))
			}
		}
	}
}
