// Package subscriber implements file-watch-driven fan-out over session
// Journal files (spec §4.3). A Subscriber watches a session's journal path
// and notifies registered callbacks with a single debounced change event
// per write-stability window, so partially flushed appends are never
// observed mid-write.
package subscriber

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/machellerogden/thinksuit/internal/telemetry"
)

// ChangeEvent is emitted to subscribers on a debounced file change
// (spec §4.3 "emit a single {sessionId, type:\"change\"} event").
type ChangeEvent struct {
	SessionID string
	Type      string
}

// OnEvent is a subscriber callback.
type OnEvent func(ChangeEvent)

// Subscriber fans out journal file-change notifications per session,
// debounced by a write-stability window (spec §4.3).
type Subscriber struct {
	log      telemetry.Logger
	debounce time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionWatch
}

type sessionWatch struct {
	path      string
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	callbacks map[int]OnEvent
	nextID    int
}

// New constructs a Subscriber. debounce is the write-stability window: a
// burst of writes within this window collapses to one change event
// (spec §4.3).
func New(log telemetry.Logger, debounce time.Duration) *Subscriber {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if debounce <= 0 {
		debounce = 75 * time.Millisecond
	}
	return &Subscriber{
		log:      log,
		debounce: debounce,
		sessions: make(map[string]*sessionWatch),
	}
}

// Subscribe watches path (the session's journal file) and invokes onEvent
// whenever the file changes, debounced by the configured write-stability
// window. It returns a subscription ID to pass to Unsubscribe.
func (s *Subscriber) Subscribe(sessionID, path string, onEvent OnEvent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.sessions[sessionID]
	if !ok {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return 0, fmt.Errorf("subscriber: new watcher: %w", err)
		}
		if err := watcher.Add(path); err != nil {
			_ = watcher.Close()
			return 0, fmt.Errorf("subscriber: watch %s: %w", path, err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		sw = &sessionWatch{
			path:      path,
			watcher:   watcher,
			cancel:    cancel,
			callbacks: make(map[int]OnEvent),
		}
		s.sessions[sessionID] = sw
		sw.wg.Add(1)
		go s.watchLoop(ctx, sessionID, sw)
	}

	id := sw.nextID
	sw.nextID++
	sw.callbacks[id] = onEvent
	return id, nil
}

// Unsubscribe removes a callback. When a session has no remaining
// callbacks, its watch resources are released immediately.
func (s *Subscriber) Unsubscribe(sessionID string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	delete(sw.callbacks, id)
	if len(sw.callbacks) == 0 {
		s.closeSessionLocked(sessionID, sw)
	}
}

// Close releases all watch resources for all sessions (spec §4.3 "on
// process shutdown").
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, sw := range s.sessions {
		s.closeSessionLocked(sessionID, sw)
	}
}

func (s *Subscriber) closeSessionLocked(sessionID string, sw *sessionWatch) {
	sw.cancel()
	_ = sw.watcher.Close()
	delete(s.sessions, sessionID)
	sw.wg.Wait()
}

func (s *Subscriber) watchLoop(ctx context.Context, sessionID string, sw *sessionWatch) {
	defer sw.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleEmit := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.debounce, func() {
			s.emit(sessionID)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleEmit()
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn(ctx, "subscriber: watch error", "sessionId", sessionID, "error", err.Error())
		}
	}
}

func (s *Subscriber) emit(sessionID string) {
	s.mu.Lock()
	sw, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	callbacks := make([]OnEvent, 0, len(sw.callbacks))
	for _, cb := range sw.callbacks {
		callbacks = append(callbacks, cb)
	}
	s.mu.Unlock()

	evt := ChangeEvent{SessionID: sessionID, Type: "change"}
	for _, cb := range callbacks {
		cb(evt)
	}
}
