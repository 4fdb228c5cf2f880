package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/machellerogden/thinksuit/internal/event"
)

// ForkEntry is one child recorded against a fork point's eventId in the
// sidecar metadata file (spec §6 "Sidecar metadata").
type ForkEntry struct {
	SessionID string    `json:"sessionId"`
	Time      time.Time `json:"time"`
	ForkPoint int       `json:"forkPoint"`
}

// SourceRef records where a forked session branched from.
type SourceRef struct {
	SessionID string `json:"sessionId"`
	ForkPoint int    `json:"forkPoint"`
	EventID   string `json:"eventId"`
}

// sidecar is the on-disk shape of a session's .meta.json file.
type sidecar struct {
	Forks  map[string][]ForkEntry `json:"forks,omitempty"`
	Source *SourceRef             `json:"source,omitempty"`
}

// ForkResult is the outcome of ForkSession.
type ForkResult struct {
	SessionID       string
	SourceSessionID string
	ForkPoint       int
}

var sidecarMu sync.Mutex

// ForkSession implements spec §4.2 forkSession. forkPoint must name a
// session.turn.complete event; the new session's events [0..forkPoint] are
// copied verbatim with sessionId rewritten and sourceSessionId added, and
// the source session's sidecar metadata is updated under the fork event's
// eventId with the new child appended, sorted by time.
func (r *Registry) ForkSession(ctx context.Context, sourceID string, forkPoint int, now time.Time) (ForkResult, error) {
	srcJournal, err := r.journalFor(sourceID)
	if err != nil {
		return ForkResult{}, err
	}
	events, err := srcJournal.ReadAll(ctx)
	if err != nil {
		return ForkResult{}, err
	}
	if len(events) == 0 {
		return ForkResult{}, ErrSessionNotFound
	}
	if forkPoint < 0 || forkPoint >= len(events) {
		return ForkResult{}, ErrForkPointInvalid
	}
	forkEvent := events[forkPoint]
	if forkEvent.Event != event.SessionTurnComplete {
		return ForkResult{}, ErrForkPointInvalid
	}

	newID := event.NewSessionID(now)
	newJournal, err := r.journalFor(newID)
	if err != nil {
		return ForkResult{}, err
	}
	for i := 0; i <= forkPoint; i++ {
		e := *events[i]
		e.SessionID = newID
		e.Data = withSourceSessionID(e.Data, sourceID)
		if err := newJournal.Append(ctx, &e); err != nil {
			return ForkResult{}, fmt.Errorf("session: fork %s: %w", sourceID, err)
		}
	}
	if err := newJournal.Append(ctx, &event.Event{
		Time:      now,
		Event:     event.SessionForked,
		SessionID: newID,
		EventID:   event.NewEventID(),
		Data: map[string]any{
			"sourceSessionId": sourceID,
			"forkPoint":       forkPoint,
		},
	}); err != nil {
		return ForkResult{}, err
	}

	if err := r.recordFork(sourceID, forkEvent.EventID, ForkEntry{
		SessionID: newID,
		Time:      now,
		ForkPoint: forkPoint,
	}); err != nil {
		return ForkResult{}, err
	}

	return ForkResult{SessionID: newID, SourceSessionID: sourceID, ForkPoint: forkPoint}, nil
}

func withSourceSessionID(data map[string]any, sourceID string) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["sourceSessionId"] = sourceID
	return out
}

// recordFork appends entry to the sidecar metadata file for sourceID keyed
// by forkEventID, keeping children sorted by time.
func (r *Registry) recordFork(sourceID, forkEventID string, entry ForkEntry) error {
	sidecarMu.Lock()
	defer sidecarMu.Unlock()

	path, err := metaPath(r.baseDir, sourceID)
	if err != nil {
		return err
	}
	sc, err := readSidecar(path)
	if err != nil {
		return err
	}
	if sc.Forks == nil {
		sc.Forks = make(map[string][]ForkEntry)
	}
	sc.Forks[forkEventID] = append(sc.Forks[forkEventID], entry)
	sort.Slice(sc.Forks[forkEventID], func(i, j int) bool {
		return sc.Forks[forkEventID][i].Time.Before(sc.Forks[forkEventID][j].Time)
	})
	return writeSidecar(path, sc)
}

func readSidecar(path string) (sidecar, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return sidecar{}, nil
	}
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return sidecar{}, fmt.Errorf("session: parse sidecar %s: %w", path, err)
	}
	return sc, nil
}

func writeSidecar(path string, sc sidecar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ForkZipper is a one-level neighbor view around a forked event: the
// left/right sibling forks plus the index of the "current" element, with
// the parent session itself treated as index 0 (spec §4.2
// getSessionForks).
type ForkZipper struct {
	EventID string
	Forks   []ForkEntry // index 0 is the parent session itself
	Index   int
}

// GetSessionForks returns a zipper for every event in sessionID's sidecar
// metadata that has recorded forks (spec §4.2 getSessionForks).
func (r *Registry) GetSessionForks(ctx context.Context, sessionID string) ([]ForkZipper, error) {
	path, err := metaPath(r.baseDir, sessionID)
	if err != nil {
		return nil, err
	}
	sc, err := readSidecar(path)
	if err != nil {
		return nil, err
	}
	if len(sc.Forks) == 0 {
		return nil, nil
	}

	eventIDs := make([]string, 0, len(sc.Forks))
	for eventID := range sc.Forks {
		eventIDs = append(eventIDs, eventID)
	}
	sort.Strings(eventIDs)

	zippers := make([]ForkZipper, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		children := sc.Forks[eventID]
		entries := make([]ForkEntry, 0, len(children)+1)
		entries = append(entries, ForkEntry{SessionID: sessionID, ForkPoint: -1})
		entries = append(entries, children...)
		zippers = append(zippers, ForkZipper{
			EventID: eventID,
			Forks:   entries,
			Index:   0,
		})
	}
	return zippers, nil
}
