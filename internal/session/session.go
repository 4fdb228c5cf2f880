// Package session implements the Session Registry: acquire/resume a
// session, project its Journal into a Thread, derive lifecycle status from a
// bounded probe, list sessions within a time range, and fork a session at a
// turn boundary. Sessions are durable: each is a single JSONL file plus an
// optional sidecar metadata file (spec §4.2, §6 file layout).
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/journal"
	"github.com/machellerogden/thinksuit/internal/telemetry"
)

// Status is the lifecycle state derived from a session's first/second/last
// events (spec §4.2 "Status derivation").
type Status string

const (
	StatusNotFound   Status = "not_found"
	StatusEmpty      Status = "empty"
	StatusInitialized Status = "initialized"
	StatusBusy       Status = "busy"
	StatusMalformed  Status = "malformed"
	StatusReady      Status = "ready"
)

// Metadata is the result of the O(constant) metadata probe (spec §4.2
// getMetadata): the first, second, and last parsed events plus derived
// status.
type Metadata struct {
	SessionID string
	First     *event.Event
	Second    *event.Event
	Last      *event.Event
	Status    Status
}

// AcquireResult is the outcome of Acquire (spec §4.2 acquire).
type AcquireResult struct {
	SessionID string
	Acquired  bool
	IsNew     bool
	Reason    string
}

// ErrSessionNotFound is returned by ForkSession when the source session
// has no events. GetSessionForks does not return it: a session without
// sidecar metadata yields no zippers and a nil error.
var ErrSessionNotFound = errors.New("session: not found")

// ErrForkPointInvalid is returned when forkSession's forkPoint does not
// reference a session.turn.complete event (spec §4.2 forkSession).
var ErrForkPointInvalid = errors.New("session: fork point must be a session.turn.complete event")

// Registry is the Session Registry. It is safe for concurrent use; the
// acquire guard and journal handles it hands out are synchronized
// internally (spec §5 "one scheduler per sessionId at a time").
type Registry struct {
	baseDir string
	log     telemetry.Logger
	metrics telemetry.Metrics

	mu       sync.Mutex
	journals map[string]*journal.Journal
}

// New constructs a Registry rooted at baseDir. baseDir holds the
// YYYY/MM/DD/HH hour-directory tree described in spec §6.
func New(baseDir string, log telemetry.Logger, metrics telemetry.Metrics) *Registry {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Registry{
		baseDir:  baseDir,
		log:      log,
		metrics:  metrics,
		journals: make(map[string]*journal.Journal),
	}
}

// journalFor returns the (cached) Journal handle for sessionID, opening it
// lazily. Handles are cached for process lifetime; the underlying file
// descriptor is opened lazily by Journal itself on first Append.
func (r *Registry) journalFor(sessionID string) (*journal.Journal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.journals[sessionID]; ok {
		return j, nil
	}
	path, err := sessionPath(r.baseDir, sessionID)
	if err != nil {
		return nil, err
	}
	j := journal.Open(path, r.log)
	r.journals[sessionID] = j
	return j, nil
}

// Append writes e to sessionID's Journal, opening it lazily if needed.
// This is the Scheduler's hook for the turn-boundary events (session.turn.start,
// session.input, session.response, session.turn.complete) that belong to
// the caller's domain rather than to any Registry mechanic.
func (r *Registry) Append(ctx context.Context, sessionID string, e *event.Event) error {
	j, err := r.journalFor(sessionID)
	if err != nil {
		return err
	}
	return j.Append(ctx, e)
}

// sessionPath derives <base>/YYYY/MM/DD/HH/<sessionId>.jsonl from the
// session ID's embedded timestamp (spec §6 file layout).
func sessionPath(baseDir, sessionID string) (string, error) {
	t, err := parseSessionTime(sessionID)
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	return filepath.Join(
		baseDir,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d", t.Hour()),
		sessionID+".jsonl",
	), nil
}

// metaPath derives the sidecar metadata file path for sessionID.
func metaPath(baseDir, sessionID string) (string, error) {
	t, err := parseSessionTime(sessionID)
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	return filepath.Join(
		baseDir,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d", t.Hour()),
		sessionID+".meta.json",
	), nil
}

// parseSessionTime extracts the UTC timestamp embedded in a session ID of
// the form YYYYMMDDThhmmssSSSZ-<random> (spec §3, §6).
func parseSessionTime(sessionID string) (time.Time, error) {
	if len(sessionID) < 19 {
		return time.Time{}, fmt.Errorf("malformed session id %q", sessionID)
	}
	ts := sessionID[:15] + "." + sessionID[15:18] + sessionID[18:19]
	t, err := time.Parse("20060102T150405.000Z", ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed session id %q: %w", sessionID, err)
	}
	return t, nil
}
