// Package approval implements the Approval Arbiter: an in-process
// rendezvous between a handler requesting permission to run a tool and
// whatever external actor (human operator, policy) resolves that request
// (spec §4.4).
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/machellerogden/thinksuit/internal/telemetry"
)

// Decision is the outcome of a resolved approval request.
type Decision struct {
	Approved   bool
	ApprovalID string
}

// Request carries the context a requester supplies when asking for
// approval (spec §4.4 request).
type Request struct {
	SessionID        string
	ParentBoundaryID string
	ToolName         string
	Args             map[string]any
}

// Info is the read-only snapshot returned by Info (spec §4.4 info).
type Info struct {
	ApprovalID string
	SessionID  string
	ToolName   string
	Requested  time.Time
	Resolved   bool
	Approved   bool
}

type pendingEntry struct {
	info Info

	mu       sync.Mutex
	resolved bool
	approved bool
	done     chan struct{}
	timer    *time.Timer
}

// resolveOnce completes the entry with approved, honoring the
// at-most-one-resolution invariant: a second call is a silent no-op
// (spec §4.4 "resolve is a no-op after first success"). Reports whether
// this call was the one that performed the resolution.
func (e *pendingEntry) resolveOnce(approved bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resolved {
		return false
	}
	e.resolved = true
	e.approved = approved
	e.info.Resolved = true
	e.info.Approved = approved
	if e.timer != nil {
		e.timer.Stop()
	}
	close(e.done)
	return true
}

// Arbiter holds the pending-approval table. It is safe for concurrent use
// (spec §5 "Approval table: single in-process map; only the arbiter
// mutates it").
type Arbiter struct {
	log          telemetry.Logger
	sweepLimiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

// New constructs an Arbiter.
func New(log telemetry.Logger) *Arbiter {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Arbiter{
		log:     log,
		pending: make(map[string]*pendingEntry),
	}
}

// SetSweepLimiter bounds how often a caller driving a periodic sweep loop
// may actually perform a sweep; callers with many concurrent sessions
// each running their own ticker would otherwise pile sweep calls onto the
// pending-table lock far more often than pending entries can realistically
// go stale. Nil (the default) leaves Sweep unbounded.
func (a *Arbiter) SetSweepLimiter(l *rate.Limiter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sweepLimiter = l
}

// Request registers a pending approval and blocks until it is resolved,
// timed out, or ctx is cancelled (spec §4.4 request). timeoutMs = -1
// disables the timer, waiting indefinitely. On timeout the decision is
// deny; the Journal is deliberately NOT annotated with a synthetic timeout
// event here — callers decide what (if anything) to log.
func (a *Arbiter) Request(ctx context.Context, req Request, timeoutMs int, now time.Time) (Decision, error) {
	approvalID := uuid.New().String()
	entry := &pendingEntry{
		info: Info{
			ApprovalID: approvalID,
			SessionID:  req.SessionID,
			ToolName:   req.ToolName,
			Requested:  now,
		},
		done: make(chan struct{}),
	}

	a.mu.Lock()
	a.pending[approvalID] = entry
	a.mu.Unlock()

	if timeoutMs >= 0 {
		entry.timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			a.resolveAndEvict(approvalID, entry, false)
		})
	}

	select {
	case <-entry.done:
		entry.mu.Lock()
		approved := entry.approved
		entry.mu.Unlock()
		return Decision{Approved: approved, ApprovalID: approvalID}, nil
	case <-ctx.Done():
		a.resolveAndEvict(approvalID, entry, false)
		return Decision{Approved: false, ApprovalID: approvalID}, ctx.Err()
	}
}

// resolveAndEvict resolves entry and, on the first (winning) resolution,
// removes it from the pending table — an Approval Request is destroyed on
// resolve (spec §3 Approval Request lifecycle).
func (a *Arbiter) resolveAndEvict(approvalID string, entry *pendingEntry, approved bool) bool {
	won := entry.resolveOnce(approved)
	if won {
		a.mu.Lock()
		delete(a.pending, approvalID)
		a.mu.Unlock()
	}
	return won
}

// Resolve completes a pending entry. Idempotent: resolving an
// already-resolved entry is a no-op (spec §4.4 resolve).
func (a *Arbiter) Resolve(approvalID string, approved bool) bool {
	a.mu.Lock()
	entry, ok := a.pending[approvalID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	a.resolveAndEvict(approvalID, entry, approved)
	return true
}

// Info is a read-only probe of a still-pending entry (spec §4.4 info).
// Resolved entries are destroyed and no longer found here (spec §3
// Approval Request lifecycle).
func (a *Arbiter) Info(approvalID string) (Info, bool) {
	a.mu.Lock()
	entry, ok := a.pending[approvalID]
	a.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.info, true
}

// Sweep auto-denies entries older than maxAge that remain unresolved
// (spec §4.4 sweep). Returns the number of entries denied. When a sweep
// limiter is set and has no token available, Sweep does nothing and
// returns 0 immediately, leaving the next caller's tick to try again.
func (a *Arbiter) Sweep(maxAge time.Duration, now time.Time) int {
	a.mu.Lock()
	limiter := a.sweepLimiter
	a.mu.Unlock()
	if limiter != nil && !limiter.Allow() {
		return 0
	}

	a.mu.Lock()
	entries := make(map[string]*pendingEntry, len(a.pending))
	for id, e := range a.pending {
		entries[id] = e
	}
	a.mu.Unlock()

	denied := 0
	for id, e := range entries {
		e.mu.Lock()
		stale := !e.resolved && now.Sub(e.info.Requested) >= maxAge
		e.mu.Unlock()
		if stale && a.resolveAndEvict(id, e, false) {
			denied++
		}
	}
	return denied
}
