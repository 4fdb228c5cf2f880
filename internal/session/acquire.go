package session

import (
	"context"
	"fmt"
	"time"

	"github.com/machellerogden/thinksuit/internal/event"
)

// Acquire implements spec §4.2 acquire: if sessionID is empty, a new one is
// generated. Status is derived from the probe; not_found/empty sessions get
// a session.pending event appended and are reported acquired+new; busy
// sessions are reported not-acquired; everything else is acquired without a
// duplicate pending event.
//
// The append-when-empty guard combined with the preceding status check is
// the at-most-one-successful-concurrent-acquire mechanism described in
// spec §4.2 — best effort within a process, not cross-process
// linearizable.
func (r *Registry) Acquire(ctx context.Context, sessionID string, now time.Time) (AcquireResult, error) {
	isNew := false
	if sessionID == "" {
		sessionID = event.NewSessionID(now)
		isNew = true
	}

	md, err := r.GetMetadata(ctx, sessionID)
	if err != nil {
		return AcquireResult{}, fmt.Errorf("session: acquire %s: %w", sessionID, err)
	}

	switch md.Status {
	case StatusNotFound, StatusEmpty:
		j, err := r.journalFor(sessionID)
		if err != nil {
			return AcquireResult{}, err
		}
		evt := &event.Event{
			Time:      now,
			Event:     event.SessionPending,
			SessionID: sessionID,
			EventID:   event.NewEventID(),
		}
		if err := j.Append(ctx, evt); err != nil {
			return AcquireResult{}, fmt.Errorf("session: acquire %s: %w", sessionID, err)
		}
		return AcquireResult{SessionID: sessionID, Acquired: true, IsNew: true}, nil
	case StatusBusy:
		return AcquireResult{SessionID: sessionID, Acquired: false, Reason: "currently processing"}, nil
	default:
		return AcquireResult{SessionID: sessionID, Acquired: true, IsNew: isNew}, nil
	}
}
