package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/machellerogden/thinksuit/internal/event"
)

// GetMetadata returns the O(constant) metadata probe for sessionID: the
// first, second, and last parsed events plus a derived Status (spec §4.2
// getMetadata).
func (r *Registry) GetMetadata(ctx context.Context, sessionID string) (Metadata, error) {
	j, err := r.journalFor(sessionID)
	if err != nil {
		return Metadata{}, err
	}
	fsl, err := j.ReadFirstSecondLast()
	if err != nil {
		return Metadata{}, err
	}

	md := Metadata{SessionID: sessionID}
	malformed := false

	if fsl.First != "" {
		e, err := parseEvent(fsl.First)
		if err != nil {
			malformed = true
		} else {
			md.First = e
		}
	}
	if fsl.Second != "" {
		e, err := parseEvent(fsl.Second)
		if err != nil {
			malformed = true
		} else {
			md.Second = e
		}
	}
	if fsl.Last != "" {
		e, err := parseEvent(fsl.Last)
		if err != nil {
			malformed = true
		} else {
			md.Last = e
		}
	}

	md.Status = deriveStatus(md.First, md.Second, md.Last, malformed)
	return md, nil
}

func parseEvent(line string) (*event.Event, error) {
	var e event.Event
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// deriveStatus applies the status rule ladder from spec §4.2, in the exact
// order given there: empty → empty; only one session.pending →
// initialized; last event in {pending, interrupted, turn.complete} →
// ready; any session.input present → busy; JSON parse failure →
// malformed. A parse failure short-circuits the ladder since the other
// rules cannot be trusted against unparseable content.
func deriveStatus(first, second, last *event.Event, malformed bool) Status {
	if malformed {
		return StatusMalformed
	}
	if first == nil {
		return StatusEmpty
	}
	if first.Event == event.SessionPending && second == nil {
		return StatusInitialized
	}
	if last != nil {
		switch last.Event {
		case event.SessionPending, event.SessionInterrupted, event.SessionTurnComplete:
			return StatusReady
		}
	}
	if hasSessionInput(first, second, last) {
		return StatusBusy
	}
	return StatusInitialized
}

// hasSessionInput reports whether any of the probed entries is a
// session.input event, meaning a turn is underway with no matching
// completion observed in the probe.
func hasSessionInput(entries ...*event.Event) bool {
	for _, e := range entries {
		if e != nil && e.Event == event.SessionInput {
			return true
		}
	}
	return false
}

// ErrSessionMalformed is a sentinel error kind recognizable via errors.Is
// for callers that want to treat malformed sessions as hard failures
// rather than a Status value.
var ErrSessionMalformed = errors.New("session: malformed journal")
