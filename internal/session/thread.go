package session

import (
	"context"

	"github.com/machellerogden/thinksuit/internal/event"
)

// LoadThread scans the session's Journal and projects session.input events
// to user messages and session.response events to assistant messages, in
// journal order (spec §4.2 loadThread). Returns an empty Thread when the
// journal file does not exist.
func (r *Registry) LoadThread(ctx context.Context, sessionID string) (event.Thread, error) {
	j, err := r.journalFor(sessionID)
	if err != nil {
		return nil, err
	}
	events, err := j.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	thread := make(event.Thread, 0, len(events))
	for _, e := range events {
		switch e.Event {
		case event.SessionInput:
			thread = append(thread, event.Message{
				Role:    event.RoleUser,
				Content: e.Data["input"],
			})
		case event.SessionResponse:
			thread = append(thread, event.Message{
				Role:    event.RoleAssistant,
				Content: e.Data["output"],
			})
		}
	}
	return thread, nil
}
