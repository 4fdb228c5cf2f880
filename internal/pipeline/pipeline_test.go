package pipeline

import (
	"context"
	"sync"

	"github.com/machellerogden/thinksuit/internal/event"
)

// recordingEmitter is a test Emitter that records every event it sees,
// safe for concurrent use by the goroutines runClassifiers spawns.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recordingEmitter) emit(ctx context.Context, e *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEmitter) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Event
	}
	return out
}

func newTestContext(e *recordingEmitter) Context {
	return Context{
		SessionID: "20260730T000000000Z-testsessio",
		TraceID:   "trace-1",
		Emit:      e.emit,
	}
}
