package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/stretchr/testify/require"
)

func TestDetectSignalsMergesAndDedupes(t *testing.T) {
	classifiers := map[string]Classifier{
		"complexity": func(thread event.Thread) []fact.Signal {
			return []fact.Signal{
				{Dimension: "complexity", Name: "high", Confidence: 0.6},
				{Dimension: "complexity", Name: "high", Confidence: 0.9},
			}
		},
		"intent": func(thread event.Thread) []fact.Signal {
			return []fact.Signal{{Dimension: "intent", Name: "question", Confidence: 0.8}}
		},
	}

	emitter := &recordingEmitter{}
	out, err := DetectSignals(context.Background(), newTestContext(emitter), DetectSignalsInput{
		Classifiers: classifiers,
	})
	require.NoError(t, err)
	require.Len(t, out[fact.TagSignal], 2)

	var complexityConfidence float64
	for _, f := range out[fact.TagSignal] {
		if f.Attrs["signal"] == "high" {
			complexityConfidence, _ = f.Confidence()
		}
	}
	require.Equal(t, 0.9, complexityConfidence)

	require.Contains(t, emitter.types(), event.PipelineSignalDetectionStart)
	require.Contains(t, emitter.types(), event.PipelineSignalDetectionComplete)
}

func TestDetectSignalsAppliesDimensionGate(t *testing.T) {
	classifiers := map[string]Classifier{
		"risk": func(thread event.Thread) []fact.Signal {
			return []fact.Signal{{Dimension: "risk", Name: "elevated", Confidence: 0.3}}
		},
	}
	gates := map[string]DimensionGate{"risk": {Enabled: true, MinConfidence: 0.5}}

	out, err := DetectSignals(context.Background(), newTestContext(&recordingEmitter{}), DetectSignalsInput{
		Classifiers: classifiers,
		Gates:       gates,
	})
	require.NoError(t, err)
	require.Empty(t, out[fact.TagSignal])
}

func TestDetectSignalsRecoversFromClassifierPanic(t *testing.T) {
	classifiers := map[string]Classifier{
		"broken": func(thread event.Thread) []fact.Signal { panic("boom") },
		"ok": func(thread event.Thread) []fact.Signal {
			return []fact.Signal{{Dimension: "intent", Name: "question", Confidence: 0.7}}
		},
	}
	out, err := DetectSignals(context.Background(), newTestContext(&recordingEmitter{}), DetectSignalsInput{
		Classifiers: classifiers,
	})
	require.NoError(t, err)
	require.Len(t, out[fact.TagSignal], 1)
}

func TestRunClassifiersStopsWaitingAtParentDeadline(t *testing.T) {
	// runClassifiers derives its own timeout from ctx via
	// context.WithTimeout(ctx, DetectSignalsTimeout); when the caller's ctx
	// already carries a shorter deadline, that earlier deadline wins, so a
	// classifier slower than it contributes no signal.
	classifiers := map[string]Classifier{
		"slow": func(thread event.Thread) []fact.Signal {
			time.Sleep(50 * time.Millisecond)
			return []fact.Signal{{Dimension: "intent", Name: "late", Confidence: 0.9}}
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	start := time.Now()
	signals := runClassifiers(ctx, event.Thread{}, classifiers, nil)
	require.Less(t, time.Since(start), 40*time.Millisecond)
	require.Empty(t, signals)
}

func TestRunClassifiersDropsSignalsStillWaitingOnLimiterAtDeadline(t *testing.T) {
	var ran int32
	classifiers := map[string]Classifier{
		"a": func(thread event.Thread) []fact.Signal {
			atomic.AddInt32(&ran, 1)
			return []fact.Signal{{Dimension: "intent", Name: "a", Confidence: 0.9}}
		},
		"b": func(thread event.Thread) []fact.Signal {
			atomic.AddInt32(&ran, 1)
			return []fact.Signal{{Dimension: "intent", Name: "b", Confidence: 0.9}}
		},
	}

	// One token available up front, refilling far slower than the
	// surrounding context's deadline: only the classifier that wins the
	// initial token runs before ctx expires.
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	signals := runClassifiers(ctx, event.Thread{}, classifiers, limiter)
	require.LessOrEqual(t, len(signals), 1)
	require.LessOrEqual(t, atomic.LoadInt32(&ran), int32(1))
}
