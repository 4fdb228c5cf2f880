package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/fact"
)

// DetectSignalsTimeout bounds the whole classifier fan-out (spec §4.6
// "detectSignals ... Timeout 10s").
const DetectSignalsTimeout = 10 * time.Second

// DimensionGate is the policy-supplied confidence gate a dimension's
// signals must clear (spec §4.6 "drops those below a dimension gate
// {enabled, minConfidence} read from policy").
type DimensionGate struct {
	Enabled       bool
	MinConfidence float64
}

// Classifier mirrors module.Classifier's shape without importing the
// module package, avoiding a dependency cycle (pipeline is a lower-level
// consumer of classifiers, not of the whole Module contract).
type Classifier func(thread event.Thread) []fact.Signal

// DetectSignalsInput is detectSignals' typed input.
type DetectSignalsInput struct {
	Thread      event.Thread
	Classifiers map[string]Classifier
	Gates       map[string]DimensionGate

	// Limiter, when set, caps how many classifiers may run concurrently
	// per unit time (spec §4.6 "detectSignals fans out every classifier
	// concurrently"); a module with dozens of classifiers and a tight
	// per-turn token budget uses this to avoid a burst of simultaneous
	// invocations against a rate-limited provider. Nil means unlimited.
	Limiter *rate.Limiter
}

// DetectSignals runs every classifier concurrently over thread, collects
// their signals, drops any below its dimension's gate, and dedupes the
// rest by (dimension, name) keeping the highest confidence (spec §3, §4.6
// "detectSignals"). A classifier that has not returned within
// DetectSignalsTimeout contributes no signals — the call is not awaited
// further, matching the suspension-point/cancellation model of spec §5
// (the classifier's own goroutine is abandoned, not killed; Go has no
// preemptive goroutine cancellation, so detectSignals degrades gracefully
// rather than leaking an error).
func DetectSignals(ctx context.Context, pc Context, in DetectSignalsInput) (fact.Map, error) {
	out := fact.New()
	err := run(ctx, pc, stageSignalDetection, "pipeline.signal_detection.duration", func(ctx context.Context, boundaryID event.ID) error {
		signals := runClassifiers(ctx, in.Thread, in.Classifiers, in.Limiter)
		signals = filterByGate(signals, in.Gates)
		signals = fact.DedupeSignals(signals)
		for _, s := range signals {
			out.Add(s.ToFact(fact.Provenance{Source: "classifier"}))
		}
		return nil
	})
	return out, err
}

// runClassifiers fans out every classifier concurrently and collects
// whatever returns before DetectSignalsTimeout elapses. When limiter is
// set, each classifier waits for a token before running; a classifier
// still waiting when ctx is cancelled contributes no signals.
func runClassifiers(ctx context.Context, thread event.Thread, classifiers map[string]Classifier, limiter *rate.Limiter) []fact.Signal {
	ctx, cancel := context.WithTimeout(ctx, DetectSignalsTimeout)
	defer cancel()

	type result struct {
		signals []fact.Signal
	}
	results := make(chan result, len(classifiers))
	var wg sync.WaitGroup
	for _, c := range classifiers {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if recover() != nil {
					results <- result{}
				}
			}()
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					results <- result{}
					return
				}
			}
			results <- result{signals: c(thread)}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var all []fact.Signal
	for {
		select {
		case r, ok := <-results:
			if !ok {
				return all
			}
			all = append(all, r.signals...)
		case <-ctx.Done():
			return all
		}
	}
}

func filterByGate(signals []fact.Signal, gates map[string]DimensionGate) []fact.Signal {
	if len(gates) == 0 {
		return signals
	}
	out := make([]fact.Signal, 0, len(signals))
	for _, s := range signals {
		gate, ok := gates[s.Dimension]
		if !ok {
			out = append(out, s)
			continue
		}
		if !gate.Enabled {
			continue
		}
		if s.Confidence < gate.MinConfidence {
			continue
		}
		out = append(out, s)
	}
	return out
}
