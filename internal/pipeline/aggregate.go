package pipeline

import (
	"context"
	"reflect"
	"sort"
	"strings"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/fact"
)

// CapabilityProvider queries the LLM provider for the capabilities
// aggregateFacts turns into Capability facts (spec §4.6 "query the
// provider for capabilities and emit Capability facts"). Only the call
// contract is specified here — a concrete provider lives outside this
// core (spec §1).
type CapabilityProvider interface {
	Capabilities(ctx context.Context) (map[string]bool, error)
}

// AggregateFactsInput is aggregateFacts' typed input.
type AggregateFactsInput struct {
	Signals      fact.Map
	Config       map[string]any
	ToolNames    []string
	Capabilities CapabilityProvider
}

// AggregateFacts merges the Signal facts detectSignals produced with
// Config/ToolAvailability/Capability facts derived from the turn's engine
// config and discovered tools (spec §4.6 "aggregateFacts"). Dedup is
// re-applied to the merged Signal set, since signals may also arrive from
// other sources than the classifier pass upstream of this handler.
func AggregateFacts(ctx context.Context, pc Context, in AggregateFactsInput) (fact.Map, error) {
	out := fact.New()
	err := run(ctx, pc, stageFactAggregation, "pipeline.fact_aggregation.duration", func(ctx context.Context, boundaryID event.ID) error {
		for _, tag := range sortedTags(in.Signals) {
			out[tag] = append(out[tag], in.Signals[tag]...)
		}
		dedupeSignalTag(out)

		for _, f := range flattenConfig(in.Config) {
			out.Add(f)
		}

		out.Add(fact.Fact{
			Tag:   fact.TagToolAvailability,
			Attrs: map[string]any{"tools": append([]string(nil), in.ToolNames...)},
		})

		if in.Capabilities != nil {
			caps, err := in.Capabilities.Capabilities(ctx)
			if err == nil {
				for _, name := range sortedCapKeys(caps) {
					out.Add(fact.Fact{
						Tag:   fact.TagCapability,
						Attrs: map[string]any{"name": name, "supported": caps[name]},
					})
				}
			} else if pc.Log != nil {
				pc.Log.Warn(ctx, "aggregateFacts: capability query failed", "error", err.Error())
			}
		}
		return nil
	})
	return out, err
}

func sortedTags(m fact.Map) []fact.Tag {
	tags := make([]fact.Tag, 0, len(m))
	for t := range m {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

func dedupeSignalTag(m fact.Map) {
	facts := m[fact.TagSignal]
	if len(facts) == 0 {
		return
	}
	type key struct{ dimension, name string }
	best := make(map[key]int, len(facts))
	order := make([]key, 0, len(facts))
	for i, f := range facts {
		dim, _ := f.Attrs["dimension"].(string)
		name, _ := f.Attrs["signal"].(string)
		k := key{dim, name}
		if idx, ok := best[k]; ok {
			c1, _ := f.Confidence()
			c0, _ := facts[idx].Confidence()
			if c1 > c0 {
				best[k] = i
			}
			continue
		}
		best[k] = i
		order = append(order, k)
	}
	deduped := make([]fact.Fact, 0, len(order))
	for _, k := range order {
		deduped = append(deduped, facts[best[k]])
	}
	m[fact.TagSignal] = deduped
}

// flattenConfig turns the turn's engine config into Config facts with
// dotted-path keys, excluding underscore-prefixed keys and function
// values at any level (spec §4.6 "flatten the engine config into Config
// facts with dotted paths (excluding keys starting with underscore and
// function values)").
func flattenConfig(cfg map[string]any) []fact.Fact {
	var out []fact.Fact
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch val := v.(type) {
		case map[string]any:
			for _, k := range sortedKeys(val) {
				if strings.HasPrefix(k, "_") {
					continue
				}
				next := k
				if prefix != "" {
					next = prefix + "." + k
				}
				walk(next, val[k])
			}
		default:
			if isFunc(val) {
				return
			}
			out = append(out, fact.Fact{
				Tag:   fact.TagConfig,
				Attrs: map[string]any{"path": prefix, "value": val},
			})
		}
	}
	walk("", cfg)
	return out
}

func isFunc(v any) bool {
	if v == nil {
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Func
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
