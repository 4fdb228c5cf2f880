package fact

// Signal is the four-tuple detectSignals classifiers emit (spec §3
// Signal): dimension, signal name, confidence in [0,1], and optional
// opaque data.
type Signal struct {
	Dimension  string
	Name       string
	Confidence float64
	Data       any
}

// ToFact wraps a Signal as a Fact with the Signal tag.
func (s Signal) ToFact(p Provenance) Fact {
	return Fact{
		Tag: TagSignal,
		Attrs: map[string]any{
			"dimension":  s.Dimension,
			"signal":     s.Name,
			"confidence": s.Confidence,
			"data":       s.Data,
		},
		Provenance: p,
	}
}

// DedupeSignals applies the dedup rule from spec §3: duplicates across a
// turn are deduped by (type, dimension, name) keeping the highest
// confidence. "type" here is the fact's Tag (always Signal for this
// input), so the effective key is (dimension, name).
func DedupeSignals(signals []Signal) []Signal {
	type key struct {
		dimension string
		name      string
	}
	bestIndex := make(map[key]int, len(signals))
	order := make([]key, 0, len(signals))

	for i, s := range signals {
		k := key{dimension: s.Dimension, name: s.Name}
		if idx, ok := bestIndex[k]; ok {
			if s.Confidence > signals[idx].Confidence {
				bestIndex[k] = i
			}
			continue
		}
		bestIndex[k] = i
		order = append(order, k)
	}

	out := make([]Signal, 0, len(order))
	for _, k := range order {
		out = append(out, signals[bestIndex[k]])
	}
	return out
}
