// Package fact implements the tagged-variant Fact/FactMap data model that
// flows through signal detection, fact aggregation, rule evaluation, and
// plan selection (spec §3 Fact, FactMap).
package fact

// Tag discriminates a Fact's variant.
type Tag string

const (
	TagSignal              Tag = "Signal"
	TagRoleSelection       Tag = "RoleSelection"
	TagExecutionPlan       Tag = "ExecutionPlan"
	TagTokenMultiplier     Tag = "TokenMultiplier"
	TagDerived             Tag = "Derived"
	TagConfig              Tag = "Config"
	TagToolAvailability    Tag = "ToolAvailability"
	TagCapability          Tag = "Capability"
	TagPolicyConstraint    Tag = "PolicyConstraint"
	TagPolicyPreference    Tag = "PolicyPreference"
	TagToolPolicyStatement Tag = "ToolPolicyStatement"
	TagSelectedPlan        Tag = "SelectedPlan"
)

// Provenance records where a fact came from. Every fact carries it
// optionally (spec §3 "every fact carries optional provenance
// {source, producer, tier}").
type Provenance struct {
	Source   string `json:"source,omitempty"`
	Producer string `json:"producer,omitempty"`
	Tier     string `json:"tier,omitempty"`
}

// Fact is the tagged-variant envelope. Attrs carries the variant-specific
// payload (e.g. a Signal's {dimension, signal, confidence, data}, a
// Config's {path, value}), kept as a map rather than one struct per tag so
// the Rules Engine Adapter can pattern-match on arbitrary keys without a
// type switch in every condition (spec §4.5).
type Fact struct {
	Tag        Tag            `json:"tag"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	Provenance Provenance     `json:"provenance,omitempty"`
}

// Confidence returns the fact's confidence value and whether one is
// present. Invariant (spec §3): when present, confidence lies in [0,1].
func (f Fact) Confidence() (float64, bool) {
	v, ok := f.Attrs["confidence"]
	if !ok {
		return 0, false
	}
	c, ok := v.(float64)
	return c, ok
}

// WithProvenance returns a copy of f with provenance merged in: existing
// custom provenance fields win over auto-injected ones (spec §4.5 "must
// merge auto-injected provenance ... without overwriting custom provenance
// fields").
func (f Fact) WithProvenance(p Provenance) Fact {
	out := f
	if out.Provenance.Source == "" {
		out.Provenance.Source = p.Source
	}
	if out.Provenance.Producer == "" {
		out.Provenance.Producer = p.Producer
	}
	if out.Provenance.Tier == "" {
		out.Provenance.Tier = p.Tier
	}
	return out
}

// Valid reports whether f satisfies the data-model invariants for its tag
// (spec §3): confidence, when present, in [0,1]; a policy-blocked
// ExecutionPlan must carry confidence=0.
func (f Fact) Valid() bool {
	if c, ok := f.Confidence(); ok {
		if c < 0 || c > 1 {
			return false
		}
	}
	if f.Tag == TagExecutionPlan {
		if blocked, _ := f.Attrs["policyBlocked"].(bool); blocked {
			c, ok := f.Confidence()
			if !ok || c != 0 {
				return false
			}
		}
	}
	return true
}

// Map is a mapping from fact tag to the ordered list of facts emitted
// during one rule evaluation pass (spec §3 FactMap). Insertion order is
// preserved; Last returns the preferred fact of a tag for consumers that
// do not apply their own selection criteria.
type Map map[Tag][]Fact

// New returns an empty Map.
func New() Map { return make(Map) }

// Add appends fact to its tag's list, preserving insertion order.
func (m Map) Add(f Fact) {
	m[f.Tag] = append(m[f.Tag], f)
}

// All returns every fact across every tag, in a stable order: tags sorted
// lexicographically, facts within a tag in insertion order.
func (m Map) All() []Fact {
	tags := make([]Tag, 0, len(m))
	for t := range m {
		tags = append(tags, t)
	}
	sortTags(tags)
	out := make([]Fact, 0, len(m))
	for _, t := range tags {
		out = append(out, m[t]...)
	}
	return out
}

// Last returns the most recently added fact of tag, and whether one
// exists — "later evaluators prefer the last entry of a tag unless
// explicit selection criteria apply" (spec §3 FactMap).
func (m Map) Last(tag Tag) (Fact, bool) {
	facts := m[tag]
	if len(facts) == 0 {
		return Fact{}, false
	}
	return facts[len(facts)-1], true
}

func sortTags(tags []Tag) {
	for i := 1; i < len(tags); i++ {
		for j := i; j > 0 && tags[j-1] > tags[j]; j-- {
			tags[j-1], tags[j] = tags[j], tags[j-1]
		}
	}
}
