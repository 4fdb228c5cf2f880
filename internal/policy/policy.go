// Package policy implements Policy Rules & System Enforcement (spec
// §4.12): it turns user policy knobs into PolicyConstraint/
// ToolPolicyStatement facts, and provides salience-100 System Enforcement
// rules that react to those constraints by emitting a shadow
// ExecutionPlan fact marking a plan blocked or adjusted.
package policy

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/rules"
)

// Config carries the user-facing policy knobs (spec §4.12 "maxDepth,
// maxFanout, maxSequentialSteps, maxTaskCycles, allowedTools"). Field tags
// let Config be loaded directly from a YAML policy fixture via LoadConfig.
type Config struct {
	MaxDepth           int      `yaml:"maxDepth"`
	MaxFanout          int      `yaml:"maxFanout"`
	MaxSequentialSteps int      `yaml:"maxSequentialSteps"`
	MaxTaskCycles      int      `yaml:"maxTaskCycles"`
	AllowedTools       []string `yaml:"allowedTools"`

	// MaxConsecutiveToolFailures is a supplemented knob (not in the
	// distilled spec's explicit knob list) grounded on the teacher's
	// policy.CapsState.RemainingConsecutiveFailedToolCalls: once a task's
	// consecutive tool-call failure count reaches this limit, the
	// offending tool is disabled for the remainder of the task.
	MaxConsecutiveToolFailures int `yaml:"maxConsecutiveToolFailures"`
}

// LoadConfig decodes a Config from a YAML policy fixture, the format the
// teacher uses for its own static configuration documents. Unknown
// top-level keys are rejected so a typo'd knob name fails loudly rather
// than silently doing nothing.
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("policy: decode config: %w", err)
	}
	return cfg, nil
}

// Derived attribute keys: the "kind" values of the fact.TagDerived facts
// that enforcement rules compare constraint limits against. Nothing in the
// cycle runner or the execution handlers emits Derived facts; the
// enforcement rules fire only when Derived facts are already in the
// FactMap handed to rules.Run or are added by a module's own rules.
const (
	DerivedDepth                  = "depth"
	DerivedFanout                 = "fanout"
	DerivedSequentialSteps        = "sequentialSteps"
	DerivedTaskCycles             = "taskCycles"
	DerivedConsecutiveToolFailures = "consecutiveToolFailures"
)

// EnforcementSalience is the salience System Enforcement rules run at
// (spec §4.12 "System enforcement rules at salience 100").
const EnforcementSalience = 100

// ConstraintRules returns rules that emit a PolicyConstraint fact for
// each configured knob — one rule per knob, each unconditional (a
// constraint is a standing fact about the turn's policy, not conditioned
// on anything else having fired yet).
func ConstraintRules(cfg Config) []rules.Rule {
	var rs []rules.Rule
	add := func(name string, limit int, kind string) {
		if limit <= 0 {
			return
		}
		rs = append(rs, rules.Rule{
			Name:     name,
			Salience: 50,
			When:     rules.Not{Child: rules.HasFact{Tag: fact.TagPolicyConstraint, Predicate: rules.AttrEquals("kind", kind)}},
			Then: func(m fact.Map) []fact.Fact {
				return []fact.Fact{{
					Tag: fact.TagPolicyConstraint,
					Attrs: map[string]any{
						"kind":  kind,
						"limit": limit,
					},
				}}
			},
		})
	}
	add("constraint.maxDepth", cfg.MaxDepth, DerivedDepth)
	add("constraint.maxFanout", cfg.MaxFanout, DerivedFanout)
	add("constraint.maxSequentialSteps", cfg.MaxSequentialSteps, DerivedSequentialSteps)
	add("constraint.maxTaskCycles", cfg.MaxTaskCycles, DerivedTaskCycles)
	add("constraint.maxConsecutiveToolFailures", cfg.MaxConsecutiveToolFailures, DerivedConsecutiveToolFailures)
	return rs
}

// ToolPolicyRules returns a rule that emits one ToolPolicyStatement fact
// per allowed tool name, when an allow-list is configured. Absence of an
// allow-list means "no restriction" — NewToolFilter treats a missing
// ToolPolicyStatement set as unrestricted.
func ToolPolicyRules(cfg Config) []rules.Rule {
	if len(cfg.AllowedTools) == 0 {
		return nil
	}
	return []rules.Rule{{
		Name:     "constraint.allowedTools",
		Salience: 50,
		When:     rules.Not{Child: rules.HasFact{Tag: fact.TagToolPolicyStatement}},
		Then: func(m fact.Map) []fact.Fact {
			out := make([]fact.Fact, 0, len(cfg.AllowedTools))
			for _, name := range cfg.AllowedTools {
				out = append(out, fact.Fact{
					Tag: fact.TagToolPolicyStatement,
					Attrs: map[string]any{
						"tool":    name,
						"allowed": true,
					},
				})
			}
			return out
		},
	}}
}
