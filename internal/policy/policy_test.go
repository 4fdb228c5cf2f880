package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/rules"
)

func derivedFact(kind string, value int) fact.Fact {
	return fact.Fact{Tag: fact.TagDerived, Attrs: map[string]any{"kind": kind, "value": value}}
}

func TestConstraintRulesEmitOnlyForConfiguredKnobs(t *testing.T) {
	rs := ConstraintRules(Config{MaxDepth: 3})
	require.Len(t, rs, 1)
	require.Equal(t, "constraint.maxDepth", rs[0].Name)
}

func TestConstraintRulesSkipUnsetKnobs(t *testing.T) {
	rs := ConstraintRules(Config{})
	require.Empty(t, rs)
}

func TestToolPolicyRulesEmitOneStatementPerTool(t *testing.T) {
	rs := ToolPolicyRules(Config{AllowedTools: []string{"search", "calc"}})
	require.Len(t, rs, 1)

	result, _ := rules.Run(fact.New(), rs)
	require.Len(t, result[fact.TagToolPolicyStatement], 2)
}

func TestEnforcementBlocksWhenDerivedExceedsLimit(t *testing.T) {
	input := fact.New()
	input.Add(derivedFact(DerivedDepth, 5))

	all := append(ConstraintRules(Config{MaxDepth: 3}), EnforcementRules()...)
	result, stats := rules.Run(input, all)
	require.NoError(t, stats.Error)

	plans := result[fact.TagExecutionPlan]
	require.Len(t, plans, 1)
	require.Equal(t, true, plans[0].Attrs["policyBlocked"])
	require.Equal(t, 0.0, plans[0].Attrs["confidence"])
}

func TestEnforcementAllowsWhenWithinLimit(t *testing.T) {
	input := fact.New()
	input.Add(derivedFact(DerivedFanout, 2))

	all := append(ConstraintRules(Config{MaxFanout: 5}), EnforcementRules()...)
	result, _ := rules.Run(input, all)

	require.Empty(t, result[fact.TagExecutionPlan])
}

func TestEnforcementCapsTaskCyclesInsteadOfBlocking(t *testing.T) {
	input := fact.New()
	input.Add(derivedFact(DerivedTaskCycles, 10))

	all := append(ConstraintRules(Config{MaxTaskCycles: 4}), EnforcementRules()...)
	result, _ := rules.Run(input, all)

	plans := result[fact.TagExecutionPlan]
	require.Len(t, plans, 1)
	require.Equal(t, true, plans[0].Attrs["policyAdjusted"])
	require.Nil(t, plans[0].Attrs["policyBlocked"])
	require.Equal(t, 4, plans[0].Attrs["maxCycles"])
}

func TestToolFilterAllowListRestrictsCandidates(t *testing.T) {
	tf := NewToolFilter([]ToolStatement{
		{Tool: "search", Allowed: true},
		{Tool: "calc", Allowed: true},
	})
	require.Equal(t, []string{"search", "calc"}, tf.Filter([]string{"search", "calc", "delete"}))
}

func TestToolFilterBlockWinsOverAllow(t *testing.T) {
	tf := NewToolFilter([]ToolStatement{
		{Tool: "search", Allowed: true},
		{Tool: "search", Allowed: false},
	})
	require.False(t, tf.Allows("search"))
}

func TestToolFilterWithNoStatementsAllowsEverything(t *testing.T) {
	tf := NewToolFilter(nil)
	require.True(t, tf.Allows("anything"))
}

func TestConsecutiveFailureEnforcementDisablesToolAtLimit(t *testing.T) {
	input := fact.New()
	input.Add(fact.Fact{
		Tag:   fact.TagDerived,
		Attrs: map[string]any{"kind": DerivedConsecutiveToolFailures, "tool": "flaky", "value": 3},
	})

	all := append(ConstraintRules(Config{MaxConsecutiveToolFailures: 3}), EnforcementRules()...)
	result, _ := rules.Run(input, all)

	var blocked bool
	for _, f := range result[fact.TagToolPolicyStatement] {
		if f.Attrs["tool"] == "flaky" && f.Attrs["allowed"] == false {
			blocked = true
		}
	}
	require.True(t, blocked)

	var adjusted bool
	for _, f := range result[fact.TagExecutionPlan] {
		if f.Attrs["disabledTool"] == "flaky" {
			adjusted = true
		}
	}
	require.True(t, adjusted)
}

func TestToolFailureStatementCarriesRetryHint(t *testing.T) {
	f := ToolFailureStatement("search", RetryReasonToolFailed)
	require.Equal(t, "search", f.Attrs["tool"])
	require.Equal(t, false, f.Attrs["allowed"])
	hint, ok := f.Attrs["retryHint"].(RetryHint)
	require.True(t, ok)
	require.Equal(t, RetryReasonToolFailed, hint.Reason)
}

func TestLoadConfigDecodesKnobs(t *testing.T) {
	doc := `
maxDepth: 4
maxFanout: 3
allowedTools:
  - calculator
  - search
`
	cfg, err := LoadConfig(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, 4, cfg.MaxDepth)
	require.Equal(t, 3, cfg.MaxFanout)
	require.Equal(t, []string{"calculator", "search"}, cfg.AllowedTools)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	_, err := LoadConfig(strings.NewReader("maxDepht: 4\n"))
	require.Error(t, err)
}

func TestLoadConfigToleratesEmptyDocument(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Config{}, cfg)
}
