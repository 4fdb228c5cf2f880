package plan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultResultStrategy(t *testing.T) {
	require.Equal(t, ResultLast, DefaultResultStrategy(StrategySequential, false))
	require.Equal(t, ResultFormatted, DefaultResultStrategy(StrategyParallel, true))
	require.Equal(t, ResultLabel, DefaultResultStrategy(StrategyParallel, false))
}

func TestEffectiveStepStrategyDefaultsToTask(t *testing.T) {
	require.Equal(t, StrategyTask, EffectiveStepStrategy(Step{Role: "critic"}))
	require.Equal(t, StrategyDirect, EffectiveStepStrategy(Step{Role: "critic", Strategy: StrategyDirect}))
}
