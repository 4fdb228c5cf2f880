package exec

import (
	"context"
	"sync"
	"testing"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/machellerogden/thinksuit/internal/thinkerr"
	"github.com/stretchr/testify/require"
)

func TestParallelReturnsEmptyResponseForNoRoles(t *testing.T) {
	resp, err := Parallel(context.Background(), Input{Plan: plan.Plan{Strategy: plan.StrategyParallel}})
	require.NoError(t, err)
	require.Equal(t, Response{}, resp)
}

func TestParallelFansOutAndLabelsByRole(t *testing.T) {
	runCycle := func(ctx context.Context, in CycleInput) (Response, error) {
		return Response{Output: "reply-from-" + in.Plan.Role}, nil
	}

	resp, err := Parallel(context.Background(), Input{
		Plan: plan.Plan{
			Strategy: plan.StrategyParallel,
			Roles:    []plan.Role{{Name: "researcher"}, {Name: "critic"}},
		},
		Thread:  event.Thread{{Role: event.RoleUser, Content: "go"}},
		Machine: Machine{RunCycle: runCycle},
	})
	require.NoError(t, err)
	require.Contains(t, resp.Output, "[researcher]: reply-from-researcher")
	require.Contains(t, resp.Output, "[critic]: reply-from-critic")
}

func TestParallelUsesFormatterWhenAvailable(t *testing.T) {
	runCycle := func(ctx context.Context, in CycleInput) (Response, error) {
		return Response{Output: "x"}, nil
	}
	m := &module.Module{FormatResponse: func(results []module.StepResult) string {
		return "formatted:" + results[0].Role
	}}

	resp, err := Parallel(context.Background(), Input{
		Plan:    plan.Plan{Strategy: plan.StrategyParallel, Roles: []plan.Role{{Name: "researcher"}}},
		Thread:  event.Thread{{Role: event.RoleUser, Content: "go"}},
		Machine: Machine{RunCycle: runCycle, Module: m},
	})
	require.NoError(t, err)
	require.Equal(t, "formatted:researcher", resp.Output)
}

func TestParallelRecordsBranchErrorsAsPlaceholders(t *testing.T) {
	runCycle := func(ctx context.Context, in CycleInput) (Response, error) {
		if in.Plan.Role == "researcher" {
			return Response{}, assertError("boom")
		}
		return Response{Output: "fine"}, nil
	}

	resp, err := Parallel(context.Background(), Input{
		Plan: plan.Plan{
			Strategy: plan.StrategyParallel,
			Roles:    []plan.Role{{Name: "researcher"}, {Name: "critic"}},
		},
		Thread:  event.Thread{{Role: event.RoleUser, Content: "go"}},
		Machine: Machine{RunCycle: runCycle},
	})
	require.NoError(t, err)
	require.Contains(t, resp.Output, "[Error in researcher branch]")
	require.Contains(t, resp.Output, "[critic]: fine")
}

func TestParallelPropagatesBranchInterrupt(t *testing.T) {
	runCycle := func(ctx context.Context, in CycleInput) (Response, error) {
		return Response{}, &thinkerr.Interrupt{Stage: "nested"}
	}

	_, err := Parallel(context.Background(), Input{
		Plan:    plan.Plan{Strategy: plan.StrategyParallel, Roles: []plan.Role{{Name: "researcher"}}},
		Thread:  event.Thread{{Role: event.RoleUser, Content: "go"}},
		Machine: Machine{RunCycle: runCycle},
	})
	require.Error(t, err)
	var interrupt *thinkerr.Interrupt
	require.ErrorAs(t, err, &interrupt)
}

func TestParallelCancelsOutstandingBranchesOnAbort(t *testing.T) {
	abort := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	runCycle := func(ctx context.Context, in CycleInput) (Response, error) {
		started.Done()
		<-ctx.Done()
		return Response{}, ctx.Err()
	}

	go func() {
		started.Wait()
		close(abort)
	}()

	_, err := Parallel(context.Background(), Input{
		Plan: plan.Plan{
			Strategy: plan.StrategyParallel,
			Roles:    []plan.Role{{Name: "a"}, {Name: "b"}},
		},
		Thread:  event.Thread{{Role: event.RoleUser, Content: "go"}},
		Machine: Machine{RunCycle: runCycle, AbortSignal: abort},
	})
	require.Error(t, err)
	var interrupt *thinkerr.Interrupt
	require.ErrorAs(t, err, &interrupt)
}

type assertError string

func (e assertError) Error() string { return string(e) }
