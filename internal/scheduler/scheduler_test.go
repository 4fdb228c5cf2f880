package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/llm"
	"github.com/machellerogden/thinksuit/internal/module"
	"github.com/machellerogden/thinksuit/internal/session"
	"github.com/machellerogden/thinksuit/internal/thinkerr"
	"github.com/machellerogden/thinksuit/internal/tools"
)

type fakeProvider struct {
	resp llm.Response
	err  error
}

func (p *fakeProvider) Call(ctx context.Context, req llm.Request) (llm.Response, error) {
	return p.resp, p.err
}

func validModule() *module.Module {
	ins := module.Instructions{
		System: "sys", Primary: "primary", MaxTokens: 200,
		Metadata: module.InstructionMetadata{Role: "assistant", BaseTokens: 200, TokenMultiplier: 1, LengthLevel: "default"},
	}
	return &module.Module{
		Name:    "test-module",
		Compose: func(in module.ComposeInput, m *module.Module) module.Instructions { return ins },
	}
}

func newScheduler(t *testing.T, mod *module.Module, provider llm.Provider) *Scheduler {
	t.Helper()
	return &Scheduler{
		Sessions: session.New(t.TempDir(), nil, nil),
		Resolve:  func(name string) (*module.Module, error) { return mod, nil },
		Provider: provider,
	}
}

func TestRunTurnRejectsEmptyInput(t *testing.T) {
	s := newScheduler(t, validModule(), &fakeProvider{resp: llm.Response{Text: "x", FinishReason: llm.FinishComplete}})
	_, err := s.RunTurn(context.Background(), Config{Input: "   "}, nil)
	require.Error(t, err)
	require.Equal(t, thinkerr.EValidation, thinkerr.KindOf(err))
}

func TestRunTurnCompletesAndJournalsTurnEvents(t *testing.T) {
	s := newScheduler(t, validModule(), &fakeProvider{resp: llm.Response{Text: "hello there", FinishReason: llm.FinishComplete}})

	result, err := s.RunTurn(context.Background(), Config{Input: "hi"}, nil)
	require.NoError(t, err)
	require.True(t, result.Scheduled)
	require.True(t, result.IsNew)
	require.NotEmpty(t, result.SessionID)
	require.Nil(t, result.Interrupt)
	require.NotNil(t, result.Execution)
	require.Equal(t, "hello there", result.Execution.Response.Output)

	thread, err := s.Sessions.LoadThread(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	require.Equal(t, event.RoleUser, thread[0].Role)
	require.Equal(t, "hi", thread[0].Content)
	require.Equal(t, event.RoleAssistant, thread[1].Role)
	require.Equal(t, "hello there", thread[1].Content)
}

func TestRunTurnReturnsNotScheduledWhenSessionBusy(t *testing.T) {
	s := newScheduler(t, validModule(), &fakeProvider{})
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	id := event.NewSessionID(now)

	require.NoError(t, s.Sessions.Append(context.Background(), id, &event.Event{
		Time: now, Event: event.SessionPending, SessionID: id, EventID: "e0",
	}))
	require.NoError(t, s.Sessions.Append(context.Background(), id, &event.Event{
		Time: now, Event: event.SessionInput, SessionID: id, EventID: "e1",
		Data: map[string]any{"input": "still going"},
	}))

	result, err := s.RunTurn(context.Background(), Config{SessionID: id, Input: "another"}, nil)
	require.NoError(t, err)
	require.False(t, result.Scheduled)
	require.Equal(t, "currently processing", result.Reason)
}

func TestRunTurnAbortsOnMissingToolDependency(t *testing.T) {
	mod := validModule()
	mod.ToolDependencies = []string{"calculator"}
	s := newScheduler(t, mod, &fakeProvider{resp: llm.Response{Text: "x", FinishReason: llm.FinishComplete}})

	_, err := s.RunTurn(context.Background(), Config{Input: "hi"}, nil)
	require.Error(t, err)
	require.Equal(t, thinkerr.EValidation, thinkerr.KindOf(err))
}

type fakeToolClient struct {
	id    tools.ServerID
	specs []tools.Spec
}

func (c *fakeToolClient) ID() tools.ServerID { return c.id }
func (c *fakeToolClient) ListTools(ctx context.Context) ([]tools.Spec, error) {
	return c.specs, nil
}
func (c *fakeToolClient) Call(ctx context.Context, req tools.CallRequest) (tools.CallResult, error) {
	return tools.CallResult{Success: true}, nil
}

func TestRunTurnSucceedsWhenDiscoveredToolsSatisfyDependencies(t *testing.T) {
	mod := validModule()
	mod.ToolDependencies = []string{"calculator"}
	s := newScheduler(t, mod, &fakeProvider{resp: llm.Response{Text: "42", FinishReason: llm.FinishComplete}})
	s.ToolClients = []tools.Client{&fakeToolClient{
		id:    "srv-1",
		specs: []tools.Spec{{Name: "calculator", Server: "srv-1"}},
	}}

	result, err := s.RunTurn(context.Background(), Config{Input: "what is 6*7"}, nil)
	require.NoError(t, err)
	require.True(t, result.Scheduled)
	require.Equal(t, "42", result.Execution.Response.Output)
}

func TestRunTurnHonorsClassifierLimiterWithoutStallingTheTurn(t *testing.T) {
	mod := validModule()
	mod.Classifiers = map[string]module.Classifier{
		"intent": func(thread event.Thread) []fact.Signal {
			return []fact.Signal{{Dimension: "intent", Name: "question", Confidence: 0.8}}
		},
	}
	s := newScheduler(t, mod, &fakeProvider{resp: llm.Response{Text: "hi", FinishReason: llm.FinishComplete}})
	s.ClassifierLimiter = rate.NewLimiter(rate.Limit(100), 1)

	result, err := s.RunTurn(context.Background(), Config{Input: "hi"}, nil)
	require.NoError(t, err)
	require.True(t, result.Scheduled)
	require.Equal(t, "hi", result.Execution.Response.Output)
}

func TestRunTurnMapsAbortToInterruptedResult(t *testing.T) {
	abort := make(chan struct{})
	close(abort)
	s := newScheduler(t, validModule(), &fakeProvider{resp: llm.Response{Text: "x", FinishReason: llm.FinishComplete}})

	result, err := s.RunTurn(context.Background(), Config{Input: "hi"}, abort)
	require.NoError(t, err)
	require.True(t, result.Scheduled)
	require.NotNil(t, result.Interrupt)
	require.NotNil(t, result.Execution)
	require.True(t, result.Execution.Interrupted)
}
