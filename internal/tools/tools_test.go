package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id       ServerID
	specs    []Spec
	calls    []CallRequest
	result   CallResult
	callErr  error
	stopped  bool
	stopErr  error
}

func (f *fakeClient) ID() ServerID { return f.id }

func (f *fakeClient) ListTools(ctx context.Context) ([]Spec, error) {
	return f.specs, nil
}

func (f *fakeClient) Call(ctx context.Context, req CallRequest) (CallResult, error) {
	f.calls = append(f.calls, req)
	return f.result, f.callErr
}

func (f *fakeClient) Stop(ctx context.Context) error {
	f.stopped = true
	return f.stopErr
}

func TestDiscoverToolsMergesAcrossClients(t *testing.T) {
	a := &fakeClient{id: "server-a", specs: []Spec{{Name: "search", Description: "search the web"}}}
	b := &fakeClient{id: "server-b", specs: []Spec{{Name: "calc", Description: "calculator"}}}

	discovered, err := DiscoverTools(context.Background(), []Client{a, b})
	require.NoError(t, err)
	require.Len(t, discovered, 2)
	require.Equal(t, ServerID("server-a"), discovered["search"].Server)
	require.Equal(t, ServerID("server-b"), discovered["calc"].Server)
}

func TestDiscoverToolsFirstServerWinsOnNameCollision(t *testing.T) {
	a := &fakeClient{id: "server-a", specs: []Spec{{Name: "search"}}}
	b := &fakeClient{id: "server-b", specs: []Spec{{Name: "search"}}}

	discovered, err := DiscoverTools(context.Background(), []Client{a, b})
	require.NoError(t, err)
	require.Equal(t, ServerID("server-a"), discovered["search"].Server)
}

func TestDiscoverToolsPropagatesListError(t *testing.T) {
	bad := &erroringClient{id: "server-bad"}
	_, err := DiscoverTools(context.Background(), []Client{bad})
	require.Error(t, err)
}

type erroringClient struct{ id ServerID }

func (e *erroringClient) ID() ServerID { return e.id }
func (e *erroringClient) ListTools(ctx context.Context) ([]Spec, error) {
	return nil, errors.New("transport unavailable")
}
func (e *erroringClient) Call(ctx context.Context, req CallRequest) (CallResult, error) {
	return CallResult{}, nil
}

func TestCallToolDispatchesToOwningServer(t *testing.T) {
	a := &fakeClient{id: "server-a", result: CallResult{Success: true, Result: "42"}}
	discovered := Discovered{"calc": Spec{Name: "calc", Server: "server-a"}}
	clients := map[ServerID]Client{"server-a": a}

	result, err := CallTool(context.Background(), CallRequest{Tool: "calc"}, discovered, clients)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "42", result.Result)
	require.Len(t, a.calls, 1)
}

func TestCallToolReportsUnknownToolAsFailure(t *testing.T) {
	result, err := CallTool(context.Background(), CallRequest{Tool: "missing"}, Discovered{}, nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "missing")
}

func TestValidateDependenciesReportsMissing(t *testing.T) {
	discovered := Discovered{"search": Spec{Name: "search"}}
	missing := ValidateDependencies(discovered, []string{"search", "calc"})
	require.Equal(t, []string{"calc"}, missing)
}

func TestValidateDependenciesEmptyWhenSatisfied(t *testing.T) {
	discovered := Discovered{"search": Spec{Name: "search"}}
	missing := ValidateDependencies(discovered, []string{"search"})
	require.Empty(t, missing)
}

type fakeLauncher struct {
	clients map[ServerID]*fakeClient
	failOn  ServerID
}

func (l *fakeLauncher) Launch(ctx context.Context, cfg ServerConfig, cwd string, allowed []string, verbose bool) (Client, error) {
	if cfg.ID == l.failOn {
		return nil, errors.New("launch failed")
	}
	c := l.clients[cfg.ID]
	if c == nil {
		c = &fakeClient{id: cfg.ID}
		l.clients[cfg.ID] = c
	}
	return c, nil
}

func TestStartServersStopsAlreadyStartedOnFailure(t *testing.T) {
	launcher := &fakeLauncher{clients: map[ServerID]*fakeClient{}, failOn: "bad"}
	_, err := StartServers(context.Background(), launcher, []ServerConfig{{ID: "good"}, {ID: "bad"}}, "/tmp", nil, false)
	require.Error(t, err)
	require.True(t, launcher.clients["good"].stopped)
}

func TestStopAllContinuesPastIndividualErrors(t *testing.T) {
	a := &fakeClient{id: "a", stopErr: errors.New("boom")}
	b := &fakeClient{id: "b"}
	launcher := &fakeLauncher{clients: map[ServerID]*fakeClient{"a": a, "b": b}}
	pool, err := StartServers(context.Background(), launcher, []ServerConfig{{ID: "a"}, {ID: "b"}}, "/tmp", nil, false)
	require.NoError(t, err)

	errs := pool.StopAll(context.Background())
	require.Len(t, errs, 1)
	require.True(t, a.stopped)
	require.True(t, b.stopped)
	require.Empty(t, pool.Clients())
}
