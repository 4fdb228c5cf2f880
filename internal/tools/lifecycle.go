package tools

import (
	"context"
	"fmt"
	"sync"
)

// ServerConfig names one transport server to start, keeping the launch
// details (command, working directory, allowed directories) opaque to
// this package — a concrete transport supplies its own config shape
// behind Launcher.
type ServerConfig struct {
	ID    ServerID
	Spec  map[string]any
}

// Launcher starts one configured server and returns its connected Client
// (spec §6 "startServers(config, cwd, allowedDirectories, verbose)"). A
// concrete transport implements this; the core only depends on the
// Client it returns.
type Launcher interface {
	Launch(ctx context.Context, cfg ServerConfig, cwd string, allowedDirectories []string, verbose bool) (Client, error)
}

// Pool tracks the clients started for one session so they can be torn
// down uniformly (spec §5 "Tool transport clients: started once per
// session with their working directory; stopped in a finally block
// regardless of success").
type Pool struct {
	mu      sync.Mutex
	clients []Client
}

// StartServers launches every configured server via launcher, collecting
// successfully started clients into the returned Pool. On any launch
// failure it stops what was already started and returns the error —
// there is no partial-pool success state (spec §4.9 "validate tool
// dependencies; on validation failure, abort the turn with a fatal
// error" applies equally to a server that never came up).
func StartServers(ctx context.Context, launcher Launcher, configs []ServerConfig, cwd string, allowedDirectories []string, verbose bool) (*Pool, error) {
	p := &Pool{}
	for _, cfg := range configs {
		client, err := launcher.Launch(ctx, cfg, cwd, allowedDirectories, verbose)
		if err != nil {
			p.StopAll(ctx)
			return nil, fmt.Errorf("tools: start server %s: %w", cfg.ID, err)
		}
		p.mu.Lock()
		p.clients = append(p.clients, client)
		p.mu.Unlock()
	}
	return p, nil
}

// Clients returns the pool's currently started clients.
func (p *Pool) Clients() []Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Client, len(p.clients))
	copy(out, p.clients)
	return out
}

// Stopper is implemented by a Client whose transport needs an explicit
// shutdown step (e.g. closing a subprocess or connection). Clients that
// need no teardown simply don't implement it.
type Stopper interface {
	Stop(ctx context.Context) error
}

// StopAll stops every client in the pool that implements Stopper,
// continuing past individual stop errors so one misbehaving server
// cannot prevent the rest from shutting down (spec §6 stopAllServers;
// spec §5 "stopped in a finally block regardless of success").
func (p *Pool) StopAll(ctx context.Context) []error {
	p.mu.Lock()
	clients := make([]Client, len(p.clients))
	copy(clients, p.clients)
	p.clients = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range clients {
		stopper, ok := c.(Stopper)
		if !ok {
			continue
		}
		if err := stopper.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tools: stop server %s: %w", c.ID(), err))
		}
	}
	return errs
}
