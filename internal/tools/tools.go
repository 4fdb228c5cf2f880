// Package tools implements Tool Discovery and the external tool transport
// contract (spec §6): the core never hosts a tool server itself, only the
// discoverTools/callTool/startServers/stopAllServers call contract and
// the Tool Discovery step that enumerates the transport's tools. This
// package applies no allow-list; the Scheduler filters the discovered
// tools against the policy allow-list after DiscoverTools returns.
package tools

import (
	"context"
	"sort"
)

// Ident is the strong type for a fully qualified tool name, kept distinct
// from a free-form string so call sites cannot accidentally mix the two.
type Ident string

// ServerID is an opaque server identity (spec §6 "Server identities are
// opaque strings").
type ServerID string

// Spec describes one tool as discovered from the transport (spec §6
// "discoverTools(clients) → map{toolName → {name, description,
// inputSchema, server}}").
type Spec struct {
	Name        Ident
	Description string
	InputSchema map[string]any
	Server      ServerID
}

// Discovered is the result of DiscoverTools: a map from tool name to its
// Spec, merged across every connected client.
type Discovered map[Ident]Spec

// CallRequest is the argument to CallTool (spec §6 "callTool({tool,
// args}, discovered)").
type CallRequest struct {
	Tool Ident
	Args map[string]any
}

// Bounds describes how a tool result has been bounded relative to the
// full underlying data set (supplemented "Bounded-result metadata"
// feature, grounded on the teacher's agent.Bounds/BoundedResult
// contract). Returned is how many items/points are present in the
// bounded view; Total, when non-nil, is the best-effort pre-truncation
// total; RefinementHint guides a follow-up call when Truncated is true.
type Bounds struct {
	Returned       int
	Total          *int
	Truncated      bool
	RefinementHint string
}

// BoundedResult is implemented by tool results that know their own
// bounds; execTask prefers it over no bounds information at all when
// deciding whether to attach truncation metadata to a function_call_output
// item.
type BoundedResult interface {
	Bounds() Bounds
}

// CallResult is CallTool's return value (spec §6 "{success, result |
// error}").
type CallResult struct {
	Success bool
	Result  any
	Error   string
}

// Client is the external tool transport's per-server connection, the one
// piece of this contract the core never implements itself — only this
// interface is specified (spec §1 "The external tool transport that hosts
// remote tool servers; only the call contract is specified").
type Client interface {
	ID() ServerID
	ListTools(ctx context.Context) ([]Spec, error)
	Call(ctx context.Context, req CallRequest) (CallResult, error)
}

// DiscoverTools enumerates tools across every connected client and merges
// them into one name-keyed map (spec §6 discoverTools). A name collision
// across servers keeps the first server seen, in client order — the
// transport is expected to namespace tool names itself if collisions
// matter to it.
func DiscoverTools(ctx context.Context, clients []Client) (Discovered, error) {
	out := make(Discovered)
	for _, c := range clients {
		specs, err := c.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			if _, exists := out[spec.Name]; exists {
				continue
			}
			if spec.Server == "" {
				spec.Server = c.ID()
			}
			out[spec.Name] = spec
		}
	}
	return out, nil
}

// Names returns the discovered tool names, sorted for deterministic
// iteration (used by aggregateFacts' ToolAvailability fact).
func (d Discovered) Names() []string {
	out := make([]string, 0, len(d))
	for name := range d {
		out = append(out, string(name))
	}
	sort.Strings(out)
	return out
}

// CallTool dispatches req to the server that owns the requested tool
// (spec §6 callTool). Returns a failed CallResult, not an error, when the
// tool is unknown or the owning client is missing — callTool's contract
// is "success|error", not "value|error", so transport-shape problems are
// reported the same way a remote tool failure would be.
func CallTool(ctx context.Context, req CallRequest, discovered Discovered, clients map[ServerID]Client) (CallResult, error) {
	spec, ok := discovered[req.Tool]
	if !ok {
		return CallResult{Success: false, Error: "tool not discovered: " + string(req.Tool)}, nil
	}
	client, ok := clients[spec.Server]
	if !ok {
		return CallResult{Success: false, Error: "no client for server: " + string(spec.Server)}, nil
	}
	return client.Call(ctx, req)
}
