// Package module defines the Module contract the core consumes:
// namespace/name/version identity, role/prompt/classifier/rule tables,
// and the composeInstructions/formatResponse hooks a behavioral module
// supplies (spec §6 Module contract). The core never constructs a Module
// itself — modules are external collaborators, sketched here only as the
// interface the pipeline and execution handlers call against.
package module

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/machellerogden/thinksuit/internal/event"
	"github.com/machellerogden/thinksuit/internal/fact"
	"github.com/machellerogden/thinksuit/internal/plan"
	"github.com/machellerogden/thinksuit/internal/rules"
)

// Role describes one selectable role a module exposes (spec §6 "roles:
// list of role descriptors").
type Role struct {
	Name         string
	IsDefault    bool
	Temperature  *float64
	BaseTokens   int
	SystemPrompt string
	PrimaryPromptTemplate string
}

// PromptFunc renders an adaptation prompt given composition context, for
// modules whose prompts table maps a key to a function rather than a
// plain string (spec §6 "mapping from adaptation keys ... to strings or
// functions receiving context").
type PromptFunc func(ctx PromptContext) string

// PromptContext is the context a PromptFunc receives: the current plan,
// the aggregated FactMap, and any task-loop-specific budget context.
type PromptContext struct {
	Plan         plan.Plan
	Facts        fact.Map
	TaskContext  map[string]any
}

// Prompt is either a static string or a PromptFunc. Exactly one of Static
// or Func should be set.
type Prompt struct {
	Static string
	Func   PromptFunc
}

// Render returns the prompt text, invoking Func with ctx when present.
func (p Prompt) Render(ctx PromptContext) string {
	if p.Func != nil {
		return p.Func(ctx)
	}
	return p.Static
}

// Classifier inspects a thread and emits zero or more signals for its
// dimension (spec §6 "classifiers: mapping from dimension to a function
// (thread) → Array<{signal, confidence}>").
type Classifier func(thread event.Thread) []fact.Signal

// Composer builds Instructions from a selected plan and the aggregated
// FactMap (spec §6 "composeInstructions({plan, factMap}, module) →
// Instructions").
type Composer func(input ComposeInput, m *Module) Instructions

// ComposeInput is the input to a Composer.
type ComposeInput struct {
	Plan  plan.Plan
	Facts fact.Map
}

// Instructions is the composed instruction object handed to an execution
// handler (spec §3 Instructions).
type Instructions struct {
	System          string
	Primary         string
	Adaptations     string
	LengthGuidance  string
	ToolInstructions string
	MaxTokens       int
	Metadata        InstructionMetadata
}

// InstructionMetadata is Instructions.metadata (spec §3).
type InstructionMetadata struct {
	Role            string
	BaseTokens      int
	TokenMultiplier float64
	LengthLevel     string
	AdaptationKeys  []string
	Strategy        plan.Strategy
	ToolsAvailable  []string
}

// Valid reports whether ins satisfies the Instructions invariants (spec
// §3: "all string fields present (possibly empty); maxTokens numeric").
// Go's zero value already makes "present" trivially true for strings;
// what this actually guards is MaxTokens being a positive integer, which
// composeInstructions (spec §4.6) validates strictly before accepting a
// module's output.
func (ins Instructions) Valid() bool {
	return ins.MaxTokens > 0
}

// FormatResponse optionally formats aggregated branch/step results into a
// single string (spec §6 "orchestration.formatResponse?(results) →
// string"), used by execParallel's "formatted" resultStrategy.
// execSequential does not call it.
type FormatResponse func(results []StepResult) string

// StepResult is one branch or step outcome handed to FormatResponse.
type StepResult struct {
	Role   string
	Output string
	Error  string
}

// Module is the contract the core consumes (spec §6). Fields left nil/zero
// are treated as "module does not support this" by the pipeline (e.g. a
// nil FormatResponse falls back to the "label" resultStrategy).
type Module struct {
	Namespace string
	Name      string
	Version   string

	Roles       []Role
	Prompts     map[string]Prompt
	Classifiers map[string]Classifier
	Rules       []rules.Rule

	Compose        Composer
	FormatResponse FormatResponse

	ToolDependencies []string

	Frames  map[string]any
	Presets map[string]any
}

// DefaultRole returns the module's default role, or the first role when
// none is marked IsDefault, or the zero Role when the module has none.
func (m *Module) DefaultRole() (Role, bool) {
	if m == nil || len(m.Roles) == 0 {
		return Role{}, false
	}
	for _, r := range m.Roles {
		if r.IsDefault {
			return r, true
		}
	}
	return m.Roles[0], true
}

// RoleByName looks up a role by name.
func (m *Module) RoleByName(name string) (Role, bool) {
	if m == nil {
		return Role{}, false
	}
	for _, r := range m.Roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}

// TemperatureOrDefault returns the role's configured temperature, falling back to
// 0.7 when unset (spec §4.7 execDirect "Temperature is selected per-role
// from the module; fallback 0.7").
func (r Role) TemperatureOrDefault() float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return 0.7
}

// framesPresetsBundle is the shape of a module's optional on-disk
// frames/presets document: two top-level maps of named bundles, each a
// free-form attribute set a Composer can splice into Instructions (spec
// §6 notes modules "may ship additional frames/presets data alongside
// their code").
type framesPresetsBundle struct {
	Frames  map[string]any `yaml:"frames"`
	Presets map[string]any `yaml:"presets"`
}

// LoadFramesPresets decodes a module's frames/presets bundle from YAML,
// the format the teacher uses for its own static fixture data. An empty
// or absent top-level key decodes to a nil map, not an error.
func LoadFramesPresets(r io.Reader) (frames map[string]any, presets map[string]any, err error) {
	var bundle framesPresetsBundle
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&bundle); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("module: decode frames/presets: %w", err)
	}
	return bundle.Frames, bundle.Presets, nil
}

// WithFramesPresets returns a copy of m with Frames/Presets loaded from r,
// leaving m itself untouched.
func (m Module) WithFramesPresets(r io.Reader) (Module, error) {
	frames, presets, err := LoadFramesPresets(r)
	if err != nil {
		return m, err
	}
	m.Frames = frames
	m.Presets = presets
	return m, nil
}
