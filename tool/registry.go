package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sandchat/sandchat/logging"
	"github.com/sandchat/sandchat/model"
)

// Registry holds the named tools available to the assistant and resolves the
// per-turn active subset.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	logger      logging.Logger
	unknownHook func(name string)
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
	// UnknownToolHook is invoked once per unknown name dropped during
	// ResolveActive, e.g. to bump a metrics counter.
	UnknownToolHook func(name string)
}

// NewRegistry creates an empty tool registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tools:       map[string]Tool{},
		logger:      opts.Logger,
		unknownHook: opts.UnknownToolHook,
	}
}

// Register adds a tool under its name. Registering an empty name or a
// duplicate is an error.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t

	return nil
}

// MustRegister is Register that panics on error, for static wiring at startup.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveActive returns the tools selected for a turn, ordered by name. A nil
// selection means all registered tools. Unknown names are dropped with a
// warning so a stale client tool list cannot fail the whole turn.
func (r *Registry) ResolveActive(active []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if active == nil {
		names := make([]string, 0, len(r.tools))
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)

		tools := make([]Tool, 0, len(names))
		for _, name := range names {
			tools = append(tools, r.tools[name])
		}
		return tools
	}

	seen := map[string]bool{}
	names := make([]string, 0, len(active))
	for _, name := range active {
		t, ok := r.tools[name]
		if !ok {
			r.logger.Warn("tool.registry.unknown_active_tool", "tool", name)
			if r.unknownHook != nil {
				r.unknownHook(name)
			}
			continue
		}
		if seen[t.Name()] {
			continue
		}
		seen[t.Name()] = true
		names = append(names, t.Name())
	}
	sort.Strings(names)

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Definitions converts tools into the declarative form sent to models.
func Definitions(tools []Tool) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		}
	}
	return defs
}
