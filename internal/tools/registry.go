package tools

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentd-run/agentd/internal/types"
)

// Registry holds a snapshot vector of tool handles keyed by name. Tie-break:
// last-registered tool with a given name wins (script tools can override
// builtins), always logged as an override.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	byName  map[string]Tool
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName:  make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger,
	}
}

// Register adds t to the registry. If a tool with the same name already
// exists, the new registration wins and the override is logged.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.byName[name]; exists {
		r.logger.Info("tool registration overrides existing tool", "tool", name)
	} else {
		r.order = append(r.order, name)
	}
	r.byName[name] = t

	schema := t.Schema()
	if compiled, err := compileSchema(name, schema.Parameters); err == nil && compiled != nil {
		r.schemas[name] = compiled
	} else {
		delete(r.schemas, name)
		if err != nil {
			r.logger.Warn("tool parameter schema failed to compile, skipping argument validation", "tool", name, "error", err)
		}
	}
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Schema returns the compiled JSON Schema for name's arguments, if any was
// registered and compiled successfully.
func (r *Registry) Schema(name string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Snapshot returns an independent, ordered slice of the currently
// registered tools — cheap to clone since each tool is a shared handle.
func (r *Registry) Snapshot() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Schemas returns the ToolSchema for every registered tool, in registration
// order, for use in the model request payload.
func (r *Registry) Schemas() []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Schema())
	}
	return out
}

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}
