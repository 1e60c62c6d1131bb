package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Tool is an executable catalog entry. Invoke receives the call's
// arguments, a private clone of the state and a read-only view of the
// transcript, and returns the next state plus the text of its Tool message.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, args json.RawMessage, state ConversationState, view TranscriptView) (ConversationState, string, error)
}

// ToolFunc builds a Tool from a spec and a function.
func ToolFunc(spec ToolSpec, fn func(ctx context.Context, args json.RawMessage, state ConversationState, view TranscriptView) (ConversationState, string, error)) Tool {
	return funcTool{spec: spec, fn: fn}
}

type funcTool struct {
	spec ToolSpec
	fn   func(context.Context, json.RawMessage, ConversationState, TranscriptView) (ConversationState, string, error)
}

func (t funcTool) Spec() ToolSpec { return t.spec }

func (t funcTool) Invoke(ctx context.Context, args json.RawMessage, state ConversationState, view TranscriptView) (ConversationState, string, error) {
	return t.fn(ctx, args, state, view)
}

type entry struct {
	spec   ToolSpec
	tool   Tool // nil for actions answered by a human
	schema *gojsonschema.Schema
}

// Registry maps stable tool names to executable tools and to human
// approval actions. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an executable tool.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return errors.New("research: nil tool")
	}
	return r.add(tool.Spec(), tool)
}

// RegisterAction adds a catalog entry that is answered by a human rather
// than executed. Its name must also be in the driver's ApprovalSet.
func (r *Registry) RegisterAction(spec ToolSpec) error {
	return r.add(spec, nil)
}

// MustRegister registers tools and panics on error. For static wiring.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) add(spec ToolSpec, tool Tool) error {
	if spec.Name == "" {
		return errors.New("research: tool name cannot be empty")
	}
	if strings.ContainsAny(spec.Name, " \t\n") {
		return fmt.Errorf("research: tool name %q cannot contain whitespace", spec.Name)
	}

	var schema *gojsonschema.Schema
	if len(spec.Parameters) > 0 {
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(spec.Parameters))
		if err != nil {
			return fmt.Errorf("research: tool %s schema: %w", spec.Name, err)
		}
		schema = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[spec.Name]; dup {
		return fmt.Errorf("research: duplicate tool %s", spec.Name)
	}
	r.entries[spec.Name] = &entry{spec: spec, tool: tool, schema: schema}
	return nil
}

// Lookup returns the executable tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || e.tool == nil {
		return nil, false
	}
	return e.tool, true
}

// Has reports whether name is in the catalog, executable or not.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Catalog returns every entry's spec sorted by name.
func (r *Registry) Catalog() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.entries))
	for _, e := range r.entries {
		specs = append(specs, e.spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Validate checks the registry against the approval set: every approval
// name must be a catalog action, and every action must be an approval.
func (r *Registry) Validate(approvals ApprovalSet) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var problems []string
	for name := range approvals {
		e, ok := r.entries[name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("approval action %s missing from catalog", name))
		case e.tool != nil:
			problems = append(problems, fmt.Sprintf("approval action %s is registered as executable", name))
		}
	}
	for name, e := range r.entries {
		if e.tool == nil && !approvals.Contains(name) {
			problems = append(problems, fmt.Sprintf("action %s is not in the approval set", name))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("research: invalid tool registry: %s", strings.Join(problems, "; "))
}

// ValidateArgs checks args against the tool's schema.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return &UnknownToolError{Name: name}
	}
	if e.schema == nil {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	return validateAgainst(e.schema, args, "arguments")
}

func validateAgainst(schema *gojsonschema.Schema, doc []byte, field string) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &ValidationError{Field: field, Reason: "not valid JSON", Err: err}
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return &ValidationError{Field: field, Reason: strings.Join(msgs, "; ")}
}
