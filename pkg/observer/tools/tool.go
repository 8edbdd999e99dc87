// Package tools defines the contract for capabilities the completion engine
// may invoke, a registry that dispatches them, and the built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

// RationaleKey is the optional argument in which the engine explains, in a
// few words, why it is calling a tool. It is shown to users as a progress
// note and stripped before the tool runs.
const RationaleKey = "$explain"

// ErrUnknownTool is returned when a call names an unregistered tool.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is one invocable capability.
type Tool interface {
	// Name is the stable identifier the engine calls the tool by.
	Name() string

	// Description tells the engine when to use the tool.
	Description() string

	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any

	// Execute runs the tool. The returned error is reported to the engine
	// as a tool-level failure, not as a failure of the session.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Definition is the engine-facing description of a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Registry holds the tools available to the engine.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the engine-facing definitions, sorted by name, with
// the rationale argument added to every schema.
func (r *Registry) Definitions() []Definition {
	var defs []Definition
	for _, name := range r.Names() {
		t, _ := r.Get(name)
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  withRationale(t.Parameters()),
		})
	}
	return defs
}

// Execute dispatches a call. args is the raw JSON arguments object; the
// rationale argument is removed before the tool sees it.
func (r *Registry) Execute(ctx context.Context, name, args string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	clean, err := stripRationale(args)
	if err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
	}
	return t.Execute(ctx, clean)
}

// Rationale extracts the rationale string from decoded call arguments.
func Rationale(args map[string]any) (string, bool) {
	v, ok := args[RationaleKey].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SchemaFor reflects the JSON schema of an argument struct.
func SchemaFor(v any) map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema
}

// DecodeArgs unmarshals tool arguments into T.
func DecodeArgs[T any](args json.RawMessage) (T, error) {
	var out T
	if len(args) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(args, &out); err != nil {
		return out, fmt.Errorf("parse tool arguments: %w", err)
	}
	return out, nil
}

// JSONResult encodes v as a tool result.
func JSONResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data), nil
}

func withRationale(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+1)
	for k, v := range schema {
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}

	props := map[string]any{}
	if existing, ok := schema["properties"].(map[string]any); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props[RationaleKey] = map[string]any{
		"type":        "string",
		"description": "A few words, in the user's language, describing what you are doing with this call. Shown to the user while the tool runs.",
	}
	out["properties"] = props
	return out
}

func stripRationale(args string) (json.RawMessage, error) {
	if args == "" {
		return json.RawMessage("{}"), nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &m); err != nil {
		return nil, err
	}
	if _, ok := m[RationaleKey]; !ok {
		return json.RawMessage(args), nil
	}
	delete(m, RationaleKey)
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return data, nil
}
