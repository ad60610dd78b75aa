// Package provider hides upstream agent wire-protocol differences behind one
// canonical update stream. Each upstream speaks a slightly different
// JSON-RPC dialect over stdio; an Adapter normalises its raw "session/update"
// notifications into canonical.Update values.
package provider

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/subluminal-labs/acpcore/canonical"
)

// Behavior describes the two wire shapes an upstream dialect may use.
type Behavior struct {
	// DeferredInput is true when this provider announces a tool call before
	// its arguments are known (arguments arrive in a later
	// tool_call_update). False means arguments are always complete on the
	// first tool_call notification.
	DeferredInput bool
	// Streaming is true when assistant messages/thoughts arrive as a
	// sequence of chunks rather than one complete notification.
	Streaming bool
}

// Adapter normalises one provider's raw wire notifications into canonical
// updates. Implementations are total functions: malformed input returns a
// nil slice and a nil error, never a panic.
type Adapter interface {
	// Behavior reports this adapter's input-timing and streaming shape.
	Behavior() Behavior
	// Normalize converts one raw wire notification into zero, one, or
	// several canonical updates. A nil, empty result means the message
	// should be dropped.
	Normalize(sessionID string, raw json.RawMessage) ([]canonical.Update, error)
}

// DeferredInputHandler is implemented by adapters whose Behavior().DeferredInput
// is true. No package in acpcore calls HandleDeferredInput; trace.Recorder
// merges tool_call_update input into its pending tool calls on its own.
type DeferredInputHandler interface {
	// HandleDeferredInput returns update's tool-call payload when update
	// (already normalised) is a tool_call_update for toolCallID or carries
	// no tool call ID, and nil otherwise. It does not check whether the
	// payload carries new input.
	HandleDeferredInput(toolCallID string, update canonical.Update) *canonical.ToolCallPayload
}

// Registry resolves a provider identifier to a memoised Adapter instance,
// collapsing known synonyms and falling back to a generic adapter for
// unknown identifiers.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	schema   *jsonschema.Schema
}

// NewRegistry constructs a Registry pre-populated with the built-in Claude
// and generic adapters, and compiles the wire-envelope validation schema
// once.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	r.Register("claude", NewClaude())
	r.Register("generic", NewGeneric())
	r.schema = compileEnvelopeSchema()
	return r
}

// Register installs adapter under identifier, memoised process-wide. Later
// calls with the same identifier replace the prior adapter, and the
// replacement is used by every later Normalize call, including those for
// existing sessions (adapters are looked up per call, not cached per session).
func (r *Registry) Register(identifier string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[NormalizeIdentifier(identifier)] = adapter
}

// Resolve returns the Adapter for a raw provider identifier, normalising
// synonyms and falling back to the generic adapter for anything unknown.
func (r *Registry) Resolve(identifier string) Adapter {
	norm := NormalizeIdentifier(identifier)
	r.mu.RLock()
	a, ok := r.adapters[norm]
	r.mu.RUnlock()
	if ok {
		return a
	}
	r.mu.RLock()
	fallback := r.adapters["generic"]
	r.mu.RUnlock()
	return fallback
}

// Normalize validates raw against the wire-envelope schema and, if it
// passes, resolves the provider adapter and normalises it. Schema failures
// and adapter failures both surface as a nil slice; malformed input never
// causes a panic or a propagated error.
func (r *Registry) Normalize(identifier, sessionID string, raw json.RawMessage) []canonical.Update {
	if !r.validEnvelope(raw) {
		return nil
	}
	adapter := r.Resolve(identifier)
	updates, err := adapter.Normalize(sessionID, raw)
	if err != nil {
		return nil
	}
	return updates
}

func (r *Registry) validEnvelope(raw json.RawMessage) bool {
	if r.schema == nil {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return r.schema.Validate(v) == nil
}

// synonyms collapses known aliases for the same upstream agent binary onto
// one canonical identifier.
var synonyms = map[string]string{
	"claude":      "claude",
	"claude-code": "claude",
	"claudecode":  "claude",
}

// NormalizeIdentifier lower-cases identifier and collapses known synonyms.
func NormalizeIdentifier(identifier string) string {
	norm := strings.ToLower(strings.TrimSpace(identifier))
	if canon, ok := synonyms[norm]; ok {
		return canon
	}
	return norm
}

// envelopeSchemaJSON is a minimal JSON Schema for the wire envelope: a
// JSON-RPC 2.0 "session/update" notification. It deliberately only checks
// the shape the normaliser depends on (object, params.update present);
// which discriminator key the update object carries ("sessionUpdate" for
// Claude's dialect, "type" for the generic one) is left to each adapter.
const envelopeSchemaJSON = `{
  "type": "object",
  "required": ["params"],
  "properties": {
    "params": {
      "type": "object",
      "required": ["update"],
      "properties": {
        "update": {
          "type": "object"
        }
      }
    }
  }
}`

func compileEnvelopeSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal([]byte(envelopeSchemaJSON), &doc); err != nil {
		return nil
	}
	const resourceID = "acpcore://session-update-envelope.json"
	if err := compiler.AddResource(resourceID, doc); err != nil {
		return nil
	}
	schema, err := compiler.Compile(resourceID)
	if err != nil {
		return nil
	}
	return schema
}
