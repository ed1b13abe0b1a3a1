package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MIK-RC/aws-aiops/internal/llm"
)

// Kind tags an operation. The set is closed: a registry only accepts
// descriptors whose kind is listed here.
type Kind string

const (
	// log retrieval
	KindQueryLogs    Kind = "query_logs"
	KindListServices Kind = "list_services"
	KindFormatLogs   Kind = "format_logs"

	// analysis
	KindAnalyzePatterns Kind = "analyze_error_patterns"
	KindAssessSeverity  Kind = "assess_severity"
	KindSuggestFixes    Kind = "suggest_code_fix"

	// ticketing
	KindCreateIncident  Kind = "create_incident"
	KindUpdateIncident  Kind = "update_incident"
	KindGetIncident     Kind = "get_incident_status"
	KindSearchIncidents Kind = "search_incidents"

	// storage
	KindUploadReport  Kind = "upload_service_report"
	KindUploadSummary Kind = "upload_summary_report"

	// notifications
	KindNotify Kind = "send_notification"
)

var knownKinds = map[Kind]bool{
	KindQueryLogs: true, KindListServices: true, KindFormatLogs: true,
	KindAnalyzePatterns: true, KindAssessSeverity: true, KindSuggestFixes: true,
	KindCreateIncident: true, KindUpdateIncident: true, KindGetIncident: true, KindSearchIncidents: true,
	KindUploadReport: true, KindUploadSummary: true,
	KindNotify: true,
}

// Handler executes an operation.
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Operation describes one callable operation of a capability.
type Operation struct {
	Kind        Kind
	Description string
	Parameters  llm.JSONSchema
	Handler     Handler
}

// Name is the identifier exposed to the reasoning backend.
func (o Operation) Name() string {
	return string(o.Kind)
}

// ToolResult represents the result of an operation
type ToolResult struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// JSON renders the result for a tool_result message.
func (r *ToolResult) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}

var (
	ErrUnknownKind      = errors.New("unknown operation kind")
	ErrDuplicateKind    = errors.New("operation already registered")
	ErrMissingHandler   = errors.New("operation has no handler")
	ErrOperationMissing = errors.New("operation not found")
)

// Registry is an ordered, immutable set of operations.
type Registry struct {
	ops   []Operation
	index map[Kind]int
}

// NewRegistry validates and freezes the given operations in order.
func NewRegistry(ops ...Operation) (*Registry, error) {
	r := &Registry{
		ops:   make([]Operation, 0, len(ops)),
		index: make(map[Kind]int, len(ops)),
	}
	for _, op := range ops {
		if !knownKinds[op.Kind] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKind, op.Kind)
		}
		if _, exists := r.index[op.Kind]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKind, op.Kind)
		}
		if op.Handler == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingHandler, op.Kind)
		}
		r.index[op.Kind] = len(r.ops)
		r.ops = append(r.ops, op)
	}
	return r, nil
}

// MustRegistry panics on an invalid operation set. Used for static rosters.
func MustRegistry(ops ...Operation) *Registry {
	r, err := NewRegistry(ops...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns an operation by name
func (r *Registry) Get(name string) (Operation, bool) {
	if r == nil {
		return Operation{}, false
	}
	i, ok := r.index[Kind(name)]
	if !ok {
		return Operation{}, false
	}
	return r.ops[i], true
}

// List returns the operations in registration order
func (r *Registry) List() []Operation {
	if r == nil {
		return nil
	}
	out := make([]Operation, len(r.ops))
	copy(out, r.ops)
	return out
}

// Names returns the operation names in registration order
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.ops))
	for i, op := range r.ops {
		names[i] = op.Name()
	}
	return names
}

// Len returns the number of operations.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ops)
}

// ToLLMTools converts all operations to tool definitions
func (r *Registry) ToLLMTools() []llm.ToolDefinition {
	if r == nil {
		return nil
	}
	defs := make([]llm.ToolDefinition, 0, len(r.ops))
	for _, op := range r.ops {
		defs = append(defs, llm.ToolDefinition{
			Name:        op.Name(),
			Description: op.Description,
			Parameters:  op.Parameters,
		})
	}
	return defs
}

// Execute runs an operation by name. Failures are reported in the result,
// never as a Go error, so callers can feed them back to the reasoning backend.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) *ToolResult {
	op, ok := r.Get(name)
	if !ok {
		return &ToolResult{
			Success: false,
			Error:   fmt.Sprintf("%s: %s", ErrOperationMissing, name),
		}
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := op.Handler(ctx, params)
	if err != nil {
		return &ToolResult{
			Success: false,
			Error:   err.Error(),
		}
	}

	return &ToolResult{
		Success: true,
		Result:  result,
	}
}
