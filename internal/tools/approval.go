package tools

import (
	"strings"
)

// ApprovalPolicy decides which operations may run without a reasoning
// capability in the loop, e.g. when called from an external MCP client.
type ApprovalPolicy struct {
	// AllowWrites approves operations that change external state
	// (tickets, uploads, notifications).
	AllowWrites bool `yaml:"allow_writes"`

	// Trusted lists operation names approved regardless of AllowWrites.
	// A trailing "*" matches by prefix.
	Trusted []string `yaml:"trusted"`
}

// DefaultApprovalPolicy approves read-only operations only.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{}
}

// readOnlyKinds never change state outside the process.
var readOnlyKinds = map[Kind]bool{
	KindQueryLogs:       true,
	KindListServices:    true,
	KindFormatLogs:      true,
	KindAnalyzePatterns: true,
	KindAssessSeverity:  true,
	KindSuggestFixes:    true,
	KindGetIncident:     true,
	KindSearchIncidents: true,
}

// ReadOnly reports whether kind is free of side effects.
func ReadOnly(kind Kind) bool {
	return readOnlyKinds[kind]
}

// Allows reports whether the named operation is approved.
func (p ApprovalPolicy) Allows(name string) bool {
	for _, trusted := range p.Trusted {
		if strings.HasSuffix(trusted, "*") {
			if strings.HasPrefix(name, strings.TrimSuffix(trusted, "*")) {
				return true
			}
			continue
		}
		if trusted == name {
			return true
		}
	}

	if ReadOnly(Kind(name)) {
		return true
	}
	return p.AllowWrites && knownKinds[Kind(name)]
}

// Filter returns the approved operations of r, in registration order.
func (p ApprovalPolicy) Filter(r *Registry) []Operation {
	var out []Operation
	for _, op := range r.List() {
		if p.Allows(op.Name()) {
			out = append(out, op)
		}
	}
	return out
}
