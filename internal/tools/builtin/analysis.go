package builtin

import (
	"context"
	"fmt"

	"github.com/MIK-RC/aws-aiops/internal/analysis"
	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/tools"
)

var patternsProperty = llm.JSONProperty{
	Type:        "object",
	Description: "Error patterns as returned by analyze_error_patterns",
}

func decodePatterns(params map[string]interface{}) (analysis.Patterns, error) {
	var p analysis.Patterns
	if err := tools.Decode(params, "error_patterns", &p); err != nil {
		return p, fmt.Errorf("invalid error_patterns: %w", err)
	}
	return p, nil
}

// AnalysisOperations returns the pattern, severity and fix operations.
func AnalysisOperations(a *analysis.Analyzer) []tools.Operation {
	return []tools.Operation{
		{
			Kind:        tools.KindAnalyzePatterns,
			Description: "Identify error types, affected services, stack traces, recurring issues and potential causes in formatted log lines.",
			Parameters: llm.JSONSchema{
				Type: "object",
				Properties: map[string]llm.JSONProperty{
					"log_context": {Type: "string", Description: "Formatted log lines"},
				},
				Required: []string{"log_context"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				logContext, err := tools.RequiredString(params, "log_context")
				if err != nil {
					return nil, err
				}
				return a.Analyze(logContext), nil
			},
		},
		{
			Kind:        tools.KindAssessSeverity,
			Description: "Assess the severity (critical, high, medium, low) of a set of error patterns.",
			Parameters: llm.JSONSchema{
				Type:       "object",
				Properties: map[string]llm.JSONProperty{"error_patterns": patternsProperty},
				Required:   []string{"error_patterns"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				p, err := decodePatterns(params)
				if err != nil {
					return nil, err
				}
				return a.Assess(p), nil
			},
		},
		{
			Kind:        tools.KindSuggestFixes,
			Description: "Suggest code fixes for the detected error types of a service.",
			Parameters: llm.JSONSchema{
				Type: "object",
				Properties: map[string]llm.JSONProperty{
					"error_patterns": patternsProperty,
					"service_name":   {Type: "string", Description: "Service the patterns belong to"},
				},
				Required: []string{"error_patterns"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				p, err := decodePatterns(params)
				if err != nil {
					return nil, err
				}
				return a.SuggestFixes(p, tools.String(params, "service_name", "")), nil
			},
		},
	}
}
