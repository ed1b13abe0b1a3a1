// Package builtin provides the operations bound to the specialist
// capabilities. Every constructor takes its collaborator explicitly.
package builtin

import (
	"context"
	"fmt"

	"github.com/MIK-RC/aws-aiops/internal/integrations/datadog"
	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/tools"
)

// LogSource fetches log records for a time window.
type LogSource interface {
	Fetch(ctx context.Context, q datadog.Query) ([]datadog.Log, error)
}

// LogOptions bounds the formatted log context.
type LogOptions struct {
	MaxLogs    int
	MaxMessage int
}

var windowProperties = map[string]llm.JSONProperty{
	"time_from": {Type: "string", Description: "Start of the window, e.g. 'now-1d' or an ISO timestamp"},
	"time_to":   {Type: "string", Description: "End of the window, e.g. 'now'"},
	"query":     {Type: "string", Description: "Log search query, defaults to error and warning logs"},
	"limit":     {Type: "integer", Description: "Maximum number of records to fetch"},
}

func queryFrom(params map[string]interface{}) datadog.Query {
	return datadog.Query{
		From:  tools.String(params, "time_from", ""),
		To:    tools.String(params, "time_to", ""),
		Query: tools.String(params, "query", ""),
		Limit: tools.Int(params, "limit", 0),
	}
}

// LogOperations returns query_logs, list_services and format_logs.
func LogOperations(src LogSource, opts LogOptions) []tools.Operation {
	if opts.MaxLogs <= 0 {
		opts.MaxLogs = 30
	}
	if opts.MaxMessage <= 0 {
		opts.MaxMessage = 500
	}

	return []tools.Operation{
		{
			Kind:        tools.KindQueryLogs,
			Description: "Fetch error and warning logs for a time window. Returns the record count, the affected services and the formatted log lines.",
			Parameters:  llm.JSONSchema{Type: "object", Properties: windowProperties},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				logs, err := src.Fetch(ctx, queryFrom(params))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"count":    len(logs),
					"services": datadog.Services(logs),
					"logs":     datadog.FormatLines(logs, "", opts.MaxLogs, opts.MaxMessage),
				}, nil
			},
		},
		{
			Kind:        tools.KindListServices,
			Description: "List the unique services that emitted error or warning logs in a time window.",
			Parameters:  llm.JSONSchema{Type: "object", Properties: windowProperties},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				logs, err := src.Fetch(ctx, queryFrom(params))
				if err != nil {
					return nil, err
				}
				return datadog.Services(logs), nil
			},
		},
		{
			Kind:        tools.KindFormatLogs,
			Description: "Format the logs of one service as '[timestamp] [STATUS] [service] message' lines for analysis.",
			Parameters: llm.JSONSchema{
				Type: "object",
				Properties: map[string]llm.JSONProperty{
					"service_name": {Type: "string", Description: "Service to format logs for"},
					"time_from":    windowProperties["time_from"],
					"time_to":      windowProperties["time_to"],
					"query":        windowProperties["query"],
					"max_logs":     {Type: "integer", Description: "Maximum number of lines"},
				},
				Required: []string{"service_name"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				service, err := tools.RequiredString(params, "service_name")
				if err != nil {
					return nil, err
				}
				logs, err := src.Fetch(ctx, queryFrom(params))
				if err != nil {
					return nil, err
				}
				formatted := datadog.FormatLines(logs, service, tools.Int(params, "max_logs", opts.MaxLogs), opts.MaxMessage)
				if formatted == "" {
					return fmt.Sprintf("No logs found for service %s", service), nil
				}
				return formatted, nil
			},
		},
	}
}
