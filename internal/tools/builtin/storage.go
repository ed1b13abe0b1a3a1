package builtin

import (
	"context"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/integrations"
	"github.com/MIK-RC/aws-aiops/internal/integrations/storage"
	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/tools"
)

// Notifier delivers an event to every enabled notification provider.
type Notifier interface {
	NotifySync(ctx context.Context, event *integrations.Event) error
}

// StorageOperations returns the report upload operations. now may be nil.
func StorageOperations(sink storage.Sink, now func() time.Time) []tools.Operation {
	if now == nil {
		now = time.Now
	}
	content := llm.JSONProperty{Type: "string", Description: "Markdown report content"}

	return []tools.Operation{
		{
			Kind:        tools.KindUploadReport,
			Description: "Upload the markdown report of one service. Returns the report URI.",
			Parameters: llm.JSONSchema{
				Type: "object",
				Properties: map[string]llm.JSONProperty{
					"service_name": {Type: "string", Description: "Service the report covers"},
					"content":      content,
				},
				Required: []string{"service_name", "content"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				service, err := tools.RequiredString(params, "service_name")
				if err != nil {
					return nil, err
				}
				body, err := tools.RequiredString(params, "content")
				if err != nil {
					return nil, err
				}
				uri, err := sink.Put(ctx, storage.ReportKey(service, now()), body)
				if err != nil {
					return nil, err
				}
				return map[string]string{"uri": uri}, nil
			},
		},
		{
			Kind:        tools.KindUploadSummary,
			Description: "Upload the overall summary report of a run. Returns the report URI.",
			Parameters: llm.JSONSchema{
				Type:       "object",
				Properties: map[string]llm.JSONProperty{"content": content},
				Required:   []string{"content"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				body, err := tools.RequiredString(params, "content")
				if err != nil {
					return nil, err
				}
				uri, err := sink.Put(ctx, storage.SummaryKey(now()), body)
				if err != nil {
					return nil, err
				}
				return map[string]string{"uri": uri}, nil
			},
		},
	}
}

// NotifyOperation sends a message to the configured chat webhooks.
func NotifyOperation(n Notifier, source string) tools.Operation {
	return tools.Operation{
		Kind:        tools.KindNotify,
		Description: "Send a short notification to the operations channels.",
		Parameters: llm.JSONSchema{
			Type: "object",
			Properties: map[string]llm.JSONProperty{
				"title":   {Type: "string", Description: "Notification title"},
				"message": {Type: "string", Description: "Notification body"},
			},
			Required: []string{"message"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			msg, err := tools.RequiredString(params, "message")
			if err != nil {
				return nil, err
			}
			event := &integrations.Event{
				Type:    integrations.EventWorkflowCompleted,
				Source:  source,
				Title:   tools.String(params, "title", ""),
				Message: msg,
			}
			if err := n.NotifySync(ctx, event); err != nil {
				return nil, err
			}
			return "notification sent", nil
		},
	}
}
