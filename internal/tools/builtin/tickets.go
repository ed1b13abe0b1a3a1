package builtin

import (
	"context"

	"github.com/MIK-RC/aws-aiops/internal/integrations/servicenow"
	"github.com/MIK-RC/aws-aiops/internal/llm"
	"github.com/MIK-RC/aws-aiops/internal/tools"
)

// TicketService is the ticketing backend used by the ticket operations.
type TicketService interface {
	Create(ctx context.Context, in servicenow.NewIncident) (*servicenow.Incident, error)
	Update(ctx context.Context, sysID string, u servicenow.IncidentUpdate) (*servicenow.Incident, error)
	Get(ctx context.Context, sysID string) (*servicenow.Incident, error)
	Search(ctx context.Context, q servicenow.SearchQuery) ([]servicenow.Incident, error)
}

// TicketOperations returns create, update, status and search operations.
func TicketOperations(svc TicketService) []tools.Operation {
	return []tools.Operation{
		{
			Kind:        tools.KindCreateIncident,
			Description: "Create an incident ticket. Search for an active duplicate first.",
			Parameters: llm.JSONSchema{
				Type: "object",
				Properties: map[string]llm.JSONProperty{
					"short_description": {Type: "string", Description: "Ticket title, at most 160 characters"},
					"description":       {Type: "string", Description: "Full markdown description"},
					"severity": {
						Type:        "string",
						Description: "Severity of the issue",
						Enum:        []string{"critical", "high", "medium", "low"},
					},
				},
				Required: []string{"short_description", "description"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				title, err := tools.RequiredString(params, "short_description")
				if err != nil {
					return nil, err
				}
				return svc.Create(ctx, servicenow.NewIncident{
					ShortDescription: title,
					Description:      tools.String(params, "description", ""),
					Severity:         tools.String(params, "severity", "medium"),
				})
			},
		},
		{
			Kind:        tools.KindUpdateIncident,
			Description: "Add work notes to an incident or change its state.",
			Parameters: llm.JSONSchema{
				Type: "object",
				Properties: map[string]llm.JSONProperty{
					"sys_id":      {Type: "string", Description: "Incident sys_id"},
					"work_notes":  {Type: "string", Description: "Notes to append"},
					"state":       {Type: "string", Description: "New state code"},
					"close_notes": {Type: "string", Description: "Resolution notes"},
				},
				Required: []string{"sys_id"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				id, err := tools.RequiredString(params, "sys_id")
				if err != nil {
					return nil, err
				}
				return svc.Update(ctx, id, servicenow.IncidentUpdate{
					WorkNotes:  tools.String(params, "work_notes", ""),
					State:      tools.String(params, "state", ""),
					CloseNotes: tools.String(params, "close_notes", ""),
				})
			},
		},
		{
			Kind:        tools.KindGetIncident,
			Description: "Get the current status of an incident.",
			Parameters: llm.JSONSchema{
				Type: "object",
				Properties: map[string]llm.JSONProperty{
					"sys_id": {Type: "string", Description: "Incident sys_id"},
				},
				Required: []string{"sys_id"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				id, err := tools.RequiredString(params, "sys_id")
				if err != nil {
					return nil, err
				}
				return svc.Get(ctx, id)
			},
		},
		{
			Kind:        tools.KindSearchIncidents,
			Description: "Search incidents. Mode 'knowledge' looks at resolved tickets, 'decision' at active ones.",
			Parameters: llm.JSONSchema{
				Type: "object",
				Properties: map[string]llm.JSONProperty{
					"query": {Type: "string", Description: "Text contained in the ticket title"},
					"mode": {
						Type: "string",
						Enum: []string{string(servicenow.SearchKnowledge), string(servicenow.SearchDecision)},
					},
					"limit": {Type: "integer", Description: "Maximum results"},
				},
				Required: []string{"query"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				text, err := tools.RequiredString(params, "query")
				if err != nil {
					return nil, err
				}
				return svc.Search(ctx, servicenow.SearchQuery{
					Text:  text,
					Mode:  servicenow.SearchMode(tools.String(params, "mode", string(servicenow.SearchDecision))),
					Limit: tools.Int(params, "limit", 5),
				})
			},
		},
	}
}
