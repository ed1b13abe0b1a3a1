// Package msteams posts notifications to a Power Automate flow that relays
// them to a Teams channel and a list of recipients.
package msteams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/integrations"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

// Config holds MS Teams integration configuration
type Config struct {
	WebhookURL string
	Recipients []string
	Enabled    bool
}

// SchemaField is one recipient entry the flow reads.
type SchemaField struct {
	Field string `json:"field"`
	Type  string `json:"type"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// Payload is the body the flow expects.
type Payload struct {
	AgentID string        `json:"agent_id"`
	Message string        `json:"message"`
	Schema  []SchemaField `json:"schema"`
}

// Client is an MS Teams notification client
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new MS Teams client
func NewClient(config *Config) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return "msteams"
}

// Enabled returns whether the provider is enabled
func (c *Client) Enabled() bool {
	return c.config.Enabled && c.config.WebhookURL != ""
}

// Send posts the event message with the event source as agent_id.
func (c *Client) Send(ctx context.Context, event *integrations.Event) error {
	if !c.Enabled() {
		return nil
	}

	agentID := event.Source
	if agentID == "" {
		agentID = string(event.Type)
	}

	jsonPayload, err := json.Marshal(c.buildPayload(agentID, event.Message))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.WebhookURL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("msteams webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	logging.Info("msteams", "notification accepted by flow")
	return nil
}

func (c *Client) buildPayload(agentID, message string) Payload {
	schema := make([]SchemaField, 0, len(c.config.Recipients))
	for i, email := range c.config.Recipients {
		schema = append(schema, SchemaField{
			Field: fmt.Sprintf("emailid_%d", i+1),
			Type:  "string",
			Label: "Email Id",
			Value: email,
		})
	}
	return Payload{AgentID: agentID, Message: message, Schema: schema}
}
