package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/integrations"
)

// Slack section text is capped at 3000 characters.
const maxSectionText = 3000

// Config holds Slack integration configuration
type Config struct {
	WebhookURL string
	Enabled    bool
}

// Client is a Slack notification client
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new Slack client
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
	return "slack"
}

// Enabled returns whether the provider is enabled
func (c *Client) Enabled() bool {
	return c.config.Enabled && c.config.WebhookURL != ""
}

// Send sends a notification to Slack
func (c *Client) Send(ctx context.Context, event *integrations.Event) error {
	if !c.Enabled() {
		return nil
	}

	jsonPayload, err := json.Marshal(c.buildPayload(event))
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
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// buildPayload builds the Slack message payload
func (c *Client) buildPayload(event *integrations.Event) map[string]interface{} {
	headerText := c.getHeaderText(event)

	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type":  "plain_text",
				"text":  headerText,
				"emoji": true,
			},
		},
	}

	if event.Source != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "context",
			"elements": []map[string]interface{}{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Source:* %s", event.Source)},
			},
		})
	}

	if event.Message != "" {
		text := event.Message
		if len(text) > maxSectionText {
			text = text[:maxSectionText-3] + "..."
		}
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{"type": "mrkdwn", "text": text},
		})
	}

	if len(event.Data) > 0 {
		keys := make([]string, 0, len(event.Data))
		for k := range event.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := []map[string]interface{}{}
		for _, key := range keys {
			fields = append(fields, map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*%s:*\n%v", key, event.Data[key]),
			})
		}

		blocks = append(blocks, map[string]interface{}{
			"type":   "section",
			"fields": fields,
		})
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "divider",
	})

	return map[string]interface{}{
		"blocks": blocks,
		"text":   headerText, // Fallback text
	}
}

// getHeaderText returns the header text based on event type
func (c *Client) getHeaderText(event *integrations.Event) string {
	if event.Title != "" {
		return event.Title
	}
	switch event.Type {
	case integrations.EventWorkflowCompleted:
		return "AIOps workflow completed"
	case integrations.EventSwarmFailed:
		return "AIOps swarm failed"
	case integrations.EventTicketCreated:
		return "Incident created"
	default:
		return fmt.Sprintf("Event: %s", event.Type)
	}
}
