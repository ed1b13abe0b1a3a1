// Package datadog queries the Datadog Logs API and renders log records into
// the line format consumed by the analyzer.
package datadog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

const searchPath = "/api/v2/logs/events/search"

var ErrNotConfigured = errors.New("datadog credentials not configured")

// Attributes are the fields of a log record the rest of the system reads.
type Attributes struct {
	Timestamp string                 `json:"timestamp"`
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Message   string                 `json:"message"`
	Host      string                 `json:"host,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	Extra     map[string]interface{} `json:"attributes,omitempty"`
}

// Log is one record from the search endpoint.
type Log struct {
	ID         string     `json:"id"`
	Type       string     `json:"type,omitempty"`
	Attributes Attributes `json:"attributes"`
}

// Query selects logs for a time window. Empty fields fall back to config.
type Query struct {
	From  string
	To    string
	Query string
	Limit int
}

type searchRequest struct {
	Filter searchFilter `json:"filter"`
	Page   searchPage   `json:"page"`
}

type searchFilter struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Query string `json:"query"`
}

type searchPage struct {
	Limit int `json:"limit"`
}

type searchResponse struct {
	Data []Log `json:"data"`
}

// Client talks to one Datadog site.
type Client struct {
	cfg        config.DatadogConfig
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for cfg. An empty site means us5.
func NewClient(cfg config.DatadogConfig) *Client {
	site := cfg.Site
	if site == "" {
		site = "us5"
	}
	if cfg.DefaultQuery == "" {
		cfg.DefaultQuery = "status:(error OR warn)"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.MaxLogsForContext <= 0 {
		cfg.MaxLogsForContext = 30
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 500
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    fmt.Sprintf("https://api.%s.datadoghq.com", site),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithBaseURL points the client at another host. Used by tests and proxies.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimRight(url, "/")
	return c
}

// Fetch runs a log search.
func (c *Client) Fetch(ctx context.Context, q Query) ([]Log, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}
	if q.From == "" {
		q.From = "now-1d"
	}
	if q.To == "" {
		q.To = "now"
	}
	if q.Query == "" {
		q.Query = c.cfg.DefaultQuery
	}
	if q.Limit <= 0 {
		q.Limit = c.cfg.Limit
	}

	body, err := json.Marshal(searchRequest{
		Filter: searchFilter{From: q.From, To: q.To, Query: q.Query},
		Page:   searchPage{Limit: q.Limit},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("DD-API-KEY", c.cfg.APIKey)
	req.Header.Set("DD-APPLICATION-KEY", c.cfg.AppKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logging.Info("datadog", "querying logs query=%q limit=%d from=%s to=%s", q.Query, q.Limit, q.From, q.To)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("datadog API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	logging.Info("datadog", "retrieved %d log entries", len(out.Data))
	return out.Data, nil
}

// Services returns the distinct service names in logs, sorted.
func Services(logs []Log) []string {
	seen := map[string]bool{}
	for _, l := range logs {
		if s := l.Attributes.Service; s != "" {
			seen[s] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GroupByService buckets logs per service. Records without a service are dropped.
func GroupByService(logs []Log) map[string][]Log {
	groups := map[string][]Log{}
	for _, l := range logs {
		if s := l.Attributes.Service; s != "" {
			groups[s] = append(groups[s], l)
		}
	}
	return groups
}

// Format renders logs as "[ts] [STATUS] [service] message" lines, filtered to
// service when it is non-empty and capped at maxLogs (config default when <= 0).
func (c *Client) Format(logs []Log, service string, maxLogs int) string {
	if maxLogs <= 0 {
		maxLogs = c.cfg.MaxLogsForContext
	}
	return FormatLines(logs, service, maxLogs, c.cfg.MaxMessageLength)
}

// FormatLines is Format without a client.
func FormatLines(logs []Log, service string, maxLogs, maxMessage int) string {
	lines := make([]string, 0, maxLogs)
	for _, l := range logs {
		if len(lines) >= maxLogs {
			break
		}
		a := l.Attributes
		if service != "" && a.Service != service {
			continue
		}
		lines = append(lines, formatLine(a, maxMessage))
	}
	return strings.Join(lines, "\n")
}

func formatLine(a Attributes, maxMessage int) string {
	ts := orDefault(a.Timestamp, "N/A")
	status := orDefault(a.Status, "N/A")
	svc := orDefault(a.Service, "unknown")
	msg := orDefault(a.Message, "No message")

	if maxMessage > 0 && len(msg) > maxMessage {
		msg = msg[:maxMessage] + "..."
	}
	msg = strings.TrimSpace(strings.SplitN(msg, "\n", 2)[0])

	return fmt.Sprintf("[%s] [%s] [%s] %s", ts, strings.ToUpper(status), svc, msg)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
