// Package servicenow manages incidents through the ServiceNow Table API.
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MIK-RC/aws-aiops/internal/config"
	"github.com/MIK-RC/aws-aiops/pkg/logging"
)

const (
	incidentPath        = "/api/now/table/incident"
	maxShortDescription = 160
	defaultCategory     = "LLM-Assisted Resolution"
)

var (
	ErrNotConfigured = errors.New("servicenow instance not configured")
	ErrNoUpdates     = errors.New("no updates provided")
)

// SearchMode selects the default state filter of a search.
type SearchMode string

const (
	// SearchKnowledge looks at resolved and closed incidents.
	SearchKnowledge SearchMode = "knowledge"
	// SearchDecision looks at active incidents, for duplicate prevention.
	SearchDecision SearchMode = "decision"
)

// Incident is the simplified view returned by every call.
type Incident struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	State            string `json:"state"`
	Priority         string `json:"priority"`
	ShortDescription string `json:"short_description"`
	AssignedTo       string `json:"assigned_to"`
	CreatedOn        string `json:"created_on,omitempty"`
	UpdatedOn        string `json:"updated_on,omitempty"`
}

// NewIncident is the input of Create.
type NewIncident struct {
	ShortDescription string
	Description      string
	Severity         string
	Category         string
	AssignmentGroup  string
	Extra            map[string]interface{}
}

// IncidentUpdate is the input of Update. Empty fields are not sent.
type IncidentUpdate struct {
	WorkNotes  string
	State      string
	CloseNotes string
	Extra      map[string]interface{}
}

// SearchQuery is the input of Search.
type SearchQuery struct {
	Text    string
	Service string
	State   string
	Limit   int
	Mode    SearchMode
}

// reference decodes fields that come back either as a plain string or as
// {"display_value": ..., "link": ...}.
type reference string

func (r *reference) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = reference(s)
		return nil
	}
	var obj struct {
		DisplayValue string `json:"display_value"`
		Value        string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.DisplayValue != "" {
		*r = reference(obj.DisplayValue)
	} else {
		*r = reference(obj.Value)
	}
	return nil
}

type record struct {
	SysID            string    `json:"sys_id"`
	Number           string    `json:"number"`
	State            reference `json:"state"`
	Priority         reference `json:"priority"`
	ShortDescription string    `json:"short_description"`
	AssignedTo       reference `json:"assigned_to"`
	CreatedOn        string    `json:"sys_created_on"`
	UpdatedOn        string    `json:"sys_updated_on"`
}

func (r record) incident() *Incident {
	assigned := string(r.AssignedTo)
	if assigned == "" {
		assigned = "Unassigned"
	}
	return &Incident{
		SysID:            r.SysID,
		Number:           r.Number,
		State:            string(r.State),
		Priority:         string(r.Priority),
		ShortDescription: r.ShortDescription,
		AssignedTo:       assigned,
		CreatedOn:        r.CreatedOn,
		UpdatedOn:        r.UpdatedOn,
	}
}

// Client is a ServiceNow incident client using basic auth.
type Client struct {
	cfg        config.ServiceNowConfig
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client. The instance may be a host name or a full URL.
func NewClient(cfg config.ServiceNowConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.Category == "" {
		cfg.Category = defaultCategory
	}
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL(cfg.Instance),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func baseURL(instance string) string {
	if instance == "" {
		return ""
	}
	if strings.HasPrefix(instance, "http") {
		return strings.TrimRight(instance, "/")
	}
	return "https://" + instance
}

// Create opens a new incident. Severity maps to impact and urgency.
func (c *Client) Create(ctx context.Context, in NewIncident) (*Incident, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	severity := in.Severity
	if severity == "" {
		severity = "medium"
	}
	prio := c.cfg.Priority(severity)

	payload := map[string]interface{}{
		"short_description": truncateRunes(in.ShortDescription, maxShortDescription),
		"description":       in.Description,
		"impact":            prio.Impact,
		"urgency":           prio.Urgency,
		"category":          firstNonEmpty(in.Category, c.cfg.Category),
	}
	if group := firstNonEmpty(in.AssignmentGroup, c.cfg.AssignmentGroup); group != "" {
		payload["assignment_group"] = group
	}
	for k, v := range in.Extra {
		payload[k] = v
	}

	logging.Info("servicenow", "creating incident: %s", logging.Truncate(in.ShortDescription, 50))

	var rec record
	if err := c.do(ctx, http.MethodPost, c.baseURL+incidentPath, payload, &rec); err != nil {
		return nil, err
	}
	inc := rec.incident()
	logging.Info("servicenow", "created incident %s (sys_id %s)", inc.Number, inc.SysID)
	return inc, nil
}

// Update patches an incident. Close notes map to close_notes.
func (c *Client) Update(ctx context.Context, sysID string, u IncidentUpdate) (*Incident, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	payload := map[string]interface{}{}
	if u.WorkNotes != "" {
		payload["work_notes"] = u.WorkNotes
	}
	if u.State != "" {
		payload["state"] = u.State
	}
	if u.CloseNotes != "" {
		payload["close_notes"] = u.CloseNotes
	}
	for k, v := range u.Extra {
		payload[k] = v
	}
	if len(payload) == 0 {
		return nil, ErrNoUpdates
	}

	logging.Info("servicenow", "updating incident %s", sysID)

	var rec record
	if err := c.do(ctx, http.MethodPatch, c.baseURL+incidentPath+"/"+url.PathEscape(sysID), payload, &rec); err != nil {
		return nil, err
	}
	return rec.incident(), nil
}

// Get fetches one incident.
func (c *Client) Get(ctx context.Context, sysID string) (*Incident, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	var rec record
	if err := c.do(ctx, http.MethodGet, c.baseURL+incidentPath+"/"+url.PathEscape(sysID), nil, &rec); err != nil {
		return nil, err
	}
	return rec.incident(), nil
}

// Search lists incidents matching q. An explicit State overrides the mode filter.
func (c *Client) Search(ctx context.Context, q SearchQuery) ([]Incident, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if q.Limit <= 0 {
		q.Limit = 5
	}

	params := url.Values{}
	params.Set("sysparm_query", BuildQuery(q))
	params.Set("sysparm_limit", strconv.Itoa(q.Limit))
	params.Set("sysparm_display_value", "true")

	logging.Debug("servicenow", "searching incidents mode=%s query=%q", q.Mode, logging.Truncate(q.Text, 100))

	var recs []record
	if err := c.do(ctx, http.MethodGet, c.baseURL+incidentPath+"?"+params.Encode(), nil, &recs); err != nil {
		return nil, err
	}

	out := make([]Incident, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r.incident())
	}
	return out, nil
}

// BuildQuery renders the sysparm_query encoded query for q.
func BuildQuery(q SearchQuery) string {
	var filters []string
	if q.Text != "" {
		filters = append(filters, "short_descriptionLIKE"+q.Text)
	}
	if q.Service != "" {
		filters = append(filters, "category="+q.Service)
	}
	switch {
	case q.State != "":
		filters = append(filters, "state="+q.State)
	case q.Mode == SearchKnowledge:
		filters = append(filters, "stateIN6,7")
	case q.Mode == SearchDecision:
		filters = append(filters, "stateIN1,2,3,4,5")
	}
	return strings.Join(filters, "^")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("servicenow API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
