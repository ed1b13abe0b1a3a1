package builtin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MIK-RC/aws-aiops/internal/analysis"
	"github.com/MIK-RC/aws-aiops/internal/integrations"
	"github.com/MIK-RC/aws-aiops/internal/integrations/datadog"
	"github.com/MIK-RC/aws-aiops/internal/integrations/servicenow"
	"github.com/MIK-RC/aws-aiops/internal/tools"
)

type fakeLogs struct {
	logs  []datadog.Log
	err   error
	query datadog.Query
}

func (f *fakeLogs) Fetch(ctx context.Context, q datadog.Query) ([]datadog.Log, error) {
	f.query = q
	return f.logs, f.err
}

func ddLog(service, status, msg string) datadog.Log {
	return datadog.Log{Attributes: datadog.Attributes{
		Timestamp: "2024-05-01T10:00:00Z",
		Status:    status,
		Service:   service,
		Message:   msg,
	}}
}

type fakeTickets struct {
	created  []servicenow.NewIncident
	searched []servicenow.SearchQuery
	updated  map[string]servicenow.IncidentUpdate
}

func (f *fakeTickets) Create(ctx context.Context, in servicenow.NewIncident) (*servicenow.Incident, error) {
	f.created = append(f.created, in)
	return &servicenow.Incident{SysID: "abc", Number: "INC0001"}, nil
}

func (f *fakeTickets) Update(ctx context.Context, id string, u servicenow.IncidentUpdate) (*servicenow.Incident, error) {
	if f.updated == nil {
		f.updated = map[string]servicenow.IncidentUpdate{}
	}
	f.updated[id] = u
	return &servicenow.Incident{SysID: id}, nil
}

func (f *fakeTickets) Get(ctx context.Context, id string) (*servicenow.Incident, error) {
	return &servicenow.Incident{SysID: id, State: "New"}, nil
}

func (f *fakeTickets) Search(ctx context.Context, q servicenow.SearchQuery) ([]servicenow.Incident, error) {
	f.searched = append(f.searched, q)
	return nil, nil
}

type memSink struct {
	puts map[string]string
}

func (s *memSink) Put(ctx context.Context, key, content string) (string, error) {
	if s.puts == nil {
		s.puts = map[string]string{}
	}
	s.puts[key] = content
	return "mem://" + key, nil
}

type fakeNotifier struct {
	events []*integrations.Event
	err    error
}

func (f *fakeNotifier) NotifySync(ctx context.Context, e *integrations.Event) error {
	f.events = append(f.events, e)
	return f.err
}

func TestLogOperations(t *testing.T) {
	src := &fakeLogs{logs: []datadog.Log{
		ddLog("payment-api", "error", "Connection refused"),
		ddLog("auth-svc", "warn", "Timeout calling db"),
		ddLog("payment-api", "error", "Timeout"),
	}}
	reg := tools.MustRegistry(LogOperations(src, LogOptions{})...)
	assert.Equal(t, []string{"query_logs", "list_services", "format_logs"}, reg.Names())

	res := reg.Execute(context.Background(), "query_logs", map[string]interface{}{"time_from": "now-2h", "limit": float64(10)})
	require.True(t, res.Success, res.Error)
	out := res.Result.(map[string]interface{})
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, []string{"auth-svc", "payment-api"}, out["services"])
	assert.Equal(t, "now-2h", src.query.From)
	assert.Equal(t, 10, src.query.Limit)

	res = reg.Execute(context.Background(), "format_logs", map[string]interface{}{"service_name": "payment-api"})
	require.True(t, res.Success)
	lines := strings.Split(res.Result.(string), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "[2024-05-01T10:00:00Z] [ERROR] [payment-api] Connection refused", lines[0])

	res = reg.Execute(context.Background(), "format_logs", map[string]interface{}{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "service_name")
}

func TestLogOperations_FetchError(t *testing.T) {
	reg := tools.MustRegistry(LogOperations(&fakeLogs{err: datadog.ErrNotConfigured}, LogOptions{})...)
	res := reg.Execute(context.Background(), "list_services", nil)
	assert.False(t, res.Success)
	assert.Equal(t, datadog.ErrNotConfigured.Error(), res.Error)
}

func TestAnalysisOperations(t *testing.T) {
	reg := tools.MustRegistry(AnalysisOperations(analysis.New(nil))...)
	ctx := context.Background()

	res := reg.Execute(ctx, "analyze_error_patterns", map[string]interface{}{
		"log_context": "[2024-05-01T10:00:00Z] [ERROR] [payment-api] Connection refused",
	})
	require.True(t, res.Success)
	patterns := res.Result.(analysis.Patterns)
	assert.Equal(t, []string{"ConnectionRefused"}, patterns.ErrorTypes)

	// the model passes patterns back as plain JSON objects
	raw := map[string]interface{}{"error_types": []interface{}{"OutOfMemoryError"}}
	res = reg.Execute(ctx, "assess_severity", map[string]interface{}{"error_patterns": raw})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, analysis.SeverityCritical, res.Result.(analysis.Assessment).Severity)

	res = reg.Execute(ctx, "suggest_code_fix", map[string]interface{}{"error_patterns": raw, "service_name": "api"})
	require.True(t, res.Success)
	suggestions := res.Result.([]analysis.Suggestion)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "api", suggestions[0].Service)

	res = reg.Execute(ctx, "assess_severity", map[string]interface{}{"error_patterns": "not json"})
	assert.False(t, res.Success)
}

func TestTicketOperations(t *testing.T) {
	svc := &fakeTickets{}
	reg := tools.MustRegistry(TicketOperations(svc)...)
	ctx := context.Background()

	res := reg.Execute(ctx, "create_incident", map[string]interface{}{
		"short_description": "[api] Timeout",
		"description":       "details",
		"severity":          "high",
	})
	require.True(t, res.Success)
	require.Len(t, svc.created, 1)
	assert.Equal(t, "high", svc.created[0].Severity)

	res = reg.Execute(ctx, "search_incidents", map[string]interface{}{"query": "[api]", "mode": "knowledge"})
	require.True(t, res.Success)
	assert.Equal(t, servicenow.SearchKnowledge, svc.searched[0].Mode)
	assert.Equal(t, 5, svc.searched[0].Limit)

	res = reg.Execute(ctx, "update_incident", map[string]interface{}{"sys_id": "abc", "work_notes": "seen again"})
	require.True(t, res.Success)
	assert.Equal(t, "seen again", svc.updated["abc"].WorkNotes)

	res = reg.Execute(ctx, "get_incident_status", map[string]interface{}{})
	assert.False(t, res.Success)
}

func TestStorageOperations(t *testing.T) {
	sink := &memSink{}
	fixed := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	reg := tools.MustRegistry(StorageOperations(sink, func() time.Time { return fixed })...)

	res := reg.Execute(context.Background(), "upload_service_report", map[string]interface{}{
		"service_name": "payment-api",
		"content":      "# report",
	})
	require.True(t, res.Success)
	assert.Equal(t, map[string]string{"uri": "mem://payment-api/2024-05-01T10-30-00Z.md"}, res.Result)

	res = reg.Execute(context.Background(), "upload_summary_report", map[string]interface{}{"content": "# summary"})
	require.True(t, res.Success)
	assert.Equal(t, "# summary", sink.puts["summaries/2024-05-01/2024-05-01T10-30-00Z.md"])
}

func TestNotifyOperation(t *testing.T) {
	n := &fakeNotifier{}
	reg := tools.MustRegistry(NotifyOperation(n, "storage"))

	res := reg.Execute(context.Background(), "send_notification", map[string]interface{}{"message": "done"})
	require.True(t, res.Success)
	require.Len(t, n.events, 1)
	assert.Equal(t, "storage", n.events[0].Source)

	n.err = errors.New("webhook down")
	res = reg.Execute(context.Background(), "send_notification", map[string]interface{}{"message": "done"})
	assert.False(t, res.Success)
	assert.Equal(t, "webhook down", res.Error)
}
