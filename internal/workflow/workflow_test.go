package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MIK-RC/aws-aiops/internal/integrations"
	"github.com/MIK-RC/aws-aiops/internal/integrations/datadog"
	"github.com/MIK-RC/aws-aiops/internal/integrations/servicenow"
	"github.com/MIK-RC/aws-aiops/internal/llm"
)

func logLine(service, status, message string) datadog.Log {
	return datadog.Log{
		ID: service + "-" + status,
		Attributes: datadog.Attributes{
			Timestamp: "2026-03-01T10:00:00Z",
			Status:    status,
			Service:   service,
			Message:   message,
		},
	}
}

// sampleLogs covers three services: payment-api is critical, search-api
// medium and cache low.
func sampleLogs() []datadog.Log {
	return []datadog.Log{
		logLine("payment-api", "error", "SQLException: database error while writing order"),
		logLine("search-api", "error", "request rejected: Invalid query syntax"),
		logLine("cache", "warn", "warmup finished slowly"),
		logLine("payment-api", "error", "SQLException: database error while reading order"),
	}
}

type fakeLogs struct {
	mu      sync.Mutex
	logs    []datadog.Log
	err     error
	queries []datadog.Query
}

func (f *fakeLogs) Fetch(ctx context.Context, q datadog.Query) ([]datadog.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.logs, f.err
}

type fakeTickets struct {
	mu        sync.Mutex
	known     map[string][]servicenow.Incident
	active    map[string][]servicenow.Incident
	searchErr error
	createErr error
	okCreates int
	created   []servicenow.NewIncident
	searches  []servicenow.SearchQuery
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{
		known:     map[string][]servicenow.Incident{},
		active:    map[string][]servicenow.Incident{},
		okCreates: -1,
	}
}

func (f *fakeTickets) Create(ctx context.Context, in servicenow.NewIncident) (*servicenow.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil && f.okCreates >= 0 && len(f.created) >= f.okCreates {
		return nil, f.createErr
	}
	f.created = append(f.created, in)
	n := fmt.Sprintf("INC%04d", len(f.created))
	return &servicenow.Incident{SysID: "sys-" + n, Number: n, ShortDescription: in.ShortDescription}, nil
}

func (f *fakeTickets) Update(ctx context.Context, id string, u servicenow.IncidentUpdate) (*servicenow.Incident, error) {
	return &servicenow.Incident{SysID: id}, nil
}

func (f *fakeTickets) Get(ctx context.Context, id string) (*servicenow.Incident, error) {
	return &servicenow.Incident{SysID: id}, nil
}

func (f *fakeTickets) Search(ctx context.Context, q servicenow.SearchQuery) ([]servicenow.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, q)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	svc := strings.Trim(q.Text, "[]")
	if q.Mode == servicenow.SearchKnowledge {
		return f.known[svc], nil
	}
	return f.active[svc], nil
}

func (f *fakeTickets) searchesIn(mode servicenow.SearchMode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.searches {
		if q.Mode == mode {
			n++
		}
	}
	return n
}

type memSink struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func newMemSink() *memSink { return &memSink{objects: map[string]string{}} }

func (s *memSink) Put(ctx context.Context, key, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.objects[key] = content
	return "mem://" + key, nil
}

func (s *memSink) keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []*integrations.Event
}

func (n *fakeNotifier) NotifySync(ctx context.Context, ev *integrations.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) types() []integrations.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]integrations.EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

// scriptedSource answers every request with the next reply, repeating the
// last one. It is safe for concurrent use.
type scriptedSource struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.ChatRequest
}

func (s *scriptedSource) source() llm.ChunkSource {
	return func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		s.mu.Lock()
		s.requests = append(s.requests, *req)
		i := len(s.requests) - 1
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if i >= len(s.replies) {
			i = len(s.replies) - 1
		}
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{Delta: s.replies[i], FinishReason: "stop"}
		close(ch)
		return ch, nil
	}
}
