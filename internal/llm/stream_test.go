package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name   string
	chunks []StreamChunk
	calls  int
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) Models() []Model     { return []Model{{ID: "m1", Name: "m1"}} }
func (f *fakeProvider) SupportsTools() bool { return true }

func (f *fakeProvider) Chat(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	f.calls++
	ch := make(chan StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func feed(chunks ...StreamChunk) <-chan StreamChunk {
	ch := make(chan StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestCollect(t *testing.T) {
	tests := []struct {
		name      string
		chunks    []StreamChunk
		wantText  string
		wantTools int
		wantErr   error
	}{
		{
			name:     "text deltas are concatenated in order",
			chunks:   []StreamChunk{{Delta: "Hel"}, {Delta: "lo"}, {FinishReason: "stop"}},
			wantText: "Hello",
		},
		{
			name: "tool calls are gathered across chunks",
			chunks: []StreamChunk{
				{Delta: "checking"},
				{ToolCalls: []ToolCall{{ID: "1", Name: "query_logs"}}},
				{ToolCalls: []ToolCall{{ID: "2", Name: "handoff_to_agent"}}},
				{FinishReason: "tool_use"},
			},
			wantText:  "checking",
			wantTools: 2,
		},
		{
			name:    "chunk error aborts",
			chunks:  []StreamChunk{{Delta: "partial"}, {Error: errors.New("connection reset")}},
			wantErr: errors.New("connection reset"),
		},
		{
			name:    "empty stream",
			chunks:  nil,
			wantErr: ErrEmptyStream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Collect(context.Background(), feed(tt.chunks...))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.EqualError(t, err, tt.wantErr.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Len(t, got.ToolCalls, tt.wantTools)
		})
	}
}

func TestCollect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Collect(ctx, make(chan StreamChunk))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_SourceIsRestartable(t *testing.T) {
	m := NewManager()
	p := &fakeProvider{name: "fake", chunks: []StreamChunk{{Delta: "ok"}, {FinishReason: "stop"}}}
	m.RegisterProvider(p)

	source := m.Source("fake")
	for i := 0; i < 2; i++ {
		got, err := Complete(context.Background(), source, &ChatRequest{Model: "m1"})
		require.NoError(t, err)
		assert.Equal(t, "ok", got.Text)
	}
	assert.Equal(t, 2, p.calls)

	_, err := m.Chat(context.Background(), "missing", &ChatRequest{})
	assert.Error(t, err)

	infos := m.ListProviders()
	require.Len(t, infos, 1)
	assert.Equal(t, "fake", infos[0].Name)
}
