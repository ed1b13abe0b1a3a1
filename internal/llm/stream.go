package llm

import (
	"context"
	"errors"
	"strings"
)

var ErrEmptyStream = errors.New("stream closed without a finish reason or content")

// ChunkSource opens a fresh response stream for a request. A stream is finite
// and cannot be resumed; retrying means calling the source again.
type ChunkSource func(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

// Completion is a fully assembled response.
type Completion struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

// Collect drains a stream into a Completion. The first chunk error aborts
// collection and is returned as is. Cancellation of ctx returns ctx.Err().
func Collect(ctx context.Context, chunks <-chan StreamChunk) (*Completion, error) {
	var (
		text strings.Builder
		out  Completion
		seen bool
	)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				if !seen {
					return nil, ErrEmptyStream
				}
				out.Text = text.String()
				return &out, nil
			}
			seen = true
			if chunk.Error != nil {
				return nil, chunk.Error
			}
			text.WriteString(chunk.Delta)
			out.ToolCalls = append(out.ToolCalls, chunk.ToolCalls...)
			if chunk.FinishReason != "" {
				out.FinishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				out.Usage = chunk.Usage
			}
		}
	}
}

// Complete opens a stream from source and collects it.
func Complete(ctx context.Context, source ChunkSource, req *ChatRequest) (*Completion, error) {
	chunks, err := source(ctx, req)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, chunks)
}
