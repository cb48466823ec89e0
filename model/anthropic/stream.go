package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/advantch/agentrun/model"
)

// streamer adapts Anthropic's server-sent-event stream into model.Chunks. A
// background goroutine drains the SSE stream and forwards chunks over a
// buffered channel so Recv never blocks on SSE decoding directly.
type streamer struct {
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks chan model.Chunk

	mu       sync.Mutex
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		cancel: cancel,
		stream: stream,
		chunks: make(chan model.Chunk, 32),
	}
	go s.run(cctx)
	return s
}

func (s *streamer) Recv() (model.Chunk, error) {
	chunk, ok := <-s.chunks
	if ok {
		return chunk, nil
	}
	if err := s.err(); err != nil {
		return model.Chunk{}, err
	}
	return model.Chunk{}, io.EOF
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr == nil {
		s.finalErr = err
	}
}

func (s *streamer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

// toolBuffer accumulates a tool_use block's streamed JSON input fragments
// until the block closes, since Anthropic emits the arguments incrementally.
type toolBuffer struct {
	id, name string
	fragments strings.Builder
}

func (s *streamer) run(ctx context.Context) {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	tools := make(map[int]*toolBuffer)

	emit := func(c model.Chunk) bool {
		select {
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return false
		case s.chunks <- c:
			return true
		}
	}

	for s.stream.Next() {
		select {
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		default:
		}
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.MessageStartEvent:
			tools = make(map[int]*toolBuffer)
		case sdk.ContentBlockStartEvent:
			idx := int(ev.Index)
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				tools[idx] = &toolBuffer{id: tu.ID, name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				if !emit(model.Chunk{Type: model.ChunkText, TextDelta: delta.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				if delta.PartialJSON == "" {
					continue
				}
				tb := tools[idx]
				if tb == nil {
					continue
				}
				tb.fragments.WriteString(delta.PartialJSON)
				if !emit(model.Chunk{
					Type: model.ChunkToolCallDelta,
					ToolCallDelta: &model.ToolCallDelta{
						ID:    tb.id,
						Name:  tb.name,
						Delta: delta.PartialJSON,
					},
				}) {
					return
				}
			}
		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			tb := tools[idx]
			if tb == nil {
				continue
			}
			delete(tools, idx)
			args := json.RawMessage(tb.fragments.String())
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			if !emit(model.Chunk{
				Type: model.ChunkToolCall,
				ToolCall: &model.ToolCall{
					ID:        tb.id,
					Name:      tb.name,
					Arguments: args,
				},
			}) {
				return
			}
		case sdk.MessageDeltaEvent:
			if u := ev.Usage; u.OutputTokens != 0 {
				if !emit(model.Chunk{
					Type:  model.ChunkUsage,
					Usage: &model.TokenUsage{OutputTokens: int(u.OutputTokens)},
				}) {
					return
				}
			}
			if ev.Delta.StopReason != "" {
				if !emit(model.Chunk{Type: model.ChunkStop, StopReason: string(ev.Delta.StopReason)}) {
					return
				}
			}
		case sdk.MessageStopEvent:
			return
		}
	}
	if err := s.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.setErr(fmt.Errorf("anthropic stream: %w", err))
	}
}
