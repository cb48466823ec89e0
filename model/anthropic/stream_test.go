package anthropic

import (
	"context"
	"io"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

func TestStreamerRecvEOFOnEmptyStream(t *testing.T) {
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](&noopDecoder{}, nil)
	s := newStreamer(context.Background(), stream)

	if _, err := s.Recv(); err != io.EOF {
		t.Fatalf("expected io.EOF on empty stream, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStreamerCloseStopsDelivery(t *testing.T) {
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](&noopDecoder{}, nil)
	s := newStreamer(context.Background(), stream)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Recv(); err == nil {
		t.Fatal("expected an error or EOF after close")
	}
}
