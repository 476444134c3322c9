package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestGenerationPayloadRoundTrip(t *testing.T) {
	for _, gen := range []uint64{0, 1, 42, 1<<63 + 5} {
		got, err := decodeGeneration(encodeGeneration(gen))
		if err != nil || got != gen {
			t.Fatalf("decodeGeneration(encode(%d)) = %d, %v", gen, got, err)
		}
	}
	if got, err := decodeGeneration([]byte(" 7\n")); err != nil || got != 7 {
		t.Fatalf("expected whitespace to be trimmed, got %d, %v", got, err)
	}
	if _, err := decodeGeneration([]byte("seven")); err == nil {
		t.Fatalf("expected malformed payload error")
	}
}

func TestClassifyNATSError(t *testing.T) {
	for _, err := range []error{nats.ErrNoServers, nats.ErrTimeout, fmt.Errorf("publish: %w", nats.ErrConnectionClosed)} {
		if !classifyNATSError(err).Retryable {
			t.Fatalf("expected %v to be retryable", err)
		}
	}
	if c := classifyNATSError(context.Canceled); c.Retryable || c.RecordFailure {
		t.Fatalf("expected cancellation to be ignored, got %+v", c)
	}
	if classifyNATSError(errors.New("bad subject")).Retryable {
		t.Fatalf("expected unknown error to be permanent")
	}
}
