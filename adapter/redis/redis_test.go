package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pithecene-io/imitatoes/adapter"
)

func testEvent() *adapter.LoopCompletedEvent {
	return &adapter.LoopCompletedEvent{
		Version:     "0.2.0",
		EventType:   adapter.EventTypeLoopCompleted,
		RunID:       "run-001",
		Workflow:    "workflows/txt2img.json",
		Outcome:     "budget_exhausted",
		Iterations:  3,
		Loop:        3,
		Iteration:   1,
		StoragePath: "s3://bucket/runs",
		Timestamp:   "2026-10-15T12:00:00Z",
		DurationMs:  90000,
	}
}

// subscribe reads one message in the background; miniredis delivers
// synchronously, so the reader must exist before Publish.
func subscribe(t *testing.T, mr *miniredis.Miniredis, channel string) <-chan miniredis.PubsubMessage {
	t.Helper()
	sub := mr.NewSubscriber()
	t.Cleanup(sub.Close)
	sub.Subscribe(channel)
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() { ch <- <-sub.Messages() }()
	return ch
}

func receive(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func TestPublish_DefaultChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	ch := subscribe(t, mr, DefaultChannel)
	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := receive(t, ch)
	if msg.Channel != DefaultChannel {
		t.Errorf("channel = %q", msg.Channel)
	}
	var received adapter.LoopCompletedEvent
	if err := json.Unmarshal([]byte(msg.Message), &received); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if received.RunID != "run-001" || received.Outcome != "budget_exhausted" || received.Iterations != 3 {
		t.Errorf("received = %+v", received)
	}
}

func TestPublish_CustomChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Channel: "renders:done", Retries: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	ch := subscribe(t, mr, "renders:done")
	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if msg := receive(t, ch); msg.Channel != "renders:done" {
		t.Errorf("channel = %q", msg.Channel)
	}
}

func TestPublish_Unreachable(t *testing.T) {
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 1, Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	a, err := New(Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestPublish_AfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	start := time.Now()
	if err := a.Publish(t.Context(), testEvent()); err == nil {
		t.Fatal("expected error after close")
	}
	if time.Since(start) > adapter.BaseBackoff {
		t.Error("closed client should not be retried")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{}},
		{"invalid url", Config{URL: "not-a-redis-url"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_DefaultsApplied(t *testing.T) {
	a, err := New(Config{URL: "redis://localhost:6379"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.config.Channel != DefaultChannel || a.config.Timeout != DefaultTimeout {
		t.Errorf("defaults = %+v", a.config)
	}
}
