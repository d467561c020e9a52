package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/imitatoes/comfy/comfytest"
	"github.com/pithecene-io/imitatoes/iox"
	"github.com/pithecene-io/imitatoes/types"
)

func TestSubmit_ReturnsPromptID(t *testing.T) {
	srv := comfytest.NewServer(t)
	c, err := New(Config{BaseURL: srv.URL + "/", ClientID: "cid-1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(c)

	id, err := c.Submit(t.Context(), json.RawMessage(`{"3": {"inputs": {"text": "fox"}}}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "job-1" {
		t.Errorf("prompt id = %q, want job-1", id)
	}

	jobs := srv.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].ClientID != "cid-1" {
		t.Errorf("client id = %q", jobs[0].ClientID)
	}
	if !strings.Contains(string(jobs[0].Prompt), `"fox"`) {
		t.Errorf("prompt = %s", jobs[0].Prompt)
	}
}

func TestSubmit_StatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"type": "prompt_outputs_failed_validation"}}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	c, _ := New(Config{BaseURL: ts.URL})
	_, err := c.Submit(t.Context(), json.RawMessage(`{}`))

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusBadRequest || statusErr.Op != "submit" {
		t.Errorf("status error = %+v", statusErr)
	}
	if !strings.Contains(statusErr.Body, "prompt_outputs_failed_validation") {
		t.Errorf("body = %q", statusErr.Body)
	}
}

func TestSubmit_MissingPromptID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"number": 1}`))
	}))
	defer ts.Close()

	c, _ := New(Config{BaseURL: ts.URL})
	if _, err := c.Submit(t.Context(), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing prompt_id")
	}
}

func TestPollCompletion_PendingThenReady(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.Set(func(s *comfytest.Server) { s.PendingPolls = 1 })
	c, _ := New(Config{BaseURL: srv.URL})

	id, err := c.Submit(t.Context(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, ok, err := c.PollCompletion(t.Context(), id)
	if err != nil || ok {
		t.Fatalf("first poll: ok=%v err=%v, want pending", ok, err)
	}

	completion, ok, err := c.PollCompletion(t.Context(), id)
	if err != nil || !ok {
		t.Fatalf("second poll: ok=%v err=%v", ok, err)
	}
	if completion.Status != "success" || !completion.Completed {
		t.Errorf("completion = %+v", completion)
	}
	ref, ok := completion.First()
	if !ok || ref.Filename != "out_00001_.png" || ref.NodeID != "9" {
		t.Errorf("first artifact = %+v, ok=%v", ref, ok)
	}
}

func TestFetchArtifact(t *testing.T) {
	srv := comfytest.NewServer(t)
	c, _ := New(Config{BaseURL: srv.URL})

	data, err := c.FetchArtifact(t.Context(), types.ArtifactRef{Filename: "out_1.png", Subfolder: "a b"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "\x89PNG\r\n\x1a\nfake" {
		t.Errorf("data = %q", data)
	}

	views := srv.Views()
	if len(views) != 1 {
		t.Fatalf("expected 1 view request, got %d", len(views))
	}
	q, _ := url.ParseQuery(views[0])
	if q.Get("filename") != "out_1.png" || q.Get("subfolder") != "a b" || q.Get("type") != "output" {
		t.Errorf("query = %v", q)
	}
}

func TestFetchArtifact_NotFound(t *testing.T) {
	srv := comfytest.NewServer(t)
	c, _ := New(Config{BaseURL: srv.URL})

	_, err := c.FetchArtifact(t.Context(), types.ArtifactRef{Filename: "missing.png", Type: "temp"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Errorf("expected 404 StatusError, got %v", err)
	}
}

func TestWaitCompletion_Websocket(t *testing.T) {
	srv := comfytest.NewServer(t)
	c, err := New(Config{BaseURL: srv.URL, ClientID: "cid-ws", Websocket: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer iox.DiscardClose(c)

	id, err := c.Submit(t.Context(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := c.WaitCompletion(ctx, id); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestWaitCompletion_DeadlineWithoutEvent(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.Set(func(s *comfytest.Server) { s.Never = true })
	c, _ := New(Config{BaseURL: srv.URL, ClientID: "cid-ws", Websocket: true})
	defer iox.DiscardClose(c)

	id, err := c.Submit(t.Context(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if err := c.WaitCompletion(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitCompletion_NotConnected(t *testing.T) {
	c, _ := New(Config{BaseURL: "http://127.0.0.1:1"})
	if err := c.WaitCompletion(t.Context(), "x"); err == nil {
		t.Error("expected error without websocket session")
	}
}

func TestNew_WebsocketRequiresClientID(t *testing.T) {
	if _, err := New(Config{Websocket: true}); err == nil {
		t.Error("expected error for websocket without client id")
	}
}

func TestWSURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://127.0.0.1:8188", "ws://127.0.0.1:8188"},
		{"https://comfy.example", "wss://comfy.example"},
	}
	for _, tt := range tests {
		if got := wsURL(tt.in); got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
