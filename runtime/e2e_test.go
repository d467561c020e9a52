package runtime

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/imitatoes/comfy"
	"github.com/pithecene-io/imitatoes/comfy/comfytest"
	"github.com/pithecene-io/imitatoes/critique"
	"github.com/pithecene-io/imitatoes/iox"
	"github.com/pithecene-io/imitatoes/lode"
	"github.com/pithecene-io/imitatoes/log"
	"github.com/pithecene-io/imitatoes/types"
)

type staticCritic struct{ reply string }

func (c staticCritic) Critique(context.Context, critique.Request) (string, error) { return c.reply, nil }
func (c staticCritic) Name() string                                               { return "static" }

func runAgainstFakeComfy(t *testing.T, websocket bool) (string, *comfytest.Server) {
	t.Helper()
	srv := comfytest.NewServer(t)
	srv.Set(func(s *comfytest.Server) { s.PendingPolls = 1 })

	client, err := comfy.New(comfy.Config{BaseURL: srv.URL, ClientID: "e2e-client", Websocket: websocket})
	if err != nil {
		t.Fatalf("comfy client: %v", err)
	}
	defer iox.DiscardClose(client)

	dir := t.TempDir()
	store, err := lode.NewFSStore(dir)
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	tmpl, err := comfy.ParseWorkflow([]byte(testWorkflow))
	if err != nil {
		t.Fatalf("parse workflow: %v", err)
	}

	mode := WaitPoll
	if websocket {
		mode = WaitWebsocket
	}
	meta := &types.RunMeta{RunID: "run-e2e", Workflow: "workflow.json"}
	o, err := NewLoopOrchestrator(&LoopConfig{
		RunMeta:           meta,
		Template:          tmpl,
		Initial:           types.LoopState{Prompt: "lighthouse at dusk"},
		IterationsPerLoop: 1,
		MaxLoops:          1,
		PollInterval:      10 * time.Millisecond,
		PollTimeout:       5 * time.Second,
		WaitMode:          mode,
		Generator:         client,
		Critic:            staticCritic{reply: `{"done": true, "reason": "[DONE]"}`},
		Store:             store,
		Logger:            log.NewLoggerWithWriter(meta, &bytes.Buffer{}),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	result, err := o.Execute(t.Context())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Outcome != types.OutcomeDone {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	return dir, srv
}

func TestE2E_FakeComfyPolling(t *testing.T) {
	dir, srv := runAgainstFakeComfy(t, false)

	for _, name := range []string{"loop_01_iter_01.png", "loop_01_iter_01.json", "loop_01_iter_01.msgpack"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	img, err := os.ReadFile(filepath.Join(dir, "loop_01_iter_01.png"))
	if err != nil || !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Errorf("image = %q, %v", img, err)
	}

	jobs := srv.Jobs()
	if len(jobs) != 1 || !strings.Contains(string(jobs[0].Prompt), "lighthouse at dusk") {
		t.Errorf("jobs = %+v", jobs)
	}
	if views := srv.Views(); len(views) != 1 || !strings.Contains(views[0], "filename=out_00001_.png") {
		t.Errorf("views = %v", views)
	}
}

func TestE2E_FakeComfyWebsocket(t *testing.T) {
	dir, _ := runAgainstFakeComfy(t, true)

	if _, err := os.Stat(filepath.Join(dir, "loop_01_iter_01.png")); err != nil {
		t.Errorf("expected image: %v", err)
	}
}
