// Package comfytest provides an in-process fake ComfyUI server for tests.
package comfytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// DefaultOutputs references one image from node "9".
const DefaultOutputs = `{"9": {"images": [{"filename": "out_00001_.png", "subfolder": "", "type": "output"}]}}`

// Job is one submission received by the fake.
type Job struct {
	ID       string
	ClientID string
	Prompt   json.RawMessage
}

// Server fakes /prompt, /history/{id}, /view and /ws.
type Server struct {
	URL string

	mu sync.Mutex
	// PendingPolls is how many history reads report each job absent.
	PendingPolls int
	// Never keeps every job out of the history index.
	Never bool
	// Outputs is the raw outputs object reported for completed jobs.
	Outputs string
	// Status is reported as status.status_str.
	Status string
	// Image is served by /view.
	Image []byte

	jobs     []Job
	polls    map[string]int
	views    []string
	conns    map[string]*websocket.Conn
	upgrader websocket.Upgrader
	srv      *httptest.Server
}

// NewServer starts a fake registered for cleanup on t.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		Outputs: DefaultOutputs,
		Status:  "success",
		Image:   []byte("\x89PNG\r\n\x1a\nfake"),
		polls:   map[string]int{},
		conns:   map[string]*websocket.Conn{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", s.handlePrompt)
	mux.HandleFunc("GET /history/{id}", s.handleHistory)
	mux.HandleFunc("GET /view", s.handleView)
	mux.HandleFunc("GET /ws", s.handleWS)
	s.srv = httptest.NewServer(mux)
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

// Close shuts the server and any websocket connections down.
func (s *Server) Close() {
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = map[string]*websocket.Conn{}
	s.mu.Unlock()
	s.srv.Close()
}

// Set mutates configuration under the server lock.
func (s *Server) Set(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Jobs returns a copy of all submissions so far.
func (s *Server) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

// Views returns the raw query strings of /view requests.
func (s *Server) Views() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.views...)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt   json.RawMessage `json:"prompt"`
		ClientID string          `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Prompt) == 0 {
		http.Error(w, `{"error": "invalid prompt"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	id := fmt.Sprintf("job-%d", len(s.jobs)+1)
	s.jobs = append(s.jobs, Job{ID: id, ClientID: body.ClientID, Prompt: body.Prompt})
	conn := s.conns[body.ClientID]
	never := s.Never
	s.mu.Unlock()

	if conn != nil && !never {
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 0, 1})
		_ = conn.WriteJSON(map[string]any{"type": "executing", "data": map[string]any{"node": "3", "prompt_id": id}})
		_ = conn.WriteJSON(map[string]any{"type": "executing", "data": map[string]any{"node": nil, "prompt_id": id}})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": id, "number": len(s.Jobs()), "node_errors": map[string]any{}})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	s.polls[id]++
	ready := !s.Never && s.polls[id] > s.PendingPolls && s.known(id)
	outputs, status := s.Outputs, s.Status
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		_, _ = w.Write([]byte(`{}`))
		return
	}
	_, _ = fmt.Fprintf(w, `{%q: {"prompt": [], "outputs": %s, "status": {"status_str": %q, "completed": true, "messages": []}}}`,
		id, outputs, status)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.views = append(s.views, r.URL.RawQuery)
	img := s.Image
	s.mu.Unlock()

	if !strings.HasPrefix(r.URL.Query().Get("filename"), "out_") {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(img)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	clientID := r.URL.Query().Get("clientId")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[clientID] = conn
	_ = conn.WriteJSON(map[string]any{"type": "status", "data": map[string]any{"sid": clientID}})
}

func (s *Server) known(id string) bool {
	for _, j := range s.jobs {
		if j.ID == id {
			return true
		}
	}
	return false
}
