package sikka

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/parlae/pms-gateway/internal/pms/credentials"
	"github.com/parlae/pms-gateway/pkg/logging"
)

// fakeSikka routes requests by "METHOD /path" and counts every call.
type fakeSikka struct {
	t      *testing.T
	server *httptest.Server

	mu      sync.Mutex
	routes  map[string]http.HandlerFunc
	calls   map[string]int
	bodies  map[string][]map[string]any
	queries map[string][]string
	total   int
}

func newFakeSikka(t *testing.T) *fakeSikka {
	t.Helper()
	f := &fakeSikka{
		t:       t,
		routes:  map[string]http.HandlerFunc{},
		calls:   map[string]int{},
		bodies:  map[string][]map[string]any{},
		queries: map[string][]string{},
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeSikka) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	var body map[string]any
	raw, _ := io.ReadAll(r.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))

	f.mu.Lock()
	f.calls[key]++
	f.total++
	f.bodies[key] = append(f.bodies[key], body)
	f.queries[key] = append(f.queries[key], r.URL.RawQuery)
	h, ok := f.routes[key]
	f.mu.Unlock()

	if !ok {
		f.t.Errorf("unexpected request %s", key)
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeSikka) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeSikka) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+path]
}

func (f *fakeSikka) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *fakeSikka) body(method, path string, i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.bodies[method+" "+path]
	if i < 0 {
		i = len(list) - 1
	}
	if i < 0 || i >= len(list) {
		return nil
	}
	return list[i]
}

func (f *fakeSikka) query(method, path string, i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.queries[method+" "+path]
	if i < 0 || i >= len(list) {
		return ""
	}
	return list[i]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writebackSequence answers GET /writebacks with pending n times, then final.
func writebackSequence(n int, final map[string]any) http.HandlerFunc {
	var mu sync.Mutex
	seen := 0
	return func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen++
		current := seen
		mu.Unlock()
		if current <= n {
			writeJSON(w, http.StatusOK, map[string]any{"id": r.URL.Query().Get("id"), "result": "pending"})
			return
		}
		writeJSON(w, http.StatusOK, final)
	}
}

func newTestClient(t *testing.T, f *fakeSikka, retryMax int) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:      f.server.URL,
		AppID:        "app-id",
		AppKey:       "app-key",
		RetryMax:     retryMax,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
		Logger:       logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func validState() *credentials.State {
	return &credentials.State{
		IntegrationID: "int-1",
		OfficeID:      "D1",
		SecretKey:     "office-secret",
		RequestKey:    "rk-valid",
		RefreshKey:    "fk-valid",
		TokenExpiry:   time.Now().Add(24 * time.Hour),
	}
}

func newTestService(t *testing.T, f *fakeSikka, state *credentials.State, mutate ...func(*ServiceConfig)) *Service {
	t.Helper()
	cfg := ServiceConfig{
		IntegrationID:   "int-1",
		InitialState:    state,
		DefaultDuration: 30 * time.Minute,
		Poller:          PollerConfig{Interval: time.Millisecond, MaxAttempts: 10},
		Logger:          logging.Discard(),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	svc, err := New(newTestClient(t, f, 0), cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}
