package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/gaphost/internal/auth"
	"github.com/mattjoyce/gaphost/internal/bootstrap"
	"github.com/mattjoyce/gaphost/internal/bridge"
	"github.com/mattjoyce/gaphost/internal/device"
	"github.com/mattjoyce/gaphost/internal/events"
	"github.com/mattjoyce/gaphost/internal/journal"
	"github.com/mattjoyce/gaphost/internal/queue"
)

// mockQueue implements CommandQueue for testing
type mockQueue struct {
	mu        sync.Mutex
	enqueued  []bridge.Command
	err       error
	available bool
}

func (m *mockQueue) Enqueue(name string, args ...string) (string, error) {
	if err := bridge.ValidateName(name); err != nil {
		return "", err
	}
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("cmd-%d", len(m.enqueued)+1)
	m.enqueued = append(m.enqueued, bridge.Command{ID: id, Name: name, Args: args})
	return id, nil
}

func (m *mockQueue) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enqueued)
}

func (m *mockQueue) TimerActive() bool { return m.Depth() > 0 }
func (m *mockQueue) Available() bool   { return m.available }

// mockBootstrap implements BootstrapStatus for testing
type mockBootstrap struct {
	drained bool
	pending int
}

func (m *mockBootstrap) Drained() bool { return m.drained }
func (m *mockBootstrap) Pending() int  { return m.pending }

// mockNavigator implements DeviceView for testing
type mockNavigator struct {
	dev       *device.Device
	installed []string
}

func (m *mockNavigator) Device() *device.Device { return m.dev }
func (m *mockNavigator) Installed() []string    { return m.installed }

// mockJournal implements JournalReader for testing
type mockJournal struct {
	entries []journal.Entry
	got     journal.Filter
	err     error
}

func (m *mockJournal) List(_ context.Context, f journal.Filter) ([]journal.Entry, error) {
	m.got = f
	return m.entries, m.err
}

type fixture struct {
	server *Server
	queue  *mockQueue
	doc    *bootstrap.Document
	nav    *mockNavigator
	boot   *mockBootstrap
	jrnl   *mockJournal
	hub    *events.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue: &mockQueue{available: true},
		doc:   bootstrap.NewDocument(bootstrap.StateLoading, nil),
		nav:   &mockNavigator{},
		boot:  &mockBootstrap{},
		jrnl:  &mockJournal{},
		hub:   events.NewHub(16),
	}
	f.server = New(Config{
		Listen: "127.0.0.1:0",
		APIKey: "admin-key",
		Tokens: []auth.TokenConfig{
			{Token: "page-token", Scopes: []string{auth.ScopeExec, auth.ScopeDeviceRead}},
		},
	}, Deps{
		Queue:     f.queue,
		Document:  f.doc,
		Bootstrap: f.boot,
		Navigator: f.nav,
		Journal:   f.jrnl,
		Events:    f.hub,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestHealthzNoAuth(t *testing.T) {
	f := newFixture(t)
	f.boot.drained = true

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[HealthzResponse](t, rec)
	if resp.Status != "ok" || resp.ReadyState != "loading" || !resp.Drained || !resp.BridgeAvailable {
		t.Fatalf("unexpected healthz: %+v", resp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{name: "missing token", method: http.MethodGet, path: "/journal", want: http.StatusUnauthorized},
		{name: "wrong token", method: http.MethodGet, path: "/journal", token: "nope", want: http.StatusUnauthorized},
		{name: "admin reads journal", method: http.MethodGet, path: "/journal", token: "admin-key", want: http.StatusOK},
		{name: "page token cannot read journal", method: http.MethodGet, path: "/journal", token: "page-token", want: http.StatusForbidden},
		{name: "page token cannot set ready state", method: http.MethodPost, path: "/document/ready-state", token: "page-token", body: ReadyStateRequest{ReadyState: "complete"}, want: http.StatusForbidden},
		{name: "page token may exec", method: http.MethodPost, path: "/exec/Device.vibrate", token: "page-token", body: ExecRequest{Args: []string{"500"}}, want: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.token, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestExec(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/exec/Sms.send", "admin-key", ExecRequest{Args: []string{"555 1234", "hi"}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[ExecResponse](t, rec)
	if resp.CommandID != "cmd-1" || resp.Status != "queued" || resp.QueueDepth != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.URI != "gap://Sms.send/555%201234/hi" {
		t.Fatalf("unexpected uri %q", resp.URI)
	}
	if got := f.queue.enqueued[0].Args; len(got) != 2 || got[0] != "555 1234" {
		t.Fatalf("args not forwarded: %v", got)
	}
}

func TestExecWithoutBody(t *testing.T) {
	f := newFixture(t)
	f.queue.available = false

	rec := f.do(t, http.MethodPost, "/exec/Device.getUUID", "admin-key", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	resp := decode[ExecResponse](t, rec)
	if resp.Status != "held" || resp.URI != "gap://Device.getUUID" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestExecErrors(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/exec/Device.vibrate", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer admin-key")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", rec.Code)
	}

	f.queue.err = fmt.Errorf("%w: 4 pending", queue.ErrQueueFull)
	rec = f.do(t, http.MethodPost, "/exec/Device.vibrate", "admin-key", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("full queue: expected 503, got %d", rec.Code)
	}

	f.queue.err = errors.New("boom")
	rec = f.do(t, http.MethodPost, "/exec/Device.vibrate", "admin-key", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("enqueue failure: expected 500, got %d", rec.Code)
	}
}

func TestReadyState(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/document/ready-state", "admin-key", ReadyStateRequest{ReadyState: "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown state: expected 400, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/document/ready-state", "admin-key", ReadyStateRequest{ReadyState: "complete"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[ReadyStateResponse](t, rec)
	if resp.ReadyState != "complete" || !resp.Ready {
		t.Fatalf("unexpected response: %+v", resp)
	}
	select {
	case <-f.doc.Ready():
	default:
		t.Fatal("document ready channel should be closed")
	}

	rec = f.do(t, http.MethodPost, "/document/ready-state", "admin-key", ReadyStateRequest{ReadyState: "loading"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("regression: expected 409, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/document/ready-state", "admin-key", nil)
	if got := decode[ReadyStateResponse](t, rec); got.ReadyState != "complete" {
		t.Fatalf("GET ready-state = %+v", got)
	}
}

func TestNavigatorDevice(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/navigator/device", "page-token", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before install: expected 503, got %d", rec.Code)
	}

	f.nav.dev = &device.Device{Available: true, Platform: "Android", UUID: "35-ab"}
	f.nav.installed = []string{"device", "geolocation"}
	rec = f.do(t, http.MethodGet, "/navigator/device", "page-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[DeviceResponse](t, rec)
	if resp.Device == nil || resp.Device.UUID != "35-ab" || len(resp.Installed) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestJournal(t *testing.T) {
	f := newFixture(t)
	f.jrnl.entries = []journal.Entry{{Seq: 2, Command: "Device.vibrate", Status: journal.StatusSent}}

	rec := f.do(t, http.MethodGet, "/journal?command=Device.vibrate&limit=5", "admin-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.jrnl.got.Command != "Device.vibrate" || f.jrnl.got.Limit != 5 {
		t.Fatalf("filter not forwarded: %+v", f.jrnl.got)
	}
	if resp := decode[JournalResponse](t, rec); len(resp.Entries) != 1 {
		t.Fatalf("entries = %+v", resp.Entries)
	}

	for _, limit := range []string{"0", "-1", "x", "501"} {
		rec := f.do(t, http.MethodGet, "/journal?limit="+limit, "admin-key", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, rec.Code)
		}
	}

	f.jrnl.err = errors.New("db gone")
	if rec := f.do(t, http.MethodGet, "/journal", "admin-key", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("list failure: expected 500, got %d", rec.Code)
	}
}

func TestJournalDisabled(t *testing.T) {
	f := newFixture(t)
	f.server.deps.Journal = nil

	rec := f.do(t, http.MethodGet, "/journal", "admin-key", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestOpenAPI(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/openapi.json", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	doc := decode[map[string]any](t, rec)
	paths, ok := doc["paths"].(map[string]any)
	if !ok {
		t.Fatalf("paths missing: %v", doc)
	}
	for _, p := range []string{"/exec/{command}", "/document/ready-state", "/navigator/device", "/events"} {
		if _, ok := paths[p]; !ok {
			t.Errorf("openapi missing %s", p)
		}
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	f.server.config.AllowedOrigins = []string{"http://page.test"}

	req := httptest.NewRequest(http.MethodOptions, "/exec/Device.vibrate", nil)
	req.Header.Set("Origin", "http://page.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://page.test" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin got %q", got)
	}
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t)
	f.hub.Publish(events.QueueEnqueued, map[string]any{"command": "Device.vibrate"})
	f.hub.Publish(events.QueueDispatched, map[string]any{"command": "Device.vibrate"})

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer admin-key")
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() []string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return lines
			}
			lines = append(lines, line)
		}
	}

	// Event 1 is before Last-Event-ID, so replay starts at 2.
	replayed := readEvent()
	if len(replayed) != 3 || replayed[0] != "id: 2" || replayed[1] != "event: "+events.QueueDispatched {
		t.Fatalf("unexpected replay: %q", replayed)
	}

	f.hub.Publish(events.BootstrapDrained, map[string]any{"ran": 3})
	live := readEvent()
	if len(live) != 3 || live[0] != "id: 3" || live[2] != `data: {"ran":3}` {
		t.Fatalf("unexpected live event: %q", live)
	}
}

func TestParseLastEventID(t *testing.T) {
	cases := map[string]int64{"": 0, "7": 7, "-3": 0, "abc": 0}
	for in, want := range cases {
		if got := parseLastEventID(in); got != want {
			t.Errorf("parseLastEventID(%q) = %d, want %d", in, got, want)
		}
	}
}
