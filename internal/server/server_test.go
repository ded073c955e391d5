package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	cws "github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/edupoll/edupoll/internal/state"
	"github.com/edupoll/edupoll/internal/syncer"
)

const testSecret = "rpc-test-secret"

type fakeBackend struct {
	mu      sync.Mutex
	status  StatusResult
	syncErr error
	syncs   int
	store   state.Store
}

func (f *fakeBackend) Status() StatusResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeBackend) SyncNow(context.Context) (*syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &syncer.Result{ID: "cycle-1", Outcome: syncer.OutcomeOK}, nil
}

func (f *fakeBackend) States(ctx context.Context, prefix string) ([]state.Entry, error) {
	return f.store.List(ctx, prefix)
}

func newTestServer(t *testing.T, b *fakeBackend) (*Server, *httptest.Server) {
	t.Helper()
	if b.store == nil {
		b.store = state.NewMemory()
		ctx := context.Background()
		if err := state.EnsureAll(ctx, b.store, state.Schema(2)); err != nil {
			t.Fatalf("EnsureAll: %v", err)
		}
		if err := b.store.Set(ctx, "today.lessons.0.subject", "Math"); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("edupoll_up 1\n"))
	})
	s := New(Config{Secret: testSecret, Version: "1.2.3", Commit: "abc"}, b, metrics, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = s.Shutdown(context.Background())
	})
	return s, srv
}

func rpcCall(t *testing.T, url, method string, params any) map[string]any {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	body, _ := json.Marshal(req)
	httpReq, _ := http.NewRequest(http.MethodPost, url+"/jsonrpc", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("POST %s: %v", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s: HTTP %d: %s", method, resp.StatusCode, raw)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", method, err)
	}
	return out
}

func TestSystemGetVersion(t *testing.T) {
	_, srv := newTestServer(t, &fakeBackend{})

	out := rpcCall(t, srv.URL, "system.getVersion", nil)
	result, _ := out["result"].(map[string]any)
	if result["version"] != "1.2.3" || result["commit"] != "abc" {
		t.Fatalf("unexpected version result: %v", out)
	}
}

func TestSyncStatus(t *testing.T) {
	b := &fakeBackend{status: StatusResult{Ready: false, ConfigError: "portal.base_url: missing portal URL"}}
	_, srv := newTestServer(t, b)

	out := rpcCall(t, srv.URL, "sync.status", nil)
	result, _ := out["result"].(map[string]any)
	if result["ready"] != false || !strings.Contains(fmt.Sprint(result["configError"]), "base_url") {
		t.Fatalf("unexpected status: %v", out)
	}
}

func TestSyncNowErrors(t *testing.T) {
	b := &fakeBackend{}
	_, srv := newTestServer(t, b)

	out := rpcCall(t, srv.URL, "sync.now", nil)
	result, _ := out["result"].(map[string]any)
	if result["outcome"] != "ok" {
		t.Fatalf("unexpected sync.now result: %v", out)
	}

	cases := []struct {
		err  error
		code float64
	}{
		{syncer.ErrCycleInProgress, -32001},
		{fmt.Errorf("%w: portal.username: missing username", ErrNotReady), -32002},
	}
	for _, tc := range cases {
		b.mu.Lock()
		b.syncErr = tc.err
		b.mu.Unlock()
		out := rpcCall(t, srv.URL, "sync.now", nil)
		errObj, _ := out["error"].(map[string]any)
		if errObj["code"] != tc.code {
			t.Fatalf("expected code %v for %v, got %v", tc.code, tc.err, out)
		}
	}
	if b.syncs != 3 {
		t.Fatalf("expected 3 sync calls, got %d", b.syncs)
	}
}

func TestStateGet(t *testing.T) {
	_, srv := newTestServer(t, &fakeBackend{})

	out := rpcCall(t, srv.URL, "state.get", map[string]any{"prefix": "today.lessons.0."})
	result, _ := out["result"].(map[string]any)
	states, _ := result["states"].([]any)
	if len(states) == 0 {
		t.Fatalf("expected lesson slot states, got %v", out)
	}
	found := false
	for _, s := range states {
		entry := s.(map[string]any)
		if entry["id"] == "today.lessons.0.subject" {
			found = entry["value"] == "Math"
		}
		if !strings.HasPrefix(fmt.Sprint(entry["id"]), "today.lessons.0.") {
			t.Fatalf("prefix not applied: %v", entry["id"])
		}
	}
	if !found {
		t.Fatalf("subject value missing: %v", states)
	}
}

func TestUnauthorizedPost(t *testing.T) {
	_, srv := newTestServer(t, &fakeBackend{})

	resp, err := http.Post(srv.URL+"/jsonrpc", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"system.getVersion","id":1}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	_, srv := newTestServer(t, &fakeBackend{})

	for path, want := range map[string]string{"/metrics": "edupoll_up 1", "/healthz": "ok"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), want) {
			t.Fatalf("GET %s: expected %q, got %q", path, want, body)
		}
	}
}

func TestWebSocketPush(t *testing.T) {
	s, srv := newTestServer(t, &fakeBackend{})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jsonrpc/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := cws.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("expected unauthorized dial to fail")
	}

	conn, _, err := cws.Dial(ctx, wsURL, &cws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + testSecret}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(cws.StatusNormalClosure, "")

	req := []byte(`{"jsonrpc":"2.0","method":"system.getVersion","id":7}`)
	if err := conn.Write(ctx, cws.MessageText, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"1.2.3"`) {
		t.Fatalf("unexpected response: %s", data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.notifier.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket server never registered for pushes")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Publish(syncer.Result{ID: "cycle-9", Outcome: syncer.OutcomeCaptcha})
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("read push: %v", err)
	}
	var push struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(data, &push); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if push.Method != NotifySyncCompleted || push.Params["id"] != "cycle-9" || push.Params["outcome"] != "captcha" {
		t.Fatalf("unexpected push: %s", data)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := New(Config{Listen: "127.0.0.1:0", Secret: testSecret}, &fakeBackend{store: state.NewMemory()}, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := http.Get("http://" + s.Addr() + "/healthz"); err == nil {
		t.Fatal("expected requests to fail after shutdown")
	}
}
