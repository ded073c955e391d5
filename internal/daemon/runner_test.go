package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edupoll/edupoll/internal/config"
	"github.com/edupoll/edupoll/internal/server"
	"github.com/edupoll/edupoll/internal/state"
	"github.com/edupoll/edupoll/internal/syncer"
	"github.com/edupoll/edupoll/pkg/credman"
	"github.com/edupoll/edupoll/pkg/logger"
	"github.com/edupoll/edupoll/pkg/portal"
)

type fakeVault map[string]string

func (f fakeVault) Lookup(name string) (string, bool, error) {
	v, ok := f[name]
	return v, ok, nil
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Portal: config.PortalConfig{
			BaseURL:        baseURL,
			Username:       "student",
			Password:       "secret",
			RPCEncoding:    string(portal.EncodingForm),
			Timeout:        5 * time.Second,
			RequiredCookie: portal.DefaultRequiredCookie,
			WarmupPages:    []string{"/"},
			TokenPage:      portal.DefaultTokenPage,
		},
		Sync:   config.SyncConfig{IntervalMinutes: 15, MaxLessons: 4},
		Target: config.TargetConfig{Table: "students", ID: "-2528"},
	}
}

// brokenPortal answers every request with 500 and counts them.
func brokenPortal(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func startRunner(t *testing.T, r *Runner) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(context.Background()) }()
	t.Cleanup(func() {
		_ = r.Shutdown()
		select {
		case <-errCh:
		case <-time.After(5 * time.Second):
			t.Error("runner did not stop")
		}
	})
	return errCh
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunner_IdleOnConfigError(t *testing.T) {
	srv, hits := brokenPortal(t)
	r := New(testConfig(srv.URL), errors.New("config: bad yaml"), nil)
	startRunner(t, r)

	waitFor(t, "config error", func() bool { return r.Status().ConfigError != "" })
	st := r.Status()
	if st.Ready {
		t.Error("Ready = true, want false")
	}
	if !strings.Contains(st.ConfigError, "bad yaml") {
		t.Errorf("ConfigError = %q", st.ConfigError)
	}
	if _, err := r.SyncNow(context.Background()); !errors.Is(err, server.ErrNotReady) {
		t.Errorf("SyncNow error = %v, want ErrNotReady", err)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("portal hit %d times while idle", n)
	}
}

func TestRunner_MissingPasswordReported(t *testing.T) {
	cfg := testConfig("https://school.edupage.org")
	cfg.Portal.Password = ""
	cfg.Vault.Dir = t.TempDir()
	r := New(cfg, nil, &Dependencies{
		OpenVault: func(string) (SecretSource, error) { return fakeVault{}, nil },
	})
	startRunner(t, r)

	waitFor(t, "config error", func() bool { return r.Status().ConfigError != "" })
	var ce *portal.ConfigError
	if err := r.Ready(); !errors.As(err, &ce) || ce.Field != "portal.password" {
		t.Errorf("Ready() = %v, want ConfigError on portal.password", err)
	}
}

func TestRunner_PasswordFromVault(t *testing.T) {
	srv, _ := brokenPortal(t)
	cfg := testConfig(srv.URL)
	cfg.Portal.Password = ""
	cfg.Vault.Dir = t.TempDir()
	l := logger.NewMockLogger()
	r := New(cfg, nil, &Dependencies{
		Logger:    l,
		OpenVault: func(string) (SecretSource, error) { return fakeVault{credman.SecretPassword: "from-vault"}, nil },
	})
	startRunner(t, r)

	waitFor(t, "first cycle", func() bool { return r.Status().Sync.Cycles > 0 })
	if err := r.Ready(); err != nil {
		t.Fatalf("Ready() = %v", err)
	}
	if cfg.Portal.Password != "from-vault" {
		t.Error("password not filled from vault")
	}
	if l.Contains("from-vault") {
		t.Error("password leaked into the log")
	}
}

func TestRunner_InitialCycleRecordsFailure(t *testing.T) {
	srv, hits := brokenPortal(t)
	store := state.NewMemory()
	r := New(testConfig(srv.URL), nil, &Dependencies{
		OpenStore: func(context.Context, config.StateConfig) (state.Store, error) { return store, nil },
	})
	startRunner(t, r)

	waitFor(t, "first cycle", func() bool { return r.Status().Sync.Cycles > 0 })
	st := r.Status()
	if !st.Ready {
		t.Error("Ready = false, want true")
	}
	if st.NextRun.IsZero() {
		t.Error("NextRun not set")
	}
	res := st.Sync.LastResult
	if res == nil || res.Outcome != syncer.OutcomeError {
		t.Fatalf("LastResult = %+v, want error outcome", res)
	}
	if hits.Load() == 0 {
		t.Error("portal never contacted")
	}

	entries, err := r.States(context.Background(), "meta.")
	if err != nil {
		t.Fatalf("States: %v", err)
	}
	var found bool
	for _, e := range entries {
		if e.ID == "meta.lastError" && e.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("meta.lastError not written")
	}
}

func TestRunner_SyncNowRunsCycle(t *testing.T) {
	srv, _ := brokenPortal(t)
	r := New(testConfig(srv.URL), nil, nil)
	startRunner(t, r)
	waitFor(t, "first cycle", func() bool {
		st := r.Status().Sync
		return st.Cycles > 0 && !st.Running
	})

	res, err := r.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if res == nil || res.Outcome != syncer.OutcomeError {
		t.Errorf("result = %+v", res)
	}
	if got := r.Status().Sync.Cycles; got < 2 {
		t.Errorf("Cycles = %d, want >= 2", got)
	}
}

func TestRunner_ServesRPC(t *testing.T) {
	cfg := testConfig("")
	cfg.RPC.Listen = "127.0.0.1:0"
	r := New(cfg, nil, nil)
	startRunner(t, r)

	waitFor(t, "rpc listener", func() bool { return r.Addr() != "" })
	resp, err := http.Get("http://" + r.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestRunner_StartTwice(t *testing.T) {
	r := New(testConfig(""), nil, nil)
	startRunner(t, r)
	waitFor(t, "running", r.IsRunning)

	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
}

func TestRunner_ShutdownNotRunning(t *testing.T) {
	r := New(testConfig(""), nil, nil)
	if err := r.Shutdown(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Shutdown() = %v, want ErrNotRunning", err)
	}
}

func TestRunner_ShutdownStopsStart(t *testing.T) {
	r := New(testConfig(""), nil, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(context.Background()) }()
	waitFor(t, "running", r.IsRunning)

	if err := r.Shutdown(); err != nil {
		t.Fatalf("Shutdown() = %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	if r.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}

func TestRunner_StoreOpenFailure(t *testing.T) {
	r := New(testConfig(""), nil, &Dependencies{
		OpenStore: func(context.Context, config.StateConfig) (state.Store, error) {
			return nil, errors.New("disk full")
		},
	})
	err := r.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Start() = %v, want store error", err)
	}
	if r.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}

func TestRunner_RunOnce(t *testing.T) {
	srv, hits := brokenPortal(t)
	r := New(testConfig(srv.URL), nil, nil)

	res, err := r.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce() error = nil, want portal failure")
	}
	if res == nil || res.Outcome != syncer.OutcomeError {
		t.Errorf("result = %+v", res)
	}
	if hits.Load() == 0 {
		t.Error("portal never contacted")
	}
}

func TestRunner_RunOnceMissingTargetID(t *testing.T) {
	srv, hits := brokenPortal(t)
	cfg := testConfig(srv.URL)
	cfg.Target.ID = ""
	r := New(cfg, nil, nil)

	res, err := r.RunOnce(context.Background())
	var ce *portal.ConfigError
	if !errors.As(err, &ce) || ce.Field != "target.id" {
		t.Fatalf("RunOnce() = %v, want ConfigError on target.id", err)
	}
	if res == nil || res.Outcome != syncer.OutcomeError {
		t.Errorf("result = %+v, want error outcome", res)
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("portal contacted %d times without a target id", n)
	}
}

func TestRunner_RunOnceConfigError(t *testing.T) {
	r := New(testConfig(""), nil, nil)
	_, err := r.RunOnce(context.Background())
	var ce *portal.ConfigError
	if !errors.As(err, &ce) || ce.Field != "portal.base_url" {
		t.Errorf("RunOnce() = %v, want ConfigError on portal.base_url", err)
	}
}
