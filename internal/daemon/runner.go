// Package daemon runs the edupoll poller: it owns the state store, the
// portal client, the sync schedule and the RPC endpoint, and tears them
// down in order when its context ends.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/edupoll/edupoll/internal/config"
	"github.com/edupoll/edupoll/internal/cookies"
	"github.com/edupoll/edupoll/internal/extract"
	"github.com/edupoll/edupoll/internal/metrics"
	"github.com/edupoll/edupoll/internal/scheduler"
	"github.com/edupoll/edupoll/internal/server"
	"github.com/edupoll/edupoll/internal/state"
	"github.com/edupoll/edupoll/internal/syncer"
	"github.com/edupoll/edupoll/pkg/credman"
	"github.com/edupoll/edupoll/pkg/logger"
	"github.com/edupoll/edupoll/pkg/portal"
)

// Sentinel errors for the daemon runner.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running daemon.
	ErrAlreadyRunning = errors.New("daemon is already running")

	// ErrNotRunning is returned when Shutdown() is called on a stopped daemon.
	ErrNotRunning = errors.New("daemon is not running")

	// ErrShutdownTimeout is returned when an in-flight cycle outlives the
	// shutdown timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// JobID is the scheduler job that drives periodic cycles.
const JobID = "sync"

// DefaultShutdownTimeout bounds how long Start waits for a running cycle
// once its context ends.
const DefaultShutdownTimeout = 30 * time.Second

// Version information reported over RPC.
type Version struct {
	Version string
	Commit  string
}

// Dependencies holds the external dependencies for the daemon runner.
// Nil fields get the production implementation.
type Dependencies struct {
	// OpenStore opens the state backend for cfg.
	OpenStore func(ctx context.Context, cfg config.StateConfig) (state.Store, error)

	// OpenVault opens the credentials vault in dir.
	OpenVault func(dir string) (SecretSource, error)

	// Logger receives all runner and pipeline output.
	Logger logger.Logger

	// Now replaces time.Now for the syncer and scheduler.
	Now func() time.Time

	// HTTPTransport is handed to the portal client.
	HTTPTransport http.RoundTripper

	// ShutdownTimeout overrides DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	Version Version
}

// SecretSource is the part of the vault the runner reads.
type SecretSource interface {
	Lookup(name string) (string, bool, error)
}

// Runner manages the daemon lifecycle.
type Runner struct {
	config *config.Config
	cfgErr error
	deps   *Dependencies
	log    logger.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	ready   error
	store   state.Store
	syncer  *syncer.Syncer
	rpc     *server.Server
	nextRun time.Time
	cycles  sync.WaitGroup
}

// New creates a runner. cfgErr is the error config.Load returned, if any;
// the runner then starts idle and reports it over RPC instead of exiting.
func New(cfg *config.Config, cfgErr error, deps *Dependencies) *Runner {
	d := applyDependencyDefaults(deps)
	return &Runner{
		config: cfg,
		cfgErr: cfgErr,
		deps:   d,
		log:    d.Logger,
	}
}

// applyDependencyDefaults returns Dependencies with default values applied.
func applyDependencyDefaults(deps *Dependencies) *Dependencies {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.OpenStore == nil {
		deps.OpenStore = openStore
	}
	if deps.OpenVault == nil {
		deps.OpenVault = func(dir string) (SecretSource, error) { return credman.OpenDefault(dir) }
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNopLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ShutdownTimeout <= 0 {
		deps.ShutdownTimeout = DefaultShutdownTimeout
	}
	return deps
}

func openStore(ctx context.Context, cfg config.StateConfig) (state.Store, error) {
	if cfg.Path == "" {
		return state.NewMemory(), nil
	}
	return state.OpenSQLite(ctx, cfg.Path)
}

// Start brings the daemon up and blocks until ctx is canceled or Shutdown
// is called. Configuration problems do not fail Start: the runner stays
// idle with only the RPC endpoint serving.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.mu.Unlock()

	err := r.run(ctx)
	r.mu.Lock()
	r.running = false
	r.cancel()
	r.mu.Unlock()
	return err
}

func (r *Runner) run(ctx context.Context) error {
	m := metrics.New()
	closeStore, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if r.config.RPC.Listen != "" {
		rpc := server.New(server.Config{
			Listen:  r.config.RPC.Listen,
			Secret:  r.config.RPC.Secret,
			Version: r.deps.Version.Version,
			Commit:  r.deps.Version.Commit,
		}, r, m.Handler(), r.log)
		if err := rpc.Start(); err != nil {
			return fmt.Errorf("daemon: start rpc: %w", err)
		}
		r.mu.Lock()
		r.rpc = rpc
		r.mu.Unlock()
	}

	r.setReady(r.prepare(ctx, m))
	if err := r.Ready(); err != nil {
		r.log.Error("daemon: not syncing: %v", err)
		<-ctx.Done()
		return r.teardown()
	}

	// Cycles outlive a canceled context so a shutdown never leaves the
	// store half written.
	cycleCtx := context.WithoutCancel(ctx)
	r.spawn(cycleCtx, "initial")

	sched := scheduler.New(ctx, func(jobID string) {
		if jobID != JobID {
			return
		}
		r.updateNextRun()
		r.spawn(cycleCtx, "scheduled")
	})
	ev, err := scheduler.Recurring(JobID, r.config.Sync.Interval(), r.config.Sync.Cron, r.deps.Now())
	if err != nil {
		_ = r.teardown()
		return fmt.Errorf("daemon: schedule: %w", err)
	}
	r.mu.Lock()
	r.nextRun = ev.TriggerAt
	r.mu.Unlock()
	sched.Add(ev)
	r.log.Info("daemon: next cycle at %s", ev.TriggerAt.Format(time.RFC3339))

	<-ctx.Done()
	<-sched.Done()
	return r.teardown()
}

// RunOnce performs a single cycle with no schedule and no RPC endpoint and
// returns its result. Unlike Start it fails on configuration problems.
func (r *Runner) RunOnce(ctx context.Context) (*syncer.Result, error) {
	closeStore, err := r.openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	if err := r.prepare(ctx, metrics.New()); err != nil {
		return nil, err
	}
	err = r.syncer.Sync(ctx)
	return r.syncer.Status().LastResult, err
}

func (r *Runner) openStore(ctx context.Context) (func(), error) {
	if r.config == nil {
		r.config = &config.Config{}
		if r.cfgErr == nil {
			r.cfgErr = errors.New("no configuration loaded")
		}
	}
	store, err := r.deps.OpenStore(ctx, r.config.State)
	if err != nil {
		return nil, fmt.Errorf("daemon: open state store: %w", err)
	}
	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
	return func() {
		if err := store.Close(); err != nil {
			r.log.Warning("daemon: close state store: %v", err)
		}
	}, nil
}

// prepare resolves secrets, builds the pipeline and restores the syncer
// state. A non-nil return leaves the runner idle.
func (r *Runner) prepare(ctx context.Context, m *metrics.Metrics) error {
	if r.cfgErr != nil {
		return r.cfgErr
	}
	cfg := r.config
	if err := r.fillSecrets(cfg); err != nil {
		return err
	}
	if err := cfg.Ready(); err != nil {
		return err
	}

	opts := portal.Options{
		BaseURL:           cfg.Portal.BaseURL,
		Encoding:          portal.RPCEncoding(cfg.Portal.RPCEncoding),
		Compress:          cfg.Portal.Compress,
		Timeout:           cfg.Portal.Timeout,
		RequestsPerSecond: cfg.Portal.RequestsPerSecond,
		RequiredCookie:    cfg.Portal.RequiredCookie,
		WarmUpPages:       cfg.Portal.WarmupPages,
		TokenPage:         cfg.Portal.TokenPage,
		SessionToken:      cfg.Portal.SessionToken,
		Observer:          m.ObservePortal,
		Logger:            r.log,
		Now:               r.deps.Now,
		HTTPTransport:     r.deps.HTTPTransport,
	}
	if cfg.Portal.TokenScript != "" {
		script, err := extract.Load(cfg.Portal.TokenScript, r.log)
		if err != nil {
			return err
		}
		opts.TokenExtractor = script
	}
	client, err := portal.New(opts)
	if err != nil {
		return &portal.ConfigError{Field: "portal.base_url", Message: err.Error()}
	}

	if cfg.Portal.CookiesFrom != "" {
		n, src, err := cookies.NewImporter(r.log).Seed(client.Session, cfg.Portal.CookiesFrom)
		if err != nil {
			r.log.Warning("daemon: cookie import skipped: %v", err)
		} else {
			r.log.Info("daemon: seeded %d cookies from %s (%s)", n, src.Path, src.Format)
		}
	}

	s := syncer.New(client, r.store, syncer.Config{
		Credentials: portal.Credentials{
			Username: cfg.Portal.Username,
			Password: cfg.Portal.Password,
			Tenant:   client.Session.Tenant,
		},
		Table:      cfg.Target.Table,
		TargetID:   cfg.Target.ID,
		MaxLessons: cfg.Sync.MaxLessons,
		WeekView:   cfg.Sync.WeekView,
	}, syncer.WithLogger(r.log), syncer.WithClock(r.deps.Now))
	s.OnCycle(m.ObserveCycle)
	if r.rpc != nil {
		s.OnCycle(r.rpc.Publish)
	}
	if err := s.Prepare(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	r.syncer = s
	r.mu.Unlock()
	return nil
}

// fillSecrets takes the password and session token from the vault when
// the configuration leaves them empty.
func (r *Runner) fillSecrets(cfg *config.Config) error {
	if cfg.Vault.Dir == "" || (cfg.Portal.Password != "" && cfg.Portal.SessionToken != "") {
		return nil
	}
	v, err := r.deps.OpenVault(cfg.Vault.Dir)
	if err != nil {
		return fmt.Errorf("daemon: open vault: %w", err)
	}
	fill := func(dst *string, name string) error {
		if *dst != "" {
			return nil
		}
		val, ok, err := v.Lookup(name)
		if err != nil {
			return fmt.Errorf("daemon: read %s: %w", name, err)
		}
		if ok {
			*dst = val
			r.log.Debug("daemon: %s taken from vault", name)
		}
		return nil
	}
	if err := fill(&cfg.Portal.Password, credman.SecretPassword); err != nil {
		return err
	}
	return fill(&cfg.Portal.SessionToken, credman.SecretSessionToken)
}

// spawn runs one cycle in the background. Overlapping triggers are dropped.
func (r *Runner) spawn(ctx context.Context, why string) {
	r.cycles.Add(1)
	go func() {
		defer r.cycles.Done()
		err := r.syncer.Sync(ctx)
		switch {
		case errors.Is(err, syncer.ErrCycleInProgress):
			r.log.Info("daemon: %s cycle skipped, previous still running", why)
		case err != nil:
			r.log.Warning("daemon: %s cycle failed: %v", why, err)
		}
	}()
}

func (r *Runner) updateNextRun() {
	ev, err := scheduler.Recurring(JobID, r.config.Sync.Interval(), r.config.Sync.Cron, r.deps.Now())
	if err != nil {
		return
	}
	r.mu.Lock()
	r.nextRun = ev.TriggerAt
	r.mu.Unlock()
}

// teardown stops the RPC endpoint, so no new cycle can be requested, and
// waits for an in-flight one.
func (r *Runner) teardown() error {
	if r.rpc != nil {
		r.stopRPC()
	}
	done := make(chan struct{})
	go func() {
		r.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(r.deps.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

func (r *Runner) stopRPC() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.rpc.Shutdown(ctx); err != nil {
		r.log.Warning("daemon: rpc shutdown: %v", err)
	}
}

func (r *Runner) setReady(err error) {
	r.mu.Lock()
	r.ready = err
	r.mu.Unlock()
}

// Ready returns the error that keeps the runner idle, or nil.
func (r *Runner) Ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Addr returns the RPC listen address, or "" when RPC is disabled.
func (r *Runner) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rpc == nil {
		return ""
	}
	return r.rpc.Addr()
}

// Shutdown stops a running daemon. Start returns once teardown finishes.
func (r *Runner) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRunning
	}
	r.cancel()
	return nil
}

// IsRunning returns whether the daemon is currently running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Status implements server.Backend.
func (r *Runner) Status() server.StatusResult {
	r.mu.Lock()
	s, ready, next := r.syncer, r.ready, r.nextRun
	r.mu.Unlock()
	res := server.StatusResult{Ready: ready == nil && s != nil}
	if ready != nil {
		res.ConfigError = ready.Error()
	}
	if s != nil {
		res.Sync = s.Status()
		res.NextRun = next
	}
	return res
}

// SyncNow implements server.Backend.
func (r *Runner) SyncNow(ctx context.Context) (*syncer.Result, error) {
	r.mu.Lock()
	s, ready := r.syncer, r.ready
	r.mu.Unlock()
	if s == nil {
		if ready == nil {
			ready = errors.New("starting")
		}
		return nil, fmt.Errorf("%w: %v", server.ErrNotReady, ready)
	}
	r.cycles.Add(1)
	defer r.cycles.Done()
	// The cycle finishes even if the caller disconnects.
	if err := s.Sync(context.WithoutCancel(ctx)); errors.Is(err, syncer.ErrCycleInProgress) {
		return nil, err
	}
	return s.Status().LastResult, nil
}

// States implements server.Backend.
func (r *Runner) States(ctx context.Context, prefix string) ([]state.Entry, error) {
	r.mu.Lock()
	store := r.store
	r.mu.Unlock()
	if store == nil {
		return nil, fmt.Errorf("%w: state store not open", server.ErrNotReady)
	}
	return store.List(ctx, prefix)
}
