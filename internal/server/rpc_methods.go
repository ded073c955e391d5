package server

import (
	"context"
	"errors"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/edupoll/edupoll/internal/state"
	"github.com/edupoll/edupoll/internal/syncer"
)

const (
	codeCycleInProgress = jrpc2.Code(-32001)
	codeNotReady        = jrpc2.Code(-32002)
	codeInvalidParams   = jrpc2.Code(-32602)
)

// ErrNotReady is wrapped by backends that cannot sync because the startup
// configuration is incomplete.
var ErrNotReady = errors.New("daemon not configured")

// Backend is what the RPC methods read from and act on.
type Backend interface {
	Status() StatusResult
	SyncNow(ctx context.Context) (*syncer.Result, error)
	States(ctx context.Context, prefix string) ([]state.Entry, error)
}

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}

// StatusResult is the response for sync.status.
type StatusResult struct {
	Ready       bool          `json:"ready"`
	ConfigError string        `json:"configError,omitempty"`
	NextRun     time.Time     `json:"nextRun,omitempty"`
	Sync        syncer.Status `json:"sync"`
}

// StateParams is the input for state.get.
type StateParams struct {
	Prefix string `json:"prefix,omitempty"`
}

// StateResult is the response for state.get.
type StateResult struct {
	States []state.Entry `json:"states"`
}

func (s *Server) methodMap() handler.Map {
	return handler.Map{
		"system.getVersion": handler.New(s.systemGetVersion),
		"sync.status":       handler.New(s.syncStatus),
		"sync.now":          handler.New(s.syncNow),
		"state.get":         handler.New(s.stateGet),
	}
}

func (s *Server) systemGetVersion(_ context.Context) (*VersionResult, error) {
	return &VersionResult{Version: s.cfg.Version, Commit: s.cfg.Commit}, nil
}

func (s *Server) syncStatus(_ context.Context) (StatusResult, error) {
	return s.backend.Status(), nil
}

func (s *Server) syncNow(ctx context.Context) (*syncer.Result, error) {
	res, err := s.backend.SyncNow(ctx)
	switch {
	case errors.Is(err, syncer.ErrCycleInProgress):
		return nil, &jrpc2.Error{Code: codeCycleInProgress, Message: err.Error()}
	case errors.Is(err, ErrNotReady):
		return nil, &jrpc2.Error{Code: codeNotReady, Message: err.Error()}
	case err != nil:
		return nil, err
	}
	return res, nil
}

func (s *Server) stateGet(ctx context.Context, p StateParams) (*StateResult, error) {
	entries, err := s.backend.States(ctx, p.Prefix)
	if err != nil {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}
	if entries == nil {
		entries = []state.Entry{}
	}
	return &StateResult{States: entries}, nil
}
