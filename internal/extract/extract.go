// Package extract runs a user supplied JavaScript function that pulls the
// session token out of a portal page when the built-in patterns no longer
// match the markup.
//
// The script must define
//
//	function extractToken(html) { ... }
//
// returning the token string, or an empty value when nothing is found.
// console.log/warn/error are routed to the daemon logger.
package extract

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/edupoll/edupoll/pkg/logger"
)

// Callback is the global function a script must define.
const Callback = "extractToken"

// DefaultTimeout bounds a single extraction.
const DefaultTimeout = 2 * time.Second

var (
	ErrCallbackNotDefined = errors.New("extractToken function not defined")
	ErrInvalidReturnType  = errors.New("extractToken must return a string")
	ErrTimeout            = errors.New("extractToken timed out")
)

// Script is a compiled extractor bound to its own runtime. Calls are
// serialised since a goja runtime is single threaded.
type Script struct {
	name    string
	timeout time.Duration
	log     logger.Logger

	mu sync.Mutex
	vm *goja.Runtime
	fn goja.Callable
}

// Load reads and compiles the script at path.
func Load(path string, l logger.Logger) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token script: %w", err)
	}
	return Compile(path, string(src), l)
}

// Compile evaluates src in a fresh runtime and looks up the callback.
func Compile(name, src string, l logger.Logger) (*Script, error) {
	if l == nil {
		l = logger.NewNopLogger()
	}
	vm := goja.New()
	registry := new(require.Registry)
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(printer{l: l}))
	registry.Enable(vm)
	console.Enable(vm)

	if _, err := vm.RunScript(name, src); err != nil {
		return nil, fmt.Errorf("load token script %s: %w", name, err)
	}
	fn, ok := goja.AssertFunction(vm.Get(Callback))
	if !ok {
		return nil, ErrCallbackNotDefined
	}
	return &Script{
		name:    name,
		timeout: DefaultTimeout,
		log:     l,
		vm:      vm,
		fn:      fn,
	}, nil
}

// SetTimeout changes the per-call budget.
func (s *Script) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// ExtractToken calls extractToken(html). null, undefined and "" mean no
// token.
func (s *Script) ExtractToken(html string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := time.AfterFunc(s.timeout, func() {
		s.vm.Interrupt(ErrTimeout)
	})
	v, err := s.fn(goja.Undefined(), s.vm.ToValue(html))
	timer.Stop()
	s.vm.ClearInterrupt()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return "", ErrTimeout
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return "", fmt.Errorf("%s: %s", s.name, exc.Value().String())
		}
		return "", err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	token, ok := v.Export().(string)
	if !ok {
		return "", ErrInvalidReturnType
	}
	return strings.TrimSpace(token), nil
}

type printer struct {
	l logger.Logger
}

func (p printer) Log(msg string)   { p.l.Debug("token script: %s", msg) }
func (p printer) Warn(msg string)  { p.l.Warning("token script: %s", msg) }
func (p printer) Error(msg string) { p.l.Error("token script: %s", msg) }
