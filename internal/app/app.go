// Package app implements the per-guest JIT execution context: one
// Application owns a compiled Wasm module, its wazero execution context,
// the invocation thunks used to call back into the guest, the task slab,
// and every native namespace's per-application state (file handles, TCP
// streams, buffers, timers).
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"golang.org/x/sync/errgroup"

	"github.com/lssahost/lssa/internal/abi"
	"github.com/lssahost/lssa/internal/event"
	"github.com/lssahost/lssa/internal/log"
	"github.com/lssahost/lssa/internal/permission"
	"github.com/lssahost/lssa/internal/slab"
)

// State is the application's lifecycle stage. There is no Paused state:
// the guest is never preempted by the host, only ever re-entered from
// the dispatcher goroutine or torn down.
type State int

const (
	StateLoading State = iota
	StateInitialized
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dispatcher is how a namespace goroutine hands a completed operation
// back to the single goroutine serializing guest re-entry. It is
// satisfied by *manager.AppManager without app importing manager.
type Dispatcher interface {
	Dispatch(ev event.Event)
}

// Config is the subset of the host's per-application record an
// Application needs to construct itself; the manager populates it from
// the records internal/config loads.
type Config struct {
	Name        string
	EnvVars     map[string]string
	Permissions permission.Set
	MinPages    uint32
	MaxPages    uint32
	HostName    string // surfaced by runtime.name

	// Group, when set by the manager, tracks every goroutine this
	// application's namespaces spawn (accept loops, connect/read/write,
	// the timer wheel), so AppManager.Shutdown can wait for all of them to
	// observe teardown. Left nil in unit tests that construct an
	// Application directly; spawn falls back to a bare goroutine then.
	Group *errgroup.Group
}

// Application owns one compiled Wasm module plus its execution context.
// It is exclusively owned by the AppManager; every native namespace holds
// only an ordinary *Application pointer gated by the closed flag, so a
// completion racing teardown observes "torn down" synchronously and
// no-ops instead of re-entering a dead guest.
type Application struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *log.Logger

	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	instance api.Module

	invoke0Fn api.Function // __app_invoke0(target) -> i32
	invoke1Fn api.Function // __app_invoke1(target, d0) -> i32
	invoke2Fn api.Function // __app_invoke2(target, d0, d1) -> i32
	invoke3Fn api.Function // __app_invoke3(target, d0, d1, d2) -> i32
	invoke4Fn api.Function // __app_invoke4(target, d0, d1, d2, d3) -> i32
	initFn    api.Function // __app_init() -> i32

	tasks *slab.Slab[any]

	// closed is read by every namespace goroutine immediately before it
	// would re-enter the guest.
	closed atomic.Bool

	// insideCounter tracks the depth of nested guest invocations on this
	// application's execution context. It is only ever touched from the
	// single dispatcher goroutine (including namespace code invoked
	// synchronously from within a guest call), so it needs no locking,
	// but it must never go negative.
	insideCounter int32

	stateMu sync.Mutex
	state   State

	startedAt       time.Time
	invocationCount atomic.Int64

	immMu          sync.Mutex
	immediateQueue []immediateCall

	timers *timerWheel
	group  *errgroup.Group

	namespaces []abi.Namespace
	fileNS     *fileNamespace
	tcpNS      *tcpNamespace
}

type immediateCall struct {
	target int32
	data   int32
}

// New compiles moduleBytes with cfg.MaxPages as the runtime's memory
// limit, wires the native namespace registry into the module's imports,
// and instantiates it. cfg.MinPages is not applied: the initial memory
// size is the one the module itself declares. It does not call
// __app_init; the caller (AppManager) does that
// separately so it can log and skip a failing application without
// unwinding the whole load sequence.
func New(ctx context.Context, moduleBytes []byte, cfg Config, dispatcher Dispatcher) (*Application, error) {
	logger := log.Default().With("app", cfg.Name)

	rtCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MaxPages)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	compiled, err := rt.CompileModule(ctx, moduleBytes)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("lssa: app %q: compiling module: %w", cfg.Name, err)
	}

	a := &Application{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		runtime:    rt,
		compiled:   compiled,
		tasks:      slab.New[any](),
		state:      StateLoading,
		group:      cfg.Group,
	}
	a.timers = newTimerWheel(a)
	a.fileNS = newFileNamespace(a)
	a.tcpNS = newTCPNamespace(a)

	a.namespaces = []abi.Namespace{
		logNamespace{a},
		envNamespace{a},
		runtimeNamespace{a},
		timerNamespace{a},
		a.tcpNS,
		a.fileNS,
	}
	registry := abi.NewRegistry(a.namespaces...)
	if err := registry.Install(ctx, rt, compiled); err != nil {
		a.timers.stop()
		a.closeRuntime(ctx)
		return nil, fmt.Errorf("lssa: app %q: installing host namespaces: %w", cfg.Name, err)
	}

	instance, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(cfg.Name))
	if err != nil {
		a.timers.stop()
		a.closeRuntime(ctx)
		return nil, fmt.Errorf("lssa: app %q: instantiating module: %w", cfg.Name, err)
	}
	a.instance = instance

	for name, fn := range map[string]*api.Function{
		"__app_invoke0": &a.invoke0Fn,
		"__app_invoke1": &a.invoke1Fn,
		"__app_invoke2": &a.invoke2Fn,
		"__app_invoke3": &a.invoke3Fn,
		"__app_invoke4": &a.invoke4Fn,
		"__app_init":    &a.initFn,
	} {
		f := instance.ExportedFunction(name)
		if f == nil {
			a.timers.stop()
			a.closeRuntime(ctx)
			return nil, fmt.Errorf("lssa: app %q: guest does not export %s", cfg.Name, name)
		}
		*fn = f
	}

	return a, nil
}

// Name implements event.Target.
func (a *Application) Name() string { return a.cfg.Name }

// Logger returns the application-scoped structured logger.
func (a *Application) Logger() *log.Logger { return a.logger }

// Permissions returns the configured permission set, consulted by the
// permission package before any side-effecting host call.
func (a *Application) Permissions() permission.Set { return a.cfg.Permissions }

// Closed reports whether the application has been torn down. Every
// namespace goroutine must check this immediately before invoking back
// into the guest.
func (a *Application) Closed() bool { return a.closed.Load() }

// State returns the current lifecycle stage.
func (a *Application) State() State {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state
}

func (a *Application) setState(s State) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
}

// Tasks returns the task slab: an indexable bag mapping u32 id -> opaque
// host-side value the guest needs referenced across host calls. It is
// currently unused by any in-tree namespace but is required by the ABI.
func (a *Application) Tasks() *slab.Slab[any] { return a.tasks }

// Init invokes the guest's __app_init export. A non-zero return is a
// fatal load error for this single application.
func (a *Application) Init(ctx context.Context) error {
	ret, err := a.callGuest(ctx, a.initFn)
	if err != nil {
		return fmt.Errorf("lssa: app %q: __app_init trapped: %w", a.cfg.Name, err)
	}
	a.startedAt = time.Now()
	a.drainImmediates(ctx)
	if ret != 0 {
		return fmt.Errorf("lssa: app %q: __app_init returned non-zero code %d", a.cfg.Name, ret)
	}
	a.setState(StateInitialized)
	return nil
}

// MarkRunning transitions the application into the Running state once
// the manager has finished loading every configured application.
func (a *Application) MarkRunning() { a.setState(StateRunning) }

// UptimeMillis reports milliseconds since __app_init returned, surfaced
// by runtime.uptime_millis and the admin stats snapshot.
func (a *Application) UptimeMillis() int64 {
	if a.startedAt.IsZero() {
		return 0
	}
	return time.Since(a.startedAt).Milliseconds()
}

// InvocationCount returns the number of times the guest has been
// re-entered via an invocation thunk, for the admin stats surface.
func (a *Application) InvocationCount() int64 { return a.invocationCount.Load() }

// Invoke1 calls __app_invoke1(target, d0), bumping the invocation
// counter and draining any timer.set_immediate callbacks the guest
// scheduled while handling it.
func (a *Application) Invoke1(ctx context.Context, target, d0 int32) (int32, error) {
	ret, err := a.callGuest(ctx, a.invoke1Fn, uint64(uint32(target)), uint64(uint32(d0)))
	a.drainImmediates(ctx)
	return ret, err
}

// Invoke2 calls __app_invoke2(target, d0, d1).
func (a *Application) Invoke2(ctx context.Context, target, d0, d1 int32) (int32, error) {
	ret, err := a.callGuest(ctx, a.invoke2Fn, uint64(uint32(target)), uint64(uint32(d0)), uint64(uint32(d1)))
	a.drainImmediates(ctx)
	return ret, err
}

// Invoke3 calls __app_invoke3(target, d0, d1, d2).
func (a *Application) Invoke3(ctx context.Context, target, d0, d1, d2 int32) (int32, error) {
	ret, err := a.callGuest(ctx, a.invoke3Fn, uint64(uint32(target)), uint64(uint32(d0)), uint64(uint32(d1)), uint64(uint32(d2)))
	a.drainImmediates(ctx)
	return ret, err
}

// Invoke4 calls __app_invoke4(target, d0, d1, d2, d3). Not used by any
// namespace in v0 but required by the guest ABI.
func (a *Application) Invoke4(ctx context.Context, target, d0, d1, d2, d3 int32) (int32, error) {
	ret, err := a.callGuest(ctx, a.invoke4Fn, uint64(uint32(target)), uint64(uint32(d0)), uint64(uint32(d1)), uint64(uint32(d2)), uint64(uint32(d3)))
	a.drainImmediates(ctx)
	return ret, err
}

// callGuest bumps the inside-counter around a call into the guest's
// exported function, asserting it never goes negative, and records the
// invocation for the admin stats surface.
func (a *Application) callGuest(ctx context.Context, fn api.Function, params ...uint64) (int32, error) {
	a.insideCounter++
	defer func() { a.insideCounter-- }()
	if a.insideCounter <= 0 {
		panic("lssa: inside-counter went non-positive during a guest invocation")
	}
	a.invocationCount.Add(1)

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return api.DecodeI32(results[0]), nil
}

// queueImmediate appends a pending timer.set_immediate callback; it is
// drained once the current top-level guest invocation returns.
func (a *Application) queueImmediate(target, data int32) {
	a.immMu.Lock()
	a.immediateQueue = append(a.immediateQueue, immediateCall{target: target, data: data})
	a.immMu.Unlock()
}

// drainImmediates fires queued set_immediate callbacks in FIFO order. It
// runs at the end of Init and of every Invoke1..Invoke4 call, right after
// the guest returns, so a callback scheduling another
// immediate keeps the chain going without the dispatcher needing to know
// about timers at all.
func (a *Application) drainImmediates(ctx context.Context) {
	for {
		a.immMu.Lock()
		if len(a.immediateQueue) == 0 {
			a.immMu.Unlock()
			return
		}
		next := a.immediateQueue[0]
		a.immediateQueue = a.immediateQueue[1:]
		a.immMu.Unlock()

		if _, err := a.Invoke1(ctx, next.target, next.data); err != nil {
			a.logger.Error("set_immediate callback trapped", "error", err)
		}
	}
}

// spawn runs fn on its own goroutine, tracked by the manager's errgroup
// when one is configured so Shutdown can wait for every namespace
// goroutine (accept loops, connect/read/write, the timer wheel) to
// observe teardown. Falls back to a bare goroutine when no group is
// configured, which is the case for namespace unit tests that construct
// an Application directly.
func (a *Application) spawn(fn func()) {
	if a.group != nil {
		a.group.Go(func() error {
			fn()
			return nil
		})
		return
	}
	go fn()
}

// dispatch hands ev to the owning manager's event channel, unless the
// application has already been torn down.
func (a *Application) dispatch(ev event.Event) {
	if a.closed.Load() {
		return
	}
	a.dispatcher.Dispatch(ev)
}

// StartMigration collects serialized pending state from every namespace
// implementing abi.Migratable, keyed by namespace prefix. Migration is
// not wired to a transport in v0, so the collected state is empty, but
// the hook keeps the handoff shape in place.
func (a *Application) StartMigration() (map[string][]byte, error) {
	state := make(map[string][]byte)
	for _, ns := range a.namespaces {
		m, ok := ns.(abi.Migratable)
		if !ok {
			continue
		}
		data, err := m.StartMigration()
		if err != nil {
			return nil, fmt.Errorf("lssa: app %q: migrating namespace %q: %w", a.cfg.Name, ns.Prefix(), err)
		}
		state[ns.Prefix()] = data
	}
	return state, nil
}

// CompleteMigration restores previously serialized namespace state,
// keyed the same way StartMigration produced it.
func (a *Application) CompleteMigration(state map[string][]byte) error {
	for _, ns := range a.namespaces {
		m, ok := ns.(abi.Migratable)
		if !ok {
			continue
		}
		if err := m.CompleteMigration(state[ns.Prefix()]); err != nil {
			return fmt.Errorf("lssa: app %q: restoring namespace %q: %w", a.cfg.Name, ns.Prefix(), err)
		}
	}
	return nil
}

// Destroy tears the application down: task slab first (cancels in-flight
// borrowed buffers), then namespace state (their goroutines observe the
// closed flag on next completion and skip the invoke), then the wazero
// instance and compiled module.
func (a *Application) Destroy(ctx context.Context) error {
	a.closed.Store(true)
	a.setState(StateClosed)

	a.tasks = slab.New[any]()
	a.timers.stop()
	a.tcpNS.closeAll()
	a.fileNS.closeAll()

	return a.closeRuntime(ctx)
}

func (a *Application) closeRuntime(ctx context.Context) error {
	var firstErr error
	if a.instance != nil {
		if err := a.instance.Close(ctx); err != nil {
			firstErr = fmt.Errorf("lssa: app %q: closing instance: %w", a.cfg.Name, err)
		}
		a.instance = nil
	}
	if a.runtime != nil {
		if err := a.runtime.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("lssa: app %q: closing runtime: %w", a.cfg.Name, err)
		}
		a.runtime = nil
	}
	a.compiled = nil
	return firstErr
}
