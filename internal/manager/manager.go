// Package manager implements the application manager: it owns every
// loaded Application, the single event channel every namespace
// goroutine completes work onto, and the one dispatcher goroutine that
// serializes guest re-entry across the whole host process.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/lssahost/lssa/internal/app"
	"github.com/lssahost/lssa/internal/config"
	"github.com/lssahost/lssa/internal/event"
	"github.com/lssahost/lssa/internal/log"
)

// eventChannelCapacity bounds how far the dispatcher may fall behind the
// namespace goroutines producing events before they start getting
// dropped; sized generously since a single host process typically
// shepherds a handful of applications.
const eventChannelCapacity = 256

// AppManager owns the name->Application map and routes every event
// produced by any application's namespaces back to the right guest.
type AppManager struct {
	logger *log.Logger

	mu    sync.Mutex
	order []string
	apps  map[string]*app.Application

	events chan event.Event

	startedAt time.Time
	group     *errgroup.Group
}

// New returns an AppManager with no applications loaded yet.
func New() *AppManager {
	return &AppManager{
		logger: log.Default(),
		apps:   make(map[string]*app.Application),
		events: make(chan event.Event, eventChannelCapacity),
	}
}

// Dispatch implements app.Dispatcher. Every namespace goroutine across
// every loaded application calls this to hand off a completed operation;
// only Run's loop ever receives from the channel.
func (m *AppManager) Dispatch(ev event.Event) {
	select {
	case m.events <- ev:
	default:
		// A full channel means the dispatcher has fallen far behind;
		// blocking here would stall the namespace goroutine that owns the
		// underlying socket or timer. Log and drop instead.
		m.logger.Error("event channel full, dropping event", "app", ev.AppName)
	}
}

// Load compiles and initializes every application named by hc, in
// declaration order. A single application's failure to load is logged as
// a warning and that application is skipped; the rest still load.
func (m *AppManager) Load(ctx context.Context, hc *config.HostConfig) {
	m.startedAt = time.Now()
	eg, _ := errgroup.WithContext(ctx)
	m.group = eg

	for _, ref := range hc.Applications {
		if err := m.loadOne(ctx, ref); err != nil {
			m.logger.Warn("skipping application", "app", ref.Name, "error", err)
		}
	}
}

func (m *AppManager) loadOne(ctx context.Context, ref config.ApplicationRef) error {
	meta, perms, err := config.LoadAppMetadata(ref.Path)
	if err != nil {
		return err
	}

	binPath := filepath.Join(ref.Path, meta.Bin)
	moduleBytes, err := os.ReadFile(binPath)
	if err != nil {
		return fmt.Errorf("manager: app %q: reading binary %q: %w", ref.Name, binPath, err)
	}

	cfg := app.Config{
		Name:        ref.Name,
		EnvVars:     ref.Env,
		Permissions: perms,
		MinPages:    ref.MinPages(),
		MaxPages:    ref.MaxPages(),
		HostName:    "lssa",
		Group:       m.group,
	}

	a, err := app.New(ctx, moduleBytes, cfg, m)
	if err != nil {
		return err
	}

	if err := a.Init(ctx); err != nil {
		a.Destroy(ctx)
		return err
	}
	a.MarkRunning()

	m.mu.Lock()
	m.apps[ref.Name] = a
	m.order = append(m.order, ref.Name)
	m.mu.Unlock()

	return nil
}

// Run drains the event channel, delivering each event to its named
// application, until ctx is cancelled. A panicking guest invocation is
// recovered and logged rather than aborting the host, so one
// application's trap cannot take down another.
func (m *AppManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.deliver(ctx, ev)
		}
	}
}

func (m *AppManager) deliver(ctx context.Context, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("guest invocation panicked, dropping event", "app", ev.AppName, "panic", r)
		}
	}()

	m.mu.Lock()
	a, ok := m.apps[ev.AppName]
	m.mu.Unlock()
	if !ok || a.Closed() {
		return
	}

	if err := ev.Notify(ctx, a); err != nil {
		m.logger.Error("guest invocation failed", "app", ev.AppName, "error", err)
	}
}

// Shutdown tears down every application in load order, then waits for
// every errgroup-tracked namespace goroutine (accept loops, timer
// wheels, in-flight reads/writes) to observe teardown and return.
func (m *AppManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, name := range order {
		m.mu.Lock()
		a, ok := m.apps[name]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if err := a.Destroy(ctx); err != nil {
			m.logger.Error("error tearing down application", "app", name, "error", err)
		}
	}

	if m.group != nil {
		if err := m.group.Wait(); err != nil {
			m.logger.Error("namespace goroutine returned an error during shutdown", "error", err)
		}
	}
}

// Snapshot is the admin stats surface's read-only view of one loaded
// application.
type Snapshot struct {
	Name            string `yaml:"name"`
	State           string `yaml:"state"`
	UptimeMillis    int64  `yaml:"uptime_millis"`
	InvocationCount int64  `yaml:"invocation_count"`
}

// Stats is the process-level admin snapshot rendered by internal/stats.
type Stats struct {
	HostUptimeMillis int64      `yaml:"host_uptime_millis"`
	Applications     []Snapshot `yaml:"applications"`
}

// Stats returns the current snapshot: host uptime plus one Snapshot per
// loaded application, sorted by name for deterministic output.
func (m *AppManager) Stats() Stats {
	m.mu.Lock()
	names := append([]string(nil), m.order...)
	m.mu.Unlock()

	slices.Sort(names)

	snaps := make([]Snapshot, 0, len(names))
	for _, name := range names {
		m.mu.Lock()
		a, ok := m.apps[name]
		m.mu.Unlock()
		if !ok {
			continue
		}
		snaps = append(snaps, Snapshot{
			Name:            name,
			State:           a.State().String(),
			UptimeMillis:    a.UptimeMillis(),
			InvocationCount: a.InvocationCount(),
		})
	}

	return Stats{
		HostUptimeMillis: time.Since(m.startedAt).Milliseconds(),
		Applications:     snaps,
	}
}
