package app

import (
	"context"
	"sync"
	"testing"

	"github.com/lssahost/lssa/internal/event"
	"github.com/lssahost/lssa/internal/permission"
)

// The functions below hand-assemble a minimal but valid Wasm binary
// satisfying the guest ABI: it exports __app_init and
// __app_invoke0..__app_invoke4, each of which ignores its arguments and
// returns 0, plus a one-page memory. This lets namespace and lifecycle
// tests exercise a real wazero-compiled module instead of a fake,
// mirroring how this codebase's transport layer already tests against
// loopback Wasm modules rather than mocking the runtime away.

func uleb128(n uint64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			return out
		}
	}
}

func wasmSection(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb128(uint64(len(content)))...)
	return append(out, content...)
}

func wasmVec(items ...[]byte) []byte {
	out := uleb128(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmFuncType(params, results int) []byte {
	out := []byte{0x60}
	out = append(out, uleb128(uint64(params))...)
	for i := 0; i < params; i++ {
		out = append(out, 0x7F) // i32
	}
	out = append(out, uleb128(uint64(results))...)
	for i := 0; i < results; i++ {
		out = append(out, 0x7F) // i32
	}
	return out
}

func wasmExport(name string, kind byte, idx uint32) []byte {
	out := uleb128(uint64(len(name)))
	out = append(out, []byte(name)...)
	out = append(out, kind)
	return append(out, uleb128(uint64(idx))...)
}

func buildTestGuestModule() []byte {
	magic := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

	typeSec := wasmSection(1, wasmVec(
		wasmFuncType(0, 1), // __app_init
		wasmFuncType(1, 1), // __app_invoke0
		wasmFuncType(2, 1), // __app_invoke1
		wasmFuncType(3, 1), // __app_invoke2
		wasmFuncType(4, 1), // __app_invoke3
		wasmFuncType(5, 1), // __app_invoke4
	))

	funcSec := wasmSection(3, wasmVec(
		uleb128(0), uleb128(1), uleb128(2), uleb128(3), uleb128(4), uleb128(5),
	))

	memEntry := append([]byte{0x00}, uleb128(1)...) // flags=0 (min only), min=1 page
	memSec := wasmSection(5, wasmVec(memEntry))

	exportSec := wasmSection(7, wasmVec(
		wasmExport("mem", 0x02, 0),
		wasmExport("__app_init", 0x00, 0),
		wasmExport("__app_invoke0", 0x00, 1),
		wasmExport("__app_invoke1", 0x00, 2),
		wasmExport("__app_invoke2", 0x00, 3),
		wasmExport("__app_invoke3", 0x00, 4),
		wasmExport("__app_invoke4", 0x00, 5),
	))

	body := func() []byte {
		const_ret0 := []byte{0x00, 0x41, 0x00, 0x0B} // no locals; i32.const 0; end
		out := uleb128(uint64(len(const_ret0)))
		return append(out, const_ret0...)
	}()
	codeSec := wasmSection(10, wasmVec(body, body, body, body, body, body))

	out := append([]byte{}, magic...)
	out = append(out, typeSec...)
	out = append(out, funcSec...)
	out = append(out, memSec...)
	out = append(out, exportSec...)
	out = append(out, codeSec...)
	return out
}

// captureDispatcher records every event handed to it, for tests that want
// to assert on what a namespace scheduled without running a real manager.
// Namespace goroutines call Dispatch concurrently with the test's own
// assertions, so access is mutex-guarded.
type captureDispatcher struct {
	mu     sync.Mutex
	events []event.Event
}

func (d *captureDispatcher) Dispatch(ev event.Event) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
}

func (d *captureDispatcher) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func (d *captureDispatcher) at(i int) event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[i]
}

func (d *captureDispatcher) last() event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events[len(d.events)-1]
}

// newTestApp builds a fully initialized Application against the minimal
// guest module above, with sensible defaults tests can override.
func newTestApp(t *testing.T, cfg Config) (*Application, *captureDispatcher) {
	t.Helper()
	ctx := context.Background()

	if cfg.Name == "" {
		cfg.Name = "test-app"
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 16
	}

	disp := &captureDispatcher{}
	a, err := New(ctx, buildTestGuestModule(), cfg, disp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return a, disp
}

func allowAll() permission.Set {
	return permission.NewSet([]permission.Permission{
		{Kind: permission.Timer},
		{Kind: permission.TcpListenAny},
		{Kind: permission.TcpConnectAny},
		{Kind: permission.FileOpenReadWriteAny},
	})
}
