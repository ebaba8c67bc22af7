package app

import (
	"testing"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/abi"
	"github.com/lssahost/lssa/internal/errcode"
)

func TestRuntimeSpecVersion(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ns := runtimeNamespace{a}

	fields := ns.Fields()
	major, _, err := fields["spec_major"].Entry(&abi.InvokeContext{Mod: a.instance})
	if err != nil {
		t.Fatalf("spec_major: %v", err)
	}
	if int32(api.DecodeI32(major)) != hostSpecMajor {
		t.Fatalf("spec_major = %d, want %d", int32(api.DecodeI32(major)), hostSpecMajor)
	}
}

func TestRuntimeNameDefaultsToLssa(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ns := runtimeNamespace{a}

	ic := &abi.InvokeContext{Mod: a.instance, Stack: []uint64{0, 16}}
	raw, _, err := ns.name(ic)
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	if int32(api.DecodeI32(raw)) != int32(len("lssa")) {
		t.Fatalf("name() = %d, want %d", int32(api.DecodeI32(raw)), len("lssa"))
	}
	got, ok := a.instance.Memory().Read(0, 4)
	if !ok || string(got) != "lssa" {
		t.Fatalf("written name = %q, ok=%v, want lssa", got, ok)
	}
}

func TestRuntimeNameUsesConfiguredHostName(t *testing.T) {
	a, _ := newTestApp(t, Config{HostName: "edge-1"})
	ns := runtimeNamespace{a}

	ic := &abi.InvokeContext{Mod: a.instance, Stack: []uint64{0, 16}}
	if _, _, err := ns.name(ic); err != nil {
		t.Fatalf("name: %v", err)
	}
	got, ok := a.instance.Memory().Read(0, 6)
	if !ok || string(got) != "edge-1" {
		t.Fatalf("written name = %q, ok=%v, want edge-1", got, ok)
	}
}

func TestRuntimeNameBufferTooSmallReturnsInvalidInput(t *testing.T) {
	a, _ := newTestApp(t, Config{HostName: "edge-1"})
	ns := runtimeNamespace{a}

	ic := &abi.InvokeContext{Mod: a.instance, Stack: []uint64{0, 2}}
	raw, _, err := ns.name(ic)
	if err != nil {
		t.Fatalf("name: %v", err)
	}
	if int32(api.DecodeI32(raw)) != errcode.InvalidInput.Negated() {
		t.Fatalf("name() = %d, want %d", int32(api.DecodeI32(raw)), errcode.InvalidInput.Negated())
	}
}

func TestRuntimeUptimeMillisIncreasesAfterInit(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	time.Sleep(2 * time.Millisecond)

	ns := runtimeNamespace{a}
	raw, _, err := ns.Fields()["uptime_millis"].Entry(&abi.InvokeContext{Mod: a.instance})
	if err != nil {
		t.Fatalf("uptime_millis: %v", err)
	}
	if int64(raw) < 2 {
		t.Fatalf("uptime_millis() = %d, want >= 2 after a 2ms sleep", int64(raw))
	}
}
