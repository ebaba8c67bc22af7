package app

import (
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/abi"
	"github.com/lssahost/lssa/internal/errcode"
)

func writeString(t *testing.T, mod api.Module, offset uint32, s string) {
	t.Helper()
	if !mod.Memory().Write(offset, []byte(s)) {
		t.Fatalf("writing %q at offset %d failed", s, offset)
	}
}

func TestEnvGetReturnsFullLengthAndTruncatesBuffer(t *testing.T) {
	a, _ := newTestApp(t, Config{EnvVars: map[string]string{"FOO": "hello world"}})
	ns := envNamespace{a}

	writeString(t, a.instance, 0, "FOO")
	const outOffset = 100
	ic := &abi.InvokeContext{
		Ctx:   nil,
		Mod:   a.instance,
		Stack: []uint64{0, 3, outOffset, 4}, // key at 0..3, 4-byte output buffer
	}

	raw, _, err := ns.get(ic)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got := int32(api.DecodeI32(raw))
	if got != int32(len("hello world")) {
		t.Fatalf("get() = %d, want full length %d", got, len("hello world"))
	}

	written, ok := a.instance.Memory().Read(outOffset, 4)
	if !ok || string(written) != "hell" {
		t.Fatalf("buffer contents = %q, ok=%v, want \"hell\"", written, ok)
	}
}

func TestEnvGetMissingKeyReturnsNotFound(t *testing.T) {
	a, _ := newTestApp(t, Config{EnvVars: map[string]string{}})
	ns := envNamespace{a}

	writeString(t, a.instance, 0, "MISSING")
	ic := &abi.InvokeContext{Mod: a.instance, Stack: []uint64{0, 7, 200, 10}}

	raw, _, err := ns.get(ic)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if int32(api.DecodeI32(raw)) != errcode.NotFound.Negated() {
		t.Fatalf("get() = %d, want %d", int32(api.DecodeI32(raw)), errcode.NotFound.Negated())
	}
}

func TestEnvGetInvalidUTF8KeyReturnsInvalidInput(t *testing.T) {
	a, _ := newTestApp(t, Config{})
	ns := envNamespace{a}

	if !a.instance.Memory().Write(0, []byte{0xff, 0xfe}) {
		t.Fatal("writing invalid key bytes failed")
	}
	ic := &abi.InvokeContext{Mod: a.instance, Stack: []uint64{0, 2, 200, 10}}

	raw, _, err := ns.get(ic)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if int32(api.DecodeI32(raw)) != errcode.InvalidInput.Negated() {
		t.Fatalf("get() = %d, want %d", int32(api.DecodeI32(raw)), errcode.InvalidInput.Negated())
	}
}
