package abi_test

import (
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/abi"
)

type fakeNamespace struct {
	prefix string
	fields map[string]abi.Field
}

func (n fakeNamespace) Prefix() string               { return n.prefix }
func (n fakeNamespace) Fields() map[string]abi.Field { return n.fields }

func TestRegistryDispatchResolvesKnownField(t *testing.T) {
	called := false
	ns := fakeNamespace{
		prefix: "log",
		fields: map[string]abi.Field{
			"write": {
				Results: []api.ValueType{api.ValueTypeI32},
				Entry: func(*abi.InvokeContext) (uint64, bool, error) {
					called = true
					return 0, false, nil
				},
			},
		},
	}
	registry := abi.NewRegistry(ns)

	field, ok := registry.Dispatch("log", "write")
	if !ok {
		t.Fatal("Dispatch(log, write) = false, want true")
	}
	if _, _, err := field.Entry(nil); err != nil {
		t.Fatalf("Entry returned error: %v", err)
	}
	if !called {
		t.Fatal("Entry was not actually invoked")
	}
}

func TestRegistryDispatchUnknownModuleOrField(t *testing.T) {
	registry := abi.NewRegistry(fakeNamespace{prefix: "log", fields: map[string]abi.Field{
		"write": {Entry: func(*abi.InvokeContext) (uint64, bool, error) { return 0, false, nil }},
	}})

	if _, ok := registry.Dispatch("tcp", "connect"); ok {
		t.Fatal("Dispatch resolved an unregistered module")
	}
	if _, ok := registry.Dispatch("log", "unknown_field"); ok {
		t.Fatal("Dispatch resolved an unregistered field")
	}
}
