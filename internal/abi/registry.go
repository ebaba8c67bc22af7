package abi

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/log"
)

// NativeEntry is a single host-call implementation. hasResult is false
// for void host calls (e.g. timer.set_immediate); result is only read
// when hasResult is true. An entry returning a non-nil error fails the
// invocation itself (a wasm trap), which is reserved for guest
// programming bugs — domain-level failures (permission denied, bad
// address, an out-of-bounds guest pointer, ...) are instead encoded as a
// negated ErrorCode success value.
type NativeEntry func(ic *InvokeContext) (result uint64, hasResult bool, err error)

// Field describes one (module, field) import: its wazero signature and
// the native entry implementing it.
type Field struct {
	Params  []api.ValueType
	Results []api.ValueType
	Entry   NativeEntry
}

// Namespace groups related host calls under one module prefix, e.g. all
// "tcp.*" imports.
type Namespace interface {
	// Prefix returns the import module name this namespace answers for.
	Prefix() string
	// Fields returns every field this namespace can dispatch.
	Fields() map[string]Field
}

// Migratable is the optional hook pair a namespace may implement to
// serialize its pending state (listening addresses, registered
// callbacks) for handoff to another host, and to restore it on the far
// side. No transport is wired to these hooks in v0, so implementations
// return empty state.
type Migratable interface {
	StartMigration() ([]byte, error)
	CompleteMigration(state []byte) error
}

// Registry aggregates namespaces by prefix, matching a guest import's
// (module, field) pair to the native entry that implements it.
type Registry struct {
	namespaces map[string]Namespace
}

// NewRegistry builds a Registry from the given namespaces. Namespace
// prefixes must be unique.
func NewRegistry(namespaces ...Namespace) *Registry {
	r := &Registry{namespaces: make(map[string]Namespace, len(namespaces))}
	for _, ns := range namespaces {
		r.namespaces[ns.Prefix()] = ns
	}
	return r
}

// Dispatch returns the native entry for (module, field), if any namespace
// claims that prefix and field.
func (r *Registry) Dispatch(module, field string) (Field, bool) {
	ns, ok := r.namespaces[module]
	if !ok {
		return Field{}, false
	}
	f, ok := ns.Fields()[field]
	return f, ok
}

// Install wires every import the compiled module actually declares to its
// native entry, mirroring the "only bind what's imported" discipline
// already used elsewhere in this codebase's wazero wiring: an import the
// registry cannot resolve is left for wazero's own instantiation-time
// error rather than papered over with a stub.
func (r *Registry) Install(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule) error {
	builders := make(map[string]wazero.HostModuleBuilder)

	for _, imported := range compiled.ImportedFunctions() {
		module, field, ok := imported.Import()
		if !ok {
			continue
		}

		spec, ok := r.Dispatch(module, field)
		if !ok {
			log.Debugf("lssa: no native entry for import %s.%s; instantiation will fail if it is required", module, field)
			continue
		}

		b, ok := builders[module]
		if !ok {
			b = rt.NewHostModuleBuilder(module)
		}

		entry := spec.Entry
		builders[module] = b.NewFunctionBuilder().WithGoModuleFunction(
			api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				ic := &InvokeContext{Ctx: ctx, Mod: mod, Stack: stack}
				result, hasResult, err := entry(ic)
				if err != nil {
					panic(fmt.Errorf("lssa: host call %s.%s: %w", module, field, err))
				}
				if hasResult {
					stack[0] = result
				}
			}),
			spec.Params,
			spec.Results,
		).Export(field)
	}

	for module, b := range builders {
		if _, err := b.Instantiate(ctx); err != nil {
			return fmt.Errorf("lssa: instantiating host module %q: %w", module, err)
		}
	}
	return nil
}
