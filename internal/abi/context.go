// Package abi implements the namespace registry and the bounded guest-
// memory access helpers every native entry uses instead of reaching into
// an api.Module directly.
package abi

import (
	"context"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
)

// InvokeContext wraps the calling module and the raw parameter/result
// stack wazero hands a host function, the same way every namespace below
// the registry is typed: no namespace reaches into guest memory on its
// own.
type InvokeContext struct {
	Ctx   context.Context
	Mod   api.Module
	Stack []uint64
}

// I32 reads the i-th stack slot as a signed 32-bit value.
func (ic *InvokeContext) I32(i int) int32 {
	return int32(uint32(ic.Stack[i]))
}

// U32 reads the i-th stack slot as an unsigned 32-bit value, typically a
// guest memory offset or length.
func (ic *InvokeContext) U32(i int) uint32 {
	return uint32(ic.Stack[i])
}

// I64 reads the i-th stack slot as a signed 64-bit value.
func (ic *InvokeContext) I64(i int) int64 {
	return int64(ic.Stack[i])
}

// SetI32 stores a signed 32-bit result.
func (ic *InvokeContext) SetI32(v int32) {
	ic.Stack[0] = uint64(uint32(v))
}

// SetI64 stores a signed 64-bit result.
func (ic *InvokeContext) SetI64(v int64) {
	ic.Stack[0] = uint64(v)
}

// Bytes extracts a read-only view of guest memory at
// [stack[ptrIdx], stack[ptrIdx]+stack[lenIdx]). It reports false if the
// range does not lie entirely within the current linear memory, per the
// bounds invariant every host call must honor.
func (ic *InvokeContext) Bytes(ptrIdx, lenIdx int) ([]byte, bool) {
	return ic.Mod.Memory().Read(ic.U32(ptrIdx), ic.U32(lenIdx))
}

// BytesMut extracts the same backing memory as Bytes, but callers may
// write through the returned slice to mutate guest memory in place; this
// is how take_buffer and file.read deliver bytes into a guest buffer.
func (ic *InvokeContext) BytesMut(ptrIdx, lenIdx int) ([]byte, bool) {
	return ic.Mod.Memory().Read(ic.U32(ptrIdx), ic.U32(lenIdx))
}

// String extracts a UTF-8 string from guest memory. Invalid UTF-8 fails
// the host call rather than silently truncating or replacing bytes.
func (ic *InvokeContext) String(ptrIdx, lenIdx int) (string, bool) {
	b, ok := ic.Bytes(ptrIdx, lenIdx)
	if !ok || !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

// Write copies data into guest memory starting at offset, reporting
// false if the destination range is out of bounds.
func (ic *InvokeContext) Write(offset uint32, data []byte) bool {
	return ic.Mod.Memory().Write(offset, data)
}
