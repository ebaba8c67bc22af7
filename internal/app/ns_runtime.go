package app

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/abi"
	"github.com/lssahost/lssa/internal/errcode"
)

// hostSpecMajor and hostSpecMinor are the guest-visible ABI version this
// implementation speaks.
const (
	hostSpecMajor = 0
	hostSpecMinor = 0
)

// runtimeNamespace implements the runtime.* host calls that expose
// read-only metadata about the host process and this application's
// running time to the guest.
type runtimeNamespace struct{ app *Application }

func (n runtimeNamespace) Prefix() string { return "runtime" }

func (n runtimeNamespace) Fields() map[string]abi.Field {
	return map[string]abi.Field{
		"spec_major": {
			Results: []api.ValueType{api.ValueTypeI32},
			Entry: func(*abi.InvokeContext) (uint64, bool, error) {
				return api.EncodeI32(hostSpecMajor), true, nil
			},
		},
		"spec_minor": {
			Results: []api.ValueType{api.ValueTypeI32},
			Entry: func(*abi.InvokeContext) (uint64, bool, error) {
				return api.EncodeI32(hostSpecMinor), true, nil
			},
		},
		"name": {
			Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			Results: []api.ValueType{api.ValueTypeI32},
			Entry:   n.name,
		},
		"uptime_millis": {
			Results: []api.ValueType{api.ValueTypeI64},
			Entry: func(*abi.InvokeContext) (uint64, bool, error) {
				return api.EncodeI64(n.app.UptimeMillis()), true, nil
			},
		},
	}
}

func (n runtimeNamespace) name(ic *abi.InvokeContext) (uint64, bool, error) {
	hostName := n.app.cfg.HostName
	if hostName == "" {
		hostName = "lssa"
	}

	outLen := ic.U32(1)
	if uint32(len(hostName)) > outLen {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}
	if !ic.Write(ic.U32(0), []byte(hostName)) {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}
	return api.EncodeI32(int32(len(hostName))), true, nil
}
