package app

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/abi"
	"github.com/lssahost/lssa/internal/errcode"
)

// envNamespace implements env.get, looking up a key in the application's
// configured environment map.
type envNamespace struct{ app *Application }

func (n envNamespace) Prefix() string { return "env" }

func (n envNamespace) Fields() map[string]abi.Field {
	return map[string]abi.Field{
		"get": {
			Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			Results: []api.ValueType{api.ValueTypeI32},
			Entry:   n.get,
		},
	}
}

// get implements env.get(key_ptr, key_len, out_ptr, out_len) -> i32.
//
// On success it returns the FULL length of the stored value regardless
// of out_len, writing only min(len, out_len) bytes, so a caller can tell
// it under-sized its buffer by checking ret > out_len.
func (n envNamespace) get(ic *abi.InvokeContext) (uint64, bool, error) {
	key, ok := ic.String(0, 1)
	if !ok {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}

	val, found := n.app.cfg.EnvVars[key]
	if !found {
		return api.EncodeI32(errcode.NotFound.Negated()), true, nil
	}

	outLen := ic.U32(3)
	writeLen := uint32(len(val))
	if writeLen > outLen {
		writeLen = outLen
	}
	if writeLen > 0 && !ic.Write(ic.U32(2), []byte(val)[:writeLen]) {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}

	return api.EncodeI32(int32(len(val))), true, nil
}
