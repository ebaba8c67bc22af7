package app

import (
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/abi"
	"github.com/lssahost/lssa/internal/permission"
)

// timerNamespace implements timer.now_millis, timer.set_immediate, and
// timer.set_timeout. The latter two require the Timer permission.
type timerNamespace struct{ app *Application }

func (n timerNamespace) Prefix() string { return "timer" }

func (n timerNamespace) Fields() map[string]abi.Field {
	return map[string]abi.Field{
		"now_millis": {
			Results: []api.ValueType{api.ValueTypeI64},
			Entry: func(*abi.InvokeContext) (uint64, bool, error) {
				return api.EncodeI64(time.Now().UnixMilli()), true, nil
			},
		},
		"set_immediate": {
			Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			Entry:  n.setImmediate,
		},
		"set_timeout": {
			Params: []api.ValueType{api.ValueTypeI64, api.ValueTypeI32, api.ValueTypeI32},
			Entry:  n.setTimeout,
		},
	}
}

// checkPermission enforces the Timer permission. timer.set_immediate and
// timer.set_timeout are declared void in the guest ABI, so unlike tcp/file
// there is no result slot to carry -PermissionDenied back synchronously
// or via a callback; a denied registration is simply never scheduled; the
// denial is still observable to the operator via a warning log entry.
func (n timerNamespace) checkPermission() bool {
	if err := permission.Check(n.app.Permissions(), permission.Permission{Kind: permission.Timer}); err != nil {
		n.app.logger.Warn("timer: permission denied", "error", err)
		return false
	}
	return true
}

func (n timerNamespace) setImmediate(ic *abi.InvokeContext) (uint64, bool, error) {
	if !n.checkPermission() {
		return 0, false, nil
	}
	n.app.queueImmediate(ic.I32(0), ic.I32(1))
	return 0, false, nil
}

func (n timerNamespace) setTimeout(ic *abi.InvokeContext) (uint64, bool, error) {
	if !n.checkPermission() {
		return 0, false, nil
	}
	ms := ic.I64(0)
	if ms < 0 {
		ms = 0
	}
	n.app.timers.schedule(time.Duration(ms)*time.Millisecond, ic.I32(1), ic.I32(2))
	return 0, false, nil
}
