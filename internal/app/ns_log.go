package app

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/abi"
)

// logNamespace implements the log.write host call: it requires no
// permission and simply forwards the guest's message to the
// application-scoped structured logger.
type logNamespace struct{ app *Application }

func (n logNamespace) Prefix() string { return "log" }

func (n logNamespace) Fields() map[string]abi.Field {
	return map[string]abi.Field{
		"write": {
			Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			Results: nil,
			Entry:   n.write,
		},
	}
}

// recognized guest log levels; anything else maps to Info.
const (
	guestLevelError   = 1
	guestLevelWarning = 3
	guestLevelInfo    = 6
)

func (n logNamespace) write(ic *abi.InvokeContext) (uint64, bool, error) {
	level := ic.I32(0)
	msg, ok := ic.String(1, 2)
	if !ok {
		// Malformed guest log calls don't fail the host call: a guest
		// logging garbage is not a reason to trap it. Log what we can.
		n.app.logger.Warn("log.write: guest supplied an invalid UTF-8 string or out-of-bounds pointer")
		return 0, false, nil
	}

	switch level {
	case guestLevelError:
		n.app.logger.Error(msg)
	case guestLevelWarning:
		n.app.logger.Warn(msg)
	default:
		n.app.logger.Info(msg)
	}
	return 0, false, nil
}
