// Package errcode defines the small negated-integer error taxonomy that
// crosses the host/guest boundary, mirroring how the rest of this codebase
// keeps a typed code plus a descriptive Go error for logs.
package errcode

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// Code is the error code returned to a guest. Guests always see -Code;
// non-negative return values from a host call are success payloads.
type Code int32

// Pre-defined Code values, matching the guest ABI exactly.
const (
	Success Code = iota
	Generic
	Eof
	Shutdown
	PermissionDenied
	OngoingIO
	InvalidInput
	BindFail
	NotFound
)

// Pre-defined sentinel errors, one per non-zero Code.
var (
	ErrGeneric          = fmt.Errorf("generic error")
	ErrEof              = fmt.Errorf("end of file")
	ErrShutdown         = fmt.Errorf("shutting down")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrOngoingIO        = fmt.Errorf("operation already in flight")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrBindFail         = fmt.Errorf("bind failed")
	ErrNotFound         = fmt.Errorf("not found")
)

var errToCode = map[error]Code{
	ErrGeneric:          Generic,
	ErrEof:              Eof,
	ErrShutdown:         Shutdown,
	ErrPermissionDenied: PermissionDenied,
	ErrOngoingIO:        OngoingIO,
	ErrInvalidInput:     InvalidInput,
	ErrBindFail:         BindFail,
	ErrNotFound:         NotFound,
}

// FromError maps a Go error to its guest-visible Code: the package's own
// sentinels first (matched with errors.Is, so wrapped sentinels still
// map), then the standard library errors host calls commonly surface at
// the boundary. Unrecognized errors map to Generic so a host call never
// leaks an un-encodable error across the boundary.
func FromError(err error) Code {
	if err == nil {
		return Success
	}
	for sentinel, code := range errToCode {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	switch {
	case errors.Is(err, io.EOF):
		return Eof
	case errors.Is(err, os.ErrNotExist):
		return NotFound
	case errors.Is(err, os.ErrExist):
		return InvalidInput
	}
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return InvalidInput
	}
	return Generic
}

// Negated returns the guest-visible encoding of code: all error codes are
// returned to the guest negated so non-negative values stay free to carry
// success payloads such as lengths or handles.
func (c Code) Negated() int32 {
	return -int32(c)
}
