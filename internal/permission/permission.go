// Package permission implements the declarative capability checks every
// side-effecting host call must pass before it touches a socket, a file,
// or the clock.
package permission

import (
	"fmt"

	"github.com/lssahost/lssa/internal/errcode"
)

// ErrPermissionDenied is returned by Check when the application's
// permission set does not grant the requested capability. It is the
// errcode sentinel, so a host-call boundary maps a failed Check with
// errcode.FromError like any other operation error.
var ErrPermissionDenied = errcode.ErrPermissionDenied

// Kind enumerates the tags a Permission may carry.
type Kind int

const (
	Timer Kind = iota
	TcpListen
	TcpListenAny
	TcpConnect
	TcpConnectAny
	FileOpenReadOnlyAny
	FileOpenReadWriteAny
)

// Permission is a tagged variant: most kinds carry no data, but
// TcpListen/TcpConnect carry the exact address they authorize.
type Permission struct {
	Kind Kind
	Addr string // only meaningful for TcpListen/TcpConnect
}

func (p Permission) String() string {
	switch p.Kind {
	case Timer:
		return "timer"
	case TcpListen:
		return fmt.Sprintf("tcp-listen(%s)", p.Addr)
	case TcpListenAny:
		return "tcp-listen-any"
	case TcpConnect:
		return fmt.Sprintf("tcp-connect(%s)", p.Addr)
	case TcpConnectAny:
		return "tcp-connect-any"
	case FileOpenReadOnlyAny:
		return "file-open-readonly-any"
	case FileOpenReadWriteAny:
		return "file-open-readwrite-any"
	default:
		return "unknown"
	}
}

// Set is the permission set configured for one application.
type Set struct {
	perms []Permission
}

// NewSet builds a Set from a slice of permissions.
func NewSet(perms []Permission) Set {
	return Set{perms: perms}
}

func (s Set) has(kind Kind) bool {
	for _, p := range s.perms {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

func (s Set) hasExact(kind Kind, addr string) bool {
	for _, p := range s.perms {
		if p.Kind == kind && p.Addr == addr {
			return true
		}
	}
	return false
}

// AllowTimer reports whether the set grants the Timer permission.
func (s Set) AllowTimer() bool {
	return s.has(Timer)
}

// AllowTcpListen reports whether the set permits binding a TCP listener
// on addr: satisfied by TcpListenAny or an exact TcpListen(addr) match.
func (s Set) AllowTcpListen(addr string) bool {
	return s.has(TcpListenAny) || s.hasExact(TcpListen, addr)
}

// AllowTcpConnect reports whether the set permits dialing addr.
func (s Set) AllowTcpConnect(addr string) bool {
	return s.has(TcpConnectAny) || s.hasExact(TcpConnect, addr)
}

// AllowFileOpen reports whether the set permits opening a file in the
// given mode. Read-write implies read-only: a write-capable open requires
// FileOpenReadWriteAny outright, while a read-only open is satisfied by
// either permission.
func (s Set) AllowFileOpen(writeCapable bool) bool {
	if writeCapable {
		return s.has(FileOpenReadWriteAny)
	}
	return s.has(FileOpenReadOnlyAny) || s.has(FileOpenReadWriteAny)
}

// List returns the permissions in this set, for diagnostic logging.
func (s Set) List() []Permission {
	return s.perms
}

// Check is the public contract every side-effecting host call consults:
// it returns nil iff perm is granted by set, exactly matching
// structurally except where TcpListen/TcpConnect/FileOpen are satisfied
// by their "Any" counterpart.
func Check(s Set, perm Permission) error {
	var ok bool
	switch perm.Kind {
	case Timer:
		ok = s.AllowTimer()
	case TcpListen:
		ok = s.AllowTcpListen(perm.Addr)
	case TcpListenAny:
		ok = s.has(TcpListenAny)
	case TcpConnect:
		ok = s.AllowTcpConnect(perm.Addr)
	case TcpConnectAny:
		ok = s.has(TcpConnectAny)
	case FileOpenReadOnlyAny:
		ok = s.AllowFileOpen(false)
	case FileOpenReadWriteAny:
		ok = s.AllowFileOpen(true)
	default:
		ok = false
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}
