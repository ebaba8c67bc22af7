package errcode_test

import (
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/lssahost/lssa/internal/errcode"
)

func TestNegated(t *testing.T) {
	cases := []struct {
		code errcode.Code
		want int32
	}{
		{errcode.Success, 0},
		{errcode.Generic, -1},
		{errcode.NotFound, -8},
	}
	for _, tc := range cases {
		if got := tc.code.Negated(); got != tc.want {
			t.Errorf("%v.Negated() = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestFromErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want errcode.Code
	}{
		{errcode.ErrGeneric, errcode.Generic},
		{errcode.ErrEof, errcode.Eof},
		{errcode.ErrShutdown, errcode.Shutdown},
		{errcode.ErrPermissionDenied, errcode.PermissionDenied},
		{errcode.ErrOngoingIO, errcode.OngoingIO},
		{errcode.ErrInvalidInput, errcode.InvalidInput},
		{errcode.ErrBindFail, errcode.BindFail},
		{errcode.ErrNotFound, errcode.NotFound},
	}
	for _, tc := range cases {
		if got := errcode.FromError(tc.err); got != tc.want {
			t.Errorf("FromError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestFromErrorMapsWrappedSentinels(t *testing.T) {
	wrapped := fmt.Errorf("opening socket: %w", errcode.ErrPermissionDenied)
	if got := errcode.FromError(wrapped); got != errcode.PermissionDenied {
		t.Errorf("FromError(wrapped) = %v, want PermissionDenied", got)
	}
}

func TestFromErrorMapsStandardLibraryErrors(t *testing.T) {
	cases := []struct {
		err  error
		want errcode.Code
	}{
		{io.EOF, errcode.Eof},
		{&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, errcode.NotFound},
		{&os.PathError{Op: "open", Path: "x", Err: os.ErrExist}, errcode.InvalidInput},
		{&net.OpError{Op: "dial", Err: &net.AddrError{Err: "missing port in address", Addr: "bogus"}}, errcode.InvalidInput},
	}
	for _, tc := range cases {
		if got := errcode.FromError(tc.err); got != tc.want {
			t.Errorf("FromError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestFromErrorNilIsSuccess(t *testing.T) {
	if got := errcode.FromError(nil); got != errcode.Success {
		t.Errorf("FromError(nil) = %v, want Success", got)
	}
}

func TestFromErrorUnrecognizedIsGeneric(t *testing.T) {
	if got := errcode.FromError(errUnmapped{}); got != errcode.Generic {
		t.Errorf("FromError(unrecognized) = %v, want Generic", got)
	}
}

type errUnmapped struct{}

func (errUnmapped) Error() string { return "unmapped" }
