package permission_test

import (
	"testing"

	"github.com/lssahost/lssa/internal/permission"
)

func TestCheckTcpListen(t *testing.T) {
	cases := []struct {
		name    string
		perms   []permission.Permission
		check   permission.Permission
		wantErr bool
	}{
		{
			name:  "exact match",
			perms: []permission.Permission{{Kind: permission.TcpListen, Addr: "127.0.0.1:2231"}},
			check: permission.Permission{Kind: permission.TcpListen, Addr: "127.0.0.1:2231"},
		},
		{
			name:    "different address",
			perms:   []permission.Permission{{Kind: permission.TcpListen, Addr: "127.0.0.1:2231"}},
			check:   permission.Permission{Kind: permission.TcpListen, Addr: "127.0.0.1:9999"},
			wantErr: true,
		},
		{
			name:  "satisfied by any",
			perms: []permission.Permission{{Kind: permission.TcpListenAny}},
			check: permission.Permission{Kind: permission.TcpListen, Addr: "0.0.0.0:80"},
		},
		{
			name:    "no permissions at all",
			perms:   nil,
			check:   permission.Permission{Kind: permission.TcpListen, Addr: "0.0.0.0:80"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set := permission.NewSet(tc.perms)
			err := permission.Check(set, tc.check)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCheckFileOpenReadWriteImpliesReadOnly(t *testing.T) {
	set := permission.NewSet([]permission.Permission{{Kind: permission.FileOpenReadWriteAny}})

	if err := permission.Check(set, permission.Permission{Kind: permission.FileOpenReadOnlyAny}); err != nil {
		t.Fatalf("read-write permission should satisfy a read-only check: %v", err)
	}
	if err := permission.Check(set, permission.Permission{Kind: permission.FileOpenReadWriteAny}); err != nil {
		t.Fatalf("read-write permission should satisfy a read-write check: %v", err)
	}
}

func TestCheckFileOpenReadOnlyDoesNotImplyReadWrite(t *testing.T) {
	set := permission.NewSet([]permission.Permission{{Kind: permission.FileOpenReadOnlyAny}})

	if err := permission.Check(set, permission.Permission{Kind: permission.FileOpenReadOnlyAny}); err != nil {
		t.Fatalf("read-only permission should satisfy a read-only check: %v", err)
	}
	if err := permission.Check(set, permission.Permission{Kind: permission.FileOpenReadWriteAny}); err == nil {
		t.Fatal("read-only permission must not satisfy a read-write check")
	}
}

func TestCheckTimer(t *testing.T) {
	if err := permission.Check(permission.NewSet(nil), permission.Permission{Kind: permission.Timer}); err == nil {
		t.Fatal("expected Timer to be denied without the permission granted")
	}
	set := permission.NewSet([]permission.Permission{{Kind: permission.Timer}})
	if err := permission.Check(set, permission.Permission{Kind: permission.Timer}); err != nil {
		t.Fatalf("expected Timer to be allowed: %v", err)
	}
}
