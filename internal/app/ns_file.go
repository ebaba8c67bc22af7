package app

import (
	"errors"
	"io"
	"os"

	"github.com/blang/vfs"
	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/abi"
	"github.com/lssahost/lssa/internal/errcode"
	"github.com/lssahost/lssa/internal/permission"
	"github.com/lssahost/lssa/internal/slab"
)

// fileNamespace implements the file.* host calls. Every call here runs
// synchronously inside the host call, on whichever goroutine is running
// the guest (the dispatcher, or the loader during __app_init), and blocks
// that goroutine until the file operation completes: file I/O is expected
// to be rare enough that this is preferable to the complexity of a
// callback-based async file API.
type fileNamespace struct {
	app *Application
	fs  vfs.Filesystem

	handles *slab.Slab[vfs.File]
}

func newFileNamespace(a *Application) *fileNamespace {
	return &fileNamespace{
		app:     a,
		fs:      vfs.OS(),
		handles: slab.New[vfs.File](),
	}
}

// newFileNamespaceWithFS lets tests swap in an in-memory filesystem
// (github.com/blang/vfs/memfs) instead of the real OS.
func newFileNamespaceWithFS(a *Application, fsys vfs.Filesystem) *fileNamespace {
	return &fileNamespace{app: a, fs: fsys, handles: slab.New[vfs.File]()}
}

func (n *fileNamespace) Prefix() string { return "file" }

func (n *fileNamespace) Fields() map[string]abi.Field {
	i32, i64 := api.ValueTypeI32, api.ValueTypeI64
	return map[string]abi.Field{
		"open": {
			Params:  []api.ValueType{i32, i32, i32, i32},
			Results: []api.ValueType{i32},
			Entry:   n.open,
		},
		"close": {
			Params: []api.ValueType{i32},
			Entry:  n.close,
		},
		"read": {
			Params:  []api.ValueType{i32, i32, i32},
			Results: []api.ValueType{i32},
			Entry:   n.read,
		},
		"write": {
			Params:  []api.ValueType{i32, i32, i32},
			Results: []api.ValueType{i32},
			Entry:   n.write,
		},
		"flush": {
			Params:  []api.ValueType{i32},
			Results: []api.ValueType{i32},
			Entry:   n.flush,
		},
		"seek": {
			Params:  []api.ValueType{i32, i32, i64},
			Results: []api.ValueType{i64},
			Entry:   n.seek,
		},
	}
}

// parseMode decodes the file.open mode string: r read, w write, a append,
// t truncate, c create, n create-new. Any other character is rejected.
// writeCapable is true when any character beyond 'r' is present, which
// decides whether FileOpenReadWriteAny or FileOpenReadOnlyAny is checked.
func parseMode(mode string) (flag int, writeCapable bool, ok bool) {
	var hasRead, hasWrite, hasAppend, hasTrunc, hasCreate, hasCreateNew bool
	for _, c := range mode {
		switch c {
		case 'r':
			hasRead = true
		case 'w':
			hasWrite = true
		case 'a':
			hasAppend = true
		case 't':
			hasTrunc = true
		case 'c':
			hasCreate = true
		case 'n':
			hasCreateNew = true
		default:
			return 0, false, false
		}
	}

	writeCapable = hasWrite || hasAppend || hasTrunc || hasCreate || hasCreateNew
	switch {
	case hasRead && writeCapable:
		flag = os.O_RDWR
	case writeCapable:
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}
	if hasAppend {
		flag |= os.O_APPEND
	}
	if hasTrunc {
		flag |= os.O_TRUNC
	}
	if hasCreate {
		flag |= os.O_CREATE
	}
	if hasCreateNew {
		flag |= os.O_CREATE | os.O_EXCL
	}
	return flag, writeCapable, true
}

func (n *fileNamespace) open(ic *abi.InvokeContext) (uint64, bool, error) {
	path, ok := ic.String(0, 1)
	if !ok {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}
	mode, ok := ic.String(2, 3)
	if !ok {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}

	flag, writeCapable, ok := parseMode(mode)
	if !ok {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}

	kind := permission.FileOpenReadOnlyAny
	if writeCapable {
		kind = permission.FileOpenReadWriteAny
	}
	if err := permission.Check(n.app.Permissions(), permission.Permission{Kind: kind}); err != nil {
		return api.EncodeI32(errcode.FromError(err).Negated()), true, nil
	}

	// The guest-supplied path is opened as-is: file access is gated by
	// the boolean read/write permissions only, with no path sandbox.
	f, err := n.fs.OpenFile(path, flag, 0o644)
	if err != nil {
		return api.EncodeI32(errcode.FromError(err).Negated()), true, nil
	}

	id := n.handles.Insert(f)
	return api.EncodeI32(int32(id)), true, nil
}

func (n *fileNamespace) close(ic *abi.InvokeContext) (uint64, bool, error) {
	id := uint32(ic.I32(0))
	f, ok := n.handles.Take(id)
	if !ok {
		return 0, false, nil
	}
	f.Close()
	return 0, false, nil
}

func (n *fileNamespace) read(ic *abi.InvokeContext) (uint64, bool, error) {
	id := uint32(ic.I32(0))
	f, ok := n.handles.Get(id)
	if !ok {
		return api.EncodeI32(errcode.NotFound.Negated()), true, nil
	}

	buf, ok := ic.BytesMut(1, 2)
	if !ok {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}

	nRead, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return api.EncodeI32(errcode.FromError(err).Negated()), true, nil
	}
	return api.EncodeI32(int32(nRead)), true, nil
}

func (n *fileNamespace) write(ic *abi.InvokeContext) (uint64, bool, error) {
	id := uint32(ic.I32(0))
	f, ok := n.handles.Get(id)
	if !ok {
		return api.EncodeI32(errcode.NotFound.Negated()), true, nil
	}

	data, ok := ic.Bytes(1, 2)
	if !ok {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}

	nWritten, err := f.Write(data)
	if err != nil {
		return api.EncodeI32(errcode.FromError(err).Negated()), true, nil
	}
	return api.EncodeI32(int32(nWritten)), true, nil
}

// syncer is satisfied by *os.File (via vfs.OS()); the memfs test double
// has nothing to flush, so flush is a no-op for any handle that doesn't
// implement it.
type syncer interface {
	Sync() error
}

func (n *fileNamespace) flush(ic *abi.InvokeContext) (uint64, bool, error) {
	id := uint32(ic.I32(0))
	f, ok := n.handles.Get(id)
	if !ok {
		return api.EncodeI32(errcode.NotFound.Negated()), true, nil
	}
	if s, ok := f.(syncer); ok {
		if err := s.Sync(); err != nil {
			return api.EncodeI32(errcode.FromError(err).Negated()), true, nil
		}
	}
	return api.EncodeI32(int32(errcode.Success)), true, nil
}

func (n *fileNamespace) seek(ic *abi.InvokeContext) (uint64, bool, error) {
	id := uint32(ic.I32(0))
	whence := ic.I32(1)
	offset := ic.I64(2)

	f, ok := n.handles.Get(id)
	if !ok {
		return api.EncodeI64(int64(errcode.NotFound.Negated())), true, nil
	}

	var osWhence int
	switch whence {
	case 0:
		osWhence = io.SeekStart
	case 1:
		osWhence = io.SeekEnd
	case 2:
		osWhence = io.SeekCurrent
	default:
		return api.EncodeI64(int64(errcode.InvalidInput.Negated())), true, nil
	}

	newPos, err := f.Seek(offset, osWhence)
	if err != nil {
		return api.EncodeI64(int64(errcode.FromError(err).Negated())), true, nil
	}
	return api.EncodeI64(newPos), true, nil
}

// closeAll closes every outstanding file handle, called once by
// Application.Destroy during teardown.
func (n *fileNamespace) closeAll() {
	n.handles.Each(func(_ uint32, f vfs.File) {
		f.Close()
	})
}
