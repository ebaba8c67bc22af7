package app

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/lssahost/lssa/internal/abi"
	"github.com/lssahost/lssa/internal/errcode"
	"github.com/lssahost/lssa/internal/event"
	"github.com/lssahost/lssa/internal/permission"
	"github.com/lssahost/lssa/internal/slab"
)

// tcpStream is one half-duplex-tracked connection: the read and write
// halves are conceptually "taken" for the duration of an in-flight
// operation and "re-inserted" on completion, modeled here with a pair
// of busy flags guarded by the same mutex rather than literally moving
// the halves in and out of the struct, since net.Conn already permits
// one concurrent reader and one concurrent writer safely.
type tcpStream struct {
	conn net.Conn

	mu        sync.Mutex
	readBusy  bool
	writeBusy bool
	closed    bool
}

// tcpNamespace implements the tcp.* host calls: connect, read and write
// return immediately and deliver their outcome through
// invoke2(cb_target, cb_data, result); listen reports the bind outcome as
// its own return value and delivers each accepted stream through
// invoke2; take_buffer, release_buffer and destroy complete synchronously.
type tcpNamespace struct {
	app *Application

	// mu guards listeners, streams, and buffers: host calls run on the
	// dispatcher goroutine while accept/connect/read completions insert
	// from their own goroutines. Never held across an invoke into the
	// guest.
	mu        sync.Mutex
	listeners map[string]net.Listener
	streams   *slab.Slab[*tcpStream]
	buffers   *slab.Slab[[]byte]
}

func newTCPNamespace(a *Application) *tcpNamespace {
	return &tcpNamespace{
		app:       a,
		listeners: make(map[string]net.Listener),
		streams:   slab.New[*tcpStream](),
		buffers:   slab.New[[]byte](),
	}
}

func (n *tcpNamespace) Prefix() string { return "tcp" }

func (n *tcpNamespace) Fields() map[string]abi.Field {
	i32 := api.ValueTypeI32
	return map[string]abi.Field{
		"connect": {
			Params: []api.ValueType{i32, i32, i32, i32},
			Entry:  n.connect,
		},
		"listen": {
			Params:  []api.ValueType{i32, i32, i32, i32},
			Results: []api.ValueType{i32},
			Entry:   n.listen,
		},
		"read": {
			Params: []api.ValueType{i32, i32, i32, i32},
			Entry:  n.read,
		},
		"write": {
			Params: []api.ValueType{i32, i32, i32, i32, i32},
			Entry:  n.write,
		},
		"take_buffer": {
			Params:  []api.ValueType{i32, i32, i32},
			Results: []api.ValueType{i32},
			Entry:   n.takeBuffer,
		},
		"release_buffer": {
			Params: []api.ValueType{i32},
			Entry:  n.releaseBuffer,
		},
		"destroy": {
			Params: []api.ValueType{i32},
			Entry:  n.destroy,
		},
	}
}

// StartMigration and CompleteMigration satisfy abi.Migratable. A full
// handoff would serialize listening address/callback pairs and pending
// read/write callbacks, but migration is not wired to a transport in
// v0, so both hooks are no-ops.
func (n *tcpNamespace) StartMigration() ([]byte, error) { return nil, nil }
func (n *tcpNamespace) CompleteMigration([]byte) error  { return nil }

// deliver2 packages a tcp completion as an event.Event and hands it to
// the application's dispatcher, the same path every async namespace
// uses to re-enter the guest from the single dispatcher goroutine.
func (n *tcpNamespace) deliver2(cbTarget, cbData, result int32) {
	n.app.dispatch(event.Event{
		AppName: n.app.Name(),
		Notify: func(ctx context.Context, target event.Target) error {
			_, err := target.Invoke2(ctx, cbTarget, cbData, result)
			return err
		},
	})
}

func (n *tcpNamespace) connect(ic *abi.InvokeContext) (uint64, bool, error) {
	addr, ok := ic.String(0, 1)
	cbTarget, cbData := ic.I32(2), ic.I32(3)
	if !ok {
		n.deliver2(cbTarget, cbData, errcode.InvalidInput.Negated())
		return 0, false, nil
	}
	n.app.spawn(func() { n.doConnect(addr, cbTarget, cbData) })
	return 0, false, nil
}

func (n *tcpNamespace) doConnect(addr string, cbTarget, cbData int32) {
	if n.app.Closed() {
		return
	}
	if err := permission.Check(n.app.Permissions(), permission.Permission{Kind: permission.TcpConnect, Addr: addr}); err != nil {
		n.deliver2(cbTarget, cbData, errcode.FromError(err).Negated())
		return
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		n.deliver2(cbTarget, cbData, errcode.FromError(err).Negated())
		return
	}
	if n.app.Closed() {
		conn.Close()
		return
	}
	n.mu.Lock()
	id := n.streams.Insert(&tcpStream{conn: conn})
	n.mu.Unlock()
	n.deliver2(cbTarget, cbData, int32(id))
}

func (n *tcpNamespace) listen(ic *abi.InvokeContext) (uint64, bool, error) {
	addr, ok := ic.String(0, 1)
	if !ok {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}
	cbTarget, cbData := ic.I32(2), ic.I32(3)

	if err := permission.Check(n.app.Permissions(), permission.Permission{Kind: permission.TcpListen, Addr: addr}); err != nil {
		return api.EncodeI32(errcode.FromError(err).Negated()), true, nil
	}

	n.mu.Lock()
	if _, exists := n.listeners[addr]; exists {
		n.mu.Unlock()
		// A second listen on an address this application already bound is
		// rejected outright rather than silently overwriting the first
		// listener's callback.
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}
	n.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return api.EncodeI32(errcode.BindFail.Negated()), true, nil
	}

	n.mu.Lock()
	n.listeners[addr] = ln
	n.mu.Unlock()

	n.app.spawn(func() { n.acceptLoop(addr, ln, cbTarget, cbData) })

	return api.EncodeI32(int32(errcode.Success)), true, nil
}

func (n *tcpNamespace) acceptLoop(addr string, ln net.Listener, cbTarget, cbData int32) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return // listener closed, either by teardown or a fatal accept error
		}
		if n.app.Closed() {
			conn.Close()
			return
		}
		n.mu.Lock()
		id := n.streams.Insert(&tcpStream{conn: conn})
		n.mu.Unlock()
		n.deliver2(cbTarget, cbData, int32(id))
	}
}

func (n *tcpNamespace) read(ic *abi.InvokeContext) (uint64, bool, error) {
	streamID := uint32(ic.I32(0))
	maxLen := ic.I32(1)
	cbTarget, cbData := ic.I32(2), ic.I32(3)

	n.mu.Lock()
	st, ok := n.streams.Get(streamID)
	n.mu.Unlock()
	if !ok {
		n.deliver2(cbTarget, cbData, errcode.NotFound.Negated())
		return 0, false, nil
	}

	st.mu.Lock()
	switch {
	case st.closed:
		st.mu.Unlock()
		n.deliver2(cbTarget, cbData, errcode.Generic.Negated())
		return 0, false, nil
	case st.readBusy:
		st.mu.Unlock()
		// A read already in flight does not consume the original
		// callback and does not start a second read.
		n.deliver2(cbTarget, cbData, errcode.OngoingIO.Negated())
		return 0, false, nil
	}
	st.readBusy = true
	st.mu.Unlock()

	n.app.spawn(func() { n.doRead(st, maxLen, cbTarget, cbData) })
	return 0, false, nil
}

func (n *tcpNamespace) doRead(st *tcpStream, maxLen, cbTarget, cbData int32) {
	if maxLen < 0 {
		maxLen = 0
	}
	buf := make([]byte, maxLen)
	nRead, err := st.conn.Read(buf)

	st.mu.Lock()
	st.readBusy = false
	st.mu.Unlock()

	if n.app.Closed() {
		return
	}
	// A Read may return data alongside io.EOF; the data wins, and the
	// guest observes Eof on its next read of the drained stream.
	if nRead == 0 && err != nil {
		n.deliver2(cbTarget, cbData, errcode.FromError(err).Negated())
		return
	}

	n.mu.Lock()
	bufID := n.buffers.Insert(buf[:nRead])
	n.mu.Unlock()
	n.deliver2(cbTarget, cbData, int32(bufID))
}

func (n *tcpNamespace) write(ic *abi.InvokeContext) (uint64, bool, error) {
	streamID := uint32(ic.I32(0))
	data, ok := ic.Bytes(1, 2)
	cbTarget, cbData := ic.I32(3), ic.I32(4)
	if !ok {
		n.deliver2(cbTarget, cbData, errcode.InvalidInput.Negated())
		return 0, false, nil
	}
	// Copy out of guest memory: the guest may reuse or free this region
	// before the write completes.
	owned := make([]byte, len(data))
	copy(owned, data)

	n.mu.Lock()
	st, ok := n.streams.Get(streamID)
	n.mu.Unlock()
	if !ok {
		n.deliver2(cbTarget, cbData, errcode.NotFound.Negated())
		return 0, false, nil
	}

	st.mu.Lock()
	switch {
	case st.closed:
		st.mu.Unlock()
		n.deliver2(cbTarget, cbData, errcode.Generic.Negated())
		return 0, false, nil
	case st.writeBusy:
		st.mu.Unlock()
		n.deliver2(cbTarget, cbData, errcode.OngoingIO.Negated())
		return 0, false, nil
	}
	st.writeBusy = true
	st.mu.Unlock()

	n.app.spawn(func() { n.doWrite(st, owned, cbTarget, cbData) })
	return 0, false, nil
}

func (n *tcpNamespace) doWrite(st *tcpStream, buf []byte, cbTarget, cbData int32) {
	written := 0
	var err error
	for written < len(buf) {
		var nw int
		nw, err = st.conn.Write(buf[written:])
		written += nw
		if err != nil {
			break
		}
	}

	st.mu.Lock()
	st.writeBusy = false
	st.mu.Unlock()

	if n.app.Closed() {
		return
	}
	if err != nil {
		n.deliver2(cbTarget, cbData, errcode.Generic.Negated())
		return
	}
	n.deliver2(cbTarget, cbData, int32(written))
}

func (n *tcpNamespace) takeBuffer(ic *abi.InvokeContext) (uint64, bool, error) {
	bufID := uint32(ic.I32(0))
	maxLen := ic.U32(2)

	n.mu.Lock()
	buf, ok := n.buffers.Take(bufID)
	n.mu.Unlock()
	if !ok {
		return api.EncodeI32(errcode.NotFound.Negated()), true, nil
	}
	if uint32(len(buf)) > maxLen {
		// A caller bug (destination undersized versus the original read
		// request), not a recoverable guest-visible error.
		panic(fmt.Sprintf("lssa: tcp.take_buffer: buffer of %d bytes does not fit in %d-byte destination", len(buf), maxLen))
	}
	if len(buf) > 0 && !ic.Write(ic.U32(1), buf) {
		return api.EncodeI32(errcode.InvalidInput.Negated()), true, nil
	}
	return api.EncodeI32(int32(len(buf))), true, nil
}

func (n *tcpNamespace) releaseBuffer(ic *abi.InvokeContext) (uint64, bool, error) {
	n.mu.Lock()
	n.buffers.Remove(uint32(ic.I32(0)))
	n.mu.Unlock()
	return 0, false, nil
}

func (n *tcpNamespace) destroy(ic *abi.InvokeContext) (uint64, bool, error) {
	id := uint32(ic.I32(0))
	n.mu.Lock()
	st, ok := n.streams.Take(id)
	n.mu.Unlock()
	if !ok {
		return 0, false, nil
	}
	st.mu.Lock()
	st.closed = true
	st.mu.Unlock()
	st.conn.Close()
	return 0, false, nil
}

// closeAll tears down every listener and stream owned by this namespace,
// called once by Application.Destroy during teardown.
func (n *tcpNamespace) closeAll() {
	n.mu.Lock()
	for addr, ln := range n.listeners {
		ln.Close()
		delete(n.listeners, addr)
	}
	streams := make([]*tcpStream, 0, n.streams.Len())
	n.streams.Each(func(_ uint32, st *tcpStream) {
		streams = append(streams, st)
	})
	n.mu.Unlock()

	for _, st := range streams {
		st.mu.Lock()
		st.closed = true
		st.mu.Unlock()
		st.conn.Close()
	}
}
