package dbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/value"

	"busline.dev/dbus/dispatch"
	"busline.dev/dbus/message"
	"busline.dev/dbus/rpc"
	"busline.dev/dbus/transport"
	"busline.dev/dbus/wire"
)

// CallError is the error returned for a method call that the peer
// answered with a DBus error reply.
type CallError struct {
	// Name is the error name provided by the remote peer.
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e *CallError) Error() string {
	if e.Detail == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Detail)
}

// CallOption adjusts the behavior of an individual method call.
type CallOption func(*message.Message)

// NoReply marks the call as not expecting a reply. The bus does not
// wait for (or require) the callee to answer.
func NoReply() CallOption {
	return func(m *message.Message) { m.Header.Flags |= message.FlagNoReplyExpected }
}

// NoAutoStart prevents the bus from starting an activatable service
// to handle the call if the destination isn't currently running.
func NoAutoStart() CallOption {
	return func(m *message.Message) { m.Header.Flags |= message.FlagNoAutoStart }
}

// Conn is a connection to a DBus bus. It owns the underlying socket
// and layers request/reply bookkeeping (package rpc) and incoming-call
// routing (package dispatch) on top of it.
type Conn struct {
	transport *transport.Conn
	rpc       *rpc.Conn
	dispatch  *dispatch.Conn

	name atomic.Pointer[string]

	signalPumpOnce sync.Once

	watchersMu     sync.Mutex
	watchers       mapset.Set[*Watcher]
	watchersClosed bool

	claimsMu sync.Mutex
	claims   mapset.Set[*Claim]
}

// Dial opens a raw connection to the DBus-style Unix socket at
// address and performs the SASL handshake, but does not call Hello.
// Most callers want [SessionBus] or [SystemBus] instead.
func Dial(ctx context.Context, address string, opts ...transport.Option) (*Conn, error) {
	t, err := transport.Dial(ctx, address, opts...)
	if err != nil {
		return nil, err
	}
	r := rpc.New(t)
	return &Conn{
		transport: t,
		rpc:       r,
		dispatch:  dispatch.New(r),
	}, nil
}

// RPC returns the underlying rpc.Conn, for callers that need the
// lower-level signal/call/reply API directly.
func (c *Conn) RPC() *rpc.Conn { return c.rpc }

// Close closes the underlying connection, and shuts down every
// Watcher and Claim still open on it.
func (c *Conn) Close() error {
	c.watchersMu.Lock()
	ws := c.watchers
	c.watchers = nil
	c.watchersClosed = true
	c.watchersMu.Unlock()
	for w := range ws {
		w.Close()
	}

	c.claimsMu.Lock()
	cs := c.claims
	c.claims = nil
	c.claimsMu.Unlock()
	for cl := range cs {
		cl.Close()
	}

	return c.transport.Close()
}

// Handle registers a handler for incoming calls whose object path
// matches pattern. See [dispatch.PathPattern] for the pattern syntax.
func (c *Conn) Handle(pattern string, h dispatch.HandlerFunc) error {
	return c.dispatch.Handle(pattern, h)
}

// Run dispatches incoming calls until ctx is done or a handler
// returns an error, in which case Run returns that error along with
// the offending message.
func (c *Conn) Run(ctx context.Context) (*message.Message, error) {
	return c.dispatch.Run(ctx)
}

// LocalName returns the unique connection name the bus assigned to
// this Conn in its Hello reply, or "" before Hello has completed.
func (c *Conn) LocalName() string {
	if p := c.name.Load(); p != nil {
		return *p
	}
	return ""
}

// Hello performs the mandatory first call every DBus client must make
// after connecting: it registers with the bus and learns the unique
// connection name assigned to this Conn.
func (c *Conn) Hello(ctx context.Context) (string, error) {
	var name string
	if err := c.Call(ctx, "org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "Hello", nil, &name); err != nil {
		return "", err
	}
	c.name.Store(&name)
	return name, nil
}

// Call invokes method on the object at path, owned by destination,
// sending body as the call arguments (nil for no arguments) and
// decoding the reply into response (nil to discard it). Call blocks
// until the reply arrives or ctx is done.
func (c *Conn) Call(ctx context.Context, destination string, path wire.ObjectPath, iface, method string, body any, response any, opts ...CallOption) error {
	msg, err := c.newCall(destination, path, iface, method, body, opts)
	if err != nil {
		return err
	}
	noReply := msg.Header.Flags&message.FlagNoReplyExpected != 0

	serial, err := c.rpc.Send(msg, deadlineTimeout(ctx))
	if err != nil {
		return err
	}
	if noReply {
		return nil
	}

	reply, err := c.rpc.RecvReply(ctx, serial)
	if err != nil {
		return err
	}
	if reply.Header.Type == message.TypeError {
		name, _ := reply.Dyn.ErrorName.GetOK()
		detail, _ := reply.ErrorDetail()
		return &CallError{Name: name, Detail: detail}
	}
	if response == nil {
		return nil
	}
	return reply.Decode(response)
}

// Signal broadcasts a signal from the object at path, in interface
// iface, with the given member name and body.
func (c *Conn) Signal(path wire.ObjectPath, iface, member string, body any) error {
	msg := &message.Message{
		Header: message.Header{Order: wire.NativeEndian, Type: message.TypeSignal},
	}
	msg.Dyn.Path = value.Just(path)
	msg.Dyn.Interface = value.Just(iface)
	msg.Dyn.Member = value.Just(member)
	if body != nil {
		if err := msg.SetBody(body); err != nil {
			return err
		}
	}
	_, err := c.rpc.Send(msg, transport.Infinite())
	return err
}

func (c *Conn) newCall(destination string, path wire.ObjectPath, iface, method string, body any, opts []CallOption) (*message.Message, error) {
	msg := &message.Message{
		Header: message.Header{Order: wire.NativeEndian, Type: message.TypeCall},
	}
	msg.Dyn.Destination = value.Just(destination)
	msg.Dyn.Path = value.Just(path)
	msg.Dyn.Member = value.Just(method)
	if iface != "" {
		msg.Dyn.Interface = value.Just(iface)
	}
	if body != nil {
		if err := msg.SetBody(body); err != nil {
			return nil, err
		}
	}
	for _, opt := range opts {
		opt(msg)
	}
	return msg, nil
}

func deadlineTimeout(ctx context.Context) transport.Timeout {
	if dl, ok := ctx.Deadline(); ok {
		return transport.Duration(time.Until(dl))
	}
	return transport.Infinite()
}
