// Package dispatch routes incoming D-Bus method calls to handler
// callbacks selected by matching the call's object path against a
// registered set of [PathPattern]s.
package dispatch

import (
	"context"
	"sync"

	"github.com/creachadair/mds/value"

	"busline.dev/dbus/message"
	"busline.dev/dbus/rpc"
	"busline.dev/dbus/transport"
)

// HandlerFunc handles one matched incoming call. It returns a reply
// to send back, nil to send the default empty reply, or an error to
// terminate the owning Conn's Run loop.
type HandlerFunc func(ctx context.Context, captures map[string]string, msg *message.Message, conn *Conn) (*message.Message, error)

type route struct {
	pattern PathPattern
	handler HandlerFunc
}

// Conn routes incoming calls received over an [rpc.Conn] to
// registered handlers by object path.
type Conn struct {
	rpc *rpc.Conn

	mu             sync.Mutex
	routes         []route
	defaultHandler HandlerFunc
}

// New creates a Conn that dispatches calls arriving on r.
func New(r *rpc.Conn) *Conn {
	return &Conn{rpc: r, defaultHandler: unmatchedHandler}
}

// RPC returns the underlying rpc.Conn, for handlers that need to send
// out-of-band messages (signals, additional calls).
func (c *Conn) RPC() *rpc.Conn { return c.rpc }

// Handle registers h for calls whose path matches pattern. Patterns
// are tried in registration order; the first match wins.
func (c *Conn) Handle(pattern string, h HandlerFunc) error {
	p, err := ParsePattern(pattern)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = append(c.routes, route{p, h})
	return nil
}

// SetDefaultHandler replaces the handler used when no registered
// pattern matches an incoming call's path. The default default
// handler replies with an UnknownObject-style error.
func (c *Conn) SetDefaultHandler(h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultHandler = h
}

func (c *Conn) route(msg *message.Message) (HandlerFunc, map[string]string) {
	path, ok := msg.Dyn.Path.GetOK()
	if !ok {
		return c.defaultHandler, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.routes {
		if caps, ok := r.pattern.Match(path); ok {
			return r.handler, caps
		}
	}
	return c.defaultHandler, nil
}

// Run blocks, dispatching incoming calls until ctx is done or a
// handler returns an error. On handler error, Run returns that error
// along with the message that triggered it, so the caller can inspect
// or restart.
func (c *Conn) Run(ctx context.Context) (*message.Message, error) {
	for {
		msg, err := c.rpc.RecvCall(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.dispatchOne(ctx, msg); err != nil {
			return msg, err
		}
	}
}

func (c *Conn) dispatchOne(ctx context.Context, msg *message.Message) error {
	handler, captures := c.route(msg)
	reply, err := handler(ctx, captures, msg, c)
	if err != nil {
		return err
	}
	if msg.Header.Flags&message.FlagNoReplyExpected != 0 {
		return nil
	}
	if reply == nil {
		reply = emptyReply(msg)
	}
	_, err = c.rpc.Send(reply, transport.Infinite())
	return err
}

func emptyReply(call *message.Message) *message.Message {
	reply := &message.Message{
		Header: message.Header{Order: call.Header.Order, Type: message.TypeReply},
	}
	reply.Dyn.ReplySerial = value.Just(call.Header.Serial)
	if sender, ok := call.Dyn.Sender.GetOK(); ok {
		reply.Dyn.Destination = value.Just(sender)
	}
	return reply
}

func unmatchedHandler(_ context.Context, _ map[string]string, msg *message.Message, _ *Conn) (*message.Message, error) {
	reply := &message.Message{
		Header: message.Header{Order: msg.Header.Order, Type: message.TypeError},
	}
	reply.Dyn.ErrorName = value.Just("org.freedesktop.DBus.Error.UnknownObject")
	reply.Dyn.ReplySerial = value.Just(msg.Header.Serial)
	if sender, ok := msg.Dyn.Sender.GetOK(); ok {
		reply.Dyn.Destination = value.Just(sender)
	}
	path, _ := msg.Dyn.Path.GetOK()
	reply.SetBody(&struct{ Detail string }{"Unknown object path " + string(path)})
	return reply, nil
}
