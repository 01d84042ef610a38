// Package rpc layers request/reply and signal/call FIFOs on top of a
// raw [transport.Conn]: it classifies every inbound message by type,
// answers filtered-out calls with an UnknownMethod error, and lets
// callers retrieve signals, calls and replies either non-blockingly
// or with a blocking wait.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/mds/value"

	"busline.dev/dbus/message"
	"busline.dev/dbus/transport"
)

// ErrInvalidMessageType is returned when a received message has the
// invalid (zero) message type.
var ErrInvalidMessageType = errors.New("rpc: received message with invalid type")

// Conn wraps a [transport.Conn] with classification of inbound
// messages into signal/call FIFOs and a reply-serial map.
//
// Conn is not safe for concurrent Recv-family calls from multiple
// goroutines (only one goroutine may be pulling bytes off the wire at
// a time), but TryRecv* and Send may be called concurrently with a
// goroutine that's blocked in RefillOnce, since they only touch the
// mutex-guarded classification state.
type Conn struct {
	t *transport.Conn

	// Filter sees every inbound message before it is classified. A
	// nil Filter accepts everything. Filtered-out calls receive an
	// automatic UnknownMethod error reply; filtered-out
	// replies/errors/signals are dropped silently.
	Filter func(*message.Message) bool

	mu             sync.Mutex
	signals        queue.Queue[*message.Message]
	calls          queue.Queue[*message.Message]
	replies        map[uint32]*message.Message
	pendingUnknown []*message.Message
}

// New wraps t in an rpc.Conn.
func New(t *transport.Conn) *Conn {
	return &Conn{
		t:       t,
		replies: map[uint32]*message.Message{},
	}
}

// Transport returns the underlying low-level connection, for callers
// that need direct access (e.g. package dispatch sending replies).
func (c *Conn) Transport() *transport.Conn { return c.t }

// Send marshals and sends msg, assigning it a serial if it doesn't
// already have one, and returns that serial.
func (c *Conn) Send(msg *message.Message, timeout transport.Timeout) (uint32, error) {
	sc, err := c.t.NewSend(msg)
	if err != nil {
		return 0, err
	}
	if err := sc.WriteAll(timeout); err != nil {
		return 0, err
	}
	return sc.Serial(), nil
}

func (c *Conn) filterAccepts(msg *message.Message) bool {
	return c.Filter == nil || c.Filter(msg)
}

// classify reads msg's type and files it into the appropriate FIFO or
// reply slot. If sendUnknownNow is true, a filtered-out call's
// UnknownMethod reply is sent immediately; otherwise it is queued in
// pendingUnknown for the caller to flush later (the shape RefillAll
// uses, per the design's "non-blocking drain" contract).
func (c *Conn) classify(msg *message.Message, sendUnknownNow bool) error {
	switch msg.Header.Type {
	case message.TypeCall:
		if c.filterAccepts(msg) {
			c.mu.Lock()
			c.calls.Add(msg)
			c.mu.Unlock()
			return nil
		}
		reply := unknownMethodReply(msg)
		if sendUnknownNow {
			sc, err := c.t.NewSend(reply)
			if err != nil {
				return err
			}
			return sc.WriteAll(transport.Infinite())
		}
		c.mu.Lock()
		c.pendingUnknown = append(c.pendingUnknown, reply)
		c.mu.Unlock()
		return nil

	case message.TypeSignal:
		if c.filterAccepts(msg) {
			c.mu.Lock()
			c.signals.Add(msg)
			c.mu.Unlock()
		}
		return nil

	case message.TypeReply, message.TypeError:
		if c.filterAccepts(msg) {
			if serial, ok := msg.Dyn.ReplySerial.GetOK(); ok {
				c.mu.Lock()
				c.replies[serial] = msg
				c.mu.Unlock()
			}
		}
		return nil

	default:
		return ErrInvalidMessageType
	}
}

// RefillOnce reads and classifies exactly one message from the
// transport, blocking up to timeout. A filtered-out call is answered
// immediately with an UnknownMethod error.
func (c *Conn) RefillOnce(timeout transport.Timeout) error {
	msg, err := c.t.Recv(timeout)
	if err != nil {
		return err
	}
	return c.classify(msg, true)
}

// RefillAll drains the socket with non-blocking reads until it would
// block, classifying every message it sees along the way. Reaching
// ErrTimedOut (no more data ready) is not an error: it means the
// drain is complete. Filtered-out calls accumulate their
// UnknownMethod reply rather than sending it immediately; call
// FlushUnknownMethodReplies to send them at a convenient time.
func (c *Conn) RefillAll() error {
	for {
		msg, err := c.t.Recv(transport.Nonblock())
		if errors.Is(err, transport.ErrTimedOut) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.classify(msg, false); err != nil {
			return err
		}
	}
}

// FlushUnknownMethodReplies sends every UnknownMethod error reply
// accumulated by RefillAll since the last flush.
func (c *Conn) FlushUnknownMethodReplies() error {
	c.mu.Lock()
	pending := c.pendingUnknown
	c.pendingUnknown = nil
	c.mu.Unlock()
	for _, reply := range pending {
		sc, err := c.t.NewSend(reply)
		if err != nil {
			return err
		}
		if err := sc.WriteAll(transport.Infinite()); err != nil {
			return err
		}
	}
	return nil
}

// TryRecvSignal returns the oldest buffered signal, if any.
func (c *Conn) TryRecvSignal() (*message.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signals.Pop()
}

// TryRecvCall returns the oldest buffered incoming call, if any.
func (c *Conn) TryRecvCall() (*message.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls.Pop()
}

// TryRecvReply returns the buffered reply or error for serial, if one
// has arrived.
func (c *Conn) TryRecvReply(serial uint32) (*message.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.replies[serial]
	if ok {
		delete(c.replies, serial)
	}
	return msg, ok
}

// RecvSignal blocks (refilling from the transport as needed) until a
// signal is available or ctx is done.
func (c *Conn) RecvSignal(ctx context.Context) (*message.Message, error) {
	return c.recvUntil(ctx, c.TryRecvSignal)
}

// RecvCall blocks until an incoming call is available or ctx is done.
func (c *Conn) RecvCall(ctx context.Context) (*message.Message, error) {
	return c.recvUntil(ctx, c.TryRecvCall)
}

// RecvReply blocks until the reply or error for serial arrives or ctx
// is done.
func (c *Conn) RecvReply(ctx context.Context, serial uint32) (*message.Message, error) {
	return c.recvUntil(ctx, func() (*message.Message, bool) {
		return c.TryRecvReply(serial)
	})
}

func (c *Conn) recvUntil(ctx context.Context, try func() (*message.Message, bool)) (*message.Message, error) {
	for {
		if msg, ok := try(); ok {
			return msg, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		timeout := transport.Infinite()
		if dl, ok := ctx.Deadline(); ok {
			timeout = transport.Duration(time.Until(dl))
		}
		if err := c.RefillOnce(timeout); err != nil {
			if errors.Is(err, transport.ErrTimedOut) {
				continue
			}
			return nil, err
		}
	}
}

func unknownMethodReply(call *message.Message) *message.Message {
	reply := &message.Message{
		Header: message.Header{Order: call.Header.Order, Type: message.TypeError},
	}
	reply.Dyn.ErrorName = value.Just("org.freedesktop.DBus.Error.UnknownMethod")
	reply.Dyn.ReplySerial = value.Just(call.Header.Serial)
	if sender, ok := call.Dyn.Sender.GetOK(); ok {
		reply.Dyn.Destination = value.Just(sender)
	}
	member, _ := call.Dyn.Member.GetOK()
	iface, _ := call.Dyn.Interface.GetOK()
	detail := fmt.Sprintf("Method %q on interface %q doesn't exist", member, iface)
	// Best-effort body; an unmarshallable detail string cannot
	// actually fail, but if it somehow does, an empty-body error
	// reply is still a valid (if less helpful) reply.
	_ = reply.SetBody(&struct{ Detail string }{detail})
	return reply
}
