// Package transport implements the low-level D-Bus connection: Unix
// socket framing, the SASL handshake, message-boundary detection, and
// SCM_RIGHTS file-descriptor passing. It corresponds to the design's
// L8 "low-level connection" layer; package rpc builds request/reply
// semantics on top of it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"

	"busline.dev/dbus/auth"
	"busline.dev/dbus/message"
	"busline.dev/dbus/wire"
	"busline.dev/dbus/fdtable"
)

// Errors returned by Conn's I/O operations.
var (
	ErrConnectionClosed = errors.New("transport: connection closed")
	ErrTimedOut         = errors.New("transport: operation timed out")
)

type options struct {
	wantFDs bool
}

// Option configures a Dial.
type Option func(*options)

// WithUnixFDs controls whether Dial negotiates UNIX_FD passing during
// authentication. Default true.
func WithUnixFDs(want bool) Option {
	return func(o *options) { o.wantFDs = want }
}

// Conn is a single Unix-domain D-Bus connection: an authenticated
// socket plus the receive-side message-framing buffer and the
// send-side serial counter.
//
// A Conn is not safe for concurrent use by multiple goroutines; the
// design's concurrency model is single-threaded cooperative I/O per
// connection (package rpc and dispatch build higher-level
// synchronization on top where needed).
type Conn struct {
	conn   *net.UnixConn
	guid   string
	gotFDs bool

	recvBuf    []byte
	pendingFDs queue.Queue[*os.File]
	oob        [4096]byte

	mu     sync.Mutex
	serial uint32
}

// Dial connects to address (a "unix:path=..." or
// "unix:abstract=..." string, see [ParseAddress]) and runs the SASL
// EXTERNAL authentication handshake.
func Dial(ctx context.Context, address string, opts ...Option) (*Conn, error) {
	cfg := options{wantFDs: true}
	for _, o := range opts {
		o(&cfg)
	}

	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "unix", addr.dialName())
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	uconn := raw.(*net.UnixConn)

	if dl, ok := ctx.Deadline(); ok {
		if err := uconn.SetDeadline(dl); err != nil {
			uconn.Close()
			return nil, err
		}
	}
	guid, gotFDs, err := auth.Authenticate(uconn, cfg.wantFDs)
	if err != nil {
		uconn.Close()
		return nil, err
	}
	if err := uconn.SetDeadline(time.Time{}); err != nil {
		uconn.Close()
		return nil, err
	}

	return &Conn{conn: uconn, guid: guid, gotFDs: gotFDs}, nil
}

// GUID returns the server-assigned bus GUID learned during
// authentication.
func (c *Conn) GUID() string { return c.guid }

// NegotiatedUnixFDs reports whether the handshake successfully
// negotiated SCM_RIGHTS fd passing.
func (c *Conn) NegotiatedUnixFDs() bool { return c.gotFDs }

// Close closes the underlying socket and releases any
// not-yet-claimed received file descriptors.
func (c *Conn) Close() error {
	c.pendingFDs.Each(func(f *os.File) bool {
		f.Close()
		return true
	})
	c.pendingFDs.Clear()
	return c.conn.Close()
}

func (c *Conn) nextSerial() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serial++
	if c.serial == 0 {
		c.serial++
	}
	return c.serial
}

// neededBytes implements the spec's three-step message-complete test
// against buf: it returns how many additional bytes are needed before
// a complete message is present, and whether buf already holds one.
func neededBytes(buf []byte) (need int, complete bool, err error) {
	if len(buf) < 16 {
		return 16 - len(buf), false, nil
	}
	var order wire.ByteOrder
	switch buf[0] {
	case 'l':
		order = wire.LittleEndian
	case 'B':
		order = wire.BigEndian
	default:
		return 0, false, wire.ErrInvalidByteOrder
	}
	bodyLen := order.Uint32(buf[4:8])
	fieldsLen := order.Uint32(buf[12:16])
	headerSize := 16 + int(fieldsLen)
	if r := headerSize % 8; r != 0 {
		headerSize += 8 - r
	}
	total := headerSize + int(bodyLen)
	if len(buf) >= total {
		return 0, true, nil
	}
	return total - len(buf), false, nil
}

// Recv reads one complete message, blocking up to timeout.
func (c *Conn) Recv(timeout Timeout) (*message.Message, error) {
	start := time.Now()
	for {
		need, complete, err := neededBytes(c.recvBuf)
		if err != nil {
			return nil, err
		}
		if complete {
			break
		}
		if err := c.refill(need, start, timeout); err != nil {
			return nil, err
		}
	}

	fds := &fdtable.Table{}
	for {
		f, ok := c.pendingFDs.Pop()
		if !ok {
			break
		}
		fds.Add(f)
	}

	msg, err := message.Decode(c.recvBuf, fds)
	c.recvBuf = nil
	if err != nil {
		fds.Close()
		return nil, err
	}
	return msg, nil
}

// refill reads at most need more bytes from the socket into
// c.recvBuf, so that a recvmsg call never reads past the current
// message's boundary and misattributes ancillary fd data to the wrong
// message.
func (c *Conn) refill(need int, start time.Time, timeout Timeout) error {
	deadline, ok := timeout.Deadline(start)
	if ok {
		c.conn.SetReadDeadline(deadline)
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	tmp := make([]byte, need)
	n, oobn, flags, _, err := c.conn.ReadMsgUnix(tmp, c.oob[:])
	if flags&unix.MSG_CTRUNC != 0 {
		return errors.New("transport: control message truncated (too many descriptors in one message)")
	}
	if oobn > 0 {
		if perr := c.parseFDs(c.oob[:oobn]); perr != nil {
			return perr
		}
	}
	if n > 0 {
		c.recvBuf = append(c.recvBuf, tmp[:n]...)
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ErrTimedOut
		}
		if errors.Is(err, io.EOF) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("transport: %w", err)
	}
	if n == 0 {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Conn) parseFDs(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("transport: parsing ancillary data: %w", err)
	}
	var errs []error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			log.Printf("transport: ignoring unrecognized ancillary message (level=%d type=%d)", scm.Header.Level, scm.Header.Type)
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			errs = append(errs, fmt.Errorf("transport: parsing SCM_RIGHTS: %w", err))
			continue
		}
		for _, fd := range fds {
			c.pendingFDs.Add(os.NewFile(uintptr(fd), ""))
		}
	}
	return errors.Join(errs...)
}

// SendContext is a resumable in-progress send: the bytes of one
// marshalled message plus any file descriptors it carries. Callers
// must drive it to completion via WriteAll or Step, or explicitly
// abandon it via ForceFinish or IntoProgress; dropping an unfinished
// SendContext leaves the connection's outgoing byte stream in an
// undefined state (a partially written message cannot be un-sent).
type SendContext struct {
	c      *Conn
	serial uint32
	buf    []byte
	fdRefs []fdtable.Ref

	bytesSent     int
	ancillarySent bool
	done          bool
}

// NewSend marshals m (assigning it a fresh serial if it doesn't
// already have one) and returns a SendContext ready to be driven to
// completion.
func (c *Conn) NewSend(m *message.Message) (*SendContext, error) {
	if m.Header.Serial == 0 {
		m.Header.Serial = c.nextSerial()
	}
	buf, err := m.Encode()
	if err != nil {
		return nil, err
	}

	var refs []fdtable.Ref
	if m.FDs != nil {
		for i := 0; i < m.FDs.Len(); i++ {
			ref, ok := m.FDs.At(uint32(i))
			if ok {
				refs = append(refs, ref)
			}
		}
	}

	sc := &SendContext{c: c, serial: m.Header.Serial, buf: buf, fdRefs: refs}
	runtime.SetFinalizer(sc, finalizeSendContext)
	return sc, nil
}

// Serial returns the serial this send context's message was assigned.
func (sc *SendContext) Serial() uint32 { return sc.serial }

func finalizeSendContext(sc *SendContext) {
	if !sc.done {
		log.Printf("transport: SendContext for serial %d was garbage collected before being finished; call WriteAll, ForceFinish, or IntoProgress", sc.serial)
	}
}

func (sc *SendContext) oob() []byte {
	if len(sc.fdRefs) == 0 {
		return nil
	}
	fds := make([]int, 0, len(sc.fdRefs))
	for _, r := range sc.fdRefs {
		f, err := r.File()
		if err != nil {
			continue
		}
		fds = append(fds, int(f.Fd()))
	}
	if len(fds) == 0 {
		return nil
	}
	return unix.UnixRights(fds...)
}

func (sc *SendContext) closeRefs() {
	for _, r := range sc.fdRefs {
		r.Close()
	}
	sc.fdRefs = nil
}

// Step attempts one send syscall, advancing sc's progress. It returns
// done=true once the whole message has been written.
func (sc *SendContext) Step(timeout Timeout) (done bool, err error) {
	if sc.done {
		return true, nil
	}
	start := time.Now()
	deadline, ok := timeout.Deadline(start)
	if ok {
		sc.c.conn.SetWriteDeadline(deadline)
	} else {
		sc.c.conn.SetWriteDeadline(time.Time{})
	}

	remaining := sc.buf[sc.bytesSent:]
	var n int
	if !sc.ancillarySent {
		oob := sc.oob()
		var oobn int
		n, oobn, err = sc.c.conn.WriteMsgUnix(remaining, oob, nil)
		if err == nil {
			if len(oob) > 0 && oobn != len(oob) {
				err = io.ErrShortWrite
			} else {
				sc.ancillarySent = true
				sc.closeRefs()
			}
		}
	} else {
		n, err = sc.c.conn.Write(remaining)
	}
	sc.bytesSent += n
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, ErrTimedOut
		}
		return false, fmt.Errorf("transport: %w", err)
	}
	if sc.bytesSent >= len(sc.buf) {
		sc.done = true
		runtime.SetFinalizer(sc, nil)
		return true, nil
	}
	return false, nil
}

// WriteAll drives sc to completion, looping Step until done or error.
func (sc *SendContext) WriteAll(timeout Timeout) error {
	for !sc.done {
		done, err := sc.Step(timeout)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// ForceFinish abandons sc without sending its remaining bytes. The
// caller is responsible for closing the connection afterward: the
// socket's outgoing byte stream is left mid-message, which the next
// write would corrupt.
func (sc *SendContext) ForceFinish() {
	runtime.SetFinalizer(sc, nil)
	sc.closeRefs()
	sc.done = true
}

// SendProgress is the suspended state of an in-progress send,
// produced by IntoProgress and consumed by Conn.ResumeSend.
type SendProgress struct {
	Serial        uint32
	Remaining     []byte
	FDRefs        []fdtable.Ref
	AncillarySent bool
}

// IntoProgress suspends sc, returning its state for a later
// ResumeSend, and marks sc itself as finished-with (no finalizer
// warning will fire for it).
func (sc *SendContext) IntoProgress() SendProgress {
	runtime.SetFinalizer(sc, nil)
	sc.done = true
	return SendProgress{
		Serial:        sc.serial,
		Remaining:     sc.buf[sc.bytesSent:],
		FDRefs:        sc.fdRefs,
		AncillarySent: sc.ancillarySent,
	}
}

// ResumeSend recreates a SendContext from previously suspended
// progress, to keep driving the same connection's send half.
func (c *Conn) ResumeSend(p SendProgress) *SendContext {
	sc := &SendContext{
		c:             c,
		serial:        p.Serial,
		buf:           p.Remaining,
		fdRefs:        p.FDRefs,
		ancillarySent: p.AncillarySent,
	}
	runtime.SetFinalizer(sc, finalizeSendContext)
	return sc
}
