package rpc

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/creachadair/mds/value"

	"busline.dev/dbus/message"
	"busline.dev/dbus/transport"
	"busline.dev/dbus/wire"
)

// fakeServer accepts one connection, runs the minimal SASL handshake,
// and then writes whatever messages the test hands it.
func fakeServer(t *testing.T, sock string, messages ...*message.Message) {
	t.Helper()
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		r.ReadByte()
		r.ReadString('\n')
		conn.Write([]byte("OK deadbeef\r\n"))
		line, _ := r.ReadString('\n')
		if line == "NEGOTIATE_UNIX_FD\r\n" {
			conn.Write([]byte("AGREE_UNIX_FD\r\n"))
			r.ReadString('\n')
		}
		for _, m := range messages {
			buf, err := m.Encode()
			if err != nil {
				t.Errorf("encoding fixture message: %v", err)
				return
			}
			if _, err := conn.Write(buf); err != nil {
				return
			}
		}
	}()
}

func dialTestConn(t *testing.T, sock string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tc, err := transport.Dial(ctx, "unix:path="+sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { tc.Close() })
	return New(tc)
}

func TestClassifySignalAndReply(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "bus.sock")

	signal := &message.Message{
		Header: message.Header{Order: wire.LittleEndian, Type: message.TypeSignal, Serial: 1},
		Dyn: message.DynHeader{
			Path:      value.Just(wire.ObjectPath("/obj")),
			Interface: value.Just("org.example.Iface"),
			Member:    value.Just("Changed"),
		},
	}
	reply := &message.Message{
		Header: message.Header{Order: wire.LittleEndian, Type: message.TypeReply, Serial: 2},
		Dyn:    message.DynHeader{ReplySerial: value.Just(uint32(99))},
	}

	fakeServer(t, sock, signal, reply)
	c := dialTestConn(t, sock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := c.RecvSignal(ctx)
	if err != nil {
		t.Fatalf("RecvSignal: %v", err)
	}
	if member, _ := got.Dyn.Member.GetOK(); member != "Changed" {
		t.Errorf("member = %q", member)
	}

	gotReply, err := c.RecvReply(ctx, 99)
	if err != nil {
		t.Fatalf("RecvReply: %v", err)
	}
	if gotReply.Header.Type != message.TypeReply {
		t.Errorf("type = %v", gotReply.Header.Type)
	}
}

func TestFilterRejectsCallWithUnknownMethod(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "bus.sock")

	call := &message.Message{
		Header: message.Header{Order: wire.LittleEndian, Type: message.TypeCall, Serial: 5},
		Dyn: message.DynHeader{
			Path:   value.Just(wire.ObjectPath("/obj")),
			Member: value.Just("DoesNotExist"),
		},
	}
	fakeServer(t, sock, call)
	c := dialTestConn(t, sock)
	c.Filter = func(*message.Message) bool { return false }

	if err := c.RefillOnce(transport.Duration(5 * time.Second)); err != nil {
		t.Fatalf("RefillOnce: %v", err)
	}
	if _, ok := c.TryRecvCall(); ok {
		t.Fatal("filtered-out call should not have been queued")
	}
}
