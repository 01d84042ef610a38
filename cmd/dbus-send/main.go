// Command dbus-send sends a single D-Bus method call or signal and
// prints the decoded reply.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/mds/value"
	"github.com/kr/pretty"

	"busline.dev/dbus"
	"busline.dev/dbus/fdtable"
	"busline.dev/dbus/message"
	"busline.dev/dbus/param"
	"busline.dev/dbus/transport"
	"busline.dev/dbus/wire"
)

var flags struct {
	UseSessionBus bool          `flag:"session,Connect to the session bus instead of the system bus"`
	Dest          string        `flag:"dest,Destination bus name (required for method_call)"`
	Signal        bool          `flag:"type-signal,Broadcast a signal instead of making a method call"`
	Timeout       time.Duration `flag:"timeout=10s,Call timeout"`
}

func main() {
	root := &command.C{
		Name:  "dbus-send",
		Usage: "dbus-send --dest=NAME /object/path interface.member [type:value ...]",
		Help: `Send a single D-Bus method call (or, with --type-signal, broadcast a
signal) and print the decoded reply.

Arguments after the member name are given as type:value pairs, for
example:

  dbus-send --dest=org.freedesktop.DBus \
      /org/freedesktop/DBus org.freedesktop.DBus.RequestName \
      string:com.example.Test uint32:4

Recognized types: byte, boolean, int16, uint16, int32, uint32, int64,
uint64, double, string, objpath, signature.`,
		SetFlags: command.Flags(flax.MustBind, &flags),
		Run:      command.Adapt(runSend),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func runSend(env *command.Env) error {
	args := env.Args
	if len(args) < 2 {
		return fmt.Errorf("usage: dbus-send --dest=NAME /object/path interface.member [type:value ...]")
	}
	path := wire.ObjectPath(args[0])
	if err := message.ValidateObjectPath(string(path)); err != nil {
		return fmt.Errorf("object path %q: %w", args[0], err)
	}
	iface, member, err := splitMember(args[1])
	if err != nil {
		return err
	}
	if !flags.Signal && flags.Dest == "" {
		return fmt.Errorf("--dest is required for a method call")
	}

	params := make([]param.Param, 0, len(args)-2)
	for _, a := range args[2:] {
		p, err := parseArg(a)
		if err != nil {
			return fmt.Errorf("argument %q: %w", a, err)
		}
		params = append(params, p)
	}

	ctx, cancel := context.WithTimeout(env.Context(), flags.Timeout)
	defer cancel()

	connect := dbus.SystemBus
	if flags.UseSessionBus {
		connect = dbus.SessionBus
	}
	conn, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	fds := &fdtable.Table{}
	defer fds.Close()
	enc := &wire.Encoder{Order: wire.NativeEndian, FDs: fds}
	var sig strings.Builder
	for i, p := range params {
		if err := p.MarshalDBus(enc); err != nil {
			return fmt.Errorf("marshalling argument %d: %w", i, err)
		}
		sig.WriteString(p.Signature().String())
	}

	if flags.Signal {
		msg := &message.Message{
			Header: message.Header{Order: wire.NativeEndian, Type: message.TypeSignal},
			Body:   enc.Out,
			FDs:    fds,
		}
		msg.Dyn.Path = value.Just(path)
		msg.Dyn.Interface = value.Just(iface)
		msg.Dyn.Member = value.Just(member)
		if sig.Len() > 0 {
			msg.Dyn.Signature = value.Just(wire.Sig(sig.String()))
		}
		msg.Header.BodyLength = uint32(len(enc.Out))
		_, err := conn.RPC().Send(msg, transport.Duration(flags.Timeout))
		return err
	}

	call := &message.Message{
		Header: message.Header{Order: wire.NativeEndian, Type: message.TypeCall},
		Body:   enc.Out,
		FDs:    fds,
	}
	call.Dyn.Destination = value.Just(flags.Dest)
	call.Dyn.Path = value.Just(path)
	call.Dyn.Member = value.Just(member)
	if iface != "" {
		call.Dyn.Interface = value.Just(iface)
	}
	if sig.Len() > 0 {
		call.Dyn.Signature = value.Just(wire.Sig(sig.String()))
	}
	call.Header.BodyLength = uint32(len(enc.Out))

	serial, err := conn.RPC().Send(call, transport.Duration(flags.Timeout))
	if err != nil {
		return fmt.Errorf("sending call: %w", err)
	}
	reply, err := conn.RPC().RecvReply(ctx, serial)
	if err != nil {
		return fmt.Errorf("waiting for reply: %w", err)
	}
	if reply.Header.Type == message.TypeError {
		name, _ := reply.Dyn.ErrorName.GetOK()
		if detail, ok := reply.ErrorDetail(); ok {
			return fmt.Errorf("%s: %s", name, detail)
		}
		return fmt.Errorf("%s", name)
	}

	return printReply(reply)
}

func printReply(reply *message.Message) error {
	sigStr, ok := reply.Dyn.Signature.GetOK()
	if !ok || len(reply.Body) == 0 {
		fmt.Println("(no reply body)")
		return nil
	}
	results, err := decodeArgs(reply.Body, reply.Header.Order, reply.FDs, string(sigStr))
	if err != nil {
		return fmt.Errorf("decoding reply body: %w", err)
	}
	for i, p := range results {
		fmt.Printf("arg%d: %s\n", i, pretty.Sprint(toGoValue(p)))
	}
	return nil
}
