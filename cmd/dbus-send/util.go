package main

import (
	"fmt"
	"strconv"
	"strings"

	"busline.dev/dbus/fdtable"
	"busline.dev/dbus/message"
	"busline.dev/dbus/param"
	"busline.dev/dbus/signature"
	"busline.dev/dbus/wire"
)

// splitMember splits "interface.Member" at the last dot, validating
// both halves.
func splitMember(s string) (iface, member string, err error) {
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return "", "", fmt.Errorf("expected interface.member, got %q", s)
	}
	iface, member = s[:i], s[i+1:]
	if err := message.ValidateInterface(iface); err != nil {
		return "", "", fmt.Errorf("interface %q: %w", iface, err)
	}
	if err := message.ValidateMember(member); err != nil {
		return "", "", fmt.Errorf("member %q: %w", member, err)
	}
	return iface, member, nil
}

// parseArg parses a single "type:value" command-line argument into a
// Param, in the same type-tag convention the reference dbus-send tool
// uses.
func parseArg(s string) (param.Param, error) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return param.Param{}, fmt.Errorf("expected type:value, got %q", s)
	}
	typ, val := s[:i], s[i+1:]
	switch typ {
	case "byte":
		n, err := strconv.ParseUint(val, 10, 8)
		if err != nil {
			return param.Param{}, err
		}
		return param.NewBase(uint8(n))
	case "boolean":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return param.Param{}, err
		}
		return param.NewBase(b)
	case "int16":
		n, err := strconv.ParseInt(val, 10, 16)
		if err != nil {
			return param.Param{}, err
		}
		return param.NewBase(int16(n))
	case "uint16":
		n, err := strconv.ParseUint(val, 10, 16)
		if err != nil {
			return param.Param{}, err
		}
		return param.NewBase(uint16(n))
	case "int32":
		n, err := strconv.ParseInt(val, 10, 32)
		if err != nil {
			return param.Param{}, err
		}
		return param.NewBase(int32(n))
	case "uint32":
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return param.Param{}, err
		}
		return param.NewBase(uint32(n))
	case "int64":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return param.Param{}, err
		}
		return param.NewBase(n)
	case "uint64":
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return param.Param{}, err
		}
		return param.NewBase(n)
	case "double":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return param.Param{}, err
		}
		return param.NewBase(f)
	case "string":
		return param.NewBase(val)
	case "objpath":
		if err := message.ValidateObjectPath(val); err != nil {
			return param.Param{}, err
		}
		return param.NewBase(wire.ObjectPath(val))
	case "signature":
		if _, err := signature.Parse(val); err != nil {
			return param.Param{}, fmt.Errorf("invalid signature %q: %w", val, err)
		}
		return param.NewBase(wire.Sig(val))
	default:
		return param.Param{}, fmt.Errorf("unrecognized type %q", typ)
	}
}

// decodeArgs decodes the concatenated top-level arguments of a
// message body, described by sigStr (a string of zero or more
// complete D-Bus types, as found in a message's signature header
// field). Unlike [signature.Parse], it never synthesizes a wrapping
// struct: each argument is decoded as its own complete type, matching
// how a body's arguments are laid out on the wire with no outer
// framing.
func decodeArgs(body []byte, order wire.ByteOrder, fds *fdtable.Table, sigStr string) ([]param.Param, error) {
	d := &wire.Decoder{Order: order, In: body, FDs: fds}
	var args []param.Param
	rest := sigStr
	for rest != "" {
		t, r, err := signature.ParseOne(rest)
		if err != nil {
			return nil, err
		}
		rest = r
		p, err := param.Unmarshal(d, t)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", len(args), err)
		}
		args = append(args, p)
	}
	return args, nil
}

// toGoValue flattens a Param tree into plain Go values (scalars,
// slices, maps) suitable for pretty-printing.
func toGoValue(p param.Param) any {
	switch p.Kind() {
	case param.KindBase:
		return p.Base()
	case param.KindArray:
		elems := p.Elems()
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = toGoValue(e)
		}
		return out
	case param.KindStruct:
		elems := p.Elems()
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = toGoValue(e)
		}
		return out
	case param.KindDict:
		entries := p.Entries()
		out := make(map[any]any, len(entries))
		for _, e := range entries {
			out[toGoValue(e.Key)] = toGoValue(e.Value)
		}
		return out
	case param.KindVariant:
		return toGoValue(p.Variant())
	default:
		return nil
	}
}
