package dbus

import (
	"context"
	"errors"
	"fmt"

	"busline.dev/dbus/transport"
)

const (
	busDestination = "org.freedesktop.DBus"
	busPath        = "/org/freedesktop/DBus"
	busInterface   = "org.freedesktop.DBus"
)

// SystemBus connects to the system bus and performs Hello.
func SystemBus(ctx context.Context) (*Conn, error) {
	return dialAndHello(ctx, transport.SystemAddress())
}

// SessionBus connects to the current user's session bus and performs
// Hello.
func SessionBus(ctx context.Context) (*Conn, error) {
	addr, err := transport.SessionAddress()
	if err != nil {
		return nil, err
	}
	return dialAndHello(ctx, addr)
}

func dialAndHello(ctx context.Context, addr string) (*Conn, error) {
	c, err := Dial(ctx, addr, transport.WithUnixFDs(true))
	if err != nil {
		return nil, err
	}
	if _, err := c.Hello(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// NameRequest describes the ownership semantics requested for a bus
// name. See [Conn.RequestName] for detailed behavior.
type NameRequest struct {
	// Name is the bus name to request.
	Name string
	// ReplaceCurrent is whether to attempt to replace the current
	// primary owner of Name, if one exists. Replacement is only
	// possible if the current primary owner requested the name with
	// AllowReplacement set.
	ReplaceCurrent bool
	// NoQueue, if set, causes RequestName to return an error if
	// primary ownership of Name cannot be granted.
	NoQueue bool
	// AllowReplacement is whether to allow the requestor to be
	// replaced as primary owner, if another client requests the name
	// with ReplaceCurrent set.
	AllowReplacement bool
}

// ErrNameNotAvailable is returned by RequestName when ownership could
// not be obtained and the request opted out of the backup queue.
var ErrNameNotAvailable = errors.New("dbus: requested name not available")

// RequestName asks the bus to assign an additional name to Conn.
//
// A bus name has a single owner which receives DBus traffic for that
// name, and a queue of backup owners willing to take over should the
// current owner disconnect or abandon the name. See [NameRequest] for
// the options controlling queueing and replacement behavior.
func (c *Conn) RequestName(ctx context.Context, req NameRequest) (isPrimaryOwner bool, err error) {
	var flags uint32
	if req.AllowReplacement {
		flags |= 0x1
	}
	if req.ReplaceCurrent {
		flags |= 0x2
	}
	if req.NoQueue {
		flags |= 0x4
	}

	body := struct {
		Name  string
		Flags uint32
	}{req.Name, flags}

	var resp uint32
	if err := c.Call(ctx, busDestination, busPath, busInterface, "RequestName", &body, &resp); err != nil {
		return false, err
	}
	switch resp {
	case 1: // became primary owner
		return true, nil
	case 2: // queued, not primary
		return false, nil
	case 3: // unavailable, NoQueue set
		return false, ErrNameNotAvailable
	case 4: // already primary owner
		return true, nil
	default:
		return false, fmt.Errorf("dbus: unexpected RequestName response code %d", resp)
	}
}

// ReleaseName gives up ownership of (and any queued claim to) name.
func (c *Conn) ReleaseName(ctx context.Context, name string) error {
	var ignore uint32
	return c.Call(ctx, busDestination, busPath, busInterface, "ReleaseName", name, &ignore)
}

// Names lists the bus names currently connected to the bus.
func (c *Conn) Names(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.Call(ctx, busDestination, busPath, busInterface, "ListNames", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// NameOwner returns the unique connection name that currently owns
// name, or ErrNameHasNoOwner if nothing owns it.
func (c *Conn) NameOwner(ctx context.Context, name string) (string, error) {
	var owner string
	if err := c.Call(ctx, busDestination, busPath, busInterface, "GetNameOwner", name, &owner); err != nil {
		var cerr *CallError
		if errors.As(err, &cerr) && cerr.Name == "org.freedesktop.DBus.Error.NameHasNoOwner" {
			return "", ErrNameHasNoOwner
		}
		return "", err
	}
	return owner, nil
}

// ErrNameHasNoOwner is returned by NameOwner when name has no current
// owner.
var ErrNameHasNoOwner = errors.New("dbus: name has no owner")

// QueuedOwners returns the unique connection names queued for
// ownership of name, in queue order (the current owner, if any, comes
// first).
func (c *Conn) QueuedOwners(ctx context.Context, name string) ([]string, error) {
	var owners []string
	if err := c.Call(ctx, busDestination, busPath, busInterface, "ListQueuedOwners", name, &owners); err != nil {
		return nil, err
	}
	return owners, nil
}

// AddMatch registers a match rule, a comma-separated list of
// key='value' terms in the bus's own filter-rule syntax (e.g.
// "type='signal',interface='org.freedesktop.DBus'"). Messages that
// match the rule are delivered to this Conn even if they aren't
// addressed to it. Use [Conn.Watch] for a higher-level API.
func (c *Conn) AddMatch(ctx context.Context, rule string) error {
	return c.Call(ctx, busDestination, busPath, busInterface, "AddMatch", rule, nil)
}

// RemoveMatch undoes a previous AddMatch.
func (c *Conn) RemoveMatch(ctx context.Context, rule string) error {
	return c.Call(ctx, busDestination, busPath, busInterface, "RemoveMatch", rule, nil)
}

// BusID returns the bus's unique identifier.
func (c *Conn) BusID(ctx context.Context) (string, error) {
	var id string
	if err := c.Call(ctx, busDestination, busPath, busInterface, "GetId", nil, &id); err != nil {
		return "", err
	}
	return id, nil
}
