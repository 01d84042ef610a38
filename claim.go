package dbus

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/mds/mapset"
)

// ClaimOptions are the options for a [Claim] to a bus name. See
// [NameRequest] for the equivalent one-shot request flags; Claim
// additionally tracks ownership over time via its Chan.
type ClaimOptions struct {
	// AllowReplacement is whether to allow another request that sets
	// TryReplace to take over ownership.
	AllowReplacement bool
	// TryReplace is whether to attempt to replace the current owner,
	// if the name already has an owner. Replacement only succeeds if
	// the current owner set AllowReplacement.
	TryReplace bool
	// NoQueue, if set, causes this claim to never join the backup
	// queue for the name.
	NoQueue bool
}

// Claim is a claim to ownership of a bus name, tracked over time: its
// Chan reports every change in whether this Conn is the current
// owner.
type Claim struct {
	conn  *Conn
	watch *Watcher
	name  string

	stop        func() error
	pumpStopped chan struct{}

	owner chan bool
	last  bool
}

// Claim requests ownership of name and starts tracking ownership
// changes. Callers must read [Claim.Chan] to find out if and when the
// name gets assigned to them.
func (c *Conn) Claim(ctx context.Context, name string, opts ClaimOptions) (*Claim, error) {
	w, err := c.Watch()
	if err != nil {
		return nil, err
	}
	if _, err := w.Match(ctx, NewMatch(busInterface, "NameAcquired")); err != nil {
		w.Close()
		return nil, err
	}
	if _, err := w.Match(ctx, NewMatch(busInterface, "NameLost")); err != nil {
		w.Close()
		return nil, err
	}

	cl := &Claim{
		conn:        c,
		watch:       w,
		name:        name,
		pumpStopped: make(chan struct{}),
		owner:       make(chan bool, 1),
	}
	cl.stop = sync.OnceValue(cl.close)
	cl.send(false)

	if err := cl.Request(ctx, opts); err != nil {
		w.Close()
		return nil, err
	}
	if err := c.addClaim(cl); err != nil {
		w.Close()
		return nil, err
	}

	go cl.pump()
	return cl, nil
}

func (c *Conn) addClaim(cl *Claim) error {
	c.claimsMu.Lock()
	defer c.claimsMu.Unlock()
	if c.claims == nil {
		c.claims = mapset.New[*Claim]()
	}
	c.claims.Add(cl)
	return nil
}

func (c *Conn) removeClaim(cl *Claim) {
	c.claimsMu.Lock()
	defer c.claimsMu.Unlock()
	if c.claims != nil {
		c.claims.Remove(cl)
	}
}

// Request re-sends the name request with updated options, without
// giving up the watcher tracking ownership changes.
//
// If this Claim is the current owner, Request updates the
// AllowReplacement and NoQueue settings without relinquishing
// ownership (although setting AllowReplacement may enable another
// client to take over the claim). Otherwise, the bus considers the
// claim anew with the updated options, as if it were being requested
// for the first time.
func (c *Claim) Request(ctx context.Context, opts ClaimOptions) error {
	_, err := c.conn.RequestName(ctx, NameRequest{
		Name:             c.name,
		AllowReplacement: opts.AllowReplacement,
		ReplaceCurrent:   opts.TryReplace,
		NoQueue:          opts.NoQueue,
	})
	if errors.Is(err, ErrNameNotAvailable) {
		// A NoQueue request that doesn't get the name leaves the
		// claim unowned, which Chan already reports.
		return nil
	}
	return err
}

// Close abandons the claim. If it was the current owner, ownership is
// released and may pass to another claimant.
func (c *Claim) Close() error {
	return c.stop()
}

func (c *Claim) close() error {
	c.conn.removeClaim(c)
	c.watch.Close()
	<-c.pumpStopped
	return c.conn.ReleaseName(context.Background(), c.name)
}

// Name returns the claim's bus name.
func (c *Claim) Name() string { return c.name }

// Chan returns a channel that reports whether this claim currently
// owns the bus name.
func (c *Claim) Chan() <-chan bool { return c.owner }

func (c *Claim) send(isOwner bool) {
	select {
	case c.owner <- isOwner:
	case <-c.owner:
		c.owner <- isOwner
	}
}

func (c *Claim) pump() {
	defer func() {
		if c.last {
			c.send(false)
		}
		close(c.owner)
		close(c.pumpStopped)
	}()
	for n := range c.watch.Chan() {
		var body struct{ Name string }
		if n.Msg.Decode(&body) != nil || body.Name != c.name {
			continue
		}
		switch n.Member {
		case "NameAcquired":
			if !c.last {
				c.last = true
				c.send(true)
			}
		case "NameLost":
			if c.last {
				c.last = false
				c.send(false)
			}
		}
	}
}
