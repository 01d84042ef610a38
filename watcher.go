package dbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/queue"

	"busline.dev/dbus/message"
	"busline.dev/dbus/wire"
)

const maxWatcherQueue = 20

// matchRule is a parsed "key='value',..." DBus match rule. Only the
// fields relevant to client-side redelivery filtering are kept; the
// rule string itself is what actually gets sent to the bus via
// AddMatch.
type matchRule struct {
	raw       string
	sender    string
	path      wire.ObjectPath
	iface     string
	member    string
	hasSender bool
	hasPath   bool
	hasIface  bool
	hasMember bool
}

// NewMatch builds a DBus match rule restricted to signals, with the
// given interface and member name. Use the With* methods to narrow it
// further before passing it to [Watcher.Match].
func NewMatch(iface, member string) *matchRule {
	return &matchRule{iface: iface, hasIface: iface != "", member: member, hasMember: member != ""}
}

// WithSender restricts the match to signals from sender.
func (m *matchRule) WithSender(sender string) *matchRule {
	m.sender, m.hasSender = sender, true
	return m
}

// WithPath restricts the match to signals from the given object path.
func (m *matchRule) WithPath(path wire.ObjectPath) *matchRule {
	m.path, m.hasPath = path, true
	return m
}

func (m *matchRule) filterString() string {
	if m.raw != "" {
		return m.raw
	}
	var terms []string
	terms = append(terms, "type='signal'")
	if m.hasSender {
		terms = append(terms, fmt.Sprintf("sender='%s'", m.sender))
	}
	if m.hasPath {
		terms = append(terms, fmt.Sprintf("path='%s'", m.path))
	}
	if m.hasIface {
		terms = append(terms, fmt.Sprintf("interface='%s'", m.iface))
	}
	if m.hasMember {
		terms = append(terms, fmt.Sprintf("member='%s'", m.member))
	}
	m.raw = strings.Join(terms, ",")
	return m.raw
}

func (m *matchRule) matches(msg *message.Message) bool {
	if m.hasSender {
		if s, ok := msg.Dyn.Sender.GetOK(); !ok || s != m.sender {
			return false
		}
	}
	if m.hasPath {
		if p, ok := msg.Dyn.Path.GetOK(); !ok || p != m.path {
			return false
		}
	}
	if m.hasIface {
		if i, ok := msg.Dyn.Interface.GetOK(); !ok || i != m.iface {
			return false
		}
	}
	if m.hasMember {
		if mem, ok := msg.Dyn.Member.GetOK(); !ok || mem != m.member {
			return false
		}
	}
	return true
}

// Notification is a signal received from the bus that matched one of
// a Watcher's registered rules.
type Notification struct {
	// Sender is the unique or well-known name of the peer that sent
	// the signal.
	Sender string
	// Path, Interface and Member identify the signal, mirroring the
	// originating message's header fields.
	Path      wire.ObjectPath
	Interface string
	Member    string
	// Msg is the full underlying message; use [message.Message.Decode]
	// to unmarshal its body.
	Msg *message.Message
	// Overflow reports that the watcher discarded some notifications
	// that followed this one, because the caller wasn't draining
	// [Watcher.Chan] fast enough.
	Overflow bool
}

// A Watcher delivers signals received from the bus that match its
// registered rules, in arrival order, on a bounded channel.
type Watcher struct {
	conn     *Conn
	wakePump chan struct{}

	notifications chan *Notification
	pumpStopped   chan struct{}

	mu      sync.Mutex
	closed  bool
	queue   queue.Queue[*Notification]
	matches mapset.Set[*matchRule]
}

// Watch creates a Watcher with no registered matches. Use
// [Watcher.Match] to start receiving notifications.
func (c *Conn) Watch() (*Watcher, error) {
	w := &Watcher{
		conn:          c,
		notifications: make(chan *Notification),
		wakePump:      make(chan struct{}, 1),
		pumpStopped:   make(chan struct{}),
		matches:       mapset.New[*matchRule](),
	}
	if err := c.addWatcher(w); err != nil {
		return nil, err
	}
	c.startSignalPump()
	go w.pump()
	return w, nil
}

// Chan returns the channel on which notifications are delivered. The
// caller must drain it promptly; a Watcher that falls behind drops
// notifications and marks the loss via Notification.Overflow.
func (w *Watcher) Chan() <-chan *Notification {
	return w.notifications
}

// Match adds m to the set of rules this Watcher watches for, both
// registering it with the bus (AddMatch) and locally for redelivery
// filtering. The returned remove function undoes just this one match.
func (w *Watcher) Match(ctx context.Context, m *matchRule) (remove func(context.Context) error, err error) {
	if err := w.conn.AddMatch(ctx, m.filterString()); err != nil {
		return nil, err
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = w.conn.RemoveMatch(ctx, m.filterString())
		return nil, net.ErrClosed
	}
	w.matches.Add(m)
	w.mu.Unlock()

	return func(ctx context.Context) error {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return nil
		}
		w.matches.Remove(m)
		w.mu.Unlock()
		return w.conn.RemoveMatch(ctx, m.filterString())
	}, nil
}

// Close stops delivery and unregisters every match this Watcher
// added.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	rules := w.matches
	w.closed = true
	w.matches = nil
	w.queue.Clear()
	w.mu.Unlock()

	close(w.wakePump)
	<-w.pumpStopped

	w.conn.removeWatcher(w)
	for r := range rules {
		_ = w.conn.RemoveMatch(context.Background(), r.filterString())
	}
}

func (w *Watcher) deliver(msg *message.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	matched := false
	for r := range w.matches {
		if r.matches(msg) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	sender, _ := msg.Dyn.Sender.GetOK()
	path, _ := msg.Dyn.Path.GetOK()
	iface, _ := msg.Dyn.Interface.GetOK()
	member, _ := msg.Dyn.Member.GetOK()
	n := &Notification{Sender: sender, Path: path, Interface: iface, Member: member, Msg: msg}

	if w.queue.Len() >= maxWatcherQueue {
		last, ok := w.queue.Peek(-1)
		if ok {
			last.Overflow = true
		}
		return
	}
	w.queue.Add(n)
	if w.queue.Len() == 1 {
		select {
		case w.wakePump <- struct{}{}:
		default:
		}
	}
}

func (w *Watcher) popNotification() *Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, _ := w.queue.Pop()
	return n
}

func (w *Watcher) pump() {
	defer close(w.pumpStopped)
	defer close(w.notifications)
	for {
		n := w.popNotification()
		if n == nil {
			_, ok := <-w.wakePump
			if !ok {
				return
			}
			continue
		}
	send:
		for {
			select {
			case w.notifications <- n:
				break send
			case _, ok := <-w.wakePump:
				if !ok {
					return
				}
			}
		}
	}
}

func (c *Conn) addWatcher(w *Watcher) error {
	c.watchersMu.Lock()
	defer c.watchersMu.Unlock()
	if c.watchersClosed {
		return net.ErrClosed
	}
	if c.watchers == nil {
		c.watchers = mapset.New[*Watcher]()
	}
	c.watchers.Add(w)
	return nil
}

func (c *Conn) removeWatcher(w *Watcher) {
	c.watchersMu.Lock()
	defer c.watchersMu.Unlock()
	c.watchers.Remove(w)
}

// lockedWatchers iterates the live watcher set under watchersMu, so
// concurrent Watch/Close calls can't race with delivery.
func (c *Conn) lockedWatchers(yield func(*Watcher) bool) {
	c.watchersMu.Lock()
	defer c.watchersMu.Unlock()
	for w := range c.watchers {
		if !yield(w) {
			return
		}
	}
}

// startSignalPump launches, at most once per Conn, the background
// goroutine that drains signals off the rpc.Conn and fans them out to
// every live Watcher.
func (c *Conn) startSignalPump() {
	c.signalPumpOnce.Do(func() {
		go func() {
			for {
				msg, err := c.rpc.RecvSignal(context.Background())
				if err != nil {
					if errors.Is(err, net.ErrClosed) {
						return
					}
					continue
				}
				for w := range c.lockedWatchers {
					w.deliver(msg)
				}
			}
		}()
	})
}
