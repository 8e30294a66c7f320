// Package testutil provides in-memory collaborators shared by package tests.
package testutil

import (
	"sync"
	"time"

	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// FakeConn is an interfaces.Connection that records sent envelopes.
// With Capacity > 0, Send fails with ErrSendBufferFull once that many
// envelopes are pending.
type FakeConn struct {
	Capacity int

	id       string
	mu       sync.Mutex
	identity *types.Identity
	events   []*types.Envelope
	closed   bool
	notify   chan struct{}
}

func NewFakeConn(id string) *FakeConn {
	return &FakeConn{id: id, notify: make(chan struct{}, 1)}
}

// NewAuthedConn returns a connection already bound to identity.
func NewAuthedConn(id string, identity types.Identity) *FakeConn {
	c := NewFakeConn(id)
	_ = c.SetIdentity(identity)
	return c
}

func (c *FakeConn) ID() string { return c.id }

func (c *FakeConn) Identity() (types.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return types.Identity{}, false
	}
	return *c.identity, true
}

func (c *FakeConn) SetIdentity(identity types.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity != nil {
		return interfaces.ErrAlreadyAuthenticated
	}
	c.identity = &identity
	return nil
}

func (c *FakeConn) IsAuthenticated() bool {
	_, ok := c.Identity()
	return ok
}

func (c *FakeConn) Send(event *types.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return interfaces.ErrConnectionClosed
	}
	if c.Capacity > 0 && len(c.events) >= c.Capacity {
		c.mu.Unlock()
		return interfaces.ErrSendBufferFull
	}
	c.events = append(c.events, event)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of everything sent so far.
func (c *FakeConn) Events() []*types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Envelope(nil), c.events...)
}

// Types returns the event types sent so far, in order.
func (c *FakeConn) Types() []string {
	events := c.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// OfType returns the sent envelopes with the given type.
func (c *FakeConn) OfType(eventType string) []*types.Envelope {
	var out []*types.Envelope
	for _, e := range c.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events.
func (c *FakeConn) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

// WaitFor blocks until an envelope of eventType was sent or timeout passes.
func (c *FakeConn) WaitFor(eventType string, timeout time.Duration) (*types.Envelope, bool) {
	deadline := time.After(timeout)
	for {
		if found := c.OfType(eventType); len(found) > 0 {
			return found[len(found)-1], true
		}
		select {
		case <-c.notify:
		case <-deadline:
			return nil, false
		}
	}
}
