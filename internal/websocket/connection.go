package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classchat/pkg/interfaces"
	"classchat/pkg/types"
)

// Application close codes sent to clients.
const (
	CloseUnauthorized = 4401
	CloseTryAgain     = 1013
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn     *websocket.Conn
	id       string
	writeCh  chan *types.Envelope // FUNCTIONAL DISCOVERY: bounded so a stalled client is detected, not buffered forever
	closing  chan struct{}        // closed once to start the shutdown handshake
	done     chan struct{}        // closed when the writer has exited
	closeMsg []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	config    Config

	mu       sync.RWMutex
	identity *types.Identity
}

// NewConnection wraps conn and starts its single writer goroutine.
func NewConnection(conn *websocket.Conn, config Config) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      uuid.New().String(),
		writeCh: make(chan *types.Envelope, config.SendBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		config:  config,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races;
// it also owns the ping ticker so control frames never interleave a write
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.cancel()
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case event := <-c.writeCh:
			if err := c.write(event); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				return
			}

		case <-c.closing:
			// FUNCTIONAL DISCOVERY: Flush what is already queued (typically the
			// error frame explaining the close) before the close frame
			c.drain()
			_ = c.conn.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(c.config.WriteTimeout))
			return
		}
	}
}

func (c *Connection) drain() {
	for {
		select {
		case event := <-c.writeCh:
			if err := c.write(event); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Connection) write(event *types.Envelope) error {
	data, err := json.Marshal(event)
	if err != nil {
		// An unencodable event is dropped; the connection stays usable
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) ID() string { return c.id }

// Send enqueues event without blocking.
func (c *Connection) Send(event *types.Envelope) error {
	select {
	case <-c.ctx.Done():
		return interfaces.ErrConnectionClosed
	case <-c.closing:
		return interfaces.ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- event:
		return nil
	default:
		return interfaces.ErrSendBufferFull
	}
}

// Close performs a normal closure.
func (c *Connection) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode flushes queued events, sends a close frame with code and
// reason, and waits for the writer to exit. Only the first call has effect.
func (c *Connection) CloseWithCode(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.closing)
	})
	<-c.done
	return nil
}

// Done is closed once the connection can no longer deliver events.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetIdentity binds the identity exactly once.
func (c *Connection) SetIdentity(identity types.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity != nil {
		return interfaces.ErrAlreadyAuthenticated
	}
	c.identity = &identity
	return nil
}

func (c *Connection) Identity() (types.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return types.Identity{}, false
	}
	return *c.identity, true
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity != nil
}
