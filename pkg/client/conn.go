package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomwire/roomwire/pkg/protocol"
)

// State is the connection lifecycle state.
type State uint8

const (
	StateDisconnected State = iota // No transport, no reconnect pending
	StateConnecting                // Dial in progress
	StateOpen                      // Transport live
	StateReconnecting              // Transport lost, reconnect timer armed
)

// String returns the string representation of the connection state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Conn owns the single live WebSocket transport and its reconnection policy.
//
// At most one transport handle is live at a time; a superseding connection
// fully closes the previous handle before a new dial begins. Transport
// errors and unexpected closes are treated identically: both funnel into the
// reconnect path. A Conn closed via Close never reconnects.
type Conn struct {
	endpoint string
	cfg      *Config
	dialer   *websocket.Dialer
	logger   *slog.Logger
	metrics  *Metrics

	// onEnvelope receives each decoded inbound frame in arrival order.
	// onState receives every state transition. Both are fixed at
	// construction and invoked without holding the connection lock.
	onEnvelope func(*protocol.Envelope)
	onState    func(State)

	mu        sync.Mutex
	state     State
	ws        *websocket.Conn
	reconnect *time.Timer // at most one armed at a time
	closed    bool
	gen       uint64 // connection generation; stale loops and dials bail out
}

func newConn(endpoint string, cfg *Config, onEnvelope func(*protocol.Envelope), onState func(State)) *Conn {
	return &Conn{
		endpoint: endpoint,
		cfg:      cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:     cfg.Logger.With("endpoint", endpoint),
		metrics:    cfg.Metrics,
		onEnvelope: onEnvelope,
		onState:    onState,
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect begins a dial unless one is already in progress or the transport
// is open. Calling Connect while a reconnect timer is pending cancels the
// timer and dials immediately.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.closed || c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	c.cancelReconnectLocked()
	c.setStateLocked(StateConnecting)
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	go c.dial(gen)
}

func (c *Conn) dial(gen uint64) {
	ws, _, err := c.dialer.Dial(c.endpoint, nil)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}

	if err != nil {
		c.logger.Warn("dial failed", "error", err)
		c.setStateLocked(StateReconnecting)
		c.armReconnectLocked()
		c.mu.Unlock()
		c.notifyState(StateReconnecting)
		return
	}

	// The previous handle is torn down before each dial starts, so ws is
	// nil here unless a transition was missed. Close it rather than leak.
	if c.ws != nil {
		c.ws.Close()
	}
	ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws = ws
	c.cancelReconnectLocked()
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	c.notifyState(StateOpen)
	c.logger.Info("connected")

	// Bootstrap: recover messages sent by peers while we were away.
	if c.Send(protocol.EncodeGetUndelivered()) {
		c.metrics.recordSent(protocol.KindGetUndelivered.String())
	}

	go c.readLoop(ws, gen)
}

// readLoop reads frames until the transport fails, decoding each one and
// handing it to the envelope callback in arrival order.
func (c *Conn) readLoop(ws *websocket.Conn, gen uint64) {
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			c.transportDown(gen)
			return
		}

		env, derr := protocol.Decode(msg)
		if derr != nil {
			// Malformed frames are dropped, never fatal.
			c.logger.Warn("dropping malformed frame", "error", derr)
			c.metrics.recordDecodeError()
			continue
		}

		if !c.attached(gen) {
			return
		}
		c.metrics.recordReceived(env.Kind.String())
		c.onEnvelope(env)
	}
}

// attached reports whether this generation is still the live connection.
func (c *Conn) attached(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && gen == c.gen
}

// Send transmits one frame. When the connection is not open the frame is
// silently dropped, never queued: outbound intents issued while offline are
// lost unless the caller already applied them optimistically.
func (c *Conn) Send(data []byte) bool {
	c.mu.Lock()
	if c.state != StateOpen || c.ws == nil {
		c.metrics.recordDropped()
		c.mu.Unlock()
		return false
	}

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Error("write error", "error", err)
		c.transportDownLocked()
		c.mu.Unlock()
		c.notifyState(StateReconnecting)
		return false
	}
	c.mu.Unlock()
	return true
}

// transportDown handles an unexpected close observed by the read loop.
func (c *Conn) transportDown(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.transportDownLocked()
	c.mu.Unlock()
	c.notifyState(StateReconnecting)
}

func (c *Conn) transportDownLocked() {
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.gen++
	c.setStateLocked(StateReconnecting)
	c.armReconnectLocked()
}

// armReconnectLocked arms the reconnect timer. Arming while one is pending
// would double the retry rate, so a live timer is left untouched.
func (c *Conn) armReconnectLocked() {
	if c.reconnect != nil {
		return
	}
	c.reconnect = time.AfterFunc(c.cfg.ReconnectInterval, c.reconnectFire)
}

func (c *Conn) reconnectFire() {
	c.mu.Lock()
	c.reconnect = nil
	if c.closed || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	c.metrics.recordReconnect()
	c.setStateLocked(StateConnecting)
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.notifyState(StateConnecting)
	c.logger.Info("reconnecting")
	go c.dial(gen)
}

func (c *Conn) cancelReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// Close tears the connection down for good: the reconnect timer is
// disarmed, the transport handle is closed, and callbacks are detached
// before Close returns. A closed Conn never auto-reconnects.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelReconnectLocked()
	c.gen++
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	c.notifyState(StateDisconnected)
}

func (c *Conn) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.metrics.recordState(s)
}

func (c *Conn) notifyState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}
