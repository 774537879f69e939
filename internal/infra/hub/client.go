package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tenantdesk/internal/domain/chat"
)

// State describes the push-channel connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Push frame event names on the wire.
const (
	EventMessageReceived = "message_received"
	EventListChanged     = "interactions_changed"
)

const (
	// Time allowed to write a ping to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from the peer.
	maxMessageSize = 8192
)

type frame struct {
	Event   string        `json:"event"`
	Message *chat.Message `json:"message,omitempty"`
}

// Config defines hub client settings.
type Config struct {
	URL     string
	Backoff []time.Duration
	Dialer  *websocket.Dialer
}

// Client maintains exactly one live push connection per authenticated
// session and fans inbound events out to subscribers. Subscribers are
// notified synchronously, in registration order, before the next frame
// is read from the wire.
type Client struct {
	url     string
	backoff []time.Duration
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	conn    *websocket.Conn
	cancel  context.CancelFunc
	state   State

	subsMu    sync.RWMutex
	msgSubs   []func(chat.Message)
	listSubs  []func()
	stateSubs []func(State)
}

// NewClient builds a hub client. Start must be called to connect.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	backoff := cfg.Backoff
	if len(backoff) == 0 {
		backoff = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 15 * time.Second, 30 * time.Second}
	}
	return &Client{
		url:     cfg.URL,
		backoff: backoff,
		dialer:  dialer,
		logger:  logger,
		state:   Disconnected,
	}
}

// OnMessage registers a handler for pushed chat messages.
func (c *Client) OnMessage(fn func(chat.Message)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.msgSubs = append(c.msgSubs, fn)
}

// OnListChanged registers a handler for conversation-list-changed signals.
func (c *Client) OnListChanged(fn func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.listSubs = append(c.listSubs, fn)
}

// OnStateChange registers a handler for connection state transitions.
func (c *Client) OnStateChange(fn func(State)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.stateSubs = append(c.stateSubs, fn)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start connects to the hub authenticated by the bearer token. Idempotent:
// a second Start while running is a no-op. Connection failures are retried
// with the configured backoff schedule; they are never surfaced to the
// caller, only logged and reflected in the connection state.
func (c *Client) Start(token string) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx, token)
}

// Stop tears down the connection. Safe to call when not connected.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.setState(Disconnected)
}

func (c *Client) run(ctx context.Context, token string) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}
		if attempt == 0 {
			c.setState(Connecting)
		} else {
			c.setState(Reconnecting)
		}
		conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("hub dial failed", "url", c.url, "attempt", attempt+1, "error", err)
			}
			if !c.sleep(ctx, c.delay(attempt)) {
				c.setState(Disconnected)
				return
			}
			attempt++
			continue
		}
		attempt = 0

		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			_ = conn.Close()
			c.setState(Disconnected)
			return
		}
		c.conn = conn
		c.mu.Unlock()
		c.setState(Connected)
		if c.logger != nil {
			c.logger.Info("hub connected", "url", c.url)
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		stopped := !c.running
		c.mu.Unlock()
		_ = conn.Close()
		if stopped || ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}
		c.setState(Reconnecting)
		if !c.sleep(ctx, c.delay(0)) {
			c.setState(Disconnected)
			return
		}
	}
}

// readLoop reads frames until the connection errors or the context ends.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				if c.logger != nil {
					c.logger.Warn("hub read failed", "error", err)
				}
			}
			return
		}
		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			if c.logger != nil {
				c.logger.Warn("hub frame decode failed", "error", err)
			}
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	c.subsMu.RLock()
	msgSubs := c.msgSubs
	listSubs := c.listSubs
	c.subsMu.RUnlock()

	switch f.Event {
	case EventMessageReceived:
		if f.Message == nil {
			return
		}
		for _, fn := range msgSubs {
			fn(*f.Message)
		}
	case EventListChanged:
		for _, fn := range listSubs {
			fn()
		}
	default:
		if c.logger != nil {
			c.logger.Warn("hub frame ignored", "event", f.Event)
		}
	}
}

func (c *Client) setState(next State) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	c.subsMu.RLock()
	subs := c.stateSubs
	c.subsMu.RUnlock()
	for _, fn := range subs {
		fn(next)
	}
}

// delay returns the backoff entry for the attempt; the last entry repeats.
func (c *Client) delay(attempt int) time.Duration {
	if attempt >= len(c.backoff) {
		return c.backoff[len(c.backoff)-1]
	}
	return c.backoff[attempt]
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
