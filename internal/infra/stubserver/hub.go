package stubserver

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tenantdesk/internal/domain/chat"
)

const writeWait = 10 * time.Second

type pushFrame struct {
	Event   string        `json:"event"`
	Message *chat.Message `json:"message,omitempty"`
}

type wsConn struct {
	userID string
	conn   *websocket.Conn
	mu     sync.Mutex // serializes writes
}

func (c *wsConn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Registry tracks live hub sockets per user and pushes frames to them.
type Registry struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string][]*wsConn
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		conns:  make(map[string][]*wsConn),
	}
}

// Attach adopts a freshly upgraded socket and pumps it until it closes.
// Inbound application frames are discarded: clients send over REST, the
// read loop exists to service control frames and detect disconnects.
func (r *Registry) Attach(userID string, conn *websocket.Conn) {
	c := &wsConn{userID: userID, conn: conn}
	r.mu.Lock()
	r.conns[userID] = append(r.conns[userID], c)
	r.mu.Unlock()

	go func() {
		defer r.detach(c)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

func (r *Registry) detach(c *wsConn) {
	r.mu.Lock()
	list := r.conns[c.userID]
	for i, candidate := range list {
		if candidate == c {
			list[i] = list[len(list)-1]
			list[len(list)-1] = nil
			list = list[:len(list)-1]
			break
		}
	}
	if len(list) == 0 {
		delete(r.conns, c.userID)
	} else {
		r.conns[c.userID] = list
	}
	r.mu.Unlock()
	_ = c.conn.Close()
}

// PushMessage delivers a message_received frame to every socket of a user.
func (r *Registry) PushMessage(userID string, msg chat.Message) {
	r.push(userID, pushFrame{Event: "message_received", Message: &msg})
}

// PushListChanged signals a user's sockets to re-pull the conversation list.
func (r *Registry) PushListChanged(userID string) {
	r.push(userID, pushFrame{Event: "interactions_changed"})
}

func (r *Registry) push(userID string, frame pushFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("push frame marshal failed", "error", err)
		}
		return
	}
	r.mu.Lock()
	targets := append([]*wsConn(nil), r.conns[userID]...)
	r.mu.Unlock()
	for _, c := range targets {
		if err := c.write(payload); err != nil {
			if r.logger != nil {
				r.logger.Warn("push write failed", "user_id", userID, "error", err)
			}
			r.detach(c)
		}
	}
}

// ActiveConnections reports the number of live sockets for a user.
func (r *Registry) ActiveConnections(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID])
}

// CloseAll drops every live socket, e.g. on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	var all []*wsConn
	for _, list := range r.conns {
		all = append(all, list...)
	}
	r.conns = make(map[string][]*wsConn)
	r.mu.Unlock()
	for _, c := range all {
		_ = c.conn.Close()
	}
}
