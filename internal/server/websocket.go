package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mcpconsole-go/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 256
)

// WebSocketManager streams bus events to connected shells. Each client gets
// its own wildcard subscription, optionally narrowed to one server.
type WebSocketManager struct {
	bus      *events.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	register   chan *wsClient
	unregister chan *wsClient
	stopOnce   sync.Once
	stopChan   chan struct{}
}

type wsClient struct {
	conn         *websocket.Conn
	send         chan []byte
	events       <-chan events.Event
	filterServer string
	manager      *WebSocketManager

	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocketManager creates a manager. allowedOrigins follows the CORS
// list: "*" accepts any origin, an empty list accepts same-host origins only.
func NewWebSocketManager(bus *events.Bus, allowedOrigins []string, logger *zap.Logger) *WebSocketManager {
	m := &WebSocketManager{
		bus:        bus,
		logger:     logger.Named("ws"),
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stopChan:   make(chan struct{}),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	go m.run()
	return m
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func (m *WebSocketManager) run() {
	for {
		select {
		case c := <-m.register:
			m.mu.Lock()
			m.clients[c] = struct{}{}
			total := len(m.clients)
			m.mu.Unlock()
			m.logger.Info("WebSocket client registered",
				zap.String("filter_server", c.filterServer),
				zap.Int("total_clients", total))

		case c := <-m.unregister:
			m.mu.Lock()
			_, ok := m.clients[c]
			delete(m.clients, c)
			total := len(m.clients)
			m.mu.Unlock()
			if ok {
				m.release(c)
				m.logger.Info("WebSocket client unregistered", zap.Int("total_clients", total))
			}

		case <-m.stopChan:
			m.mu.Lock()
			clients := m.clients
			m.clients = make(map[*wsClient]struct{})
			m.mu.Unlock()
			for c := range clients {
				m.release(c)
			}
			return
		}
	}
}

func (m *WebSocketManager) release(c *wsClient) {
	c.close()
	if m.bus != nil {
		m.bus.UnsubscribeAll(c.events)
	}
}

// Stop closes every stream. The manager cannot be restarted.
func (m *WebSocketManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// HandleWebSocket upgrades the request and streams events. A non-empty
// filterServer limits the stream to events about that server and events not
// tied to any server.
func (m *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request, filterServer string) {
	if m.bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	c := &wsClient{
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		events:       m.bus.SubscribeAll(),
		filterServer: filterServer,
		manager:      m,
		done:         make(chan struct{}),
	}

	select {
	case m.register <- c:
	case <-m.stopChan:
		m.release(c)
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
	go c.eventPump()
}

// ActiveConnections returns the number of connected clients
func (m *WebSocketManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// close signals the pumps to stop. writePump owns the connection: it sends
// the close frame and then closes it.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *wsClient) leave() {
	select {
	case c.manager.unregister <- c:
	case <-c.manager.stopChan:
	}
}

// readPump only handles pongs and detects disconnects; clients send nothing.
func (c *wsClient) readPump() {
	defer c.leave()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.manager.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.manager.logger.Debug("WebSocket write error", zap.Error(err))
				c.leave()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.leave()
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (c *wsClient) eventPump() {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.events:
			if !ok {
				c.leave()
				return
			}
			if !c.wants(ev) {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.manager.logger.Error("Failed to marshal event", zap.String("event_type", string(ev.Type)), zap.Error(err))
				continue
			}
			select {
			case c.send <- data:
			case <-c.done:
				return
			default:
				c.manager.logger.Warn("WebSocket send buffer full, dropping event",
					zap.String("event_type", string(ev.Type)))
			}
		}
	}
}

func (c *wsClient) wants(ev events.Event) bool {
	return c.filterServer == "" || ev.ServerID == "" || ev.ServerID == c.filterServer
}
