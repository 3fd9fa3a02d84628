package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

// Message types.
const (
	WSTypeAuthRequired = "auth_required"
	WSTypeAuth         = "auth"
	WSTypeAuthOK       = "auth_ok"
	WSTypeAuthInvalid  = "auth_invalid"
	WSTypeResult       = "result"
	WSTypeEvent        = "event"
	WSTypePing         = "ping"
	WSTypePong         = "pong"

	WSCmdSubscribeEvents   = "subscribe_events"
	WSCmdUnsubscribeEvents = "unsubscribe_events"
	WSCmdGetStates         = "get_states"
	WSCmdGetConfig         = "get_config"
	WSCmdGetServices       = "get_services"
	WSCmdCallService       = "call_service"
	WSCmdFireEvent         = "fire_event"
)

// Error codes carried in failed results.
const (
	WSErrIDReuse        = "id_reuse"
	WSErrInvalidFormat  = "invalid_format"
	WSErrUnknownCommand = "unknown_command"
	WSErrNotFound       = "not_found"
	WSErrServiceFailed  = "home_assistant_error"
	WSErrUnauthorized   = "unauthorized"
)

const (
	wsAuthTimeout        = 10 * time.Second
	wsEventQueueSize     = 256
	wsInvalidAuthMessage = "Invalid access token or password"
)

// WSMessage is one inbound command. Only the fields a command uses are set.
type WSMessage struct {
	ID           int64          `json:"id"`
	Type         string         `json:"type"`
	AccessToken  string         `json:"access_token,omitempty"`
	EventType    string         `json:"event_type,omitempty"`
	Subscription int64          `json:"subscription,omitempty"`
	Domain       string         `json:"domain,omitempty"`
	Service      string         `json:"service,omitempty"`
	ServiceData  map[string]any `json:"service_data,omitempty"`
	Target       *WSTarget      `json:"target,omitempty"`
	EventData    map[string]any `json:"event_data,omitempty"`
}

// WSTarget selects entities for call_service.
type WSTarget struct {
	EntityID any `json:"entity_id"`
}

// WSError is the error body of a failed result.
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsResult struct {
	ID      int64    `json:"id"`
	Type    string   `json:"type"`
	Success bool     `json:"success"`
	Result  any      `json:"result"`
	Error   *WSError `json:"error,omitempty"`
}

type wsEvent struct {
	ID    int64      `json:"id"`
	Type  string     `json:"type"`
	Event core.Event `json:"event"`
}

type wsAuthMessage struct {
	Type      string `json:"type"`
	HAVersion string `json:"ha_version,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Hub tracks the open WebSocket connections.
type Hub struct {
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
	dropped atomic.Uint64
}

// WSClient is one authenticated connection.
type WSClient struct {
	hub       *Hub
	server    *Server
	conn      *websocket.Conn
	principal auth.Principal

	send chan []byte
	done chan struct{}
	once sync.Once

	// Touched only by the read loop.
	lastID int64
	subs   map[int64]*eventbus.Subscription
	wg     sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates an empty connection registry.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// ─── Connection ─────────────────────────────────────────────────────

// handleWebSocket upgrades the connection and runs the auth handshake.
// The handler blocks for the lifetime of the connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	principal, ok := s.authenticateWS(conn)
	if !ok {
		conn.Close()
		return
	}

	client := &WSClient{
		hub:       s.hub,
		server:    s,
		conn:      conn,
		principal: principal,
		send:      make(chan []byte, s.wsCfg.SendBuffer),
		done:      make(chan struct{}),
		subs:      make(map[int64]*eventbus.Subscription),
	}
	s.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go client.writePump(s.wsCfg)
	client.readPump(core.WithUser(ctx, principal.Subject), s.wsCfg)
}

// authenticateWS writes auth_required and waits for a valid auth message.
// It writes directly to conn since the write loop has not started.
func (s *Server) authenticateWS(conn *websocket.Conn) (auth.Principal, bool) {
	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(time.Now().Add(wsAuthTimeout))
	if err := conn.WriteJSON(wsAuthMessage{Type: WSTypeAuthRequired, HAVersion: s.version}); err != nil {
		return auth.Principal{}, false
	}

	conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on the handshake
	conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		s.logger.Debug("websocket auth read failed", "error", err)
		return auth.Principal{}, false
	}

	var principal auth.Principal
	err := errors.New("expected auth message")
	if msg.Type == WSTypeAuth {
		principal, err = s.auth.Validate(msg.AccessToken)
	}
	if err != nil {
		s.logger.Debug("websocket auth rejected", "error", err)
		//nolint:errcheck // Connection is closed right after
		conn.WriteJSON(wsAuthMessage{Type: WSTypeAuthInvalid, Message: wsInvalidAuthMessage})
		return auth.Principal{}, false
	}

	if err := conn.WriteJSON(wsAuthMessage{Type: WSTypeAuthOK, HAVersion: s.version}); err != nil {
		return auth.Principal{}, false
	}
	//nolint:errcheck // Cleared for the command phase
	conn.SetWriteDeadline(time.Time{})
	return principal, true
}

// readPump reads commands until the connection closes.
func (c *WSClient) readPump(ctx context.Context, cfg config.WebSocketConfig) {
	defer func() {
		for id, sub := range c.subs {
			sub.Close()
			delete(c.subs, id)
		}
		c.wg.Wait()
		c.hub.Unregister(c)
		c.close()
	}()

	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(ctx, message)
	}
}

// writePump drains the outbound queue and keeps the connection alive.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// ─── Commands ───────────────────────────────────────────────────────

// handleMessage dispatches one command.
func (c *WSClient) handleMessage(ctx context.Context, data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(0, WSErrInvalidFormat, "Message incorrectly formatted.")
		return
	}
	if msg.ID <= c.lastID {
		c.sendError(msg.ID, WSErrIDReuse, "Identifier values have to increase.")
		return
	}
	c.lastID = msg.ID

	switch msg.Type {
	case WSTypePing:
		c.sendResponse(map[string]any{"id": msg.ID, "type": WSTypePong})
	case WSCmdSubscribeEvents:
		c.subscribeEvents(msg)
	case WSCmdUnsubscribeEvents:
		c.unsubscribeEvents(msg)
	case WSCmdGetStates:
		c.sendResult(msg.ID, c.server.states.List(state.Filter{}))
	case WSCmdGetConfig:
		c.sendResult(msg.ID, c.server.configPayload())
	case WSCmdGetServices:
		c.sendResult(msg.ID, servicesByDomain(c.server.services.Services()))
	case WSCmdCallService:
		c.callService(ctx, msg)
	case WSCmdFireEvent:
		c.fireEvent(ctx, msg)
	default:
		c.sendError(msg.ID, WSErrUnknownCommand, "Unknown command.")
	}
}

func (c *WSClient) subscribeEvents(msg WSMessage) {
	eventType := msg.EventType
	if eventType == "" {
		eventType = eventbus.MatchAll
	}
	sub := c.server.bus.SubscribeSize(eventType, wsEventQueueSize)
	c.subs[msg.ID] = sub

	// Acknowledge before any event for this subscription can be queued.
	c.sendResult(msg.ID, nil)

	c.wg.Add(1)
	go func(id int64) {
		defer c.wg.Done()
		for ev := range sub.Events() {
			c.sendEvent(id, ev)
		}
	}(msg.ID)
}

// unsubscribeEvents succeeds whether or not the subscription exists.
func (c *WSClient) unsubscribeEvents(msg WSMessage) {
	if sub, ok := c.subs[msg.Subscription]; ok {
		sub.Close()
		delete(c.subs, msg.Subscription)
	}
	c.sendResult(msg.ID, nil)
}

func (c *WSClient) callService(ctx context.Context, msg WSMessage) {
	if msg.Domain == "" || msg.Service == "" {
		c.sendError(msg.ID, WSErrInvalidFormat, "domain and service are required")
		return
	}
	var targets []string
	if msg.Target != nil {
		targets = core.ToStringList(msg.Target.EntityID)
	}

	callCtx := core.Context{ID: core.NewContextID(), UserID: c.principal.Subject}
	_, err := c.server.services.Call(core.WithContext(ctx, callCtx), msg.Domain, msg.Service, targets, msg.ServiceData)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidService):
			c.sendError(msg.ID, WSErrNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidData):
			c.sendError(msg.ID, WSErrInvalidFormat, err.Error())
		default:
			c.sendError(msg.ID, WSErrServiceFailed, err.Error())
		}
		return
	}
	c.sendResult(msg.ID, map[string]any{"context": callCtx})
}

func (c *WSClient) fireEvent(ctx context.Context, msg WSMessage) {
	if msg.EventType == "" {
		c.sendError(msg.ID, WSErrInvalidFormat, "event_type is required")
		return
	}
	if msg.EventType == core.EventStateChanged {
		c.sendError(msg.ID, WSErrUnauthorized, "state_changed events are fired by the state store only.")
		return
	}
	ev := c.server.bus.Fire(ctx, msg.EventType, msg.EventData, core.OriginRemote)
	c.sendResult(msg.ID, map[string]any{"context": ev.Context})
}

// servicesByDomain reshapes the registry listing into domain → service → info.
func servicesByDomain(list []service.DomainServices) map[string]map[string]service.ServiceInfo {
	out := make(map[string]map[string]service.ServiceInfo, len(list))
	for _, d := range list {
		out[d.Domain] = d.Services
	}
	return out
}

// ─── Outbound ───────────────────────────────────────────────────────

func (c *WSClient) sendResult(id int64, result any) {
	c.sendResponse(wsResult{ID: id, Type: WSTypeResult, Success: true, Result: result})
}

func (c *WSClient) sendError(id int64, code, message string) {
	c.sendResponse(wsResult{ID: id, Type: WSTypeResult, Error: &WSError{Code: code, Message: message}})
}

// sendResponse queues a reply, waiting for room. Replies are never dropped.
func (c *WSClient) sendResponse(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket response", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

// sendEvent queues an event, dropping it when the queue is full.
func (c *WSClient) sendEvent(id int64, ev core.Event) {
	data, err := json.Marshal(wsEvent{ID: id, Type: WSTypeEvent, Event: ev})
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket event", "event_type", ev.EventType, "error", err)
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.hub.dropped.Add(1)
	}
}
