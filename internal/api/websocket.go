package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/trinity/guided-upload/internal/models"
	"go.uber.org/zap"
)

// WebSocket message types for the flow push channel
const (
	// Client -> Server messages
	MsgTypePing = "ping"
	MsgTypeView = "view"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeState     = "state"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

// latestState holds at most one pending state update. A newer update replaces
// an unsent one, so a slow client always ends on the latest state.
type latestState struct {
	mu sync.Mutex
	ch chan models.GuidedUploadFlowState
}

func newLatestState() *latestState {
	return &latestState{ch: make(chan models.GuidedUploadFlowState, 1)}
}

// offer never blocks.
func (l *latestState) offer(st models.GuidedUploadFlowState) (replaced bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.ch:
		replaced = true
	default:
	}
	l.ch <- st
	return replaced
}

func (l *latestState) updates() <-chan models.GuidedUploadFlowState { return l.ch }

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes flow state changes to connected clients
type WebSocketHandler struct {
	flows    FlowManager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket flow handler
func NewWebSocketHandler(flows FlowManager, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		flows:  flows,
		logger: logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// wsConn serializes writes to one connection
type wsConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (c *wsConn) send(msg WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debug("failed to send message", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (c *wsConn) sendError(message, code string) {
	c.send(WSMessage{
		Type:      MsgTypeError,
		Timestamp: time.Now().UnixMilli(),
		Payload: mustJSON(WSErrorResponse{
			Type:    MsgTypeError,
			Message: message,
			Code:    code,
		}),
	})
}

// HandleWebSocket upgrades the connection and streams state changes of a flow
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id := c.Param("id")
	fs, ok := wsh.flows.GetFlow(id)
	if !ok {
		return NewNotFoundError("flow", id)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	logger := wsh.logger.With(zap.String("flow", id))
	conn := &wsConn{ws: ws, logger: logger}
	logger.Debug("client connected")

	pending := newLatestState()
	done := make(chan struct{})
	// the listener runs inside a store update, so it must never block
	unsubscribe := fs.Controller.Subscribe(func(st models.GuidedUploadFlowState) {
		if pending.offer(st) {
			logger.Debug("replaced unsent state update, client is slow")
		}
	})
	defer unsubscribe()

	go func() {
		for {
			select {
			case <-done:
				return
			case st := <-pending.updates():
				conn.send(WSMessage{
					Type:      MsgTypeState,
					ID:        id,
					Payload:   mustJSON(st),
					Timestamp: time.Now().UnixMilli(),
				})
			}
		}
	}()
	defer close(done)

	conn.send(WSMessage{
		Type:      MsgTypeConnected,
		ID:        id,
		Payload:   mustJSON(fs.Controller.Snapshot()),
		Timestamp: time.Now().UnixMilli(),
	})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("connection error", zap.Error(err))
			}
			break
		}

		wsh.flows.TouchFlow(id)
		switch msg.Type {
		case MsgTypePing:
			conn.send(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		case MsgTypeView:
			conn.send(WSMessage{
				Type:      MsgTypeView,
				ID:        id,
				Payload:   mustJSON(flowResponse{ID: id, View: fs.Controller.View()}),
				Timestamp: time.Now().UnixMilli(),
			})
		default:
			conn.sendError("Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	logger.Debug("client disconnected")
	return nil
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
