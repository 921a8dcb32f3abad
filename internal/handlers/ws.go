// internal/handlers/ws.go
//
// WebSocket delivery of session events, and the client action read loop.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ludoroyale/server/internal/events"
)

// wsWriteTimeout bounds a single frame write.
const wsWriteTimeout = 3 * time.Second

// outBufferSize is the per-connection send queue. A slow client that falls
// this far behind starts losing frames rather than stalling the engine.
const outBufferSize = 64

type wsClient struct {
	userID uuid.UUID
	conn   *websocket.Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans session events out to subscribed WebSocket clients. It
// implements events.Sink; the engine publishes in operation order and each
// client's writer goroutine preserves that order on its own connection.
type Hub struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]map[*wsClient]struct{}
	log      *logrus.Logger
}

func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.New()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[*wsClient]struct{}),
		log:      log,
	}
}

// Publish implements events.Sink.
func (h *Hub) Publish(sessionID uuid.UUID, eventType events.Type, payload map[string]interface{}) {
	frame, err := json.Marshal(map[string]interface{}{
		"type":       eventType,
		"session_id": sessionID,
		"data":       payload,
	})
	if err != nil {
		h.log.Errorf("hub: failed to marshal %s event: %v", eventType, err)
		return
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.sessions[sessionID]))
	for c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.out <- frame:
		default:
			// The queue is full. Ticks are expendable; anything else
			// means the client is too far gone to keep.
			if eventType != events.EventTurnTimeTick {
				h.log.Warnf("hub: dropping backlogged client %s on session %s", c.userID, sessionID)
				c.close()
			}
		}
	}
}

func (h *Hub) subscribe(sessionID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[sessionID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.sessions[sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unsubscribe(sessionID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.sessions[sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

// wsMessage is the envelope for client-to-server actions.
type wsMessage struct {
	Type     string `json:"type"`
	Ready    bool   `json:"ready,omitempty"`
	PieceIdx int    `json:"piece_index,omitempty"`
}

// SessionWSHandler upgrades to WebSocket for one session
// (/session/ws/{session_id}): authenticates, verifies the user is seated,
// subscribes them to the event stream, handles the action loop, and treats
// the socket's lifetime as the player's presence (connect reconnects a
// dropped player, read-loop exit disconnects them).
func (s *Server) SessionWSHandler(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/session/ws/")
	sessionID, err := uuid.Parse(strings.TrimSuffix(idStr, "/"))
	if err != nil {
		http.Error(w, "invalid session id in path", http.StatusBadRequest)
		return
	}

	userID, err := authUserID(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	session, err := s.Engine.Store().Load(r.Context(), sessionID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if session.Slot(userID) == nil {
		http.Error(w, "you are not seated in this session", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"ludo"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Log.Warnf("websocket accept failed for session %s: %v", sessionID, err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exit")

	client := &wsClient{
		userID: userID,
		conn:   conn,
		out:    make(chan []byte, outBufferSize),
		done:   make(chan struct{}),
	}
	s.Hub.subscribe(sessionID, client)
	defer s.Hub.unsubscribe(sessionID, client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writeLoop(ctx, client)

	// A fresh socket from a disconnected player is a reconnection.
	// Eliminated players keep the socket but stay out of the game.
	if slot := session.Slot(userID); !slot.IsActive && !slot.IsEliminated {
		if err := s.Engine.Reconnect(ctx, sessionID, userID); err != nil {
			s.Log.Warnf("reconnect of %s to session %s failed: %v", userID, sessionID, err)
		}
	}

	s.readLoop(ctx, client, sessionID)

	// Socket gone: the player is no longer present.
	if err := s.Engine.Disconnect(context.Background(), sessionID, userID); err != nil {
		s.Log.Debugf("disconnect of %s from session %s: %v", userID, sessionID, err)
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			c.conn.Close(websocket.StatusPolicyViolation, "send queue overflow")
			return
		case frame := <-c.out:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsClient, sessionID uuid.UUID) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.Log.Infof("websocket closed normally for user %s in session %s", c.userID, sessionID)
			} else if !strings.Contains(err.Error(), "context canceled") {
				s.Log.Warnf("websocket read error for user %s in session %s: %v", c.userID, sessionID, err)
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendWsError(ctx, c, "invalid JSON")
			continue
		}

		switch msg.Type {
		case "ready":
			if err := s.Engine.SetReady(ctx, sessionID, c.userID, msg.Ready); err != nil {
				s.sendWsError(ctx, c, err.Error())
			}
		case "roll":
			if _, err := s.Engine.RollDice(ctx, sessionID, c.userID); err != nil {
				s.sendWsError(ctx, c, err.Error())
			}
		case "move":
			if err := s.Engine.MovePiece(ctx, sessionID, c.userID, msg.PieceIdx); err != nil {
				s.sendWsError(ctx, c, err.Error())
			}
		case "ping":
			s.sendWs(ctx, c, map[string]string{"type": "pong"})
		default:
			s.sendWsError(ctx, c, "unknown action type: "+msg.Type)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Server) sendWs(ctx context.Context, c *wsClient, v interface{}) {
	frame, err := json.Marshal(v)
	if err != nil {
		s.Log.Errorf("failed to marshal ws message: %v", err)
		return
	}
	select {
	case c.out <- frame:
	default:
	}
}

func (s *Server) sendWsError(ctx context.Context, c *wsClient, msg string) {
	s.sendWs(ctx, c, map[string]interface{}{"type": "error", "message": msg})
}
