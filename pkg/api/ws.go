// WebSocket relays — one connection-handling shape reused for the two
// live-update streams coflow exposes: a workflow's edit-session events and
// one execution's step/status events.
//
// Grounded on the teacher's WSHub/WSClient (register/unregister lifecycle,
// buffered per-client send queue, ping/pong read and write pumps),
// generalized from a single global hub broadcasting agent/channel/cron
// status into a pubsub.Bus subscription per connection — a workflow or
// execution id — torn down when that connection closes.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/presence"
	"github.com/coflow/coflow/pkg/pubsub"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin enforcement happens in corsMiddleware ahead of the upgrade
	},
}

// wsEvent is the envelope every message sent to a WebSocket client is
// wrapped in, regardless of which pubsub topic produced it.
type wsEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func writeWSEvent(conn *websocket.Conn, eventType string, data interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(wsEvent{Type: eventType, Data: data})
}

// pumpEvents relays every pubsub.Message on events to the client as a
// wsEvent until ctx is canceled or the write fails, and keeps the
// connection alive with periodic pings in between.
func pumpEvents(ctx context.Context, conn *websocket.Conn, events <-chan pubsub.Message) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := writeWSEvent(conn, msg.Topic, msg.Payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// inboundOperationMessage is what an edit-session client sends to submit an
// operation or update its presence.
type inboundOperationMessage struct {
	Type      string                  `json:"type"` // "operation" | "presence" | "heartbeat"
	Operation *workflow.EditOperation `json:"operation,omitempty"`
	Presence  *workflow.UserPresence  `json:"presence,omitempty"`
}

// handleWorkflowWebSocket upgrades the connection and relays the workflow's
// edit-session broadcast stream to the client, forwarding the client's own
// operation/presence messages into the session. A connection that goes
// silent for longer than the presence timeout is treated as a drop and its
// user's presence is cleared.
func (s *Server) handleWorkflowWebSocket(w http.ResponseWriter, r *http.Request) {
	workflowID := domain.EntityID(r.PathValue("id"))
	sess, err := s.sup.GetOrCreateSession(workflowID)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	userID := r.URL.Query().Get("user_id")
	connID := presence.ConnID(uuid.NewString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.presence.Register(connID, workflowID, userID, func(workflowID domain.EntityID, userID string) {
		if userID != "" {
			_ = sess.UserLeft(context.Background(), userID)
		}
	})
	defer s.presence.Unregister(connID)

	events, unsubscribe := s.bus.Subscribe(topicWorkflowEvents(workflowID.String()))
	defer unsubscribe()

	go pumpEvents(ctx, conn, events)

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		s.presence.Heartbeat(connID)
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.presence.Heartbeat(connID)

		var msg inboundOperationMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "operation":
			if msg.Operation != nil {
				msg.Operation.WorkflowID = workflowID
				_, _, _ = sess.ApplyOperation(ctx, *msg.Operation)
			}
		case "presence":
			if msg.Presence != nil {
				if userID == "" {
					userID = msg.Presence.UserID
				}
				_ = sess.UpdatePresence(ctx, *msg.Presence)
			}
		}
	}

	if userID != "" {
		_ = sess.UserLeft(context.Background(), userID)
	}
}

// handleExecutionWebSocket relays an execution's step and status events
// (published by pkg/observability.Hooks) to the client for the duration of
// the connection.
func (s *Server) handleExecutionWebSocket(w http.ResponseWriter, r *http.Request) {
	executionID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stepEvents, unsubSteps := s.bus.Subscribe(topicExecutionSteps(executionID))
	defer unsubSteps()
	statusEvents, unsubStatus := s.bus.Subscribe(topicExecutionStatus(executionID))
	defer unsubStatus()

	merged := make(chan pubsub.Message, 64)
	go forwardMessages(ctx, stepEvents, merged)
	go forwardMessages(ctx, statusEvents, merged)

	go pumpEvents(ctx, conn, merged)

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// forwardMessages copies from src to dst until ctx is canceled or src
// closes, dropping messages if dst is backed up rather than stalling src.
func forwardMessages(ctx context.Context, src <-chan pubsub.Message, dst chan<- pubsub.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- msg:
			default:
			}
		}
	}
}

func topicWorkflowEvents(workflowID string) string   { return "workflow:" + workflowID + ":events" }
func topicExecutionSteps(executionID string) string  { return "execution:" + executionID + ":steps" }
func topicExecutionStatus(executionID string) string { return "execution:" + executionID + ":status" }
