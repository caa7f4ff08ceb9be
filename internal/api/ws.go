// ABOUTME: WebSocket endpoint pushing the same envelopes as the SSE stream
// ABOUTME: A read pump detects client close; the write pump sends events and pings

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 512
)

// handleWebSocket handles GET /api/ws. ?agent=<id> filters like /api/events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, subID := s.stream.Subscribe(ctx, r.URL.Query().Get("agent"))
	defer s.stream.Unsubscribe(subID)
	s.logger.Debug("websocket client connected", "sub_id", subID)

	go s.wsReadPump(conn, cancel)
	s.wsWritePump(ctx, conn, events)
	s.logger.Debug("websocket client disconnected", "sub_id", subID)
}

// wsReadPump discards client messages and cancels when the connection drops.
func (s *Server) wsReadPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (s *Server) wsWritePump(ctx context.Context, conn *websocket.Conn, events <-chan Envelope) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	if err := s.wsWrite(conn, s.snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.wsClose(conn)
			return
		case env, ok := <-events:
			if !ok {
				s.wsClose(conn)
				return
			}
			if err := s.wsWrite(conn, env); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) wsWrite(conn *websocket.Conn, env Envelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(env)
}

func (s *Server) wsClose(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
