package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"mcp-core/internal/handler"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// ServeWebsocket runs the read side of a websocket client until the peer
// goes away or ctx ends. Each inbound JSON object goes through
// HandleClientMessage; failures are reported back as error events.
func (s *Server) ServeWebsocket(ctx context.Context, conn *websocket.Conn, userID string) {
	c := s.Connect(conn, userID)
	defer s.Disconnect(c.ID)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		var raw handler.Raw
		if err := conn.ReadJSON(&raw); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.SendToClient(c.ID, "error", map[string]any{"error": "invalid json"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("client_id", c.ID).Msg("websocket read failed")
			}
			return
		}
		res, err := s.HandleClientMessage(ctx, c.ID, raw)
		switch {
		case err != nil:
			s.SendToClient(c.ID, "error", map[string]any{"error": err.Error()})
		case res != nil:
			s.SendToClient(c.ID, "ack", res)
		}
	}
}
