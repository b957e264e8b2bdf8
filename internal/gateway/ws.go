package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// wsClient serializes frame writes to one socket. slot holds a token while
// a write is in progress; waiting for it honors the write deadline.
type wsClient struct {
	conn *websocket.Conn
	slot chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, slot: make(chan struct{}, 1)}
}

func (c *wsClient) write(ctx context.Context, timeout time.Duration, v any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.slot }()
	return wsjson.Write(ctx, c.conn, v)
}

type chatResponseFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		s.logger.WarnContext(r.Context(), "ws: accept failed", "error", err)
		return
	}
	c := newWSClient(conn)
	s.addClient(c)
	s.logger.InfoContext(r.Context(), "ws: client connected", "clients", s.WSClientCount())
	defer func() {
		s.removeClient(c)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		s.logger.InfoContext(r.Context(), "ws: client disconnected")
	}()

	// Inbound frames carry nothing the server acts on; reading keeps control
	// frames flowing and surfaces the close.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (s *Server) addClient(c *wsClient) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

func (s *Server) removeClient(c *wsClient) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return false
	}
	delete(s.clients, c)
	return true
}

func (s *Server) WSClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// BroadcastChatResponse pushes a chat_response frame to every connected
// websocket client and returns without waiting for the writes. Each client is
// written on its own goroutine under WSWriteTimeout; clients whose write
// fails are dropped.
func (s *Server) BroadcastChatResponse(ctx context.Context, content string) {
	s.clientsMu.RLock()
	targets := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.clientsMu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	frame := chatResponseFrame{Type: "chat_response", Content: content}
	for _, c := range targets {
		go func() {
			if err := c.write(ctx, s.cfg.WSWriteTimeout, frame); err != nil {
				s.logger.WarnContext(ctx, "ws: dropping client after failed write", "error", err)
				if s.removeClient(c) {
					_ = c.conn.Close(websocket.StatusGoingAway, "write failed")
				}
			}
		}()
	}
}
