package telephony

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// startTimeout bounds how long a freshly accepted socket may sit without
// delivering its start event.
const startTimeout = 10 * time.Second

// Handler runs one call over an established media stream. HandleCall blocks
// until the call is over; the server closes the socket afterwards.
type Handler interface {
	HandleCall(ctx context.Context, stream *Stream)
}

// Server upgrades media WebSocket connections and hands each started stream
// to the call handler. It implements http.Handler and is mounted on the
// carrier's media-stream path.
type Server struct {
	handler Handler
}

// NewServer returns a Server dispatching calls to handler.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler}
}

// ServeHTTP upgrades the request and runs the call to completion.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Carriers connect from their own infrastructure, not browsers;
		// Origin checks would only reject legitimate streams.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("telephony: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	stream, err := AwaitStart(r.Context(), conn)
	if err != nil {
		slog.Warn("telephony: media stream handshake failed", "remote", r.RemoteAddr, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "no start event")
		return
	}

	info := stream.Info()
	slog.Info("telephony: media stream started",
		"stream_sid", info.StreamID,
		"call_id", info.CallID,
		"agent_id", info.AgentID)

	defer stream.Close(nil)
	s.handler.HandleCall(r.Context(), stream)
}
