package transport

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/drophub/drophub/internal/v1/hub"
	"github.com/drophub/drophub/internal/v1/logging"
	"github.com/drophub/drophub/internal/v1/metrics"
	"github.com/drophub/drophub/internal/v1/ratelimit"
)

// Server upgrades HTTP requests on the WebSocket endpoint and hands each
// accepted socket to its own session.
type Server struct {
	hub      *hub.Hub
	limiter  *ratelimit.Limiter
	upgrader websocket.Upgrader
}

// NewServer builds the WebSocket front door. Connections from origins
// outside allowedOrigins are refused before the upgrade; a browser request
// without an Origin header (curl, native clients) passes.
func NewServer(h *hub.Hub, limiter *ratelimit.Limiter, allowedOrigins []string) *Server {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &Server{
		hub:     h,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// ServeWs is the gin handler for the WebSocket endpoint.
func (s *Server) ServeWs(c *gin.Context) {
	if s.limiter != nil && !s.limiter.AllowConnection(c) {
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn(c.Request.Context(), "WebSocket upgrade failed",
			zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}

	s.handleSocket(ws, c.ClientIP())
}

// handleSocket wires the pumps for one accepted connection. Split from
// ServeWs so tests can drive a fake socket without HTTP.
func (s *Server) handleSocket(ws wsConnection, remote string) {
	conn := newConn(ws)
	sess := newSession(s.hub, conn, s.limiter, remote)

	metrics.IncConnection()
	logging.Info(context.Background(), "WebSocket connected", zap.String("remote", remote))

	go conn.writePump()
	go conn.readPump(sess)
}
