// Package api exposes the dashboard surface: token-authenticated JSON
// reads served straight from the incident cache, and the realtime
// WebSocket endpoint. Nothing here ever calls the monitoring source or
// the enrichment provider.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/alertdeck/alertdeck/internal/cache"
	"github.com/alertdeck/alertdeck/internal/config"
	"github.com/alertdeck/alertdeck/internal/usage"
	"github.com/alertdeck/alertdeck/internal/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server wraps the HTTP listener and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	logger     *slog.Logger
	hub        *ws.Hub
	store      *cache.Store
	tokens     *usage.Tracker
	httpServer *http.Server
	listener   net.Listener
}

// NewServer constructs the dashboard server bound to the configured address.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, hub *ws.Hub, store *cache.Store, tokens *usage.Tracker) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		hub:      hub,
		store:    store,
		tokens:   tokens,
		listener: lis,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	authed := engine.Group("/", s.tokenAuth())
	authed.GET("/api/v1/incidents", s.handleIncidents)
	authed.GET("/api/v1/usage", s.handleUsage)
	authed.GET("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	if s.httpServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.httpServer.Serve(s.listener)
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// tokenAuth rejects requests that do not present the shared dashboard
// token. The token is accepted from the X-Dashboard-Token header, the
// "token" query parameter, or the access_token cookie (the form browser
// WebSocket clients can supply).
func (s *Server) tokenAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-Dashboard-Token")
		if presented == "" {
			presented = c.Query("token")
		}
		if presented == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				presented = cookie
			}
		}

		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.DashboardToken)) != 1 {
			s.logger.Warn("rejected unauthenticated request",
				slog.String("path", c.Request.URL.Path), slog.String("remote", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// handleIncidents serves the cache snapshot; it never blocks on upstream
// latency.
func (s *Server) handleIncidents(c *gin.Context) {
	c.JSON(http.StatusOK, ws.SnapshotMessage(s.store.ListRecent(0), s.tokens.Total()))
}

func (s *Server) handleUsage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tokens_used": s.tokens.Total()})
}

// handleWebSocket upgrades an authenticated request into a realtime
// session. The hub sends the snapshot during registration; afterwards the
// read loop only watches for disconnect.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", slog.Any("error", err))
		return
	}

	session := s.hub.Register(conn)
	if session == nil {
		return
	}
	defer s.hub.Unregister(session)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
