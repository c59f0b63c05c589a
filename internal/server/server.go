// Package server exposes the coordinator over HTTP: the websocket session
// endpoint, room history endpoints, health, stats and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/cheese-online/internal/coordinator"
	"github.com/park285/cheese-online/internal/obslog"
	"github.com/park285/cheese-online/internal/protocol"
)

type Options struct {
	AllowedOrigins []string
	SendQueueSize  int
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
}

type Server struct {
	hub    *coordinator.Hub
	opts   Options
	log    *zap.Logger
	engine *gin.Engine
}

func New(hub *coordinator.Hub, opts Options) *Server {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{hub: hub, opts: opts, log: obslog.Or(opts.Logger), engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	r := s.engine
	r.GET("/ws", s.handleWS)
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/stats", func(c *gin.Context) { c.JSON(http.StatusOK, s.hub.Stats()) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api/rooms/:id")
	api.GET("/history", s.handleHistory)
	api.GET("/messages", s.handleMessages)
}

func (s *Server) handleHistory(c *gin.Context) {
	hist, err := s.hub.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (s *Server) handleMessages(c *gin.Context) {
	msgs, err := s.hub.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, coordinator.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, protocol.Error{Code: "room_not_found", Message: err.Error()})
		return
	}
	s.log.Error("room_lookup_error", zap.String("room_id", c.Param("id")), zap.Error(err))
	c.JSON(http.StatusInternalServerError, protocol.Error{Code: "internal", Message: "internal error"})
}

func (s *Server) handleWS(c *gin.Context) {
	identity := strings.TrimSpace(c.Query(protocol.QueryIdentity))
	if identity == "" {
		c.JSON(http.StatusBadRequest, protocol.Error{Code: "identity_required", Message: "identity query parameter is required"})
		return
	}
	rejoin := strings.TrimSpace(c.Query(protocol.QueryRejoin))

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns:     s.opts.AllowedOrigins,
		InsecureSkipVerify: len(s.opts.AllowedOrigins) == 0,
	})
	if err != nil {
		s.log.Warn("ws_accept_error", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	conn := newWSConn(uuid.NewString(), identity, ws, s.opts.SendQueueSize, s.log)
	s.log.Info("client_connected",
		zap.String("conn_id", conn.id),
		zap.String("identity", identity),
		zap.String("rejoin", rejoin),
	)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writePump(ctx)
	}()

	s.hub.Connect(ctx, conn, rejoin)
	err = conn.readPump(ctx, func(env protocol.Envelope) {
		s.hub.Handle(ctx, conn, env)
	})

	s.hub.Disconnect(conn)
	conn.Close()
	<-writerDone
	s.log.Info("client_disconnected",
		zap.String("conn_id", conn.id),
		zap.String("identity", identity),
		zap.String("reason", closeReason(err)),
	)
}

func closeReason(err error) string {
	if err == nil {
		return ""
	}
	if status := websocket.CloseStatus(err); status != -1 {
		return status.String()
	}
	return err.Error()
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.FullPath() == "/ws" || c.FullPath() == "/metrics" {
			return
		}
		s.log.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
