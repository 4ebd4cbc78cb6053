// Package server exposes runs, approvals and events over HTTP so
// dashboards and scripts can observe and resolve what the agent parks.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"drover/internal/agent"
	"drover/internal/config"
	"drover/internal/gateway"
	"drover/internal/logging"
	"drover/internal/observability"
	"drover/internal/runstore"
)

var ginModeOnce sync.Once

// APIResponse is the envelope every JSON endpoint returns.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Dependencies carries the server's collaborators. Gateway and Events
// are required; the rest degrade gracefully when absent.
type Dependencies struct {
	Gateway  *gateway.Gateway
	Events   *agent.Broadcaster
	Store    *runstore.Store
	Registry *Registry
	Metrics  *observability.Metrics
	Tracer   *observability.TracerProvider
	Version  string
}

// Server is the HTTP surface over the agent library.
type Server struct {
	cfg      config.ServerConfig
	gate     *gateway.Gateway
	events   *agent.Broadcaster
	store    *runstore.Store
	registry *Registry
	metrics  *observability.Metrics
	tracer   *observability.TracerProvider
	version  string
	logger   logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	startTime  time.Time
}

// New assembles the router. It does not start listening.
func New(cfg config.ServerConfig, deps Dependencies, logger logging.Logger) (*Server, error) {
	if deps.Gateway == nil {
		return nil, errors.New("tool call gateway is required")
	}
	if deps.Events == nil {
		return nil, errors.New("event broadcaster is required")
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		gate:     deps.Gateway,
		events:   deps.Events,
		store:    deps.Store,
		registry: deps.Registry,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		version:  version,
		logger:   logging.OrNop(logger),
		engine:   engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		startTime: time.Now(),
	}

	engine.Use(s.observe())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	if mw := rateLimitMiddleware(s.cfg.RateLimit); mw != nil {
		api.Use(mw)
	}
	api.GET("/health", s.handleHealth)

	runs := api.Group("/runs")
	{
		runs.GET("", s.handleListRuns)
		runs.GET("/:id", s.handleGetRun)
	}

	approvals := api.Group("/approvals")
	{
		approvals.GET("", s.handleListApprovals)
		approvals.POST("/:id/approve", s.handleApprove)
		approvals.POST("/:id/deny", s.handleDeny)
		approvals.POST("/:id/always-allow", s.handleAlwaysAllow)
	}

	s.engine.GET("/ws", s.handleWebSocket)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// observe spans and logs each request. The websocket route is long
// lived, so it is skipped.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/ws" {
			c.Next()
			return
		}

		start := time.Now()
		var span trace.Span
		if s.tracer != nil {
			var ctx context.Context
			ctx, span = s.tracer.StartSpan(c.Request.Context(), observability.SpanHTTPRequest,
				attribute.String("http.route", c.Request.URL.Path),
				attribute.String("http.method", c.Request.Method),
			)
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()

		// The route pattern resolves during c.Next.
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if span != nil {
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", c.Writer.Status()),
			)
			span.End()
		}
		s.logger.Info("route=%s method=%s status=%d latency_ms=%.2f",
			route, c.Request.Method, c.Writer.Status(),
			float64(time.Since(start).Microseconds())/1000.0)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening on %s", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	respondOK(c, gin.H{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.startTime).String(),
	})
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, err error) {
	c.JSON(status, APIResponse{Success: false, Error: err.Error()})
}
