package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mcp-core/internal/mcp"
	"mcp-core/internal/monitor"
	"mcp-core/pkg/db"
)

// Server wires the HTTP endpoints around the control plane.
type Server struct {
	Router     *gin.Engine
	MCP        *mcp.Server
	DB         *db.Database
	Metrics    *monitor.SystemMetrics
	Collectors *monitor.Collectors
	log        zerolog.Logger
	limiters   *ipLimiters
}

// Options are the optional collaborators of the HTTP layer.
type Options struct {
	DB            *db.Database
	Metrics       *monitor.SystemMetrics
	Collectors    *monitor.Collectors
	// RatePerSecond and Burst bound each client IP. Zero uses 20/s burst 50.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

func NewServer(core *mcp.Server, opts Options, log zerolog.Logger) *Server {
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 50
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	r := gin.New()
	s := &Server{
		Router:     r,
		MCP:        core,
		DB:         opts.DB,
		Metrics:    opts.Metrics,
		Collectors: opts.Collectors,
		log:        log,
		limiters:   newIPLimiters(opts.RatePerSecond, opts.Burst),
	}

	// Middleware stack (order matters)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, opts.Collectors))
	r.Use(RateLimitMiddleware(s.limiters, log))
	r.Use(CORSMiddleware())

	s.routes(opts.Timeout)
	return s
}

func (s *Server) routes(timeout time.Duration) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Collectors != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Collectors.Handler()))
	}

	bounded := TimeoutMiddleware(timeout)
	s.Router.POST("/webhook/tradingview", bounded, s.tradingViewWebhook)

	api := s.Router.Group("/api", bounded)
	{
		api.GET("/status", s.getStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/queues", s.getQueues)
		api.POST("/messages", s.postMessage)

		api.GET("/signals", s.listSignals)
		api.GET("/signals/:id", s.getSignal)
		api.POST("/signals/:id/status", s.updateSignalStatus)
		api.GET("/signals/:id/routing", s.listRouting)

		api.POST("/routing", s.routeSignal)
		api.POST("/system/:command", s.systemCommand)
	}
}

func (s *Server) health(c *gin.Context) {
	if !s.MCP.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler returns the HTTP handler for embedding in an http.Server.
func (s *Server) Handler() http.Handler { return s.Router }

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
