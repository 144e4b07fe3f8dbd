// Package server is the ops HTTP surface: liveness, readiness, Prometheus
// metrics, and a small debug view of recent engine events. It is meant to
// stay localhost-bound; nothing here mutates engine state.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"alpaca-signal-engine/config"
	"alpaca-signal-engine/internal/events"
	"alpaca-signal-engine/internal/logging"
	"alpaca-signal-engine/internal/metrics"
)

// debugRingSize bounds the /debug/engine event window.
const debugRingSize = 256

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// PingerFunc adapts a func to Pinger.
type PingerFunc func(ctx context.Context) error

// HealthCheck implements Pinger.
func (f PingerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// EngineState is supplied by the scheduler for /debug/engine.
type EngineState func() map[string]interface{}

// Server is the ops HTTP server.
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger

	ring    *events.Ring
	pingers map[string]Pinger
	state   EngineState
}

// New builds the ops server. collector may not be nil; state may be.
func New(cfg config.ServerConfig, prod bool, collector *metrics.Collector, bus *events.Bus, state EngineState) *Server {
	if prod {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:     cfg,
		router:  router,
		logger:  logging.Component("server"),
		ring:    events.NewRing(debugRingSize),
		pingers: make(map[string]Pinger),
		state:   state,
	}
	if bus != nil {
		bus.SubscribeAll(s.ring.Record)
	}

	router.GET("/healthz", s.handleHealthz)
	router.GET("/readyz", s.handleReadyz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})))
	router.GET("/debug/engine", s.handleDebugEngine)
	return s
}

// AddDependency registers a named dependency for the readiness probe.
func (s *Server) AddDependency(name string, p Pinger) {
	s.pingers[name] = p
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("ops server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(gin.H, len(s.pingers))
	ready := true
	for name, p := range s.pingers {
		if err := p.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}

func (s *Server) handleDebugEngine(c *gin.Context) {
	payload := gin.H{"recent_events": s.ring.Recent()}
	if s.state != nil {
		payload["scheduler"] = s.state()
	}
	c.JSON(http.StatusOK, payload)
}
