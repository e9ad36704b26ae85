// Package api implements the HTTP API / External Interfaces module: Gin
// handlers over the Database, Event Bus, Intervention Manager, and Job
// Spawner, one handler file per concern, grounded on the teacher's
// pkg/api/handler_*.go family translated from Echo v5 to Gin — the only
// router already present in this module's go.mod (see DESIGN.md).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/hadron-sdlc/hadron/pkg/database"
	"github.com/hadron-sdlc/hadron/pkg/events"
	"github.com/hadron-sdlc/hadron/pkg/intervention"
	"github.com/hadron-sdlc/hadron/pkg/spawner"
)

// Server is the Controller's HTTP API server.
type Server struct {
	engine        *gin.Engine
	httpServer    *http.Server
	rdb           *redis.Client
	db            *database.Client
	repo          *database.CRRepository
	events        *events.Bus
	interventions *intervention.Manager
	spawner       spawner.Spawner
}

// NewServer builds a Server and wires its routes.
func NewServer(
	ginMode string,
	rdb *redis.Client,
	db *database.Client,
	repo *database.CRRepository,
	bus *events.Bus,
	interventions *intervention.Manager,
	sp spawner.Spawner,
) *Server {
	gin.SetMode(ginMode)
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), bodyLimit(), securityHeaders())

	s := &Server{
		engine:        engine,
		rdb:           rdb,
		db:            db,
		repo:          repo,
		events:        bus,
		interventions: interventions,
		spawner:       sp,
	}
	s.setupRoutes()
	return s
}

// Engine exposes the underlying router, used by tests to drive requests
// through httptest without going through a live listener.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.healthzHandler)
	s.engine.GET("/readyz", s.readyzHandler)

	v1 := s.engine.Group("/api/pipeline")
	v1.POST("/trigger", s.triggerHandler)
	v1.GET("/list", s.listHandler)
	v1.GET("/:cr_id", s.getHandler)
	v1.POST("/:cr_id/intervene", s.intervenHandler)
	v1.POST("/:cr_id/resume", s.resumeHandler)
	v1.POST("/:cr_id/nudge", s.nudgeHandler)
	v1.GET("/:cr_id/conversation", s.conversationHandler)
	v1.GET("/:cr_id/logs", s.logsHandler)

	s.engine.GET("/api/events/stream", s.eventStreamHandler)
}

// Start runs the HTTP server on addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthzHandler handles GET /healthz: a static liveness probe that never
// touches Postgres or Redis, per spec.md §6.
func (s *Server) healthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyzHandler handles GET /readyz: true readiness, checking both
// dependencies so a load balancer stops routing to an instance that has
// lost its database or KVS connection.
func (s *Server) readyzHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	_, dbErr := database.Health(reqCtx, s.db.DB())
	redisErr := s.rdb.Ping(reqCtx).Err()

	checks := gin.H{
		"postgres": dbErr == nil,
		"redis":    redisErr == nil,
	}
	status := "ready"
	httpStatus := http.StatusOK
	if dbErr != nil || redisErr != nil {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{"status": status, "checks": checks})
}
