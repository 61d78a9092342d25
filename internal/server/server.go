package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kakigoori/internal/auth"
	"kakigoori/internal/images"
	"kakigoori/internal/metrics"
	"kakigoori/internal/models"
)

type Server struct {
	cfg     *models.Config
	router  *gin.Engine
	http    *http.Server
	svc     *images.Service
	gate    *auth.Gate
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewServer(cfg *models.Config, svc *images.Service, gate *auth.Gate, m *metrics.Metrics, log *slog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	s := &Server{cfg: cfg, router: r, svc: svc, gate: gate, metrics: m, log: log}

	r.GET("/healthz", s.handleHealth)
	if m != nil {
		r.GET(cfg.Server.MetricsPath, gin.WrapH(m.Handler()))
	}

	r.POST("/upload", s.requireCapability(auth.UploadImage), s.handleUpload)
	r.GET("/conversion_tasks/:encoding", s.requireCapability(auth.UploadVariant), s.handleListTasks)
	r.POST("/conversion_tasks/upload_variant", s.requireCapability(auth.UploadVariant), s.handleUploadVariant)

	r.GET("/:id/:encoding", s.handleGetFull)
	r.GET("/:id/:encoding/thumbnail", s.handleGetThumbnail)
	r.GET("/:id/height/:size/:encoding", s.handleGetByHeight)
	r.GET("/:id/width/:size/:encoding", s.handleGetByWidth)

	s.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.cfg.Server.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
