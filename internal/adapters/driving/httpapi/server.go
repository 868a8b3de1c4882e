// Package httpapi exposes ingestion and retrieval over a JSON HTTP API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
	"github.com/custodia-labs/ragpipe/internal/core/ports/driving"
	"github.com/custodia-labs/ragpipe/internal/logger"
)

var (
	// ErrMissingRetriever is returned when the retriever is not provided.
	ErrMissingRetriever = errors.New("httpapi: retriever is required")

	// ErrDisabled is returned by routes whose port was not provided.
	ErrDisabled = errors.New("not enabled on this server")
)

// Ports aggregates the driving ports the API calls.
type Ports struct {
	// Retriever answers queries. Required.
	Retriever driving.Retriever

	// Ingest runs ingestions. Without it the ingest route returns 503.
	Ingest driving.IngestService

	// Collections lists and prunes stored sources.
	Collections driving.CollectionService

	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer

	// DefaultTopK is used when a query names no k.
	DefaultTopK int
}

// Server serves the HTTP API.
type Server struct {
	ports  *Ports
	engine *gin.Engine
}

// NewServer builds the router for the given ports.
func NewServer(ports *Ports) (*Server, error) {
	if ports.Retriever == nil {
		return nil, ErrMissingRetriever
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{ports: ports, engine: engine}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	if s.ports.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.ports.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/v1")
	{
		v1.GET("/collections", s.listCollections)
		v1.GET("/collections/:collection", s.getCollection)
		v1.GET("/collections/:collection/sources", s.listSources)
		v1.DELETE("/collections/:collection/sources", s.deleteSource)
		v1.POST("/collections/:collection/ingest", s.ingest)
		v1.POST("/collections/:collection/query", s.query)
		v1.POST("/collections/:collection/context", s.contextBlock)
		v1.POST("/collections/:collection/answer", s.answer)
	}
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Info("HTTP API listening on %s", addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) k(requested int) int {
	return domain.ClampK(requested, s.ports.DefaultTopK)
}
