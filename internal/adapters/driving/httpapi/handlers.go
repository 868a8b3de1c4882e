package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// IngestRequest is the body of POST /v1/collections/:collection/ingest.
// Exactly one of Source or Sources must be set.
type IngestRequest struct {
	Source         string   `json:"source"`
	Sources        []string `json:"sources"`
	ChunkSize      int      `json:"chunk_size"`
	MaxDepth       int      `json:"max_depth"`
	MaxConcurrency int      `json:"max_concurrency"`
	EmbeddingModel string   `json:"embedding_model"`
	BatchSize      int      `json:"batch_size"`
	CrawlTimeout   string   `json:"crawl_timeout"`
	NoFollow       bool     `json:"no_follow"`
}

func (r *IngestRequest) options() (domain.IngestOptions, error) {
	opts := domain.IngestOptions{
		ChunkSize:      r.ChunkSize,
		MaxDepth:       r.MaxDepth,
		MaxConcurrency: r.MaxConcurrency,
		EmbeddingModel: r.EmbeddingModel,
		BatchSize:      r.BatchSize,
		NoFollow:       r.NoFollow,
	}
	if r.CrawlTimeout != "" {
		d, err := time.ParseDuration(r.CrawlTimeout)
		if err != nil || d <= 0 {
			return opts, fmt.Errorf("%w: crawl_timeout %q", domain.ErrInvalidInput, r.CrawlTimeout)
		}
		opts.CrawlTimeout = d
	}
	return opts, nil
}

// QueryRequest is the body of the query, context and answer routes.
type QueryRequest struct {
	Query    string            `json:"query" binding:"required"`
	K        int               `json:"k"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata"`
}

func (r *QueryRequest) filter() domain.Filter {
	return domain.Filter{Source: r.Source, Metadata: r.Metadata}
}

// DeleteResponse is returned after a source is removed.
type DeleteResponse struct {
	Collection string `json:"collection"`
	Source     string `json:"source"`
	Deleted    int    `json:"deleted"`
}

func (s *Server) listCollections(c *gin.Context) {
	if s.ports.Collections == nil {
		c.JSON(http.StatusOK, []domain.CollectionInfo{})
		return
	}
	collections, err := s.ports.Collections.ListCollections(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, collections)
}

func (s *Server) getCollection(c *gin.Context) {
	if !s.requireCollections(c) {
		return
	}
	info, err := s.ports.Collections.Stats(c.Request.Context(), c.Param("collection"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) listSources(c *gin.Context) {
	if !s.requireCollections(c) {
		return
	}
	sources, err := s.ports.Collections.ListSources(c.Request.Context(), c.Param("collection"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sources)
}

// deleteSource takes the source as a query parameter since sources are
// usually URLs.
func (s *Server) deleteSource(c *gin.Context) {
	if !s.requireCollections(c) {
		return
	}
	source := strings.TrimSpace(c.Query("source"))
	if source == "" {
		abortWithError(c, fmt.Errorf("%w: source query parameter is required", domain.ErrInvalidInput))
		return
	}
	collection := c.Param("collection")
	n, err := s.ports.Collections.DeleteSource(c.Request.Context(), collection, source)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, DeleteResponse{Collection: collection, Source: source, Deleted: n})
}

func (s *Server) ingest(c *gin.Context) {
	if s.ports.Ingest == nil {
		abortWithError(c, fmt.Errorf("ingestion: %w", ErrDisabled))
		return
	}

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
		return
	}
	opts, err := req.options()
	if err != nil {
		abortWithError(c, err)
		return
	}

	collection := c.Param("collection")
	var summary *domain.IngestSummary
	switch {
	case req.Source != "" && len(req.Sources) > 0:
		err = fmt.Errorf("%w: set either source or sources", domain.ErrInvalidInput)
	case len(req.Sources) > 0:
		summary, err = s.ports.Ingest.IngestMany(c.Request.Context(), collection, req.Sources, opts)
	default:
		summary, err = s.ports.Ingest.Ingest(c.Request.Context(), collection, req.Source, opts)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) query(c *gin.Context) {
	var req QueryRequest
	if !bindQuery(c, &req) {
		return
	}
	result, err := s.ports.Retriever.Query(c.Request.Context(), c.Param("collection"), req.Query, s.k(req.K), req.filter())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) contextBlock(c *gin.Context) {
	var req QueryRequest
	if !bindQuery(c, &req) {
		return
	}
	block, err := s.ports.Retriever.Context(c.Request.Context(), c.Param("collection"), req.Query, s.k(req.K), req.filter())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

func (s *Server) answer(c *gin.Context) {
	var req QueryRequest
	if !bindQuery(c, &req) {
		return
	}
	answer, err := s.ports.Retriever.Answer(c.Request.Context(), c.Param("collection"), req.Query, s.k(req.K), req.filter())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

func bindQuery(c *gin.Context, req *QueryRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
		return false
	}
	return true
}

func (s *Server) requireCollections(c *gin.Context) bool {
	if s.ports.Collections == nil {
		abortWithError(c, fmt.Errorf("collection management: %w", ErrDisabled))
		return false
	}
	return true
}
