package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

// IngestInput is the input schema for the ingest_source tool.
type IngestInput struct {
	Source         string `json:"source" jsonschema:"a URL, sitemap URL, text file URL, local file or directory"`
	Collection     string `json:"collection,omitempty" jsonschema:"target collection (default from settings)"`
	ChunkSize      int    `json:"chunk_size,omitempty" jsonschema:"maximum chunk length in characters (default 1000)"`
	MaxDepth       int    `json:"max_depth,omitempty" jsonschema:"maximum link depth for web pages (default 2)"`
	MaxConcurrency int    `json:"max_concurrency,omitempty" jsonschema:"simultaneous fetches (default 10)"`
	NoFollow       bool   `json:"no_follow,omitempty" jsonschema:"ingest only the given page without following links"`
}

// IngestOutput is the output schema for the ingest_source tool.
type IngestOutput struct {
	Collection string          `json:"collection"`
	Documents  int             `json:"documents"`
	Chunks     int             `json:"chunks"`
	Failed     []FailureOutput `json:"failed,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// FailureOutput is one per-item ingestion failure.
type FailureOutput struct {
	URI    string `json:"uri"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// QueryInput is the input schema for the query and answer tools.
type QueryInput struct {
	Query      string `json:"query" jsonschema:"the natural-language query"`
	Collection string `json:"collection,omitempty" jsonschema:"collection to search (default from settings)"`
	K          int    `json:"k,omitempty" jsonschema:"maximum number of matches (default 5, max 50)"`
	Source     string `json:"source,omitempty" jsonschema:"restrict matches to one source URL or path"`
}

// QueryOutput is the output schema for the query tool.
type QueryOutput struct {
	Collection string        `json:"collection"`
	Matches    []MatchOutput `json:"matches"`
	Count      int           `json:"count"`
}

// MatchOutput represents a single ranked match.
type MatchOutput struct {
	Rank       int      `json:"rank"`
	Score      float64  `json:"score"`
	Source     string   `json:"source"`
	ChunkIndex int      `json:"chunk_index"`
	HeaderPath []string `json:"header_path,omitempty"`
	Content    string   `json:"content"`
}

// AnswerOutput is the output schema for the answer tool.
type AnswerOutput struct {
	Answer  string        `json:"answer"`
	Model   string        `json:"model"`
	Sources []MatchOutput `json:"sources"`
}

// ListSourcesInput is the input schema for the list_sources tool.
type ListSourcesInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"collection to list (default from settings)"`
}

// ListSourcesOutput is the output schema for the list_sources tool.
type ListSourcesOutput struct {
	Collection string              `json:"collection"`
	Sources    []domain.SourceInfo `json:"sources"`
	Count      int                 `json:"count"`
}

// DeleteSourceInput is the input schema for the delete_source tool.
type DeleteSourceInput struct {
	Source     string `json:"source" jsonschema:"the source URL or path to remove"`
	Collection string `json:"collection,omitempty" jsonschema:"collection holding the source (default from settings)"`
}

// DeleteSourceOutput is the output schema for the delete_source tool.
type DeleteSourceOutput struct {
	Source  string `json:"source"`
	Deleted int    `json:"deleted"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_source",
		Description: "Fetch a web page, sitemap, text file or local path, chunk it, embed it and store it in a collection",
	}, s.handleIngest)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query",
		Description: "Return the stored chunks most similar to a query, with their sources",
	}, s.handleQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "answer",
		Description: "Answer a question from stored content using the configured LLM",
	}, s.handleAnswer)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_sources",
		Description: "List the sources stored in a collection",
	}, s.handleListSources)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_source",
		Description: "Remove every stored chunk of one source",
	}, s.handleDeleteSource)
}

func (s *Server) handleIngest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestInput,
) (*mcp.CallToolResult, IngestOutput, error) {
	if s.ports.Ingest == nil {
		return nil, IngestOutput{}, errors.New("ingestion is not enabled on this server")
	}

	if s.ports.RemoteOnly {
		ref, err := domain.ParseSourceRef(input.Source)
		if err != nil {
			return nil, IngestOutput{}, fmt.Errorf("%w: source is required", domain.ErrInvalidInput)
		}
		if ref.Local {
			return nil, IngestOutput{}, fmt.Errorf("%w: local sources are not accepted over HTTP", domain.ErrInvalidInput)
		}
	}

	collection := s.ports.collection(input.Collection)
	opts := domain.IngestOptions{
		ChunkSize:      input.ChunkSize,
		MaxDepth:       input.MaxDepth,
		MaxConcurrency: input.MaxConcurrency,
		NoFollow:       input.NoFollow,
	}

	summary, err := s.ports.Ingest.Ingest(ctx, collection, input.Source, opts)
	if err != nil {
		return nil, IngestOutput{}, err
	}

	output := IngestOutput{
		Collection: collection,
		Documents:  len(summary.Succeeded),
		Chunks:     summary.Chunks(),
		DurationMS: summary.Duration().Milliseconds(),
	}
	for _, f := range summary.Failed {
		output.Failed = append(output.Failed, FailureOutput{
			URI:    f.URI,
			Stage:  string(f.Stage),
			Reason: f.Reason,
		})
	}
	return nil, output, nil
}

func (s *Server) handleQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	collection := s.ports.collection(input.Collection)
	k := domain.ClampK(input.K, s.ports.DefaultTopK)

	result, err := s.ports.Retriever.Query(ctx, collection, input.Query, k, domain.Filter{Source: input.Source})
	if err != nil {
		return nil, QueryOutput{}, err
	}

	output := QueryOutput{
		Collection: collection,
		Matches:    toMatches(result.Matches),
		Count:      len(result.Matches),
	}
	return nil, output, nil
}

func (s *Server) handleAnswer(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, AnswerOutput, error) {
	collection := s.ports.collection(input.Collection)
	k := domain.ClampK(input.K, s.ports.DefaultTopK)

	answer, err := s.ports.Retriever.Answer(ctx, collection, input.Query, k, domain.Filter{Source: input.Source})
	if err != nil {
		return nil, AnswerOutput{}, err
	}

	output := AnswerOutput{
		Answer: answer.Text,
		Model:  answer.Model,
	}
	if answer.Context != nil {
		output.Sources = toMatches(answer.Context.Matches)
	}
	return nil, output, nil
}

func (s *Server) handleListSources(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListSourcesInput,
) (*mcp.CallToolResult, ListSourcesOutput, error) {
	if s.ports.Collections == nil {
		return nil, ListSourcesOutput{}, errors.New("collection management is not enabled on this server")
	}

	collection := s.ports.collection(input.Collection)
	sources, err := s.ports.Collections.ListSources(ctx, collection)
	if err != nil {
		return nil, ListSourcesOutput{}, fmt.Errorf("listing sources: %w", err)
	}

	return nil, ListSourcesOutput{
		Collection: collection,
		Sources:    sources,
		Count:      len(sources),
	}, nil
}

func (s *Server) handleDeleteSource(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DeleteSourceInput,
) (*mcp.CallToolResult, DeleteSourceOutput, error) {
	if s.ports.Collections == nil {
		return nil, DeleteSourceOutput{}, errors.New("collection management is not enabled on this server")
	}
	if input.Source == "" {
		return nil, DeleteSourceOutput{}, fmt.Errorf("%w: source is required", domain.ErrInvalidInput)
	}

	n, err := s.ports.Collections.DeleteSource(ctx, s.ports.collection(input.Collection), input.Source)
	if err != nil {
		return nil, DeleteSourceOutput{}, err
	}
	return nil, DeleteSourceOutput{Source: input.Source, Deleted: n}, nil
}

func toMatches(records []domain.ScoredRecord) []MatchOutput {
	out := make([]MatchOutput, len(records))
	for i := range records {
		r := &records[i]
		out[i] = MatchOutput{
			Rank:       r.Rank,
			Score:      r.Score,
			Source:     r.Source,
			ChunkIndex: r.ChunkIndex,
			HeaderPath: r.HeaderPath,
			Content:    r.Content,
		}
	}
	return out
}
