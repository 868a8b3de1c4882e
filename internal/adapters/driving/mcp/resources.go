package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/ragpipe/internal/core/domain"
)

const uriScheme = "ragpipe://"

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "collections",
		Name:        "collections",
		Description: "Stored collections with their source and record counts",
		MIMEType:    "application/json",
	}, s.handleCollectionsResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "collections/{name}/sources",
		Name:        "collection-sources",
		Description: "Sources stored in one collection",
		MIMEType:    "application/json",
	}, s.handleSourcesResource)
}

func (s *Server) handleCollectionsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Collections == nil {
		return jsonResult(req.Params.URI, []domain.CollectionInfo{})
	}

	collections, err := s.ports.Collections.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return jsonResult(req.Params.URI, collections)
}

func (s *Server) handleSourcesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Collections == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	name := extractCollection(req.Params.URI)
	if name == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	if _, err := s.ports.Collections.Stats(ctx, name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		return nil, fmt.Errorf("reading collection: %w", err)
	}

	sources, err := s.ports.Collections.ListSources(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	return jsonResult(req.Params.URI, sources)
}

func jsonResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractCollection extracts the name from ragpipe://collections/{name}/sources.
func extractCollection(uri string) string {
	const prefix = uriScheme + "collections/"
	const suffix = "/sources"

	rest, ok := strings.CutPrefix(uri, prefix)
	if !ok {
		return ""
	}
	name, ok := strings.CutSuffix(rest, suffix)
	if !ok || strings.Contains(name, "/") {
		return ""
	}
	return name
}
