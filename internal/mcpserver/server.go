// Package mcpserver exposes the search service as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"localdocs/internal/domain"
	"localdocs/internal/usecase"
)

const (
	ServerName = "local-docs-mcp"

	CollectionInfoURI = "local-docs-mcp://collection-info"
)

// Searcher is the subset of usecase.SearchService the tools call.
type Searcher interface {
	SemanticSearch(ctx context.Context, req usecase.SearchRequest) (*usecase.SearchResponse, error)
	HybridSearch(ctx context.Context, req usecase.SearchRequest) (*usecase.SearchResponse, error)
	SearchWithMetadataFilter(ctx context.Context, req usecase.SearchRequest) (*usecase.SearchResponse, error)
	DocumentRetrieval(ctx context.Context, documentID string) (*usecase.DocumentView, error)
	CollectionInfo(ctx context.Context) (domain.CollectionInfo, error)
}

type SemanticSearchArgs struct {
	Query              string   `json:"query" jsonschema:"Search query - use natural language to describe what you're looking for"`
	Limit              *int     `json:"limit,omitempty" jsonschema:"Maximum number of results to return (default: 10)"`
	MinSimilarityScore *float64 `json:"min_similarity_score,omitempty" jsonschema:"Minimum combined score threshold (0.0-1.0)"`
}

type HybridSearchArgs struct {
	Query              string   `json:"query" jsonschema:"Search query - can include specific terms and conceptual descriptions"`
	SemanticWeight     *float64 `json:"semantic_weight,omitempty" jsonschema:"Weight for semantic search vs keyword matching (0.0-1.0, where 1.0 is pure semantic, default: 0.7)"`
	Limit              *int     `json:"limit,omitempty" jsonschema:"Maximum number of results to return (default: 10)"`
	MinSimilarityScore *float64 `json:"min_similarity_score,omitempty" jsonschema:"Minimum combined score threshold (0.0-1.0)"`
}

type DocumentRetrievalArgs struct {
	DocumentID string `json:"document_id" jsonschema:"Unique identifier of the document chunk to retrieve, as returned in search results"`
}

type FilteredSearchArgs struct {
	Query              string            `json:"query" jsonschema:"Search query"`
	MetadataFilter     map[string]string `json:"metadata_filter,omitempty" jsonschema:"Exact-match metadata filters, e.g. {\"filename\": \"tutorial.md\", \"format\": \"markdown\"}"`
	Limit              *int              `json:"limit,omitempty" jsonschema:"Maximum number of results to return (default: 10)"`
	MinSimilarityScore *float64          `json:"min_similarity_score,omitempty" jsonschema:"Minimum combined score threshold (0.0-1.0)"`
}

type CollectionInfoArgs struct{}

// Server binds the five search tools and the collection info resource.
type Server struct {
	svc    Searcher
	logger *zap.Logger
	server *mcp.Server
}

func New(svc Searcher, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		logger: logger,
		server: mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil),
	}
	s.register()
	return s
}

// MCP returns the underlying server, for in-process transports.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves over stdin/stdout until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio", zap.String("server", ServerName))
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) register() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        usecase.OpSemanticSearch,
		Description: "Perform semantic search on indexed documents. Finds content based on meaning and context rather than exact keywords.",
	}, s.semanticSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        usecase.OpHybridSearch,
		Description: "Combine semantic search with keyword matching. Useful when exact terminology matters alongside conceptual meaning.",
	}, s.hybridSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        usecase.OpDocument,
		Description: "Retrieve a stored document chunk by ID. Use this when you need the full context of a specific result.",
	}, s.documentRetrieval)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        usecase.OpFilteredSearch,
		Description: "Search with metadata constraints. Use this to narrow down search results by specific document properties.",
	}, s.filteredSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        usecase.OpCollectionInfo,
		Description: "Get information about the indexed document collection, including statistics and status.",
	}, s.collectionInfo)

	s.server.AddResource(&mcp.Resource{
		URI:         CollectionInfoURI,
		Name:        "Collection Information",
		Description: "Information about the indexed document collection",
		MIMEType:    "application/json",
	}, s.readCollectionInfo)
}

func (s *Server) semanticSearch(ctx context.Context, _ *mcp.CallToolRequest, args SemanticSearchArgs) (*mcp.CallToolResult, any, error) {
	resp, err := s.svc.SemanticSearch(ctx, usecase.SearchRequest{
		Query:              args.Query,
		Limit:              args.Limit,
		MinSimilarityScore: args.MinSimilarityScore,
	})
	return s.reply(usecase.OpSemanticSearch, resp, err)
}

func (s *Server) hybridSearch(ctx context.Context, _ *mcp.CallToolRequest, args HybridSearchArgs) (*mcp.CallToolResult, any, error) {
	resp, err := s.svc.HybridSearch(ctx, usecase.SearchRequest{
		Query:              args.Query,
		Limit:              args.Limit,
		MinSimilarityScore: args.MinSimilarityScore,
		SemanticWeight:     args.SemanticWeight,
	})
	return s.reply(usecase.OpHybridSearch, resp, err)
}

func (s *Server) filteredSearch(ctx context.Context, _ *mcp.CallToolRequest, args FilteredSearchArgs) (*mcp.CallToolResult, any, error) {
	filter := domain.MetadataFilter(args.MetadataFilter)
	if filter == nil {
		filter = domain.MetadataFilter{}
	}
	resp, err := s.svc.SearchWithMetadataFilter(ctx, usecase.SearchRequest{
		Query:              args.Query,
		Limit:              args.Limit,
		MinSimilarityScore: args.MinSimilarityScore,
		MetadataFilter:     filter,
	})
	return s.reply(usecase.OpFilteredSearch, resp, err)
}

func (s *Server) documentRetrieval(ctx context.Context, _ *mcp.CallToolRequest, args DocumentRetrievalArgs) (*mcp.CallToolResult, any, error) {
	doc, err := s.svc.DocumentRetrieval(ctx, args.DocumentID)
	if errors.Is(err, domain.ErrNotFound) {
		return errorResult(fmt.Sprintf("Document with ID '%s' not found", args.DocumentID)), nil, nil
	}
	return s.reply(usecase.OpDocument, doc, err)
}

func (s *Server) collectionInfo(ctx context.Context, _ *mcp.CallToolRequest, _ CollectionInfoArgs) (*mcp.CallToolResult, any, error) {
	info, err := s.svc.CollectionInfo(ctx)
	return s.reply(usecase.OpCollectionInfo, info, err)
}

func (s *Server) readCollectionInfo(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	info, err := s.svc.CollectionInfo(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      CollectionInfoURI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// reply renders v as indented JSON, or err as an error result. Tool failures
// are reported to the client, never as protocol errors.
func (s *Server) reply(tool string, v any, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		s.logger.Warn("tool call failed", zap.String("tool", tool), zap.Error(err))
		return errorResult("Error: " + err.Error()), nil, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("Error: " + err.Error()), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
