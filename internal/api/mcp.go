package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/langserver/internal/ingest"
	"github.com/kalambet/langserver/internal/retrieval"
	"github.com/kalambet/langserver/internal/vectorstore"
)

// MCPIngester abstracts text ingestion for the MCP layer.
type MCPIngester interface {
	Texts(ctx context.Context, collection string, items []ingest.TextItem) (ingest.Summary, error)
}

// MCPRetriever abstracts single-collection search for the MCP layer.
type MCPRetriever interface {
	Query(ctx context.Context, req retrieval.Request) (retrieval.Response, error)
}

// MCPCollections lists the collections of the vector store.
type MCPCollections interface {
	ListCollections(ctx context.Context) []vectorstore.CollectionInfo
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Ingester    MCPIngester
	Retriever   MCPRetriever
	Collections MCPCollections
	Version     string
}

const maxMCPTopK = 50

// NewMCPServer creates an MCP server exposing ingestion and search tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"langserver",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("langserver: chunk, embed and search a vector knowledge base."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ingest_text",
			mcp.WithDescription("Chunk, embed and store a piece of text in a collection."),
			mcp.WithString("text", mcp.Description("The text to store"), mcp.Required()),
			mcp.WithString("id", mcp.Description("Stable source id; re-ingesting the same id overwrites its chunks")),
			mcp.WithString("collection", mcp.Description("Target collection (default collection if omitted)")),
		),
		mcpIngestText(deps),
	)

	s.AddTool(
		mcp.NewTool("query",
			mcp.WithDescription("Semantically search a collection and return the matching chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("collection", mcp.Description("Collection to search")),
			mcp.WithNumber("top_k", mcp.Description("Maximum number of results (default 5)")),
			mcp.WithString("llm_model", mcp.Description("When set, summarize the results with this model")),
		),
		mcpQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("list_collections",
			mcp.WithDescription("List the collections and their vector counts."),
		),
		mcpListCollections(deps),
	)

	return s
}

func mcpIngestText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		item := ingest.TextItem{
			ID:       req.GetString("id", ""),
			Text:     text,
			Metadata: map[string]any{"source": "mcp"},
		}

		sum, err := deps.Ingester.Texts(ctx, req.GetString("collection", ""), []ingest.TextItem{item})
		if err != nil {
			return mcpError(fmt.Sprintf("ingestion failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored %d chunks in %s", sum.Count, sum.Collection)), nil
	}
}

func mcpQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		topK := req.GetInt("top_k", retrieval.DefaultTopK)
		if topK <= 0 {
			topK = retrieval.DefaultTopK
		}
		topK = min(topK, maxMCPTopK)

		resp, err := deps.Retriever.Query(ctx, retrieval.Request{
			Query:      query,
			Collection: req.GetString("collection", ""),
			TopK:       topK,
			LLMModel:   req.GetString("llm_model", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		out := map[string]any{"results": resp.Results}
		if resp.Answer != "" {
			out["enriched"] = resp.Answer
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListCollections(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Collections.ListCollections(ctx))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal collections: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
