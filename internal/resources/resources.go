// Package resources implements MCP resource handlers for the knowledge graph.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (megamemory://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/store"
)

// Handler manages knowledge graph resource endpoints.
type Handler struct {
	store *store.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(s *store.Store) *Handler {
	return &Handler{store: s}
}

// StatsResource returns the MCP resource definition for graph statistics.
func (h *Handler) StatsResource() mcp.Resource {
	return mcp.NewResource(
		"megamemory://graph/stats",
		"Knowledge Graph Stats",
		mcp.WithResourceDescription("Live concept, relationship and kind counts for this project's graph"),
		mcp.WithMIMEType("application/json"),
	)
}

type statsPayload struct {
	Stats store.Stats            `json:"stats"`
	Kinds map[store.NodeKind]int `json:"kinds"`
}

// HandleStats returns the current graph statistics as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	stats, err := h.store.GetStats()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	kinds, err := h.store.GetKindsBreakdown()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(statsPayload{Stats: *stats, Kinds: kinds}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling stats: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
