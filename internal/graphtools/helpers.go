// Package graphtools provides the MCP tool handlers for the knowledge
// graph: the operations a coding agent invokes to write concepts, link
// them and query them by intent.
//
// Each tool follows the same pattern:
// - A struct with dependencies (store, embedding provider) injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Every call is recorded in the store's timeline. Recording is
// best-effort: a logging failure goes to stderr and never fails the tool.
package graphtools

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/store"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// stringSliceArg extracts a []string argument from a tool request.
func stringSliceArg(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// objectSliceArg extracts a []map[string]any argument.
func objectSliceArg(req mcp.CallToolRequest, key string) []map[string]any {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// jsonResult marshals a result object for the transport.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("graphtools: marshal result: %w", err))
	}
	return mcp.NewToolResultText(string(data))
}

// toolError is the wire shape of a failed tool call.
type toolError struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// errorResult converts an error into the {error_kind, message} shape.
// Typed store errors keep their stable kind; anything else surfaces as an
// internal invariant problem.
func errorResult(err error) *mcp.CallToolResult {
	kind := store.KindOf(err)
	if kind == "" {
		kind = store.ErrInvariantViolation
	}
	te := toolError{ErrorKind: string(kind), Message: err.Error()}
	data, merr := json.Marshal(te)
	if merr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// record appends a timeline row for one tool call. Failures are swallowed
// and reported on stderr: the audit trail never masks tool success.
func record(s *store.Store, tool string, params any, summary string, isWrite, isError bool, affected []string) {
	data := []byte("{}")
	if params != nil {
		if encoded, err := json.Marshal(params); err == nil {
			data = encoded
		}
	}
	if _, err := s.InsertTimelineEntry(&store.TimelineEntry{
		Tool:          tool,
		Params:        string(data),
		ResultSummary: summary,
		IsWrite:       isWrite,
		IsError:       isError,
		AffectedIDs:   affected,
	}); err != nil {
		log.Printf("WARNING: timeline logging failed for %s: %v", tool, err)
	}
}
