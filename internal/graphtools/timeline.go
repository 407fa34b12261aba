package graphtools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/megamemory/internal/store"
)

// TimelineTool handles the timeline MCP tool: read access to the activity
// log and the time-travel queries built on it.
type TimelineTool struct {
	store *store.Store
}

// NewTimelineTool creates a TimelineTool.
func NewTimelineTool(s *store.Store) *TimelineTool {
	return &TimelineTool{store: s}
}

// Definition returns the MCP tool definition for timeline.
func (t *TimelineTool) Definition() mcp.Tool {
	return mcp.NewTool("timeline",
		mcp.WithDescription(
			"Inspect the graph's activity log, or reconstruct the graph as of a past "+
				"moment. Modes: bounds (default), entries, ticks, at.",
		),
		mcp.WithString("mode",
			mcp.Description("bounds | entries | ticks | at"),
		),
		mcp.WithBoolean("writes_only",
			mcp.Description("entries mode: only include mutating calls"),
		),
		mcp.WithString("tool",
			mcp.Description("entries mode: filter by tool name"),
		),
		mcp.WithString("since",
			mcp.Description("entries mode: inclusive lower bound, 'YYYY-MM-DD HH:MM:SS' UTC"),
		),
		mcp.WithString("until",
			mcp.Description("entries mode: inclusive upper bound"),
		),
		mcp.WithNumber("limit",
			mcp.Description("entries mode: max rows; ticks mode: sample size (default 20)"),
		),
		mcp.WithString("at",
			mcp.Description("at mode: the moment to reconstruct, 'YYYY-MM-DD HH:MM:SS' UTC"),
		),
	)
}

type timelineAtResult struct {
	At    string       `json:"at"`
	Nodes []store.Node `json:"nodes"`
	Edges []store.Edge `json:"edges"`
}

// Handle processes the timeline tool call. Read-only.
func (t *TimelineTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := req.GetString("mode", "bounds")
	params := map[string]any{"mode": mode}

	fail := func(err error) (*mcp.CallToolResult, error) {
		record(t.store, "timeline", params, err.Error(), false, true, nil)
		return errorResult(err), nil
	}

	switch mode {
	case "bounds":
		bounds, err := t.store.GetTimelineBounds()
		if err != nil {
			return fail(err)
		}
		record(t.store, "timeline", params, fmt.Sprintf("%d entries", bounds.Count), false, false, nil)
		return jsonResult(bounds), nil

	case "entries":
		filter := store.TimelineFilter{
			WritesOnly: boolArg(req, "writes_only", false),
			Tool:       req.GetString("tool", ""),
			Since:      req.GetString("since", ""),
			Until:      req.GetString("until", ""),
			Limit:      intArg(req, "limit", 0),
		}
		entries, err := t.store.GetTimelineEntries(filter)
		if err != nil {
			return fail(err)
		}
		// Pre-v3 stores have history only in node timestamps; synthesize
		// entries when the timeline table itself is empty. A filtered
		// query with no hits against a populated table stays empty.
		if len(entries) == 0 {
			hasReal, err := t.store.HasTimeline()
			if err != nil {
				return fail(err)
			}
			if !hasReal {
				entries, err = t.store.SynthesizeTimeline()
				if err != nil {
					return fail(err)
				}
			}
		}
		record(t.store, "timeline", params, fmt.Sprintf("%d entries", len(entries)), false, false, nil)
		return jsonResult(map[string]any{"entries": entries}), nil

	case "ticks":
		n := intArg(req, "limit", 20)
		ticks, err := t.store.GetTimelineTicks(n)
		if err != nil {
			return fail(err)
		}
		record(t.store, "timeline", params, fmt.Sprintf("%d ticks", len(ticks)), false, false, nil)
		return jsonResult(map[string]any{"ticks": ticks}), nil

	case "at":
		at := req.GetString("at", "")
		if _, err := store.ParseTime(at); err != nil {
			return fail(err)
		}
		nodes, err := t.store.GetNodesAtTime(at)
		if err != nil {
			return fail(err)
		}
		edges, err := t.store.GetEdgesAtTime(at)
		if err != nil {
			return fail(err)
		}
		for i := range nodes {
			nodes[i].Embedding = nil
		}
		record(t.store, "timeline", params,
			fmt.Sprintf("%d nodes, %d edges at %s", len(nodes), len(edges), at), false, false, nil)
		return jsonResult(timelineAtResult{At: at, Nodes: nodes, Edges: edges}), nil

	default:
		return fail(store.NewError(store.ErrInvariantViolation, mode, "unknown timeline mode"))
	}
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}
