// Package prompts implements MCP prompt handlers for the knowledge graph.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// BootstrapPrompt handles the memory-bootstrap MCP prompt.
// It guides the AI through seeding an empty knowledge graph.
type BootstrapPrompt struct{}

// NewBootstrapPrompt creates a BootstrapPrompt.
func NewBootstrapPrompt() *BootstrapPrompt {
	return &BootstrapPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *BootstrapPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("memory-bootstrap",
		mcp.WithPromptDescription(
			"Seed the project knowledge graph. Walks the AI through recording "+
				"the project's main features, modules, patterns and decisions.",
		),
		mcp.WithArgument("focus",
			mcp.ArgumentDescription("Optional area to start from, e.g. 'the auth subsystem'"),
		),
	)
}

// Handle processes the memory-bootstrap prompt request.
func (p *BootstrapPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	focus := "the whole project"
	if args := req.Params.Arguments; args != nil {
		if f, ok := args["focus"]; ok && f != "" {
			focus = f
		}
	}

	return &mcp.GetPromptResult{
		Description: "Seed the knowledge graph",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please seed my project knowledge graph, focusing on %s.\n\n"+
						"1. Call `list_roots` to confirm what already exists\n"+
						"2. Identify the main features, modules, patterns, configs, decisions and components\n"+
						"3. Record each with `create_concept` (dense factual summaries, file_refs where useful)\n"+
						"4. Wire them together with `link` (depends_on, calls, implements, ...)\n"+
						"5. Finish with `list_roots` and show me the resulting structure",
					focus,
				)),
			},
		},
	}, nil
}
