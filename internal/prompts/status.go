package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the memory-status MCP prompt.
// It instructs the AI to summarize the current knowledge graph.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("memory-status",
		mcp.WithPromptDescription(
			"Summarize the project knowledge graph: top-level concepts, "+
				"stats, and any unresolved merge conflicts.",
		),
	)
}

// Handle processes the memory-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Knowledge Graph Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `list_roots` and `list_conflicts` on my knowledge graph.\n\n" +
						"Then:\n" +
						"1. Show the top-level concepts and their children in a clear tree\n" +
						"2. Summarize the stats (concepts, relationships, kinds)\n" +
						"3. If there are merge conflicts, list each group and recommend a resolution\n" +
						"4. Point out obvious gaps worth recording",
				),
			},
		},
	}, nil
}
