// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it opens the store, builds the embedding
// provider and injects them into the tools/prompts/resources that depend
// on them. No business logic lives here — only wiring.
package server

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/megamemory/internal/config"
	"github.com/HendryAvila/megamemory/internal/embedding"
	"github.com/HendryAvila/megamemory/internal/graphtools"
	"github.com/HendryAvila/megamemory/internal/prompts"
	"github.com/HendryAvila/megamemory/internal/resources"
	"github.com/HendryAvila/megamemory/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts and
// resources registered.
//
// The returned cleanup function closes the store's database connection and
// must be called on shutdown (typically via defer). It is always non-nil.
func New() (*server.MCPServer, func(), error) {
	st, err := store.Open(config.DBPath())
	if err != nil {
		return nil, noop, fmt.Errorf("opening knowledge store: %w", err)
	}
	cleanup := func() { _ = st.Close() }

	provider := newProvider(config.EmbeddingFromEnv())

	s := server.NewMCPServer(
		"megamemory",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register graph tools ---

	understand := graphtools.NewUnderstandTool(st, provider)
	s.AddTool(understand.Definition(), understand.Handle)

	create := graphtools.NewCreateConceptTool(st, provider)
	s.AddTool(create.Definition(), create.Handle)

	update := graphtools.NewUpdateConceptTool(st, provider)
	s.AddTool(update.Definition(), update.Handle)

	link := graphtools.NewLinkTool(st)
	s.AddTool(link.Definition(), link.Handle)

	unlink := graphtools.NewUnlinkTool(st)
	s.AddTool(unlink.Definition(), unlink.Handle)

	remove := graphtools.NewRemoveConceptTool(st)
	s.AddTool(remove.Definition(), remove.Handle)

	roots := graphtools.NewListRootsTool(st)
	s.AddTool(roots.Definition(), roots.Handle)

	conflicts := graphtools.NewListConflictsTool(st)
	s.AddTool(conflicts.Definition(), conflicts.Handle)

	resolve := graphtools.NewResolveConflictTool(st, provider)
	s.AddTool(resolve.Definition(), resolve.Handle)

	timeline := graphtools.NewTimelineTool(st)
	s.AddTool(timeline.Definition(), timeline.Handle)

	// --- Register prompts ---

	bootstrap := prompts.NewBootstrapPrompt()
	s.AddPrompt(bootstrap.Definition(), bootstrap.Handle)

	status := prompts.NewStatusPrompt()
	s.AddPrompt(status.Definition(), status.Handle)

	// --- Register resources ---

	statsResource := resources.NewHandler(st)
	s.AddResource(statsResource.StatsResource(), statsResource.HandleStats)

	return s, cleanup, nil
}

// noop is a no-op cleanup function returned when initialization fails
// before the store is open.
func noop() {}

// newProvider builds the embedding provider for the configured backend.
// The model loads lazily on first use. Building either model never fails,
// so an unreachable ollama daemon is not detected at startup: each semantic
// call that reaches it returns the daemon's error.
func newProvider(cfg config.Embedding) *embedding.Provider {
	return embedding.NewProvider(func() (embedding.Model, error) {
		if cfg.Provider == "ollama" {
			return embedding.NewOllamaModel(cfg.URL, cfg.Model), nil
		}
		return embedding.NewLocalModel(), nil
	})
}

// serverInstructions returns the system instructions that tell the AI how
// to use the knowledge graph effectively.
func serverInstructions() string {
	return `You have access to MegaMemory, a per-project knowledge graph that persists across sessions.

## WHEN TO USE IT

- BEFORE starting work: call "understand" with what you intend to do. The
  matches tell you which features, modules, patterns and decisions already
  exist and how they connect.
- AFTER completing meaningful work: record what you built or decided with
  "create_concept", and wire it into the graph with "link" (or the edges
  parameter of create_concept).
- In a fresh session with no context: call "list_roots" for the lay of the land.

## CONVENTIONS

- Kinds: feature, module, pattern, config, decision, component.
- Relations: connects_to, depends_on, implements, calls, configured_by.
- Keep summaries dense and factual; they power the semantic index.
- Use parent_id to nest sub-concepts under the thing they belong to.
- After a branch merge, check "list_conflicts" and resolve disagreements
  with "resolve_conflict".`
}
