// MegaMemory: per-project knowledge graph server for coding agents.
//
// Agents write concepts and typed relationships in natural language and
// query them by intent across sessions. The graph lives in a single
// SQLite file under .megamemory/ and is served over MCP stdio.
//
// Usage:
//
//	megamemory serve                      # Start MCP server (stdio transport)
//	megamemory merge <left> <right>       # Reconcile two graph files
//	megamemory conflicts                  # List unresolved merge conflicts
//	megamemory resolve <group> --keep ... # Resolve one conflict group
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/megamemory/internal/config"
	"github.com/HendryAvila/megamemory/internal/merge"
	mmserver "github.com/HendryAvila/megamemory/internal/server"
	"github.com/HendryAvila/megamemory/internal/store"
	"github.com/HendryAvila/megamemory/internal/updater"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "megamemory",
		Short:         "Per-project knowledge graph server for coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd(), newMergeCmd(), newConflictsCmd(), newResolveCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("megamemory v%s\n", mmserver.Version)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := mmserver.New()
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			// Version check prints to stderr so it doesn't interfere
			// with MCP's stdio transport on stdout.
			go checkForUpdates()

			return server.ServeStdio(s)
		},
	}
}

func checkForUpdates() {
	result := updater.CheckVersion(mmserver.Version)
	if result.UpdateAvailable {
		fmt.Fprintf(os.Stderr,
			"\n  Update available: v%s -> v%s\n  Release: %s\n\n",
			result.CurrentVersion, result.LatestVersion, result.ReleaseURL,
		)
	}
}

func newMergeCmd() *cobra.Command {
	var into, leftLabel, rightLabel string

	cmd := &cobra.Command{
		Use:   "merge <file1> <file2>",
		Short: "Reconcile two graph files into one",
		Long: `Merge two divergent graph files. Unambiguous changes from both sides are
kept; disagreements become conflict groups resolvable with "resolve" or the
resolve_conflict tool. Without --into, <file1> is overwritten in place
(via a temp file and atomic rename).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := merge.Merge(merge.Options{
				LeftPath:   args[0],
				RightPath:  args[1],
				OutPath:    into,
				LeftLabel:  leftLabel,
				RightLabel: rightLabel,
			})
			if err != nil {
				return err
			}

			fmt.Printf("merged: %d clean, %d removed, %d concept conflicts, %d edge conflicts\n",
				res.Clean, res.RemovedClean, res.ConceptConflicts, res.EdgeConflicts)
			for _, g := range res.MergeGroups {
				fmt.Printf("  conflict group %s\n", g)
			}
			if res.ConceptConflicts > 0 {
				fmt.Println("run 'megamemory conflicts' to inspect them")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&into, "into", "", "Output path (default: overwrite <file1>)")
	cmd.Flags().StringVar(&leftLabel, "left-label", "left", "Branch label for <file1>")
	cmd.Flags().StringVar(&rightLabel, "right-label", "right", "Branch label for <file2>")
	return cmd
}

func newConflictsCmd() *cobra.Command {
	var dbPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved merge conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = config.DBPath()
			}
			s, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			nodes, err := s.GetConflictNodes()
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(nodes, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(nodes) == 0 {
				fmt.Println("no unresolved conflicts")
				return nil
			}
			current := ""
			for _, n := range nodes {
				group := ""
				if n.MergeGroup != nil {
					group = *n.MergeGroup
				}
				if group != current {
					current = group
					fmt.Printf("group %s\n", group)
				}
				branch := ""
				if n.SourceBranch != nil {
					branch = *n.SourceBranch
				}
				state := "live"
				if n.Removed() {
					state = "removed"
				}
				fmt.Printf("  %-30s [%s, %s] %s\n", n.ID, branch, state, n.Summary)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Graph file (default: resolved project store)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit raw JSON")
	return cmd
}

func newResolveCmd() *cobra.Command {
	var dbPath, keep string

	cmd := &cobra.Command{
		Use:   "resolve <merge_group>",
		Short: "Resolve one conflict group by keeping a side",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice := merge.KeepChoice(keep)
			if !merge.ValidChoice(choice) {
				return fmt.Errorf("--keep must be left, right or both (got %q)", keep)
			}
			if dbPath == "" {
				dbPath = config.DBPath()
			}
			s, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := merge.Resolve(s, args[0], choice); err != nil {
				return err
			}
			fmt.Printf("resolved %s (keep %s)\n", args[0], keep)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Graph file (default: resolved project store)")
	cmd.Flags().StringVar(&keep, "keep", "", "Which side to keep: left, right or both (required)")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}
