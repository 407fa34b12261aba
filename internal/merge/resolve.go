package merge

import (
	"fmt"
	"log"

	"github.com/HendryAvila/megamemory/internal/slug"
	"github.com/HendryAvila/megamemory/internal/store"
)

// KeepChoice selects a resolution strategy for one merge group.
type KeepChoice string

const (
	KeepLeft  KeepChoice = "left"
	KeepRight KeepChoice = "right"
	KeepBoth  KeepChoice = "both"
)

// ValidChoice reports whether c names a known strategy.
func ValidChoice(c KeepChoice) bool {
	return c == KeepLeft || c == KeepRight || c == KeepBoth
}

// Resolve applies a keep strategy to one conflict group inside s.
//
// keep left / keep right hard-delete the losing variant, rename the winner
// back to the canonical id (incident edges and child parent references
// follow the rename) and clear merge flags on the node and on every edge
// flagged under the group. keep both renames each variant to
// "<canonical>-<branch>" and clears flags; edge references in the store
// are already suffixed, so they survive the rename.
func Resolve(s *store.Store, group string, keep KeepChoice) error {
	if !ValidChoice(keep) {
		return store.NewError(store.ErrInvariantViolation, string(keep), "unknown keep strategy")
	}

	variants, err := s.GetNodesByMergeGroup(group)
	if err != nil {
		return err
	}
	if len(variants) == 0 {
		return store.NewError(store.ErrNotFound, group, "merge group not found")
	}

	if keep == KeepBoth {
		for _, v := range variants {
			canonical := slug.Canonical(v.ID)
			branch := slug.Suffix(v.ID)
			if v.SourceBranch != nil && *v.SourceBranch != "" {
				branch = slug.Make(*v.SourceBranch)
			}
			if branch == "" {
				log.Printf("WARNING: merge: variant %q has no branch label, leaving id as-is", v.ID)
				continue
			}
			newID := canonical + "-" + branch
			if err := s.RenameNodeID(v.ID, newID); err != nil {
				return err
			}
			if err := s.ClearNodeMergeFlags(newID); err != nil {
				return err
			}
		}
		return s.ClearEdgeMergeFlagsByGroup(group)
	}

	var winner *store.Node
	var losers []store.Node
	for i := range variants {
		if slug.Suffix(variants[i].ID) == string(keep) {
			winner = &variants[i]
		} else {
			losers = append(losers, variants[i])
		}
	}
	if winner == nil {
		return store.NewError(store.ErrNotFound, group,
			fmt.Sprintf("no ::%s variant in group", keep))
	}

	for _, l := range losers {
		if err := s.HardDeleteNode(l.ID); err != nil {
			return err
		}
	}

	canonical := slug.Canonical(winner.ID)
	if err := s.RenameNodeID(winner.ID, canonical); err != nil {
		return err
	}
	if err := s.ClearNodeMergeFlags(canonical); err != nil {
		return err
	}
	return s.ClearEdgeMergeFlagsByGroup(group)
}
