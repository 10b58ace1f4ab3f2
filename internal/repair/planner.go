package repair

import (
	"path"
	"sort"
	"strings"

	"github.com/mediarec/mediarec/internal/diff"
	"github.com/mediarec/mediarec/internal/pathconv"
	"github.com/mediarec/mediarec/pkg/types"
)

// Planner turns a diff result into an ordered, human-reviewable action
// list. It never executes anything.
type Planner struct {
	Convention pathconv.Convention

	// AllowPhysicalDelete opts in to DeleteObject actions for duplicate
	// losers. Metadata-only merges are the default because object
	// deletion is irreversible.
	AllowPhysicalDelete bool
}

// Plan transforms each diff partition into actions.
//
// Ordering: creates, relabels, merges, metadata deletes, object deletes.
// Within each kind actions sort by target so a plan is stable for a
// given diff.
func (p Planner) Plan(result *diff.Result) []Action {
	var actions []Action

	taken := make(map[string]bool)
	for _, obj := range result.Orphans {
		taken[obj.Path] = true
	}

	for _, obj := range result.Orphans {
		obj := obj
		scope := scopeForPath(obj.Path, p.Convention)
		action := Action{
			Kind:     ActionCreateMetadata,
			ScopeKey: scope.Key(),
			Object:   &obj,
			Tags:     types.TagsForScope(scope),
		}
		// Canonical target, collision-checked against the snapshot, for
		// operator review.
		if canonical, err := p.Convention.FirstFree(scope, 1, ext(obj.Path), func(s string) bool {
			return taken[s] && s != obj.Path
		}); err == nil {
			action.CanonicalPath = canonical
		}
		actions = append(actions, action)
	}

	for _, m := range result.Mismatches {
		// The store is ground truth for what bytes exist; the catalog is
		// the editable side. Correct the row toward the observed content.
		// Without a deep hash the digest field stays empty until a
		// deep-hash run re-establishes it.
		observed := m.Object.SHA256
		actions = append(actions, Action{
			Kind:         ActionRelabelTags,
			ScopeKey:     m.Record.ScopeKey(),
			RecordID:     m.Record.ID,
			Tags:         m.Record.OwnerTags,
			ObservedHash: observed,
			ObservedSize: m.Object.SizeBytes,
		})
	}

	for _, g := range result.Duplicates {
		deleteIDs := make([]string, 0, len(g.Losers))
		for _, loser := range g.Losers {
			deleteIDs = append(deleteIDs, loser.ID)
		}
		actions = append(actions, Action{
			Kind:      ActionMergeDuplicates,
			ScopeKey:  g.ScopeKey,
			KeepID:    g.Keep.ID,
			DeleteIDs: deleteIDs,
		})
		if p.AllowPhysicalDelete {
			for _, loser := range g.Losers {
				actions = append(actions, Action{
					Kind:     ActionDeleteObject,
					ScopeKey: g.ScopeKey,
					Path:     loser.StoragePath,
				})
			}
		}
	}

	for _, ghost := range result.Ghosts {
		actions = append(actions, Action{
			Kind:     ActionDeleteMetadata,
			ScopeKey: ghost.ScopeKey(),
			RecordID: ghost.ID,
		})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if ki, kj := kindRank(actions[i].Kind), kindRank(actions[j].Kind); ki != kj {
			return ki < kj
		}
		return actions[i].String() < actions[j].String()
	})
	return actions
}

func kindRank(k ActionKind) int {
	switch k {
	case ActionCreateMetadata:
		return 0
	case ActionRelabelTags:
		return 1
	case ActionMergeDuplicates:
		return 2
	case ActionDeleteMetadata:
		return 3
	case ActionDeleteObject:
		return 4
	default:
		return 5
	}
}

// scopeForPath reverse-maps a storage path onto its owner scope. Paths
// outside the convention tree fall back to the unscoped kind.
func scopeForPath(p string, conv pathconv.Convention) types.OwnerScope {
	base := conv.BasePrefix
	if base == "" {
		base = pathconv.DefaultBasePrefix
	}
	rest := strings.TrimPrefix(p, strings.Trim(base, "/")+"/")
	segs := strings.Split(rest, "/")

	kindFor := map[string]types.OwnerKind{
		"customers": types.OwnerCustomer,
		"blogs":     types.OwnerBlogPost,
		"campaigns": types.OwnerCampaign,
	}
	if len(segs) >= 4 {
		if kind, ok := kindFor[segs[0]]; ok {
			return types.OwnerScope{Kind: kind, ID: segs[1], DateBucket: bucketOrEmpty(segs[2])}
		}
	}
	if len(segs) >= 3 {
		return types.OwnerScope{Kind: types.OwnerUnscoped, Category: segs[0], DateBucket: bucketOrEmpty(segs[1])}
	}
	return types.OwnerScope{Kind: types.OwnerUnscoped}
}

func bucketOrEmpty(seg string) string {
	if dateBucketLike(seg) {
		return seg
	}
	return ""
}

func dateBucketLike(s string) bool {
	if len(s) != 7 && len(s) != 10 {
		return false
	}
	for i, r := range s {
		if i == 4 || i == 7 {
			if r != '-' {
				return false
			}
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func ext(p string) string {
	e := strings.TrimPrefix(path.Ext(p), ".")
	if e == "" {
		return "bin"
	}
	return e
}
