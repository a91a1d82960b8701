package ranking

import (
	"github.com/xiy/brief-engine/pkg/types"
)

// Selection is the capped content of one brief.
type Selection struct {
	Highlights []types.BriefItem            `json:"highlights"`
	Modules    map[string][]types.BriefItem `json:"modules"`
	// Items is every selected item in brief order: highlights first, then
	// module items by rank.
	Items   []types.BriefItem `json:"items"`
	Dropped int               `json:"dropped"`
}

// SelectTopHighlights returns the first max items of an already ranked list.
func SelectTopHighlights(ranked []types.BriefItem, max int) []types.BriefItem {
	if max <= 0 {
		return []types.BriefItem{}
	}
	if len(ranked) < max {
		max = len(ranked)
	}
	return append([]types.BriefItem(nil), ranked[:max]...)
}

// SelectItemsPerModule ranks the module's items, reusing scores already set,
// and truncates to MaxItemsPerModule.
func (r *Ranker) SelectItemsPerModule(items []types.BriefItem, module string) []types.BriefItem {
	var subset []types.BriefItem
	for _, item := range items {
		if r.ModuleOf(item) != module {
			continue
		}
		if item.Ranking == nil {
			s := r.Score(item)
			item.Ranking = &s
		}
		subset = append(subset, item)
	}
	SortRanked(subset)
	if len(subset) > r.caps.MaxItemsPerModule {
		subset = subset[:r.caps.MaxItemsPerModule]
	}
	return subset
}

// Assemble ranks items and applies every cap. Highlights are taken first and
// are not repeated in modules; the global cap is applied last, so module
// items are dropped before any highlight.
func (r *Ranker) Assemble(items []types.BriefItem) Selection {
	ranked := r.RankItems(items)
	highlights := SelectTopHighlights(ranked, r.caps.MaxHighlights)
	rest := ranked[len(highlights):]

	// rest is already in rank order, so walking it keeps input order as the
	// last tie-break across modules.
	var candidates []types.BriefItem
	taken := map[string]int{}
	for _, item := range rest {
		m := r.ModuleOf(item)
		if taken[m] >= r.caps.MaxItemsPerModule {
			continue
		}
		taken[m]++
		candidates = append(candidates, item)
	}

	sel := Selection{
		Highlights: highlights,
		Modules:    map[string][]types.BriefItem{},
	}
	if len(sel.Highlights) > r.caps.MaxTotalItems {
		sel.Highlights = sel.Highlights[:r.caps.MaxTotalItems]
	}
	room := r.caps.MaxTotalItems - len(sel.Highlights)
	if len(candidates) > room {
		candidates = candidates[:room]
	}
	sel.Items = append(append([]types.BriefItem(nil), sel.Highlights...), candidates...)
	for _, item := range candidates {
		m := r.ModuleOf(item)
		sel.Modules[m] = append(sel.Modules[m], item)
	}
	sel.Dropped = len(items) - len(sel.Items)
	return sel
}
