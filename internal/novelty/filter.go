package novelty

import "github.com/xiy/brief-engine/pkg/types"

// FilterByNovelty drops items whose label is in exclude, keeping order.
// With no labels given it drops repeats and semantic duplicates. Items
// without novelty info are kept.
func FilterByNovelty(items []types.BriefItem, exclude ...types.NoveltyLabel) []types.BriefItem {
	if len(exclude) == 0 {
		exclude = []types.NoveltyLabel{types.LabelRepeat, types.LabelSemanticDuplicate}
	}
	drop := make(map[types.NoveltyLabel]bool, len(exclude))
	for _, l := range exclude {
		drop[l] = true
	}
	out := make([]types.BriefItem, 0, len(items))
	for _, item := range items {
		if item.Novelty != nil && drop[item.Novelty.Label] {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Stats counts items per label.
func Stats(items []types.BriefItem) map[types.NoveltyLabel]int {
	out := map[types.NoveltyLabel]int{}
	for _, item := range items {
		if item.Novelty != nil {
			out[item.Novelty.Label]++
		}
	}
	return out
}
