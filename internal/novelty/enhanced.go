package novelty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/brief-engine/internal/dedup"
	"github.com/xiy/brief-engine/internal/embeddings"
	"github.com/xiy/brief-engine/internal/entity"
	"github.com/xiy/brief-engine/internal/memory"
	"github.com/xiy/brief-engine/pkg/types"
)

// EnhancedDetector extends Detector with semantic duplicate detection over
// the user's recent memory and entity-aware update reasons. A nil embedding
// service disables the semantic step.
type EnhancedDetector struct {
	mem     *memory.Service
	embed   *embeddings.Service
	dedup   *dedup.Deduplicator
	tracker *entity.Tracker
	logger  *log.Logger
}

var _ Classifier = (*EnhancedDetector)(nil)

// NewEnhancedDetector wires the v2 detector.
func NewEnhancedDetector(mem *memory.Service, embed *embeddings.Service, dd *dedup.Deduplicator, tracker *entity.Tracker, logger *log.Logger) *EnhancedDetector {
	if dd == nil {
		dd = dedup.New(dedup.DefaultThreshold)
	}
	if tracker == nil {
		tracker = entity.NewTracker()
	}
	return &EnhancedDetector{mem: mem, embed: embed, dedup: dd, tracker: tracker, logger: logger}
}

// Detect classifies and records one item.
func (d *EnhancedDetector) Detect(ctx context.Context, userID string, item types.BriefItem, raw types.RawRecord) (types.BriefItem, error) {
	out, err := d.DetectBatch(ctx, userID, []types.BriefItem{item}, []types.RawRecord{raw})
	if err != nil {
		return item, err
	}
	if len(out) == 0 {
		_, err := itemKeys(item, raw)
		return item, err
	}
	return out[0], nil
}

// DetectBatch embeds all items in one provider call, then classifies them
// sequentially under the user's lock. The semantic window is loaded once and
// holds only earlier runs, so items with different fingerprints never match
// each other; a repeated fingerprint still sees its own earlier sighting.
func (d *EnhancedDetector) DetectBatch(ctx context.Context, userID string, items []types.BriefItem, raws []types.RawRecord) ([]types.BriefItem, error) {
	if err := checkBatch(d.mem, userID, items, raws); err != nil {
		return nil, err
	}
	vectors := d.embedAll(ctx, userID, items, raws)

	unlock := d.mem.Lock(userID)
	defer unlock()

	var window []types.ItemMemory
	if vectors != nil {
		recent, err := d.mem.Recent(ctx, userID)
		if err != nil {
			d.logger.Warn("load lookback window failed, skipping semantic dedup", "user", userID, "err", err)
			vectors = nil
		}
		window = recent
	}

	out := make([]types.BriefItem, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		k, err := itemKeys(item, raws[i])
		if err != nil {
			d.logger.Warn("dropping item", "user", userID, "item", item.ItemRef, "err", err)
			continue
		}
		var vec []float32
		if vectors != nil {
			vec = vectors[i]
		}
		out = append(out, d.detectLocked(ctx, userID, item, raws[i], k, vec, window))
	}
	return out, nil
}

// embedAll returns nil when semantic dedup is unavailable for this batch.
func (d *EnhancedDetector) embedAll(ctx context.Context, userID string, items []types.BriefItem, raws []types.RawRecord) [][]float32 {
	if d.embed == nil || len(items) == 0 {
		return nil
	}
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = embeddingText(item, raws[i])
	}
	vectors, err := d.embed.EmbedBatch(ctx, texts)
	if err != nil {
		d.logger.Warn("embedding failed, skipping semantic dedup", "user", userID, "items", len(items), "err", err)
		return nil
	}
	return vectors
}

func (d *EnhancedDetector) detectLocked(ctx context.Context, userID string, item types.BriefItem, raw types.RawRecord, k keys, vec []float32, window []types.ItemMemory) types.BriefItem {
	snapshot := d.tracker.Snapshot(item.Source, item.Type, raw)
	prev, found := lookup(ctx, d.mem, d.logger, userID, k.fingerprint)

	var info types.NoveltyInfo
	switch {
	case found && prev.ContentHash == k.contentHash:
		info = repeatInfo(prev)
	case found:
		info = d.updatedInfo(prev, snapshot)
	default:
		info = d.semanticInfo(item, k, vec, snapshot, window)
	}

	in := types.RecordInput{
		UserID:         userID,
		Fingerprint:    k.fingerprint,
		ContentHash:    k.contentHash,
		Source:         item.Source,
		ItemType:       item.Type,
		Title:          item.Title,
		EntitySnapshot: snapshot,
	}
	if len(vec) > 0 && !embeddings.IsZero(vec) {
		in.Embedding = vec
	}
	rec := record(ctx, d.mem, d.logger, in)
	if info.Label == types.LabelNew {
		info.FirstSeenAt = firstSeen(rec, d.mem)
	}
	return annotate(item, info)
}

// updatedInfo explains a content change; the entity check only enriches the
// reason and never downgrades the label.
func (d *EnhancedDetector) updatedInfo(prev types.ItemMemory, snapshot map[string]string) types.NoveltyInfo {
	info := types.NoveltyInfo{Label: types.LabelUpdated, FirstSeenAt: prev.FirstSeenAt}
	upd := d.tracker.DetectUpdate(prev.EntitySnapshot, snapshot)
	if upd.Changed {
		info.Reason = "updated: " + upd.Summary
		info.ChangedFields = upd.ChangedFields
		return info
	}
	info.Reason = fmt.Sprintf("content changed since %s", prev.LastSeenAt.Format(time.RFC3339))
	return info
}

func (d *EnhancedDetector) semanticInfo(item types.BriefItem, k keys, vec []float32, snapshot map[string]string, window []types.ItemMemory) types.NoveltyInfo {
	match, ok := d.dedup.FindDuplicate(vec, window, k.fingerprint)
	if !ok {
		return types.NoveltyInfo{Label: types.LabelNew, Reason: "first sighting, no similar recent item"}
	}
	info := types.NoveltyInfo{
		FirstSeenAt:        match.Item.FirstSeenAt,
		MatchedFingerprint: match.Item.Fingerprint,
		Similarity:         match.Similarity,
	}
	if strings.EqualFold(match.Item.ItemType, item.Type) {
		if upd := d.tracker.DetectUpdate(match.Item.EntitySnapshot, snapshot); upd.Changed {
			info.Label = types.LabelUpdated
			info.Reason = fmt.Sprintf("similar to %q (%.2f) with changes: %s", match.Item.Title, match.Similarity, upd.Summary)
			info.ChangedFields = upd.ChangedFields
			return info
		}
	}
	info.Label = types.LabelSemanticDuplicate
	info.Reason = fmt.Sprintf("near-duplicate of %q (similarity %.2f)", match.Item.Title, match.Similarity)
	return info
}
