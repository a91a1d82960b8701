// Package novelty classifies incoming items as NEW, REPEAT or UPDATED against
// a user's item memory. The enhanced detector adds semantic duplicate and
// entity-aware signals on top of the fingerprint and content hash.
package novelty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/brief-engine/internal/fingerprint"
	"github.com/xiy/brief-engine/internal/memory"
	"github.com/xiy/brief-engine/pkg/types"
)

// Classifier annotates items with novelty information. Returned items are
// copies; the inputs are never modified.
type Classifier interface {
	Detect(ctx context.Context, userID string, item types.BriefItem, raw types.RawRecord) (types.BriefItem, error)
	DetectBatch(ctx context.Context, userID string, items []types.BriefItem, raws []types.RawRecord) ([]types.BriefItem, error)
}

// Detector is the fingerprint and content hash classifier.
type Detector struct {
	mem    *memory.Service
	logger *log.Logger
}

var _ Classifier = (*Detector)(nil)

// NewDetector returns a fingerprint-only detector.
func NewDetector(mem *memory.Service, logger *log.Logger) *Detector {
	return &Detector{mem: mem, logger: logger}
}

// Detect classifies and records one item. It fails only when the record has
// no identity field.
func (d *Detector) Detect(ctx context.Context, userID string, item types.BriefItem, raw types.RawRecord) (types.BriefItem, error) {
	if err := d.mem.ValidateUser(userID); err != nil {
		return item, err
	}
	keys, err := itemKeys(item, raw)
	if err != nil {
		return item, err
	}
	unlock := d.mem.Lock(userID)
	defer unlock()
	return d.detectLocked(ctx, userID, item, keys), nil
}

// DetectBatch classifies items in input order. Items without an identity
// field are dropped and logged.
func (d *Detector) DetectBatch(ctx context.Context, userID string, items []types.BriefItem, raws []types.RawRecord) ([]types.BriefItem, error) {
	if err := checkBatch(d.mem, userID, items, raws); err != nil {
		return nil, err
	}
	unlock := d.mem.Lock(userID)
	defer unlock()

	out := make([]types.BriefItem, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		keys, err := itemKeys(item, raws[i])
		if err != nil {
			d.logger.Warn("dropping item", "user", userID, "item", item.ItemRef, "err", err)
			continue
		}
		out = append(out, d.detectLocked(ctx, userID, item, keys))
	}
	return out, nil
}

func (d *Detector) detectLocked(ctx context.Context, userID string, item types.BriefItem, k keys) types.BriefItem {
	prev, found := lookup(ctx, d.mem, d.logger, userID, k.fingerprint)

	var info types.NoveltyInfo
	switch {
	case !found:
		info = types.NoveltyInfo{Label: types.LabelNew, Reason: "first sighting"}
	case prev.ContentHash == k.contentHash:
		info = repeatInfo(prev)
	default:
		info = types.NoveltyInfo{
			Label:       types.LabelUpdated,
			Reason:      fmt.Sprintf("content changed since %s", prev.LastSeenAt.Format(time.RFC3339)),
			FirstSeenAt: prev.FirstSeenAt,
		}
	}

	rec := record(ctx, d.mem, d.logger, types.RecordInput{
		UserID:      userID,
		Fingerprint: k.fingerprint,
		ContentHash: k.contentHash,
		Source:      item.Source,
		ItemType:    item.Type,
		Title:       item.Title,
	})
	if info.Label == types.LabelNew {
		info.FirstSeenAt = firstSeen(rec, d.mem)
	}
	return annotate(item, info)
}

type keys struct {
	fingerprint string
	contentHash string
}

func itemKeys(item types.BriefItem, raw types.RawRecord) (keys, error) {
	fp, err := fingerprint.Generate(item.Source, item.Type, raw)
	if err != nil {
		return keys{}, err
	}
	return keys{fingerprint: fp, contentHash: fingerprint.ContentHash(item.Source, item.Type, raw)}, nil
}

func checkBatch(mem *memory.Service, userID string, items []types.BriefItem, raws []types.RawRecord) error {
	if err := mem.ValidateUser(userID); err != nil {
		return err
	}
	if len(items) != len(raws) {
		return fmt.Errorf("batch has %d items but %d raw records", len(items), len(raws))
	}
	return nil
}

// lookup degrades a memory read failure to "not found".
func lookup(ctx context.Context, mem *memory.Service, logger *log.Logger, userID, fp string) (types.ItemMemory, bool) {
	prev, found, err := mem.Get(ctx, userID, fp)
	if err != nil {
		logger.Warn("memory lookup failed, treating item as new", "user", userID, "fingerprint", fp, "err", err)
		return types.ItemMemory{}, false
	}
	return prev, found
}

// record persists the sighting; a failed write is logged and does not block
// the brief.
func record(ctx context.Context, mem *memory.Service, logger *log.Logger, in types.RecordInput) types.ItemMemory {
	rec, err := mem.RecordItem(ctx, in)
	if err != nil {
		logger.Error("record item failed", "user", in.UserID, "fingerprint", in.Fingerprint, "err", err)
		return types.ItemMemory{}
	}
	return rec
}

func firstSeen(rec types.ItemMemory, mem *memory.Service) time.Time {
	if rec.FirstSeenAt.IsZero() {
		return mem.Now()
	}
	return rec.FirstSeenAt
}

func repeatInfo(prev types.ItemMemory) types.NoveltyInfo {
	times := "time"
	if prev.SeenCount != 1 {
		times = "times"
	}
	return types.NoveltyInfo{
		Label:       types.LabelRepeat,
		Reason:      fmt.Sprintf("unchanged, seen %d %s since %s", prev.SeenCount, times, prev.FirstSeenAt.Format(time.RFC3339)),
		FirstSeenAt: prev.FirstSeenAt,
	}
}

func annotate(item types.BriefItem, info types.NoveltyInfo) types.BriefItem {
	item.Novelty = &info
	return item
}

// embeddingText is the text an item is compared on.
func embeddingText(item types.BriefItem, raw types.RawRecord) string {
	parts := make([]string, 0, 2)
	for _, s := range []string{item.Title, item.Summary} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		for _, key := range []string{"subject", "title", "text", "body"} {
			if s := fingerprint.NormalizeValue(raw[key]); s != "" {
				parts = append(parts, s)
				break
			}
		}
	}
	return strings.Join(parts, "\n")
}
