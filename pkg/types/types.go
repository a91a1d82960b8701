package types

import "time"

// RawRecord is a source record as produced by a connector.
type RawRecord map[string]any

// ItemMemory is the last known view of one item for one user.
type ItemMemory struct {
	UserID         string            `json:"user_id"`
	Fingerprint    string            `json:"fingerprint"`
	ContentHash    string            `json:"content_hash"`
	Source         string            `json:"source"`
	ItemType       string            `json:"item_type"`
	Title          string            `json:"title"`
	FirstSeenAt    time.Time         `json:"first_seen_utc"`
	LastSeenAt     time.Time         `json:"last_seen_utc"`
	SeenCount      int               `json:"seen_count"`
	Embedding      []float32         `json:"embedding,omitempty"`
	EntitySnapshot map[string]string `json:"entity_snapshot,omitempty"`
}

// RecordInput describes one sighting to persist.
type RecordInput struct {
	UserID         string            `json:"user_id"`
	Fingerprint    string            `json:"fingerprint"`
	ContentHash    string            `json:"content_hash"`
	Source         string            `json:"source"`
	ItemType       string            `json:"item_type"`
	Title          string            `json:"title"`
	Embedding      []float32         `json:"embedding,omitempty"`
	EntitySnapshot map[string]string `json:"entity_snapshot,omitempty"`
}

// NoveltyLabel classifies an item against prior sightings.
type NoveltyLabel string

const (
	LabelNew               NoveltyLabel = "NEW"
	LabelUpdated           NoveltyLabel = "UPDATED"
	LabelRepeat            NoveltyLabel = "REPEAT"
	LabelSemanticDuplicate NoveltyLabel = "SEMANTIC_DUPLICATE"
)

// RepeatLike reports whether the label means "nothing new to show".
func (l NoveltyLabel) RepeatLike() bool {
	return l == LabelRepeat || l == LabelSemanticDuplicate
}

// NoveltyInfo is attached to an item by the novelty detector.
type NoveltyInfo struct {
	Label              NoveltyLabel `json:"label"`
	Reason             string       `json:"reason"`
	FirstSeenAt        time.Time    `json:"first_seen_utc"`
	MatchedFingerprint string       `json:"matched_fingerprint,omitempty"`
	Similarity         float64      `json:"similarity,omitempty"`
	ChangedFields      []string     `json:"changed_fields,omitempty"`
}

// RankingScores holds the per-factor scores and their combination.
type RankingScores struct {
	Relevance     float64 `json:"relevance_score"`
	Urgency       float64 `json:"urgency_score"`
	Credibility   float64 `json:"credibility_score"`
	Impact        float64 `json:"impact_score"`
	Actionability float64 `json:"actionability_score"`
	Final         float64 `json:"final_score"`
}

// Entity is a typed reference extracted from an item, e.g. {person, alice@x.io}.
type Entity struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

// BriefItem is the unit flowing through novelty detection and ranking.
type BriefItem struct {
	ItemRef          string         `json:"item_ref"`
	Source           string         `json:"source"`
	Type             string         `json:"type"`
	Timestamp        time.Time      `json:"timestamp_utc"`
	Title            string         `json:"title"`
	Summary          string         `json:"summary"`
	WhyItMatters     string         `json:"why_it_matters,omitempty"`
	Entities         []Entity       `json:"entities,omitempty"`
	Novelty          *NoveltyInfo   `json:"novelty,omitempty"`
	Ranking          *RankingScores `json:"ranking,omitempty"`
	Evidence         []string       `json:"evidence,omitempty"`
	SuggestedActions []string       `json:"suggested_actions,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// UserPreferences are read by ranking and written by consolidation.
type UserPreferences struct {
	UserID         string             `json:"user_id"`
	Topics         []string           `json:"topics"`
	VIPPeople      []string           `json:"vip_people"`
	Projects       []string           `json:"projects"`
	TopicWeights   map[string]float64 `json:"topic_weights,omitempty"`
	ProjectWeights map[string]float64 `json:"project_weights,omitempty"`
	VIPWeights     map[string]float64 `json:"vip_weights,omitempty"`
	SourceWeights  map[string]float64 `json:"source_weights,omitempty"`
}

// FeedbackType is a kind of user reaction to a brief item.
type FeedbackType string

const (
	FeedbackThumbUp      FeedbackType = "thumb_up"
	FeedbackThumbDown    FeedbackType = "thumb_down"
	FeedbackDismiss      FeedbackType = "dismiss"
	FeedbackLessLikeThis FeedbackType = "less_like_this"
	FeedbackSave         FeedbackType = "save"
	FeedbackOpen         FeedbackType = "open"
)

// Valid reports whether t is a known feedback type.
func (t FeedbackType) Valid() bool {
	switch t {
	case FeedbackThumbUp, FeedbackThumbDown, FeedbackDismiss, FeedbackLessLikeThis, FeedbackSave, FeedbackOpen:
		return true
	}
	return false
}

// FeedbackEvent is one recorded user reaction.
type FeedbackEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	ItemID    string         `json:"item_id"`
	EventType FeedbackType   `json:"event_type"`
	CreatedAt time.Time      `json:"created_at_utc"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ConsolidationResult summarizes one consolidation pass for one user.
type ConsolidationResult struct {
	UserID           string          `json:"user_id"`
	EventsProcessed  int             `json:"events_processed"`
	EventsSkipped    int             `json:"events_skipped"`
	TopicsAdded      int             `json:"topics_added"`
	TopicsUpdated    int             `json:"topics_updated"`
	ProjectsAdded    int             `json:"projects_added"`
	TopicsRemoved    int             `json:"topics_removed"`
	VIPsAdded        int             `json:"vips_added"`
	SourcesUpdated   int             `json:"sources_updated"`
	PreferencesAfter UserPreferences `json:"preferences_after"`
}

// MemoryStats summarizes one user's item memory.
type MemoryStats struct {
	UserID         string         `json:"user_id"`
	TotalItems     int64          `json:"total_items"`
	TotalSightings int64          `json:"total_sightings"`
	BySource       map[string]int `json:"by_source"`
	ByType         map[string]int `json:"by_type"`
	OldestSeenAt   *time.Time     `json:"oldest_seen_utc,omitempty"`
	NewestSeenAt   *time.Time     `json:"newest_seen_utc,omitempty"`
}
