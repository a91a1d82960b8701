package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xiy/brief-engine/internal/brief"
	"github.com/xiy/brief-engine/internal/novelty"
	"github.com/xiy/brief-engine/pkg/types"
)

// ToolDefinition models MCP tool metadata.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type tool struct {
	def  ToolDefinition
	call func(ctx context.Context, args json.RawMessage) (any, error)
}

func (s *Server) register(def ToolDefinition, call func(ctx context.Context, args json.RawMessage) (any, error)) {
	s.tools[def.Name] = tool{def: def, call: call}
	s.order = append(s.order, def.Name)
}

func (s *Server) definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.tools[name].def)
	}
	return defs
}

// decode unmarshals tool arguments, naming the tool on failure.
func decode[T any](name string, args json.RawMessage) (T, error) {
	var in T
	if err := json.Unmarshal(args, &in); err != nil {
		return in, fmt.Errorf("invalid %s arguments: %w", name, err)
	}
	return in, nil
}

type userArgs struct {
	UserID string `json:"user_id"`
}

type batchArgs struct {
	UserID         string            `json:"user_id"`
	Items          []types.BriefItem `json:"items"`
	Raws           []types.RawRecord `json:"raws"`
	ExcludeRepeats bool              `json:"exclude_repeats"`
}

func (s *Server) registerTools() {
	itemsSchema := map[string]any{"type": "array", "items": map[string]any{"type": "object"}, "description": "Normalized brief items."}
	rawsSchema := map[string]any{"type": "array", "items": map[string]any{"type": "object"}, "description": "Raw source records, index aligned with items."}

	if s.deps.Pipeline != nil {
		s.register(ToolDefinition{
			Name:        "brief_run",
			Description: "Classify, rank and select one user's items into a capped brief.",
			InputSchema: jsonSchema(map[string]any{
				"user_id":         propString("User identifier."),
				"items":           itemsSchema,
				"raws":            rawsSchema,
				"exclude_repeats": propBoolean("Drop REPEAT and SEMANTIC_DUPLICATE items before ranking."),
			}, []string{"user_id", "items", "raws"}),
		}, s.briefRun)
	}
	if s.deps.Classifier != nil {
		s.register(ToolDefinition{
			Name:        "novelty_detect",
			Description: "Label items NEW, REPEAT, UPDATED or SEMANTIC_DUPLICATE against the user's memory and record the sighting.",
			InputSchema: jsonSchema(map[string]any{
				"user_id": propString("User identifier."),
				"items":   itemsSchema,
				"raws":    rawsSchema,
			}, []string{"user_id", "items", "raws"}),
		}, s.noveltyDetect)
	}
	if s.deps.Memory != nil {
		s.register(ToolDefinition{
			Name:        "memory_stats",
			Description: "Summarize a user's item memory by source and type.",
			InputSchema: jsonSchema(map[string]any{"user_id": propString("User identifier.")}, []string{"user_id"}),
		}, s.memoryStats)
		s.register(ToolDefinition{
			Name:        "memory_clear",
			Description: "Irreversibly wipe a user's item memory.",
			InputSchema: jsonSchema(map[string]any{
				"user_id": propString("User identifier."),
				"confirm": propBoolean("Must be true."),
			}, []string{"user_id", "confirm"}),
		}, s.memoryClear)
	}
	if s.deps.Feedback != nil {
		s.register(ToolDefinition{
			Name:        "feedback_record",
			Description: "Record a user's reaction to a brief item.",
			InputSchema: jsonSchema(map[string]any{
				"user_id":    propString("User identifier."),
				"item_id":    propString("Item reference the feedback is about."),
				"event_type": propStringEnum("Feedback kind.", feedbackTypes()),
				"payload":    map[string]any{"type": "object", "description": "Entities, topics, sender and source of the item."},
			}, []string{"user_id", "event_type"}),
		}, s.feedbackRecord)
	}
	if s.deps.Preferences != nil {
		s.register(ToolDefinition{
			Name:        "preferences_get",
			Description: "Return the user's learned topics, projects, VIPs and source weights.",
			InputSchema: jsonSchema(map[string]any{"user_id": propString("User identifier.")}, []string{"user_id"}),
		}, s.preferencesGet)
	}
	if s.deps.Consolidator != nil && s.deps.Feedback != nil {
		s.register(ToolDefinition{
			Name:        "consolidate_run",
			Description: "Learn preferences from recent feedback for one user, or for every user with enough events.",
			InputSchema: jsonSchema(map[string]any{
				"user_id":     propString("Optional user; all eligible users when empty."),
				"window_days": propNumber("Feedback window in days."),
				"min_events":  propNumber("Minimum events per user."),
			}, nil),
		}, s.consolidateRun)
	}
}

func (s *Server) briefRun(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[batchArgs]("brief_run", args)
	if err != nil {
		return nil, err
	}
	return s.deps.Pipeline.Run(ctx, in.UserID, brief.Input{Items: in.Items, Raws: in.Raws, ExcludeRepeats: in.ExcludeRepeats})
}

func (s *Server) noveltyDetect(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[batchArgs]("novelty_detect", args)
	if err != nil {
		return nil, err
	}
	items, err := s.deps.Classifier.DetectBatch(ctx, in.UserID, in.Items, in.Raws)
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items, "stats": novelty.Stats(items)}, nil
}

func (s *Server) memoryStats(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[userArgs]("memory_stats", args)
	if err != nil {
		return nil, err
	}
	return s.deps.Memory.Stats(ctx, in.UserID)
}

func (s *Server) memoryClear(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[struct {
		UserID  string `json:"user_id"`
		Confirm bool   `json:"confirm"`
	}]("memory_clear", args)
	if err != nil {
		return nil, err
	}
	if !in.Confirm {
		return nil, errors.New("memory_clear requires confirm=true")
	}
	n, err := s.deps.Memory.Clear(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user_id": in.UserID, "deleted": n}, nil
}

func (s *Server) feedbackRecord(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[types.FeedbackEvent]("feedback_record", args)
	if err != nil {
		return nil, err
	}
	if s.deps.Memory != nil {
		if err := s.deps.Memory.ValidateUser(in.UserID); err != nil {
			return nil, err
		}
	} else if in.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	if !in.EventType.Valid() {
		return nil, fmt.Errorf("unknown event_type %q", in.EventType)
	}
	in.ID = ""
	in.CreatedAt = s.now()
	if err := s.deps.Feedback.InsertFeedback(ctx, in); err != nil {
		return nil, err
	}
	return map[string]any{"recorded": true, "user_id": in.UserID, "event_type": in.EventType}, nil
}

func (s *Server) preferencesGet(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[userArgs]("preferences_get", args)
	if err != nil {
		return nil, err
	}
	if in.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	return s.deps.Preferences.GetPreferences(ctx, in.UserID)
}

func (s *Server) consolidateRun(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[struct {
		UserID     string `json:"user_id"`
		WindowDays int    `json:"window_days"`
		MinEvents  int    `json:"min_events"`
	}]("consolidate_run", args)
	if err != nil {
		return nil, err
	}
	if in.UserID != "" && s.deps.Memory != nil {
		if err := s.deps.Memory.ValidateUser(in.UserID); err != nil {
			return nil, err
		}
	}
	if in.WindowDays <= 0 {
		in.WindowDays = s.deps.Consolidation.WindowDays
	}
	if in.MinEvents <= 0 {
		in.MinEvents = s.deps.Consolidation.MinEvents
	}
	since := s.now().Add(-time.Duration(in.WindowDays) * 24 * time.Hour)

	if in.UserID == "" {
		results, err := s.deps.Consolidator.ConsolidateAllUsers(ctx, since, in.MinEvents)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results}, nil
	}

	events, err := s.deps.Feedback.FeedbackForUser(ctx, in.UserID, since)
	if err != nil {
		return nil, err
	}
	if len(events) < in.MinEvents {
		return map[string]any{"results": map[string]types.ConsolidationResult{}}, nil
	}
	res, err := s.deps.Consolidator.ConsolidateUser(ctx, in.UserID, events)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": map[string]types.ConsolidationResult{in.UserID: res}}, nil
}

func feedbackTypes() []string {
	return []string{
		string(types.FeedbackThumbUp),
		string(types.FeedbackThumbDown),
		string(types.FeedbackDismiss),
		string(types.FeedbackLessLikeThis),
		string(types.FeedbackSave),
		string(types.FeedbackOpen),
	}
}

func jsonSchema(properties map[string]any, required []string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func propString(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func propStringEnum(description string, values []string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}

func propNumber(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func propBoolean(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}
