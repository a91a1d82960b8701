package ranking

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xiy/brief-engine/pkg/types"
)

var (
	moneyRe = regexp.MustCompile(`(?i)([$€£¥]\s?\d[\d,.]*\s?(k|m|bn|b|million|billion)?\b)|(\b\d[\d,.]*\s?(k|m|bn|million|billion)?\s?(usd|eur|gbp|dollars|euros)\b)`)

	urgentTerms  = []string{"urgent", "asap", "critical", "deadline", "outage", "incident", "breaking", "important", "immediately", "overdue", "action required"}
	actionTerms  = []string{"approve", "approval", "review", "reply", "respond", "sign", "confirm", "rsvp", "attend", "submit", "decide", "pay", "schedule", "please", "action required", "can you", "could you"}
	passiveTerms = []string{"unsubscribe", "newsletter", "digest", "weekly roundup", "no-reply", "noreply", "promotion"}
)

// relevance rewards overlap with the user's topics and projects. Users with
// no interests, or items with nothing to match on, get the neutral value.
func (r *Ranker) relevance(item types.BriefItem) float64 {
	if len(r.interests) == 0 {
		return Neutral
	}
	terms := map[string]bool{}
	for _, t := range tokenize(item.Title + " " + item.Summary) {
		terms[t] = true
	}
	keys := map[string]bool{}
	for _, e := range item.Entities {
		k := strings.ToLower(strings.TrimSpace(e.Key))
		keys[k] = true
		for _, t := range tokenize(k) {
			terms[t] = true
		}
	}
	if len(terms) == 0 {
		return Neutral
	}

	matched := 0.0
	for _, in := range r.interests {
		if keys[in.name] || containsAll(terms, in.terms) {
			matched += in.weight
		}
	}
	if matched <= 0 {
		return 0.1
	}
	return clamp(0.4 + 0.3*matched)
}

// urgency rises as a start time or due date approaches and stays high once
// a due date has passed. Items with only a timestamp get a low baseline.
func urgency(item types.BriefItem, now time.Time) float64 {
	if due, ok := metaTime(item.Metadata, "due", "due_date", "due_at"); ok {
		hours := due.Sub(now).Hours()
		if hours <= 0 {
			return 0.95
		}
		return clamp(math.Max(0.1, math.Exp(-hours/24)))
	}
	if start, ok := metaTime(item.Metadata, "start_time", "start", "starts_at"); ok {
		hours := start.Sub(now).Hours()
		switch {
		case hours < 0:
			return 0.1
		case hours <= 1:
			return 1
		default:
			return clamp(math.Exp(-(hours - 1) / 12))
		}
	}
	if item.Timestamp.IsZero() {
		return Neutral
	}
	if now.Sub(item.Timestamp) <= 24*time.Hour {
		return 0.3
	}
	return 0.1
}

// credibility favors VIP senders and trusted sources; per-source weights
// learned from feedback scale the result.
func (r *Ranker) credibility(item types.BriefItem) float64 {
	sender := strings.ToLower(metaString(item.Metadata, "sender", "from", "author"))
	people := []string{sender}
	for _, e := range item.Entities {
		if e.Kind == "person" || e.Kind == "vip" {
			people = append(people, strings.ToLower(e.Key))
		}
	}

	var base float64
	switch {
	case r.vipWeight(people) > 0:
		base = math.Min(1, 0.8+0.1*r.vipWeight(people))
	case r.trusted[strings.ToLower(item.Source)]:
		base = 0.7
	case item.Source == "" && sender == "":
		return Neutral
	default:
		base = 0.4
	}
	if w, ok := r.prefs.SourceWeights[item.Source]; ok {
		base *= w
	}
	return clamp(base)
}

func (r *Ranker) vipWeight(people []string) float64 {
	best := 0.0
	for _, p := range people {
		if p == "" {
			continue
		}
		if w, ok := r.vips[p]; ok && w > best {
			best = w
		}
	}
	return best
}

// impact looks for money amounts, large meetings and urgency wording.
func impact(item types.BriefItem) float64 {
	text := strings.ToLower(item.Title + " " + item.Summary)
	attendees, hasAttendees := metaInt(item.Metadata, "attendee_count", "attendees")
	if strings.TrimSpace(text) == "" && !hasAttendees {
		return Neutral
	}
	score := 0.2
	if moneyRe.MatchString(text) {
		score += 0.35
	}
	switch {
	case attendees >= 10:
		score += 0.3
	case attendees >= 5:
		score += 0.2
	case attendees >= 2:
		score += 0.1
	}
	if containsAny(text, urgentTerms) {
		score += 0.3
	}
	return clamp(score)
}

// actionability separates things the user must do from passive reading.
func actionability(item types.BriefItem) float64 {
	text := strings.ToLower(item.Title + " " + item.Summary)
	if strings.TrimSpace(text) == "" && item.Type == "" && len(item.SuggestedActions) == 0 {
		return Neutral
	}
	if b, ok := item.Metadata["is_newsletter"].(bool); ok && b {
		return 0.1
	}
	if containsAny(text, passiveTerms) {
		return 0.1
	}
	score := 0.3
	switch strings.ToLower(item.Type) {
	case "task", "todo":
		score = 0.8
	case "meeting", "event":
		score = 0.7
	}
	if containsAny(text, actionTerms) {
		score = math.Max(score, 0.8)
	}
	if len(item.SuggestedActions) > 0 {
		score = math.Max(score, 0.7)
	}
	if strings.Contains(text, "?") {
		score = math.Min(1, score+0.1)
	}
	return clamp(score)
}

// tokenize lower-cases text and splits it on anything that is not a letter
// or digit, dropping duplicates and single characters.
func tokenize(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	seen := map[string]struct{}{}
	terms := make([]string, 0, 8)
	var sb strings.Builder

	flush := func() {
		if sb.Len() == 0 {
			return
		}
		term := sb.String()
		sb.Reset()
		if len([]rune(term)) < 2 {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return terms
}

func containsAll(set map[string]bool, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	for _, t := range terms {
		if !set[t] {
			return false
		}
	}
	return true
}

// containsAny matches single words against whole tokens and anything
// longer as a substring, so "sign" does not fire on "design".
func containsAny(text string, needles []string) bool {
	words := map[string]bool{}
	for _, t := range tokenize(text) {
		words[t] = true
	}
	for _, n := range needles {
		if isWord(n) {
			if words[n] {
				return true
			}
			continue
		}
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func isWord(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func metaString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := meta[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func metaInt(meta map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := meta[k].(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		case []any:
			return len(v), true
		case []string:
			return len(v), true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}

func metaTime(meta map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		switch v := meta[k].(type) {
		case time.Time:
			if !v.IsZero() {
				return v, true
			}
		case *time.Time:
			if v != nil && !v.IsZero() {
				return *v, true
			}
		case string:
			s := strings.TrimSpace(v)
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC(), true
				}
			}
		}
	}
	return time.Time{}, false
}
