package consolidate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xiy/brief-engine/internal/store"
	"github.com/xiy/brief-engine/pkg/types"
)

var errMalformed = errors.New("malformed feedback payload")

// key is one preference candidate, e.g. {project, alpha}.
type key struct {
	kind string
	name string
}

func (k key) String() string { return k.kind + ":" + k.name }

// tally accumulates weighted positive and negative signal for one key.
type tally struct {
	positive float64
	negative float64
	events   int
}

func (t tally) ratio() float64 {
	total := t.positive + t.negative
	if total == 0 {
		return 0
	}
	return t.positive / total
}

// signal returns the positive and negative weight of one event.
func (o Options) signal(t types.FeedbackType) (pos, neg float64) {
	switch t {
	case types.FeedbackThumbUp, types.FeedbackSave:
		return 1, 0
	case types.FeedbackOpen:
		return o.OpenWeight, 0
	case types.FeedbackThumbDown, types.FeedbackLessLikeThis:
		return 0, 1
	case types.FeedbackDismiss:
		return 0, 0.5
	}
	return 0, 0
}

// kindAliases maps entity prefixes onto preference kinds.
var kindAliases = map[string]string{
	"topic":   store.KindTopic,
	"tag":     store.KindTopic,
	"project": store.KindProject,
	"person":  store.KindVIP,
	"vip":     store.KindVIP,
	"sender":  store.KindVIP,
	"from":    store.KindVIP,
	"source":  store.KindSource,
}

// keysOf extracts the preference keys an event refers to. Payload shapes:
//
//	{"entities": ["project:alpha", {"kind": "person", "key": "a@x.io"}],
//	 "topics": ["go"], "project": "alpha", "sender": "a@x.io", "source": "gmail"}
func keysOf(ev types.FeedbackEvent) ([]key, error) {
	if ev.Payload == nil {
		return nil, errMalformed
	}
	if !ev.EventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", errMalformed, ev.EventType)
	}

	seen := map[key]bool{}
	var out []key
	add := func(kind, name string) {
		kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(kind))]
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return
		}
		if kind != store.KindSource {
			name = strings.ToLower(name)
		}
		k := key{kind: kind, name: name}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}

	if raw, ok := ev.Payload["entities"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: entities is %T", errMalformed, raw)
		}
		for _, e := range list {
			switch v := e.(type) {
			case string:
				kind, name, found := strings.Cut(v, ":")
				if !found {
					kind, name = "topic", v
				}
				add(kind, name)
			case map[string]any:
				kind, _ := v["kind"].(string)
				name, _ := v["key"].(string)
				add(kind, name)
			default:
				return nil, fmt.Errorf("%w: entity is %T", errMalformed, e)
			}
		}
	}
	if raw, ok := ev.Payload["topics"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: topics is %T", errMalformed, raw)
		}
		for _, t := range list {
			if s, ok := t.(string); ok {
				add("topic", s)
			}
		}
	}
	for _, field := range []string{"topic", "project", "sender", "person", "vip", "source"} {
		if s, ok := ev.Payload[field].(string); ok {
			add(field, s)
		}
	}
	return out, nil
}

func sortedKeys(m map[key]*tally) []key {
	keys := make([]key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].name < keys[j].name
	})
	return keys
}
