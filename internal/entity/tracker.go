// Package entity tracks the material fields of recurring items so that
// cosmetic metadata churn is not reported as an update.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xiy/brief-engine/internal/fingerprint"
	"github.com/xiy/brief-engine/pkg/types"
)

// Field is one tracked attribute and the raw keys it may appear under.
type Field struct {
	Name    string
	Aliases []string
}

// Policy lists the material fields of one record family.
type Policy []Field

// DefaultPolicies are the material fields per record family. Social posts
// have none: their text is their content, so edits surface as hash changes.
var DefaultPolicies = map[fingerprint.Family]Policy{
	fingerprint.FamilyCalendar: {
		{Name: "start", Aliases: []string{"start", "start_time", "starts_at"}},
		{Name: "end", Aliases: []string{"end", "end_time", "ends_at"}},
		{Name: "attendees", Aliases: []string{"attendees", "participants"}},
		{Name: "location", Aliases: []string{"location", "where"}},
		{Name: "status", Aliases: []string{"status"}},
	},
	fingerprint.FamilyTask: {
		{Name: "due", Aliases: []string{"due", "due_date", "due_at"}},
		{Name: "status", Aliases: []string{"status", "state"}},
		{Name: "assignee", Aliases: []string{"assignee", "owner"}},
	},
	fingerprint.FamilyEmail: {
		{Name: "subject", Aliases: []string{"subject"}},
		{Name: "from", Aliases: []string{"from", "sender"}},
	},
	fingerprint.FamilyPaper: {
		{Name: "title", Aliases: []string{"title"}},
		{Name: "version", Aliases: []string{"version"}},
	},
}

// EntityUpdate describes the material difference between two snapshots.
type EntityUpdate struct {
	Changed       bool
	ChangedFields []string
	Summary       string
}

// Tracker snapshots and compares material fields.
type Tracker struct {
	policies map[fingerprint.Family]Policy
}

// NewTracker returns a Tracker using DefaultPolicies.
func NewTracker() *Tracker {
	return &Tracker{policies: DefaultPolicies}
}

// Tracks reports whether the record family has a policy.
func (t *Tracker) Tracks(source, itemType string) bool {
	_, ok := t.policies[fingerprint.FamilyOf(source, itemType)]
	return ok
}

// Snapshot extracts the tracked fields of raw. Lists are normalized to a
// sorted lower-cased form so attendee order does not matter. Families
// without a policy snapshot to nil.
func (t *Tracker) Snapshot(source, itemType string, raw types.RawRecord) map[string]string {
	policy, ok := t.policies[fingerprint.FamilyOf(source, itemType)]
	if !ok {
		return nil
	}
	snap := make(map[string]string, len(policy))
	for _, f := range policy {
		for _, key := range f.Aliases {
			if v := fingerprint.NormalizeValue(raw[key]); v != "" {
				snap[f.Name] = v
				break
			}
		}
	}
	return snap
}

// DetectUpdate compares two snapshots. A field that only appears in the new
// snapshot counts as changed only when the old snapshot is non-empty, so the
// first snapshot taken of an item never reports a change.
func (t *Tracker) DetectUpdate(old, current map[string]string) EntityUpdate {
	if len(old) == 0 {
		return EntityUpdate{}
	}
	keys := make(map[string]struct{}, len(old)+len(current))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range current {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var (
		changed []string
		parts   []string
	)
	for _, name := range names {
		before, after := old[name], current[name]
		if before == after {
			continue
		}
		changed = append(changed, name)
		parts = append(parts, describe(name, before, after))
	}
	if len(changed) == 0 {
		return EntityUpdate{}
	}
	return EntityUpdate{
		Changed:       true,
		ChangedFields: changed,
		Summary:       strings.Join(parts, "; "),
	}
}

func describe(name, before, after string) string {
	switch {
	case before == "":
		return fmt.Sprintf("%s set to %q", name, after)
	case after == "":
		return fmt.Sprintf("%s removed", name)
	case name == "attendees":
		added, removed := listDiff(before, after)
		return fmt.Sprintf("attendees changed (+%d/-%d)", added, removed)
	default:
		return fmt.Sprintf("%s changed from %q to %q", name, before, after)
	}
}

func listDiff(before, after string) (added, removed int) {
	b := map[string]bool{}
	for _, s := range strings.Split(before, ",") {
		b[s] = true
	}
	a := map[string]bool{}
	for _, s := range strings.Split(after, ",") {
		a[s] = true
		if !b[s] {
			added++
		}
	}
	for s := range b {
		if !a[s] {
			removed++
		}
	}
	return added, removed
}
