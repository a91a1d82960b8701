package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiy/brief-engine/pkg/types"
)

func meeting(start string, attendees ...any) types.RawRecord {
	return types.RawRecord{
		"event_id":    "evt-1",
		"title":       "Roadmap sync",
		"start":       start,
		"attendees":   attendees,
		"location":    "Room 4",
		"updated":     "2026-10-18T10:00:00Z",
		"color_id":    "7",
		"description": "agenda in doc",
	}
}

func TestSnapshot_OnlyTrackedFields(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	snap := tr.Snapshot("gcal", "meeting", meeting("2026-10-20T09:00:00Z", "Bob@x.io", "alice@x.io"))

	assert.Equal(t, "2026-10-20T09:00:00Z", snap["start"])
	assert.Equal(t, "alice@x.io,bob@x.io", snap["attendees"])
	assert.Equal(t, "Room 4", snap["location"])
	assert.NotContains(t, snap, "color_id")
	assert.NotContains(t, snap, "description")
}

func TestSnapshot_UntrackedFamilyIsNil(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	assert.Nil(t, tr.Snapshot("rss", "article", types.RawRecord{"id": "1", "title": "x"}))
	assert.False(t, tr.Tracks("rss", "article"))
	assert.True(t, tr.Tracks("todoist", "task"))
}

func TestDetectUpdate_MeetingMoved(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	old := tr.Snapshot("gcal", "meeting", meeting("2026-10-20T09:00:00Z", "alice@x.io"))
	cur := tr.Snapshot("gcal", "meeting", meeting("2026-10-20T10:00:00Z", "alice@x.io", "carol@x.io"))

	upd := tr.DetectUpdate(old, cur)
	require.True(t, upd.Changed)
	assert.Equal(t, []string{"attendees", "start"}, upd.ChangedFields)
	assert.Contains(t, upd.Summary, "attendees changed (+1/-0)")
	assert.Contains(t, upd.Summary, "start changed")
}

func TestDetectUpdate_CosmeticChurnIgnored(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	a := meeting("2026-10-20T09:00:00Z", "alice@x.io", "bob@x.io")
	b := meeting("2026-10-20T09:00:00Z", "bob@x.io", "ALICE@x.io")
	b["color_id"] = "3"
	b["updated"] = "2026-10-19T00:00:00Z"

	upd := tr.DetectUpdate(tr.Snapshot("gcal", "meeting", a), tr.Snapshot("gcal", "meeting", b))
	assert.False(t, upd.Changed)
	assert.Empty(t, upd.ChangedFields)
}

func TestDetectUpdate_EmptyBaselineNeverChanges(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	upd := tr.DetectUpdate(nil, map[string]string{"due": "2026-10-21"})
	assert.False(t, upd.Changed)

	upd = tr.DetectUpdate(map[string]string{"status": "open"}, map[string]string{"status": "open", "due": "2026-10-21"})
	require.True(t, upd.Changed)
	assert.Equal(t, []string{"due"}, upd.ChangedFields)
	assert.Contains(t, upd.Summary, `due set to "2026-10-21"`)
}

func TestDetectUpdate_TaskStatusAndAliases(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	old := tr.Snapshot("todoist", "task", types.RawRecord{"task_id": "t1", "due_date": "2026-10-21", "status": "open"})
	cur := tr.Snapshot("todoist", "task", types.RawRecord{"task_id": "t1", "due_date": "2026-10-21", "state": "done"})
	assert.Equal(t, "2026-10-21", old["due"])

	upd := tr.DetectUpdate(old, cur)
	require.True(t, upd.Changed)
	assert.Equal(t, []string{"status"}, upd.ChangedFields)
	assert.Equal(t, `status changed from "open" to "done"`, upd.Summary)
}
