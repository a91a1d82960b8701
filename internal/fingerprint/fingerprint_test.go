package fingerprint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiy/brief-engine/pkg/types"
)

func emailRecord() types.RawRecord {
	return types.RawRecord{
		"message_id": "<abc123@mail.example.com>",
		"subject":    "Q3 budget approval",
		"body":       "Please approve the Q3 budget by Friday.",
		"from":       "cfo@example.com",
		"to":         []any{"me@example.com"},
		"fetched_at": "2026-10-19T06:00:00Z",
		"labels":     []any{"INBOX", "UNREAD"},
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()
	a, err := Generate("gmail", "email", emailRecord())
	require.NoError(t, err)
	b, err := Generate("gmail", "email", emailRecord())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "fp_")
}

func TestGenerate_DiffersByIdentityField(t *testing.T) {
	t.Parallel()
	r1 := emailRecord()
	r2 := emailRecord()
	r2["message_id"] = "<other@mail.example.com>"

	a, err := Generate("gmail", "email", r1)
	require.NoError(t, err)
	b, err := Generate("gmail", "email", r2)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerate_IgnoresTimeFields(t *testing.T) {
	t.Parallel()
	r1 := emailRecord()
	r2 := emailRecord()
	r2["fetched_at"] = "2026-10-20T06:00:00Z"
	r2["received_at"] = "2026-10-20T05:59:00Z"

	a, _ := Generate("gmail", "email", r1)
	b, _ := Generate("gmail", "email", r2)
	assert.Equal(t, a, b)
}

func TestGenerate_DiffersBySource(t *testing.T) {
	t.Parallel()
	a, _ := Generate("gmail", "email", emailRecord())
	b, _ := Generate("outlook", "email", emailRecord())
	assert.NotEqual(t, a, b)
}

func TestGenerate_MissingIdentity(t *testing.T) {
	t.Parallel()
	_, err := Generate("gmail", "email", types.RawRecord{"subject": "no id"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingIdentity))
}

// Meaningful email fields: subject, body, from, to, cc.
func TestContentHash_MeaningfulFieldChanges(t *testing.T) {
	t.Parallel()
	r := emailRecord()
	changed := emailRecord()
	changed["subject"] = "Q3 budget approval (revised)"

	assert.Equal(t, ContentHash("gmail", "email", r), ContentHash("gmail", "email", emailRecord()))
	assert.NotEqual(t, ContentHash("gmail", "email", r), ContentHash("gmail", "email", changed))
}

// Volatile email fields: fetched_at, labels, read, snippet.
func TestContentHash_VolatileFieldIgnored(t *testing.T) {
	t.Parallel()
	r := emailRecord()
	volatile := emailRecord()
	volatile["fetched_at"] = "2026-10-21T06:00:00Z"
	volatile["labels"] = []any{"INBOX"}
	volatile["read"] = true
	volatile["snippet"] = "Please approve..."

	assert.Equal(t, ContentHash("gmail", "email", r), ContentHash("gmail", "email", volatile))
}

func TestContentHash_WhitespaceAndHTMLNormalized(t *testing.T) {
	t.Parallel()
	plain := emailRecord()
	html := emailRecord()
	html["body"] = "<html><body><p>Please approve   the Q3 budget</p> <p>by Friday.</p></body></html>"
	plain["body"] = "Please approve the Q3 budget by Friday."

	assert.Equal(t, ContentHash("gmail", "email", plain), ContentHash("gmail", "email", html))
}

func TestContentHash_AttendeeOrderInsensitive(t *testing.T) {
	t.Parallel()
	a := types.RawRecord{"event_id": "e1", "title": "Standup", "attendees": []any{"bob@x.io", "Alice@x.io"}}
	b := types.RawRecord{"event_id": "e1", "title": "Standup", "attendees": []any{"alice@x.io", "bob@x.io"}}
	assert.Equal(t, ContentHash("gcal", "meeting", a), ContentHash("gcal", "meeting", b))
}

func TestFamilyOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, FamilyCalendar, FamilyOf("gcal", ""))
	assert.Equal(t, FamilyEmail, FamilyOf("custom", "email"))
	assert.Equal(t, FamilyPaper, FamilyOf("arxiv", "unknown"))
	assert.Equal(t, FamilyDefault, FamilyOf("rss", "article"))
}
