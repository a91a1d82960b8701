// Package fingerprint derives stable identity keys and content digests from
// raw connector records.
package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/zeebo/blake3"

	"github.com/xiy/brief-engine/pkg/types"
)

// ErrMissingIdentity is returned when a record has none of its family's id fields.
var ErrMissingIdentity = errors.New("record has no identity field")

// Family groups sources that share record shapes.
type Family string

const (
	FamilyEmail    Family = "email"
	FamilyCalendar Family = "calendar"
	FamilySocial   Family = "social"
	FamilyPaper    Family = "paper"
	FamilyTask     Family = "task"
	FamilyDefault  Family = "default"
)

var idFields = map[Family][]string{
	FamilyEmail:    {"message_id", "id"},
	FamilyCalendar: {"event_id", "ical_uid", "id"},
	FamilySocial:   {"post_id", "uri", "id", "url"},
	FamilyPaper:    {"doi", "arxiv_id", "id", "url"},
	FamilyTask:     {"task_id", "id"},
	FamilyDefault:  {"id", "external_id", "url"},
}

// Fields hashed into the content digest, in hashing order. Anything else
// (fetched_at, labels, read flags, etags, snippets) is presentation churn.
var meaningfulFields = map[Family][]string{
	FamilyEmail:    {"subject", "body", "from", "to", "cc"},
	FamilyCalendar: {"title", "start", "end", "location", "attendees", "status", "description"},
	FamilySocial:   {"text", "author"},
	FamilyPaper:    {"title", "abstract", "authors"},
	FamilyTask:     {"title", "due", "status", "description"},
	FamilyDefault:  {"title", "summary", "body", "text", "status"},
}

// FamilyOf maps a source/type pair onto a record family.
func FamilyOf(source, itemType string) Family {
	switch strings.ToLower(strings.TrimSpace(itemType)) {
	case "email", "message", "mail":
		return FamilyEmail
	case "meeting", "event", "calendar":
		return FamilyCalendar
	case "post", "tweet", "social":
		return FamilySocial
	case "paper", "preprint":
		return FamilyPaper
	case "task", "todo":
		return FamilyTask
	}
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "gmail", "outlook", "email":
		return FamilyEmail
	case "gcal", "calendar":
		return FamilyCalendar
	case "twitter", "x", "bluesky", "mastodon", "reddit":
		return FamilySocial
	case "arxiv", "papers", "semantic_scholar":
		return FamilyPaper
	case "todoist", "tasks":
		return FamilyTask
	}
	return FamilyDefault
}

// IdentityFields returns the id keys looked up for a family, in priority order.
func IdentityFields(f Family) []string {
	return append([]string(nil), idFields[f]...)
}

// MeaningfulFields returns the keys that make up the content hash of a family.
func MeaningfulFields(f Family) []string {
	return append([]string(nil), meaningfulFields[f]...)
}

// Generate returns the stable identity key of a record. Time fields never
// contribute, so re-fetching the same logical item yields the same key.
func Generate(source, itemType string, raw types.RawRecord) (string, error) {
	fam := FamilyOf(source, itemType)
	id := ""
	for _, key := range idFields[fam] {
		if v := scalarString(raw[key]); v != "" {
			id = v
			break
		}
	}
	if id == "" {
		return "", fmt.Errorf("%w (source=%s type=%s, tried %s)", ErrMissingIdentity, source, itemType, strings.Join(idFields[fam], ","))
	}

	h := blake3.New()
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(source))))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(itemType))))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id))
	return "fp_" + hex.EncodeToString(h.Sum(nil)), nil
}

// ContentHash digests the meaningful mutable fields of a record.
func ContentHash(source, itemType string, raw types.RawRecord) string {
	fam := FamilyOf(source, itemType)
	var sb strings.Builder
	for _, key := range meaningfulFields[fam] {
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(NormalizeValue(raw[key]))
		sb.WriteByte('\n')
	}
	sum := blake3.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// NormalizeValue renders a raw value into a canonical comparable string.
// Lists are order-insensitive; HTML is reduced to its text.
func NormalizeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := NormalizeValue(item); s != "" {
				parts = append(parts, strings.ToLower(s))
			}
		}
		sort.Strings(parts)
		return strings.Join(parts, ",")
	case []string:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := collapse(item); s != "" {
				parts = append(parts, strings.ToLower(s))
			}
		}
		sort.Strings(parts)
		return strings.Join(parts, ",")
	case map[string]any:
		// Attendee-like objects: prefer the email, then the name.
		for _, k := range []string{"email", "address", "name", "id"} {
			if s := scalarString(x[k]); s != "" {
				return s
			}
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+":"+NormalizeValue(x[k]))
		}
		return strings.Join(parts, ";")
	case string:
		if looksLikeHTML(x) {
			return collapse(htmlText(x))
		}
		return collapse(x)
	default:
		return scalarString(x)
	}
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func looksLikeHTML(s string) bool {
	i := strings.IndexByte(s, '<')
	return i >= 0 && strings.IndexByte(s[i:], '>') > 0 && strings.Contains(s, "</")
}

func htmlText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}
