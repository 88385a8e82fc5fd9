// Package task defines the logical Task shared by the Doc-store client, the
// iCal codec, and the reconciliation engine, along with the canonical status
// table and content hash that both sides of a sync must agree on.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Canonical status values (§3).
const (
	StatusTodo       = "Todo"
	StatusInProgress = "In progress"
	StatusCompleted  = "Completed"
	StatusOverdue    = "Overdue"
	StatusCancelled  = "Cancelled"
)

// CanonicalVariants lists, per canonical status, every input spelling that
// normalizes to it. Lifted verbatim from original_source/src/app/constants.py.
var CanonicalVariants = map[string][]string{
	StatusTodo:       {"Todo", "To Do", "Not started"},
	StatusInProgress: {"In progress", "Pinned"},
	StatusCompleted:  {"Completed", "Done"},
	StatusOverdue:    {"Overdue"},
	StatusCancelled:  {"Cancelled", "Discarded"},
}

// Emoji maps each canonical status to the prefix glyph used in VEVENT
// SUMMARY lines. Lifted verbatim from original_source/src/app/constants.py.
var Emoji = map[string]string{
	StatusTodo:       "○ ",
	StatusInProgress: "⊖ ",
	StatusCompleted:  "✓⃝ ",
	StatusOverdue:    "⊜ ",
	StatusCancelled:  "⊗ ",
}

// variantIndex is the reverse lookup built once from CanonicalVariants,
// keyed by lowercased variant text.
var variantIndex = func() map[string]string {
	idx := make(map[string]string)
	for canonical, variants := range CanonicalVariants {
		for _, v := range variants {
			idx[strings.ToLower(v)] = canonical
		}
	}
	return idx
}()

// emojiIndex is the reverse lookup from emoji glyph to canonical status.
var emojiIndex = func() map[string]string {
	idx := make(map[string]string)
	for canonical, emoji := range Emoji {
		idx[strings.TrimSpace(emoji)] = canonical
	}
	return idx
}()

// NormalizeStatus maps a raw status string (from either side) to its
// canonical form, defaulting to Todo when the input is unrecognized.
func NormalizeStatus(raw string) string {
	if canonical, ok := variantIndex[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return canonical
	}
	return StatusTodo
}

// StatusFromEmoji recovers a canonical status from the leading glyph of a
// SUMMARY line, if any glyph matches.
func StatusFromEmoji(summary string) (status string, ok bool) {
	trimmed := strings.TrimLeft(summary, " ")
	for glyph, canonical := range emojiIndex {
		if strings.HasPrefix(trimmed, glyph) {
			return canonical, true
		}
	}
	return "", false
}

// Well-known Doc-store property names, in resolution order (§3).
const (
	TitleProperty       = "Title"
	StatusProperty      = "Status"
	ReminderProperty    = "Reminder"
	CategoryProperty    = "Category"
	DescriptionProperty = "Description"
)

// DateProperty candidates, tried in order when resolving the due-date field.
var DateProperty = []string{"Due date", "Due", "Date", "Deadline"}

// Engine-wide defaults (§3).
const (
	DefaultCalendarName      = "Notion"
	DefaultCalendarColor     = "#FF7F00"
	DefaultFullSyncMinutes   = 30
	NotionDataSourcePageSize = 200
)

// Task is the logical record both the Doc-store client and the iCal codec
// produce and consume. StartDate/EndDate/Reminder carry either a date-only
// "YYYY-MM-DD" string or an RFC3339 timestamp with offset; IsAllDay reports
// which.
type Task struct {
	NotionID       string
	DatabaseID     string
	Title          string
	Status         string // canonical
	StartDate      string
	EndDate        string
	IsAllDay       bool
	Reminder       string
	Category       string
	Description    string
	Color          string
	URL            string
	LastEditedTime string // RFC3339, UTC
}

// CanonicalHash computes the content hash both sides must agree on after a
// successful reconciliation (I3, I4). It depends only on
// {title, normalized_status, start_date, end_date, category, description} —
// reminder is deliberately excluded, since it is not always round-trippable
// through the CalDAV VALARM window.
func CanonicalHash(t Task) string {
	h := sha256.New()
	parts := []string{
		t.Title,
		NormalizeStatus(t.Status),
		t.StartDate,
		t.EndDate,
		t.Category,
		t.Description,
	}
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildUID returns the CalDAV UID this engine mints for a Doc-store page
// (I2): "notion-<notion_id>@sync".
func BuildUID(notionID string) string {
	return "notion-" + notionID + "@sync"
}

// ParseUID reverses BuildUID, returning ok=false if uid was not minted by
// this engine.
func ParseUID(uid string) (notionID string, ok bool) {
	const prefix, suffix = "notion-", "@sync"
	if !strings.HasPrefix(uid, prefix) || !strings.HasSuffix(uid, suffix) {
		return "", false
	}
	return uid[len(prefix) : len(uid)-len(suffix)], true
}

// EventURL returns the CalDAV resource URL this engine mints for a page
// (I5): "<calendar_href>/<notion_page_id>.ics".
func EventURL(calendarHref, notionID string) string {
	return strings.TrimRight(calendarHref, "/") + "/" + notionID + ".ics"
}
