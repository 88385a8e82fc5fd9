// Package ical encodes and decodes the single-VEVENT representation of a
// task, built on github.com/emersion/go-ical's typed property accessors
// rather than hand-built string concatenation (see SPEC_FULL.md §4.2).
package ical

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"notioncalsync/internal/task"
)

const (
	dateOnlyLayout     = "2006-01-02"
	dateOnlyICALLayout = "20060102"
)

// Emit renders t as a standalone VCALENDAR containing one VEVENT, per the
// Emit rules in §4.2.
func Emit(t task.Task, now time.Time) (string, error) {
	cal, err := BuildCalendar(t, now)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("ical: encode: %w", err)
	}
	return buf.String(), nil
}

// BuildCalendar renders t as a *ical.Calendar, for callers (the CalDAV
// transport) that need the typed object rather than its serialized text.
func BuildCalendar(t task.Task, now time.Time) (*ical.Calendar, error) {
	event := &ical.Component{Name: ical.CompEvent, Props: ical.Props{}}
	event.Props.SetText(ical.PropUID, task.BuildUID(t.NotionID))

	summary := task.Emoji[task.NormalizeStatus(t.Status)] + stripStatusPrefix(t.Title)
	event.Props.SetText(ical.PropSummary, summary)

	if err := setDateRange(event, t); err != nil {
		return nil, err
	}

	description := t.Description
	if description == "" && t.Category != "" {
		description = "Category: " + t.Category
	}
	if description != "" {
		event.Props.SetText(ical.PropDescription, description)
	}

	url := t.URL
	if url == "" && t.NotionID != "" {
		url = "https://doc-store.invalid/" + t.NotionID
	}
	if url != "" {
		event.Props.SetText(ical.PropURL, url)
	}

	if t.Color != "" {
		event.Props.SetText("COLOR", t.Color)
	}
	if t.Category != "" {
		event.Props.SetText(ical.PropCategories, t.Category)
	}

	event.Props.SetDateTime(ical.PropLastModified, now.UTC())
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

	if alarm, ok := buildAlarm(t); ok {
		event.Children = append(event.Children, alarm)
	}

	cal := &ical.Calendar{
		Component: &ical.Component{
			Name:  ical.CompCalendar,
			Props: ical.Props{},
		},
	}
	cal.Props.SetText(ical.PropProductID, "-//notioncalsync//EN")
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, event)

	return cal, nil
}

// stripStatusPrefix removes a leading emoji and/or leading status word (from
// the canonical status table) that a prior round trip may have already
// prepended to the title.
func stripStatusPrefix(title string) string {
	rest := strings.TrimLeft(title, " ")

	if _, ok := task.StatusFromEmoji(rest); ok {
		for _, emoji := range task.Emoji {
			glyph := strings.TrimRight(emoji, " ")
			if strings.HasPrefix(rest, glyph) {
				rest = strings.TrimLeft(strings.TrimPrefix(rest, glyph), " ")
				break
			}
		}
	}

	for _, variants := range task.CanonicalVariants {
		for _, variant := range variants {
			if strings.HasPrefix(rest, variant+" ") {
				return strings.TrimLeft(strings.TrimPrefix(rest, variant+" "), " ")
			}
		}
	}
	return rest
}

func isDateOnly(v string) bool {
	return v != "" && !strings.Contains(v, "T")
}

func setDateRange(event *ical.Component, t task.Task) error {
	if t.StartDate == "" {
		return nil
	}

	if isDateOnly(t.StartDate) {
		start, err := time.Parse(dateOnlyLayout, t.StartDate)
		if err != nil {
			return fmt.Errorf("ical: parse start_date %q: %w", t.StartDate, err)
		}
		end := start.AddDate(0, 0, 1)
		if t.EndDate != "" && isDateOnly(t.EndDate) {
			e, err := time.Parse(dateOnlyLayout, t.EndDate)
			if err != nil {
				return fmt.Errorf("ical: parse end_date %q: %w", t.EndDate, err)
			}
			end = e.AddDate(0, 0, 1)
		}
		startProp := ical.NewProp(ical.PropDateTimeStart)
		startProp.Params.Set("VALUE", "DATE")
		startProp.Value = start.Format(dateOnlyICALLayout)
		event.Props.Add(startProp)

		endProp := ical.NewProp(ical.PropDateTimeEnd)
		endProp.Params.Set("VALUE", "DATE")
		endProp.Value = end.Format(dateOnlyICALLayout)
		event.Props.Add(endProp)
		return nil
	}

	start, err := time.Parse(time.RFC3339, t.StartDate)
	if err != nil {
		return fmt.Errorf("ical: parse start_date %q: %w", t.StartDate, err)
	}
	end := start
	if t.EndDate != "" {
		end, err = time.Parse(time.RFC3339, t.EndDate)
		if err != nil {
			return fmt.Errorf("ical: parse end_date %q: %w", t.EndDate, err)
		}
	}
	event.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	return nil
}

// buildAlarm returns a VALARM for t's reminder, when start is a timestamp
// and the reminder precedes it by at least one minute; the trigger uses the
// gap's whole minutes and drops any remaining seconds.
func buildAlarm(t task.Task) (*ical.Component, bool) {
	if t.Reminder == "" || isDateOnly(t.StartDate) {
		return nil, false
	}
	start, err := time.Parse(time.RFC3339, t.StartDate)
	if err != nil {
		return nil, false
	}
	reminder, err := time.Parse(time.RFC3339, t.Reminder)
	if err != nil {
		return nil, false
	}
	delta := start.Sub(reminder)
	if delta <= 0 {
		return nil, false
	}
	minutes := int(delta.Minutes())
	if minutes <= 0 {
		return nil, false
	}

	alarm := &ical.Component{Name: ical.CompAlarm, Props: ical.Props{}}
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	alarm.Props.SetText(ical.PropDescription, "Reminder")
	alarm.Props.SetText(ical.PropTrigger, fmt.Sprintf("-PT%dM", minutes))
	return alarm, true
}

// Parse decodes a single-VEVENT iCalendar text back into task fields, per
// the Parse rules in §4.2.
func Parse(data string) (task.Task, error) {
	cal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		return task.Task{}, fmt.Errorf("ical: decode: %w", err)
	}
	return ParseCalendar(cal)
}

// ParseCalendar decodes an already-parsed *ical.Calendar, for callers (the
// CalDAV transport) that receive one directly rather than raw text.
func ParseCalendar(cal *ical.Calendar) (task.Task, error) {
	var event *ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			event = child
			break
		}
	}
	if event == nil {
		return task.Task{}, fmt.Errorf("ical: no VEVENT component found")
	}

	var t task.Task

	if uidProp := event.Props.Get(ical.PropUID); uidProp != nil {
		if notionID, ok := task.ParseUID(uidProp.Value); ok {
			t.NotionID = notionID
		}
	}

	summary := event.Props.Get(ical.PropSummary)
	title := ""
	if summary != nil {
		title = summary.Value
	}
	if status, ok := task.StatusFromEmoji(title); ok {
		t.Status = status
		t.Title = strings.TrimLeft(stripStatusPrefix(title), " ")
	} else {
		t.Title = title
	}

	if desc := event.Props.Get(ical.PropDescription); desc != nil {
		t.Description = desc.Value
		if t.Status == "" {
			if status, ok := parseStatusHeader(desc.Value); ok {
				t.Status = status
			}
		}
	}
	if t.Status == "" {
		t.Status = task.StatusTodo
	}

	if start := event.Props.Get(ical.PropDateTimeStart); start != nil {
		sv, allDay, err := parseDateProp(start)
		if err == nil {
			t.StartDate = sv
			t.IsAllDay = allDay
		}
	}
	if end := event.Props.Get(ical.PropDateTimeEnd); end != nil {
		ev, allDay, err := parseDateProp(end)
		if err == nil {
			if allDay {
				if d, perr := time.Parse(dateOnlyLayout, ev); perr == nil {
					ev = d.AddDate(0, 0, -1).Format(dateOnlyLayout)
				}
			}
			t.EndDate = ev
		}
	}

	if lm := event.Props.Get(ical.PropLastModified); lm != nil {
		if v, err := lm.DateTime(time.UTC); err == nil {
			t.LastEditedTime = v.UTC().Format(time.RFC3339)
		}
	}

	if cats := event.Props.Get(ical.PropCategories); cats != nil {
		t.Category = cats.Value
	}
	if color := event.Props.Get("COLOR"); color != nil {
		t.Color = color.Value
	}
	if url := event.Props.Get(ical.PropURL); url != nil {
		t.URL = url.Value
	}

	for _, child := range event.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		trigger := child.Props.Get(ical.PropTrigger)
		if trigger == nil || t.StartDate == "" || t.IsAllDay {
			continue
		}
		var minutes int
		if _, err := fmt.Sscanf(trigger.Value, "-PT%dM", &minutes); err == nil {
			if start, err := time.Parse(time.RFC3339, t.StartDate); err == nil {
				t.Reminder = start.Add(-time.Duration(minutes) * time.Minute).Format(time.RFC3339)
			}
		}
	}

	return t, nil
}

func parseDateProp(p *ical.Prop) (value string, allDay bool, err error) {
	if p.Params.Get("VALUE") == "DATE" {
		d, err := time.ParseInLocation(dateOnlyICALLayout, p.Value, time.UTC)
		if err != nil {
			return "", false, err
		}
		return d.Format(dateOnlyLayout), true, nil
	}
	d, err := p.DateTime(time.UTC)
	if err != nil {
		return "", false, err
	}
	return d.UTC().Format(time.RFC3339), false, nil
}

func parseStatusHeader(description string) (string, bool) {
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Status:"); ok {
			return task.NormalizeStatus(strings.TrimSpace(rest)), true
		}
	}
	return "", false
}
