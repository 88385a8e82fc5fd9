package docstore

import (
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"notioncalsync/internal/task"
)

// ParsePage decodes a Notion page's typed properties into a task.Task,
// following the same tagged-property walk as original_source's
// parse_page_to_task: title falls back to the first title-typed property
// found anywhere in the schema, status is read from whichever well-known
// name carries a status/select value, dates/category/description follow
// similarly. ok is false when the page lacks the minimum task shape (no
// title property at all) — the caller skips it as a schema error (§7), not
// a hard failure.
func ParsePage(page notionapi.Page, dsID string) (t task.Task, ok bool) {
	props := page.Properties

	title, foundTitle := "", false
	if p, exists := props[task.TitleProperty]; exists {
		if tp, isTitle := p.(*notionapi.TitleProperty); isTitle {
			title = plainTitle(tp.Title)
			foundTitle = true
		}
	}
	if !foundTitle {
		for _, p := range props {
			if tp, isTitle := p.(*notionapi.TitleProperty); isTitle {
				title = plainTitle(tp.Title)
				foundTitle = true
				break
			}
		}
	}
	if !foundTitle {
		return task.Task{}, false
	}
	if title == "" {
		title = page.ID.String()
	}

	status := ""
	for _, name := range []string{task.StatusProperty} {
		if p, exists := props[name]; exists {
			switch sp := p.(type) {
			case *notionapi.StatusProperty:
				status = sp.Status.Name
			case *notionapi.SelectProperty:
				status = sp.Select.Name
			}
		}
		if status != "" {
			break
		}
	}

	var start, end string
	for _, name := range task.DateProperty {
		if p, exists := props[name]; exists {
			if dp, isDate := p.(*notionapi.DateProperty); isDate && dp.Date != nil {
				start = dateValue(dp.Date.Start)
				end = dateValue(dp.Date.End)
				break
			}
		}
	}

	reminder := ""
	if p, exists := props[task.ReminderProperty]; exists {
		if dp, isDate := p.(*notionapi.DateProperty); isDate && dp.Date != nil {
			reminder = dateValue(dp.Date.Start)
		}
	}

	category := ""
	if p, exists := props[task.CategoryProperty]; exists {
		if sp, isSelect := p.(*notionapi.SelectProperty); isSelect {
			category = sp.Select.Name
		}
	}

	description := ""
	if p, exists := props[task.DescriptionProperty]; exists {
		if rp, isRich := p.(*notionapi.RichTextProperty); isRich {
			description = plainTitle(rp.RichText)
		}
	}

	lastEdited := page.LastEditedTime

	return task.Task{
		NotionID:       page.ID.String(),
		DatabaseID:     dsID,
		Title:          title,
		Status:         task.NormalizeStatus(status),
		StartDate:      start,
		EndDate:        end,
		IsAllDay:       start != "" && !strings.Contains(start, "T"),
		Reminder:       reminder,
		Category:       category,
		Description:    description,
		URL:            page.URL,
		LastEditedTime: lastEdited.UTC().Format(timeRFC3339),
	}, true
}

const (
	timeRFC3339    = "2006-01-02T15:04:05Z07:00"
	dateOnlyLayout = "2006-01-02"
)

// dateValue renders a Notion date value back to the engine's wire form: a
// bare "YYYY-MM-DD" when the instant falls exactly on a UTC midnight
// (Notion's own encoding of a date-only value), an RFC3339 timestamp
// otherwise.
func dateValue(d *notionapi.Date) string {
	if d == nil {
		return ""
	}
	t := time.Time(*d).UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(dateOnlyLayout)
	}
	return t.Format(timeRFC3339)
}

// parseFlexibleDate parses either wire form back into a time.Time suitable
// for wrapping as a notionapi.Date.
func parseFlexibleDate(v string) (time.Time, error) {
	if !strings.Contains(v, "T") {
		return time.ParseInLocation(dateOnlyLayout, v, time.UTC)
	}
	return time.Parse(time.RFC3339, v)
}

// Resolver is the output of resolving logical property names against a
// target schema (§4.4 "Property resolution"): which actual property name
// backs each logical field, and which status option names are available for
// case-insensitive matching.
type Resolver struct {
	Names         map[string]string
	StatusOptions []string
}

// ResolveNames inspects a data source's property schema and picks concrete
// property names by type, preferring the well-known defaults when they
// exist with a compatible type.
func ResolveNames(props notionapi.PropertyConfigs) Resolver {
	r := Resolver{Names: map[string]string{}}

	if cfg, ok := props[task.TitleProperty]; ok && cfg.GetType() == notionapi.PropertyConfigTypeTitle {
		r.Names["title"] = task.TitleProperty
	} else {
		for name, cfg := range props {
			if cfg.GetType() == notionapi.PropertyConfigTypeTitle {
				r.Names["title"] = name
				break
			}
		}
	}

	if cfg, ok := props[task.StatusProperty]; ok && isStatusLike(cfg) {
		r.Names["status"] = task.StatusProperty
		r.StatusOptions = optionNames(cfg)
	} else {
		for name, cfg := range props {
			if isStatusLike(cfg) {
				r.Names["status"] = name
				r.StatusOptions = optionNames(cfg)
				break
			}
		}
	}

	for _, candidate := range task.DateProperty {
		if cfg, ok := props[candidate]; ok && cfg.GetType() == notionapi.PropertyConfigTypeDate {
			r.Names["date"] = candidate
			break
		}
	}

	if cfg, ok := props[task.ReminderProperty]; ok && cfg.GetType() == notionapi.PropertyConfigTypeDate {
		r.Names["reminder"] = task.ReminderProperty
	}
	if cfg, ok := props[task.CategoryProperty]; ok && cfg.GetType() == notionapi.PropertyConfigTypeSelect {
		r.Names["category"] = task.CategoryProperty
	}
	if cfg, ok := props[task.DescriptionProperty]; ok && cfg.GetType() == notionapi.PropertyConfigTypeRichText {
		r.Names["description"] = task.DescriptionProperty
	}

	return r
}

func isStatusLike(cfg notionapi.PropertyConfig) bool {
	t := cfg.GetType()
	return t == notionapi.PropertyConfigTypeStatus || t == notionapi.PropertyConfigTypeSelect
}

func optionNames(cfg notionapi.PropertyConfig) []string {
	var names []string
	switch c := cfg.(type) {
	case *notionapi.StatusPropertyConfig:
		for _, o := range c.Status.Options {
			names = append(names, o.Name)
		}
	case *notionapi.SelectPropertyConfig:
		for _, o := range c.Select.Options {
			names = append(names, o.Name)
		}
	}
	return names
}

// MatchStatusOption maps a canonical status to a schema's option list by
// case-insensitive exact match only (§4.4); ok is false when no option
// matches, in which case the caller drops the status write rather than
// sending an invalid value.
func MatchStatusOption(options []string, canonical string) (string, bool) {
	for _, opt := range options {
		if strings.EqualFold(opt, canonical) {
			return opt, true
		}
	}
	return "", false
}

// BuildProperties constructs the Notion property payload for t. When
// resolver is nil, well-known names are used unresolved (the default
// schema this engine creates pages against). Date-only writes collapse
// end==start to {start, end: nil} per §4.4.
func BuildProperties(t task.Task, resolver *Resolver) notionapi.Properties {
	names := map[string]string{
		"title":       task.TitleProperty,
		"status":      task.StatusProperty,
		"date":        task.DateProperty[0],
		"reminder":    task.ReminderProperty,
		"category":    task.CategoryProperty,
		"description": task.DescriptionProperty,
	}
	var statusOptions []string
	if resolver != nil {
		for k, v := range resolver.Names {
			names[k] = v
		}
		statusOptions = resolver.StatusOptions
	}

	props := notionapi.Properties{}

	props[names["title"]] = notionapi.TitleProperty{
		Title: []notionapi.RichText{{Text: &notionapi.Text{Content: t.Title}}},
	}

	if t.Status != "" {
		if resolver == nil || len(statusOptions) == 0 {
			props[names["status"]] = notionapi.SelectProperty{Select: notionapi.Option{Name: t.Status}}
		} else if matched, ok := MatchStatusOption(statusOptions, t.Status); ok {
			props[names["status"]] = notionapi.SelectProperty{Select: notionapi.Option{Name: matched}}
		}
		// else: no matching option, status write dropped (§4.4).
	}

	if t.StartDate != "" {
		start := t.StartDate
		end := t.EndDate
		if end == start {
			end = ""
		}
		dateObj := &notionapi.DateObject{}
		if sd, err := parseFlexibleDate(start); err == nil {
			d := notionapi.Date(sd)
			dateObj.Start = &d
		}
		if end != "" {
			if ed, err := parseFlexibleDate(end); err == nil {
				d := notionapi.Date(ed)
				dateObj.End = &d
			}
		}
		props[names["date"]] = notionapi.DateProperty{Date: dateObj}
	}

	if t.Reminder != "" {
		if rd, err := parseFlexibleDate(t.Reminder); err == nil {
			d := notionapi.Date(rd)
			props[names["reminder"]] = notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
		}
	}

	if t.Category != "" {
		props[names["category"]] = notionapi.SelectProperty{Select: notionapi.Option{Name: t.Category}}
	}

	if t.Description != "" {
		props[names["description"]] = notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: t.Description}}},
		}
	}

	return props
}
