// Package overdue derives a task's effective status (folding in the
// "Overdue" state the Doc-store and CalDAV sides never store explicitly)
// and resolves the timezone a date-only due date is judged against.
package overdue

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"notioncalsync/internal/task"
)

var finalStatuses = map[string]bool{
	task.StatusCompleted: true,
	task.StatusCancelled: true,
}

// Effective returns t's status with Overdue substituted in when due and not
// already in a terminal state, per §4.8. now is injected for testability.
func Effective(t task.Task, now time.Time, dateOnlyTZ *time.Location) string {
	normalized := task.NormalizeStatus(t.Status)
	if finalStatuses[normalized] {
		return normalized
	}
	if IsOverdue(t, now, dateOnlyTZ) {
		return task.StatusOverdue
	}
	return normalized
}

// IsOverdue reports whether t's due date (end_date, falling back to
// start_date) has passed, treating a date-only due date as due at the end
// of that day in dateOnlyTZ.
func IsOverdue(t task.Task, now time.Time, dateOnlyTZ *time.Location) bool {
	if t.StartDate == "" && t.EndDate == "" {
		return false
	}
	if finalStatuses[task.NormalizeStatus(t.Status)] {
		return false
	}

	due := t.EndDate
	if due == "" {
		due = t.StartDate
	}
	if due == "" {
		return false
	}

	dueTime, ok := parseDue(due, dateOnlyTZ)
	if !ok {
		return false
	}
	return dueTime.Before(now.UTC())
}

func parseDue(value string, dateOnlyTZ *time.Location) (time.Time, bool) {
	if !strings.Contains(value, "T") {
		if dateOnlyTZ == nil {
			dateOnlyTZ = time.UTC
		}
		d, err := time.ParseInLocation("2006-01-02", value, dateOnlyTZ)
		if err != nil {
			return time.Time{}, false
		}
		endOfDay := d.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
		return endOfDay.UTC(), true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// ResolveTimezone loads a named timezone, falling back from an IANA name to
// a fixed GMT/UTC±HH:MM offset parse, and finally to UTC. Grounded on the
// calbridgesync CalDAV client's normalizeStartTime/parseGMTOffset fallback
// chain for TZID values that aren't valid IANA names.
func ResolveTimezone(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if loc := parseFixedOffset(name); loc != nil {
		return loc
	}
	return time.UTC
}

// parseFixedOffset parses "GMT±HHMM", "UTC±HH:MM", "Etc/GMT±H" style names
// into a fixed-offset *time.Location, returning nil if name doesn't match.
func parseFixedOffset(name string) *time.Location {
	offset := name
	for _, prefix := range []string{"GMT", "UTC", "Etc/GMT"} {
		if strings.HasPrefix(offset, prefix) {
			offset = strings.TrimPrefix(offset, prefix)
			break
		}
	}
	if offset == "" {
		return time.UTC
	}

	sign := 1
	switch {
	case strings.HasPrefix(offset, "-"):
		sign = -1
		offset = offset[1:]
	case strings.HasPrefix(offset, "+"):
		offset = offset[1:]
	default:
		return nil
	}

	offset = strings.ReplaceAll(offset, ":", "")
	var hours, minutes int
	switch len(offset) {
	case 1, 2:
		if _, err := fmt.Sscanf(offset, "%d", &hours); err != nil {
			return nil
		}
	case 3:
		if _, err := fmt.Sscanf(offset, "%1d%2d", &hours, &minutes); err != nil {
			return nil
		}
	case 4:
		h, err := strconv.Atoi(offset[:2])
		if err != nil {
			return nil
		}
		m, err := strconv.Atoi(offset[2:])
		if err != nil {
			return nil
		}
		hours, minutes = h, m
	default:
		return nil
	}

	seconds := sign * (hours*3600 + minutes*60)
	label := fmt.Sprintf("UTC%+03d:%02d", sign*hours, minutes)
	return time.FixedZone(label, seconds)
}
