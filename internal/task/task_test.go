package task

import "testing"

// P1: UID law -- ParseUID(BuildUID(id)) == id.
func TestUIDRoundTrip(t *testing.T) {
	for _, id := range []string{"abc123", "a-b-c", "00000000-0000-0000-0000-000000000000"} {
		uid := BuildUID(id)
		got, ok := ParseUID(uid)
		if !ok {
			t.Fatalf("ParseUID(%q) reported not-ok", uid)
		}
		if got != id {
			t.Errorf("round trip: got %q want %q", got, id)
		}
	}
}

func TestParseUIDRejectsForeignUID(t *testing.T) {
	if _, ok := ParseUID("some-other-calendar-uid@example.com"); ok {
		t.Fatalf("expected ok=false for a UID this engine didn't mint")
	}
}

func TestBuildUIDMatchesInvariantI2(t *testing.T) {
	got := BuildUID("page123")
	want := "notion-page123@sync"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestEventURLMatchesInvariantI5(t *testing.T) {
	got := EventURL("https://cal.example.com/calendars/alice/notion", "page123")
	want := "https://cal.example.com/calendars/alice/notion/page123.ics"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestEventURLTrimsTrailingSlash(t *testing.T) {
	got := EventURL("https://cal.example.com/calendars/alice/notion/", "page123")
	want := "https://cal.example.com/calendars/alice/notion/page123.ics"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

// I4/P2: canonical hash depends only on the listed fields, not reminder.
func TestCanonicalHashIgnoresReminder(t *testing.T) {
	base := Task{Title: "Plan", Status: StatusTodo, StartDate: "2026-08-01"}
	withReminder := base
	withReminder.Reminder = "2026-08-01T07:45:00Z"

	if CanonicalHash(base) != CanonicalHash(withReminder) {
		t.Fatalf("expected reminder to be excluded from canonical hash")
	}
}

func TestCanonicalHashIgnoresColorAndURL(t *testing.T) {
	base := Task{Title: "Plan", Status: StatusTodo, StartDate: "2026-08-01"}
	decorated := base
	decorated.Color = "#FF0000"
	decorated.URL = "https://example.com/x"

	if CanonicalHash(base) != CanonicalHash(decorated) {
		t.Fatalf("expected color/url to be excluded from canonical hash")
	}
}

func TestCanonicalHashChangesWithTitle(t *testing.T) {
	a := Task{Title: "Plan", Status: StatusTodo, StartDate: "2026-08-01"}
	b := a
	b.Title = "Plan v2"
	if CanonicalHash(a) == CanonicalHash(b) {
		t.Fatalf("expected hash to differ when title differs")
	}
}

func TestCanonicalHashNormalizesStatusAliases(t *testing.T) {
	a := Task{Title: "Plan", Status: "Done", StartDate: "2026-08-01"}
	b := Task{Title: "Plan", Status: "Completed", StartDate: "2026-08-01"}
	if CanonicalHash(a) != CanonicalHash(b) {
		t.Fatalf("expected status aliases to normalize to the same hash")
	}
}

func TestNormalizeStatusAliasesAndDefault(t *testing.T) {
	cases := map[string]string{
		"Done":         StatusCompleted,
		"done":         StatusCompleted,
		"Not started":  StatusTodo,
		"To Do":        StatusTodo,
		"Pinned":       StatusInProgress,
		"Discarded":    StatusCancelled,
		"garbage-val":  StatusTodo,
		"":             StatusTodo,
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q): got %q want %q", in, got, want)
		}
	}
}

func TestStatusFromEmoji(t *testing.T) {
	status, ok := StatusFromEmoji("⊜ Overdue thing")
	if !ok || status != StatusOverdue {
		t.Fatalf("got status=%q ok=%v", status, ok)
	}
	if _, ok := StatusFromEmoji("Plain title with no glyph"); ok {
		t.Fatalf("expected ok=false for a summary without a recognized glyph")
	}
}
