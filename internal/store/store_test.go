package store

import (
	"testing"
	"time"
)

func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(t.TempDir() + "/state.db")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestMappingRoundTrip(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ms := New(s)
			rec := &MappingRecord{
				SyncID:           "sync-1",
				NotionPageID:     "page-1",
				CalDAVUID:        "notion-page-1@sync",
				NotionHash:       "h1",
				CalDAVHash:       "h1",
				NotionLastEdited: time.Now().UTC(),
			}
			if err := ms.SaveMapping(rec); err != nil {
				t.Fatalf("SaveMapping: %v", err)
			}

			got, err := ms.GetMappingByNotionID("page-1")
			if err != nil {
				t.Fatalf("GetMappingByNotionID: %v", err)
			}
			if got == nil || got.SyncID != "sync-1" {
				t.Fatalf("expected sync-1, got %+v", got)
			}

			got, err = ms.GetMappingByCalDAVUID("notion-page-1@sync")
			if err != nil {
				t.Fatalf("GetMappingByCalDAVUID: %v", err)
			}
			if got == nil || got.SyncID != "sync-1" {
				t.Fatalf("expected sync-1, got %+v", got)
			}

			if err := ms.DeleteMapping(rec); err != nil {
				t.Fatalf("DeleteMapping: %v", err)
			}
			got, err = ms.GetMappingByNotionID("page-1")
			if err != nil {
				t.Fatalf("GetMappingByNotionID after delete: %v", err)
			}
			if got != nil {
				t.Fatalf("expected nil after delete, got %+v", got)
			}
		})
	}
}

func TestDanglingIndexTreatedAsAbsent(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ms := New(s)
			if err := s.Put(PrefixMappingByNotion+"ghost", []byte("sync-missing")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := ms.GetMappingByNotionID("ghost")
			if err != nil {
				t.Fatalf("GetMappingByNotionID: %v", err)
			}
			if got != nil {
				t.Fatalf("expected nil for dangling index, got %+v", got)
			}
			if _, err := s.Get(PrefixMappingByNotion + "ghost"); err != ErrNotFound {
				t.Fatalf("expected stray index to be cleaned up, got err=%v", err)
			}
		})
	}
}

func TestSettings(t *testing.T) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			ms := New(s)
			if err := ms.PutSetting("calendar_name", "Notion"); err != nil {
				t.Fatalf("PutSetting: %v", err)
			}
			var got string
			ok, err := ms.GetSetting("calendar_name", &got)
			if err != nil {
				t.Fatalf("GetSetting: %v", err)
			}
			if !ok || got != "Notion" {
				t.Fatalf("expected Notion, got %q (ok=%v)", got, ok)
			}

			all, err := ms.LoadSettings()
			if err != nil {
				t.Fatalf("LoadSettings: %v", err)
			}
			if _, ok := all["calendar_name"]; !ok {
				t.Fatalf("expected calendar_name in LoadSettings result, got %+v", all)
			}
		})
	}
}

func TestListPagination(t *testing.T) {
	s := NewMemory()
	for i := 0; i < 5; i++ {
		key := PrefixSettings + string(rune('a'+i))
		if err := s.Put(key, []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		entries, next, err := s.List(PrefixSettings, cursor, 2)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		for k := range entries {
			seen[k] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 entries across pages, got %d", len(seen))
	}
}
