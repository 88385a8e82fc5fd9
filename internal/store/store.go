// Package store implements the identity and change-tracking state store
// (mapping records, sync cursors, settings) over an injected key/value
// substrate.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Key prefixes for the single key/value namespace.
const (
	PrefixSettings       = "settings:value:"
	PrefixMappingRecord  = "mapping:record:"
	PrefixMappingByNotion = "mapping:index:notion:"
	PrefixMappingByCalDAV = "mapping:index:caldav:"
)

// Store is the key/value substrate the state store is built on. Get returns
// ErrNotFound when the key is absent. List returns entries whose key has the
// given prefix, in key order, starting after cursor (empty cursor starts
// from the beginning); it returns the cursor to resume from, or "" when
// exhausted.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	List(prefix, cursor string, limit int) (entries map[string][]byte, nextCursor string, err error)
	Close() error
}

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = fmt.Errorf("store: key not found")

// MappingRecord is the persistent link between one Doc page identity and one
// CalDAV event identity (§3).
type MappingRecord struct {
	SyncID           string    `json:"sync_id"`
	NotionPageID     string    `json:"notion_page_id"`
	CalDAVUID        string    `json:"caldav_uid"`
	CalDAVETag       string    `json:"caldav_etag,omitempty"`
	NotionHash       string    `json:"notion_hash"`
	CalDAVHash       string    `json:"caldav_hash"`
	NotionLastEdited time.Time `json:"notion_last_edited"`
	LastSyncTime     time.Time `json:"last_sync_time"`
}

// MappingStore wraps a Store with the mapping-record and settings
// operations described in §4.1. Individual substrate errors are logged and
// treated as absence by the caller (the engine never aborts a whole pass
// because one key read failed) — MappingStore itself returns the error so
// the caller can decide; internal/reconcile is where that policy lives.
type MappingStore struct {
	mu sync.Mutex
	s  Store
}

// New wraps a Store with mapping/settings convenience operations.
func New(s Store) *MappingStore {
	return &MappingStore{s: s}
}

// Close releases the underlying substrate.
func (m *MappingStore) Close() error {
	return m.s.Close()
}

// GetMappingBySyncID loads a mapping record by its sync_id. Returns
// (nil, nil) when absent.
func (m *MappingStore) GetMappingBySyncID(syncID string) (*MappingRecord, error) {
	data, err := m.s.Get(PrefixMappingRecord + syncID)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec MappingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("store: decode mapping %s: %w", syncID, err)
	}
	return &rec, nil
}

// GetMappingByNotionID resolves the notion:<page_id> index to a record. A
// dangling index (record missing) is treated as absence per the Invariant
// taxonomy's "Invariant" error kind — the stray index key is best-effort
// removed.
func (m *MappingStore) GetMappingByNotionID(pageID string) (*MappingRecord, error) {
	syncID, err := m.lookupIndex(PrefixMappingByNotion + pageID)
	if err != nil || syncID == "" {
		return nil, err
	}
	rec, err := m.GetMappingBySyncID(syncID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		_ = m.s.Delete(PrefixMappingByNotion + pageID)
		return nil, nil
	}
	return rec, nil
}

// GetMappingByCalDAVUID resolves the caldav:<uid> index to a record, with
// the same dangling-index handling as GetMappingByNotionID.
func (m *MappingStore) GetMappingByCalDAVUID(uid string) (*MappingRecord, error) {
	syncID, err := m.lookupIndex(PrefixMappingByCalDAV + uid)
	if err != nil || syncID == "" {
		return nil, err
	}
	rec, err := m.GetMappingBySyncID(syncID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		_ = m.s.Delete(PrefixMappingByCalDAV + uid)
		return nil, nil
	}
	return rec, nil
}

func (m *MappingStore) lookupIndex(key string) (string, error) {
	data, err := m.s.Get(key)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveMapping writes the record plus both indices. The substrate need only
// guarantee per-key linearizability (§4.1); MappingStore serializes its own
// writes with a mutex so the three keys are written without interleaving
// from a concurrent MappingStore caller in the same process.
func (m *MappingStore) SaveMapping(rec *MappingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode mapping %s: %w", rec.SyncID, err)
	}
	if err := m.s.Put(PrefixMappingRecord+rec.SyncID, data); err != nil {
		return err
	}
	if err := m.s.Put(PrefixMappingByNotion+rec.NotionPageID, []byte(rec.SyncID)); err != nil {
		return err
	}
	if err := m.s.Put(PrefixMappingByCalDAV+rec.CalDAVUID, []byte(rec.SyncID)); err != nil {
		return err
	}
	return nil
}

// DeleteMapping removes the record and both indices.
func (m *MappingStore) DeleteMapping(rec *MappingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.s.Delete(PrefixMappingRecord + rec.SyncID)
	_ = m.s.Delete(PrefixMappingByNotion + rec.NotionPageID)
	_ = m.s.Delete(PrefixMappingByCalDAV + rec.CalDAVUID)
	return nil
}

// LoadSettings returns all settings:value:* entries merged into a map of
// field name to raw JSON value.
func (m *MappingStore) LoadSettings() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	cursor := ""
	for {
		entries, next, err := m.s.List(PrefixSettings, cursor, 256)
		if err != nil {
			return nil, err
		}
		for k, v := range entries {
			field := k[len(PrefixSettings):]
			out[field] = json.RawMessage(v)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

// GetSetting reads and decodes one settings field into dst.
func (m *MappingStore) GetSetting(field string, dst interface{}) (bool, error) {
	data, err := m.s.Get(PrefixSettings + field)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("store: decode setting %s: %w", field, err)
	}
	return true, nil
}

// PutSetting encodes and writes one settings field.
func (m *MappingStore) PutSetting(field string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode setting %s: %w", field, err)
	}
	return m.s.Put(PrefixSettings+field, data)
}
