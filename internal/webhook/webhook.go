// Package webhook implements the HTTP ingress (C6): verification-token
// bootstrap, HMAC-SHA256 signature checking on events, recursive page-ID
// and event-type extraction from an arbitrary JSON payload, and targeted
// per-page reconciliation — grounded directly on
// original_source/src/app/webhook.py's handle()/_collect_page_ids()/
// _extract_event_types(), re-expressed with net/http and encoding/json in
// place of the Workers request/response shim, matching the teacher's own
// preference for hand-rolled net/http wiring over a router dependency.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"notioncalsync/internal/caldavclient"
	"notioncalsync/internal/docstore"
	"notioncalsync/internal/store"
)

var fullSyncPrefixes = []string{"database.", "data_source."}

var hexUUID = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// syncGate runs a background task with at-most-one-concurrently semantics,
// generalized from daemon.Daemon's syncMu-gated performSync: a second
// kickoff while one is in flight is a no-op, not a queued second run.
type syncGate struct {
	mu      sync.Mutex
	running bool
}

// Try starts fn in a goroutine unless one is already running; it reports
// whether this call actually started it.
func (g *syncGate) Try(fn func()) bool {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return false
	}
	g.running = true
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			g.running = false
			g.mu.Unlock()
		}()
		fn()
	}()
	return true
}

// Handler serves the webhook endpoint for one configured provider.
type Handler struct {
	Mapping  *store.MappingStore
	Docs     *docstore.Client
	CalDAV   *caldavclient.Client
	Log      zerolog.Logger
	FullSync func(ctx context.Context) error

	gate syncGate
}

type eventResponse struct {
	OK      bool     `json:"ok"`
	Updated []string `json:"updated"`
}

// ServeHTTP implements the two message shapes described in §4.6.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var data map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	if tok, ok := data["verification_token"]; ok {
		h.handleVerification(w, tok)
		return
	}

	if err := h.verifySignature(r, raw); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	eventTypes := extractEventTypes(data)
	if needsFullSync(eventTypes) {
		h.Log.Info().Strs("event_types", eventTypes).Msg("database/data_source event detected; scheduling full sync")
		started := h.gate.Try(func() {
			ctx := context.Background()
			if h.FullSync != nil {
				if err := h.FullSync(ctx); err != nil {
					h.Log.Warn().Err(err).Msg("background full sync failed")
				}
			}
		})
		if !started {
			h.Log.Info().Msg("full sync already running; skipping new kickoff")
		}
	}

	pageIDs := collectPageIDs(data)
	updated := h.handlePages(r.Context(), pageIDs)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(eventResponse{OK: true, Updated: updated})
}

func (h *Handler) handleVerification(w http.ResponseWriter, tok any) {
	token, ok := tok.(string)
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		http.Error(w, "invalid verification_token", http.StatusBadRequest)
		return
	}
	if err := h.Mapping.PutSetting("webhook_verification_token", token); err != nil {
		http.Error(w, "failed to persist token", http.StatusInternalServerError)
		return
	}
	h.Log.Info().Msg("stored verification token")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"verification_token": token})
}

func (h *Handler) verifySignature(r *http.Request, raw []byte) error {
	var stored string
	ok, err := h.Mapping.GetSetting("webhook_verification_token", &stored)
	if err != nil || !ok || stored == "" {
		return errUnauthorized("missing stored verification token")
	}

	sig := r.Header.Get("X-Notion-Signature")
	if sig == "" {
		return errUnauthorized("no signature")
	}

	mac := hmac.New(sha256.New, []byte(stored))
	mac.Write(raw)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return errUnauthorized("invalid signature")
	}
	return nil
}

type errUnauthorized string

func (e errUnauthorized) Error() string { return "unauthorized: " + string(e) }

// handlePages fetches and reconciles one page at a time, per
// handle_webhook_tasks: missing/archived/no-start-date pages have their
// CalDAV event deleted; otherwise the event is written/updated.
func (h *Handler) handlePages(ctx context.Context, pageIDs []string) []string {
	var updated []string
	for _, pageID := range pageIDs {
		t, ok, err := h.Docs.GetPage(ctx, pageID)
		if err != nil {
			h.Log.Warn().Err(err).Str("page_id", pageID).Msg("webhook: fetch page failed")
			continue
		}
		if !ok || t.StartDate == "" {
			if err := h.CalDAV.Delete(ctx, pageID); err != nil {
				h.Log.Warn().Err(err).Str("page_id", pageID).Msg("webhook: delete event failed")
				continue
			}
			if rec, _ := h.Mapping.GetMappingByNotionID(pageID); rec != nil {
				_ = h.Mapping.DeleteMapping(rec)
			}
			updated = append(updated, pageID)
			continue
		}
		if _, err := h.CalDAV.Put(ctx, t, time.Now()); err != nil {
			h.Log.Warn().Err(err).Str("page_id", pageID).Msg("webhook: put event failed")
			continue
		}
		updated = append(updated, pageID)
	}
	return updated
}

func needsFullSync(eventTypes []string) bool {
	for _, et := range eventTypes {
		for _, prefix := range fullSyncPrefixes {
			if strings.HasPrefix(et, prefix) {
				return true
			}
		}
	}
	return false
}

// extractEventTypes recursively walks payload for "type" strings and nested
// "event"/"events" objects, deduplicating while preserving first-seen order.
func extractEventTypes(payload any) []string {
	var out []string
	seen := map[string]bool{}
	append1 := func(v any) {
		s, ok := v.(string)
		if !ok {
			return
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case map[string]any:
			if t, ok := val["type"]; ok {
				append1(t)
			}
			if ev, ok := val["event"].(map[string]any); ok {
				walk(ev)
			}
			if evs, ok := val["events"].([]any); ok {
				for _, item := range evs {
					walk(item)
				}
			}
			for _, key := range []string{"payload", "data"} {
				if nested, ok := val[key]; ok {
					walk(nested)
				}
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(payload)
	return out
}

var pageIDKeys = map[string]bool{"page_id": true, "pageId": true}

// collectPageIDs recursively walks payload for page identifiers: any value
// matching a 32-hex UUID under "page_id"/"pageId"/"parent.page_id", or the
// "id" of an object whose object (or type) is "page" or that sits under a
// "page" key; an "id" on any other object is not collected. Results are
// deduplicated preserving first-seen order.
func collectPageIDs(payload any) []string {
	var found []string
	appendID := func(v any) {
		if id, ok := normalizePageID(v); ok {
			found = append(found, id)
		}
	}
	var walk func(v any, parentKey string)
	walk = func(v any, parentKey string) {
		switch val := v.(type) {
		case map[string]any:
			objectHint := strings.ToLower(asString(val["object"]))
			if objectHint == "" {
				objectHint = strings.ToLower(asString(val["type"]))
			}
			if objectHint == "page" || parentKey == "page" {
				if id, ok := val["id"]; ok {
					appendID(id)
				} else if id, ok := val["page_id"]; ok {
					appendID(id)
				}
			}
			for key, nested := range val {
				if pageIDKeys[key] {
					appendID(nested)
					continue
				}
				if key == "parent" {
					if parentMap, ok := nested.(map[string]any); ok {
						appendID(parentMap["page_id"])
					}
				}
				if key == "value" {
					if nestedMap, ok := nested.(map[string]any); ok {
						walk(nestedMap, key)
						continue
					}
				}
				if key == "payload" || key == "data" || key == "after" || key == "before" {
					walk(nested, key)
					continue
				}
				switch nested.(type) {
				case map[string]any, []any:
					walk(nested, key)
				}
			}
		case []any:
			for _, item := range val {
				walk(item, parentKey)
			}
		}
	}
	walk(payload, "")

	seen := map[string]bool{}
	var ordered []string
	for _, id := range found {
		if seen[id] {
			continue
		}
		seen[id] = true
		ordered = append(ordered, id)
	}
	return ordered
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func normalizePageID(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	normalized := strings.ReplaceAll(s, "-", "")
	if !hexUUID.MatchString(normalized) {
		return "", false
	}
	return strings.ToLower(
		normalized[0:8] + "-" + normalized[8:12] + "-" + normalized[12:16] + "-" + normalized[16:20] + "-" + normalized[20:32],
	), true
}
