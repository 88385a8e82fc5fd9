// Package admin implements the scheduler/admin HTTP surface (C7): a status
// page, and POST actions that drive the same reconciliation engine the
// scheduler ticks — grounded on the teacher's Unix-socket admin protocol
// (internal/daemon's Message/Response shapes), re-exposed over net/http per
// SPEC_FULL.md §4.6's "teacher never imports a router" note, with both
// surfaces calling into the identical *reconcile.Engine instance.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"notioncalsync/internal/caldavclient"
	"notioncalsync/internal/docstore"
	"notioncalsync/internal/notification"
	"notioncalsync/internal/reconcile"
	"notioncalsync/internal/store"
)

// Handler serves GET/POST /admin/status.
type Handler struct {
	Engine     *reconcile.Engine
	Mapping    *store.MappingStore
	Docs       *docstore.Client
	CalDAV     *caldavclient.Client
	AdminToken string
	Log        zerolog.Logger

	// NotifyLogPath, if set, is read by the "history" action to show the
	// last notifications the scheduler sent (sync-complete/sync-error/
	// conflict), mirroring what internal/notification's log channel wrote.
	NotifyLogPath string
}

type statusResponse struct {
	Action    string              `json:"action"`
	OK        bool                `json:"ok"`
	Error     string              `json:"error,omitempty"`
	Counters  *reconcile.Counters `json:"counters,omitempty"`
	Connected map[string]bool    `json:"connected,omitempty"`
	History   []string           `json:"history,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.serveStatusPage(w, r)
	case http.MethodPost:
		h.serveAction(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.AdminToken == "" {
		return true
	}
	token := r.Header.Get("X-Admin-Token")
	if token == "" {
		token = r.URL.Query().Get("admin_token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.AdminToken)) == 1
}

func (h *Handler) serveStatusPage(w http.ResponseWriter, r *http.Request) {
	var lastFullSync string
	_, _ = h.Mapping.GetSetting("last_full_sync", &lastFullSync)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html><head><title>notioncalsync admin</title></head>
<body>
<h1>notioncalsync</h1>
<p>Last full sync: %s</p>
<form method="post">
<select name="action">
<option value="bidirectional">bidirectional</option>
<option value="notion_to_caldav">notion_to_caldav</option>
<option value="caldav_to_notion">caldav_to_notion</option>
<option value="check_connectivity">check_connectivity</option>
<option value="history">history</option>
</select>
<button type="submit">Run</button>
</form>
</body></html>`, htmlOrDash(lastFullSync))
}

func htmlOrDash(s string) string {
	if s == "" {
		return "never"
	}
	return s
}

func (h *Handler) serveAction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	action := r.FormValue("action")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	resp := statusResponse{Action: action}

	switch action {
	case "bidirectional":
		counters, err := h.Engine.Pass(ctx, reconcile.Options{AllowDocWrites: true, AllowCalWrites: true})
		resp.Counters = &counters
		resp.OK = err == nil
		if err != nil {
			resp.Error = err.Error()
		} else {
			_ = h.Mapping.PutSetting("last_full_sync", time.Now().UTC().Format(time.RFC3339))
		}

	case "notion_to_caldav":
		// Runs without sync tokens, so Pass reads both sides in full.
		_ = h.Mapping.PutSetting("notion_sync_token", "")
		_ = h.Mapping.PutSetting("caldav_sync_token", "")
		counters, err := h.Engine.Pass(ctx, reconcile.Options{AllowDocWrites: false, AllowCalWrites: true})
		resp.Counters = &counters
		resp.OK = err == nil
		if err != nil {
			resp.Error = err.Error()
		}

	case "caldav_to_notion":
		counters, err := h.Engine.Pass(ctx, reconcile.Options{AllowDocWrites: true, AllowCalWrites: false})
		resp.Counters = &counters
		resp.OK = err == nil
		if err != nil {
			resp.Error = err.Error()
		}

	case "save_settings":
		for field := range r.Form {
			if field == "action" {
				continue
			}
			_ = h.Mapping.PutSetting(field, r.FormValue(field))
		}
		resp.OK = true

	case "check_connectivity":
		connected := map[string]bool{}
		connected["caldav"] = h.CalDAV.EnsureCalendar(ctx) == nil
		_, err := h.Docs.ListDataSources(ctx)
		connected["doc_store"] = err == nil && h.Docs.Healthy()
		resp.Connected = connected
		resp.OK = connected["caldav"] && connected["doc_store"]

	case "history":
		if h.NotifyLogPath == "" {
			resp.OK = true
			break
		}
		entries, err := notification.ReadLog(h.NotifyLogPath)
		resp.OK = err == nil
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.History = entries

	case "clear_history":
		if h.NotifyLogPath == "" {
			resp.OK = true
			break
		}
		err := notification.ClearLog(h.NotifyLogPath)
		resp.OK = err == nil
		if err != nil {
			resp.Error = err.Error()
		}

	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.OK {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
