// Package reconcile implements the bidirectional reconciliation engine (C5):
// gather, decide, and apply, built around the union-of-keys / mapping /
// decision-table shape of original_source/src/app/engine.py's
// run_bidirectional_sync, expressed here as a pure decision function plus a
// bounded worker pool for the apply phase — grounded on the pack's
// calbridgesync two-calendar sync engine for the incremental-safety guard
// and delta-then-full-fallback control flow.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notioncalsync/internal/caldavclient"
	"notioncalsync/internal/docstore"
	"notioncalsync/internal/store"
	"notioncalsync/internal/syncerr"
	"notioncalsync/internal/task"
)

func newSyncID() string { return uuid.NewString() }

// Action is one decision-table outcome (§4.5).
type Action int

const (
	ActionNoop Action = iota
	ActionCreateCalDAV
	ActionUpdateCalDAV
	ActionDeleteCalDAV
	ActionCreateNotion
	ActionUpdateNotion
	ActionRecalibrate
)

// Options controls which direction(s) one pass may write. Whether a side is
// gathered incrementally is not set here: Pass uses a side's stored sync
// token whenever one is present.
type Options struct {
	AllowDocWrites bool
	AllowCalWrites bool
}

// Counters tallies what a pass did, returned to the caller and logged (§4.5).
type Counters struct {
	Synced       int
	Noop         int
	Recalibrate  int
	Skipped      int
	Errors       int
	CreateCalDAV int
	UpdateCalDAV int
	DeleteCalDAV int
	CreateNotion int
	UpdateNotion int
}

// Engine owns the clients and mapping store a pass operates against.
type Engine struct {
	Docs    *docstore.Client
	CalDAV  *caldavclient.Client
	Mapping *store.MappingStore
	Workers int
	Log     zerolog.Logger
}

// key is one unified identity the decide phase reasons about.
type key struct {
	notionID string
	notion   *task.Task
	caldav   *task.Task
	calETag  string
}

// Pass runs one full gather/decide/apply cycle and returns the tallies.
func (e *Engine) Pass(ctx context.Context, opts Options) (Counters, error) {
	notionIncremental, notionTasks, err := e.gatherNotion(ctx)
	if err != nil {
		return Counters{}, err
	}

	calIncremental, calTasks, calEtags, deletedHrefIDs, nextCalToken, err := e.gatherCalDAV(ctx)
	if err != nil {
		return Counters{}, err
	}

	var counters Counters
	for _, notionID := range deletedHrefIDs {
		rec, err := e.Mapping.GetMappingByNotionID(notionID)
		if err != nil || rec == nil {
			continue
		}
		_ = e.Mapping.DeleteMapping(rec)
	}

	keys := unionKeys(notionTasks, calTasks, calEtags)

	results := e.applyAll(ctx, keys, opts, notionIncremental, calIncremental)
	for _, r := range results {
		counters.add(r)
	}

	if latest, ok := latestEdited(notionTasks); ok {
		_ = e.Mapping.PutSetting("notion_sync_token", latest)
	}
	if nextCalToken != "" {
		_ = e.Mapping.PutSetting("caldav_sync_token", nextCalToken)
	}

	return counters, nil
}

func (c *Counters) add(r applyResult) {
	c.Synced++
	switch r.action {
	case ActionNoop:
		c.Noop++
	case ActionRecalibrate:
		c.Recalibrate++
	case ActionCreateCalDAV:
		c.CreateCalDAV++
	case ActionUpdateCalDAV:
		c.UpdateCalDAV++
	case ActionDeleteCalDAV:
		c.DeleteCalDAV++
	case ActionCreateNotion:
		c.CreateNotion++
	case ActionUpdateNotion:
		c.UpdateNotion++
	}
	if r.skipped {
		c.Skipped++
	}
	if r.err != nil {
		c.Errors++
	}
}

func (e *Engine) gatherNotion(ctx context.Context) (incremental bool, tasks map[string]task.Task, err error) {
	tasks = map[string]task.Task{}

	var since *time.Time
	var tok string
	if ok, _ := e.Mapping.GetSetting("notion_sync_token", &tok); ok && tok != "" {
		if t, perr := time.Parse(time.RFC3339, tok); perr == nil {
			since = &t
			incremental = true
		}
	}

	sources, err := e.Docs.ListDataSources(ctx)
	if err != nil {
		return false, nil, err
	}
	for _, ds := range sources {
		if !docstore.IsTaskSchema(ds.Properties) {
			continue
		}
		pages, err := e.Docs.QueryPages(ctx, ds.ID, since)
		if err != nil {
			e.Log.Warn().Err(err).Str("data_source", ds.ID).Msg("skipping data source for this pass")
			continue
		}
		for _, t := range pages {
			tasks[t.NotionID] = t
		}
	}
	return incremental, tasks, nil
}

func (e *Engine) gatherCalDAV(ctx context.Context) (incremental bool, tasks map[string]task.Task, etags map[string]string, deletedIDs []string, nextToken string, err error) {
	tasks = map[string]task.Task{}
	etags = map[string]string{}

	var tok string
	_, _ = e.Mapping.GetSetting("caldav_sync_token", &tok)

	var changed []caldavclient.ChangedEvent
	if tok != "" {
		nextToken, changed, deletedIDs, err = e.CalDAV.ListDelta(ctx, tok)
		if err != nil {
			if syncerr.Is(err, syncerr.StaleToken) {
				changed, err = e.CalDAV.FullListing(ctx)
				nextToken = ""
				deletedIDs = nil
			} else {
				return false, nil, nil, nil, "", err
			}
		} else {
			incremental = true
		}
	} else {
		changed, err = e.CalDAV.FullListing(ctx)
	}
	if err != nil {
		return false, nil, nil, nil, "", err
	}

	for _, ev := range changed {
		if ev.NotionID == "" {
			continue
		}
		tasks[ev.NotionID] = ev.Task
		if ev.ETag != "" {
			etags[ev.NotionID] = ev.ETag
		}
	}
	return incremental, tasks, etags, deletedIDs, nextToken, nil
}

func unionKeys(notionTasks, calTasks map[string]task.Task, calEtags map[string]string) []key {
	seen := map[string]bool{}
	var keys []key
	for id := range notionTasks {
		if seen[id] {
			continue
		}
		seen[id] = true
		n := notionTasks[id]
		k := key{notionID: id, notion: &n}
		if c, ok := calTasks[id]; ok {
			c := c
			k.caldav = &c
			k.calETag = calEtags[id]
		}
		keys = append(keys, k)
	}
	for id, c := range calTasks {
		if seen[id] {
			continue
		}
		c := c
		keys = append(keys, key{notionID: id, caldav: &c, calETag: calEtags[id]})
	}
	return keys
}

func latestEdited(tasks map[string]task.Task) (string, bool) {
	var latest string
	for _, t := range tasks {
		if t.LastEditedTime == "" {
			continue
		}
		if latest == "" || isLater(t.LastEditedTime, latest) {
			latest = t.LastEditedTime
		}
	}
	return latest, latest != ""
}

func isLater(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA != nil || errB != nil {
		return a > b
	}
	return ta.After(tb)
}

// applyResult is one key's outcome, used only to aggregate Counters.
type applyResult struct {
	action  Action
	skipped bool
	err     error
}

func (e *Engine) applyAll(ctx context.Context, keys []key, opts Options, notionIncremental, calIncremental bool) []applyResult {
	workers := e.Workers
	if workers <= 0 {
		workers = 4
	}

	results := make([]applyResult, len(keys))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, k := range keys {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, k key) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.applyOne(ctx, k, opts, notionIncremental, calIncremental)
		}(i, k)
	}
	wg.Wait()
	return results
}

func (e *Engine) applyOne(ctx context.Context, k key, opts Options, notionIncremental, calIncremental bool) applyResult {
	rec, err := e.Mapping.GetMappingByNotionID(k.notionID)
	if err != nil {
		return applyResult{err: err}
	}

	action, winner := decide(rec, k.notion, k.caldav)

	if action == ActionDeleteCalDAV && notionIncremental {
		return applyResult{action: ActionNoop, skipped: true}
	}

	switch action {
	case ActionNoop:
		return applyResult{action: ActionNoop}

	case ActionCreateCalDAV, ActionUpdateCalDAV:
		if !opts.AllowCalWrites {
			return applyResult{action: action, skipped: true}
		}
		if winner == nil || winner.StartDate == "" {
			return applyResult{action: ActionNoop}
		}
		etag, err := e.putCalDAVWithRetry(ctx, *winner)
		if err != nil {
			return applyResult{action: action, err: err}
		}
		if err := e.saveMapping(rec, *winner, etag, task.CanonicalHash(*winner)); err != nil {
			return applyResult{action: action, err: err}
		}
		return applyResult{action: action}

	case ActionDeleteCalDAV:
		if !opts.AllowCalWrites {
			return applyResult{action: action, skipped: true}
		}
		if err := e.CalDAV.Delete(ctx, k.notionID); err != nil {
			return applyResult{action: action, err: err}
		}
		if rec != nil {
			_ = e.Mapping.DeleteMapping(rec)
		}
		return applyResult{action: action}

	case ActionCreateNotion:
		if !opts.AllowDocWrites {
			return applyResult{action: action, skipped: true}
		}
		if winner == nil {
			return applyResult{action: ActionNoop}
		}
		dsID := winner.DatabaseID
		if dsID == "" {
			return applyResult{action: ActionNoop}
		}
		pageID, err := e.Docs.CreatePage(ctx, dsID, *winner)
		if err != nil {
			return applyResult{action: action, err: err}
		}
		w := *winner
		w.NotionID = pageID
		if err := e.saveMapping(rec, w, k.calETag, task.CanonicalHash(w)); err != nil {
			return applyResult{action: action, err: err}
		}
		return applyResult{action: action}

	case ActionUpdateNotion:
		if !opts.AllowDocWrites {
			return applyResult{action: action, skipped: true}
		}
		if winner == nil {
			return applyResult{action: ActionNoop}
		}
		if err := e.Docs.UpdatePage(ctx, winner.NotionID, *winner, nil); err != nil {
			return applyResult{action: action, err: err}
		}
		if err := e.saveMapping(rec, *winner, k.calETag, task.CanonicalHash(*winner)); err != nil {
			return applyResult{action: action, err: err}
		}
		return applyResult{action: action}

	case ActionRecalibrate:
		if winner == nil {
			return applyResult{action: ActionNoop}
		}
		hash := task.CanonicalHash(*winner)
		if rec != nil {
			rec.NotionHash = hash
			rec.CalDAVHash = hash
			rec.LastSyncTime = time.Now().UTC()
			if err := e.Mapping.SaveMapping(rec); err != nil {
				return applyResult{action: action, err: err}
			}
		}
		return applyResult{action: action}
	}

	return applyResult{action: ActionNoop}
}

// putCalDAVWithRetry performs the PUT and, on a Conflict-kind error, sends
// the same PUT once more (§7 "Conflict retry"). The event's current etag is
// not re-read before the retry.
func (e *Engine) putCalDAVWithRetry(ctx context.Context, t task.Task) (string, error) {
	etag, err := e.CalDAV.Put(ctx, t, time.Now())
	if err == nil {
		return etag, nil
	}
	if !syncerr.Is(err, syncerr.Conflict) {
		return "", err
	}
	return e.CalDAV.Put(ctx, t, time.Now())
}

func (e *Engine) saveMapping(rec *store.MappingRecord, winner task.Task, calETag, hash string) error {
	now := time.Now().UTC()
	lastEdited, _ := time.Parse(time.RFC3339, winner.LastEditedTime)

	if rec == nil {
		rec = &store.MappingRecord{
			SyncID:    newSyncID(),
			CalDAVUID: task.BuildUID(winner.NotionID),
		}
	}
	rec.NotionPageID = winner.NotionID
	rec.CalDAVUID = task.BuildUID(winner.NotionID)
	if calETag != "" {
		rec.CalDAVETag = calETag
	}
	rec.NotionHash = hash
	rec.CalDAVHash = hash
	rec.NotionLastEdited = lastEdited
	rec.LastSyncTime = now
	return e.Mapping.SaveMapping(rec)
}

// decide implements the §4.5 decision table as a pure function.
func decide(rec *store.MappingRecord, n, c *task.Task) (Action, *task.Task) {
	if rec == nil {
		switch {
		case c != nil && n == nil:
			return ActionCreateNotion, c
		case n != nil && c == nil:
			if n.StartDate != "" {
				return ActionCreateCalDAV, n
			}
			return ActionNoop, nil
		case n != nil && c != nil:
			if isLater(n.LastEditedTime, c.LastEditedTime) {
				return ActionUpdateCalDAV, n
			}
			return ActionUpdateNotion, c
		default:
			return ActionNoop, nil
		}
	}

	if n != nil && c == nil {
		if n.StartDate != "" {
			return ActionCreateCalDAV, n
		}
		return ActionNoop, nil
	}
	if n == nil && c != nil {
		return ActionDeleteCalDAV, c
	}
	if n == nil && c == nil {
		return ActionNoop, nil
	}

	calHash := task.CanonicalHash(*c)
	notionHash := task.CanonicalHash(*n)
	calMatchesStored := calHash == rec.CalDAVHash
	notionMatchesStored := notionHash == rec.NotionHash

	switch {
	case calHash == notionHash && calMatchesStored && notionMatchesStored:
		return ActionNoop, nil
	case calHash == notionHash:
		return ActionRecalibrate, n
	case !calMatchesStored && notionMatchesStored:
		return ActionUpdateNotion, c
	case calMatchesStored && !notionMatchesStored:
		return ActionUpdateCalDAV, n
	default:
		if isLater(n.LastEditedTime, c.LastEditedTime) {
			return ActionUpdateCalDAV, n
		}
		return ActionUpdateNotion, c
	}
}
