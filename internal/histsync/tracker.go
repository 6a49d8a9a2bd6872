// Package histsync tracks in-flight history syncs so the validation service
// can answer "is enough history available, and if not, how long until it is".
// The syncing itself is done by an external process that reports progress
// here; nothing in this package touches the network or the cutoff database
// file.
package histsync

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/iamcos/cutoffdb/internal/cutoff"
)

var (
	// ErrUnknownSync is returned for sync IDs the tracker has never seen.
	ErrUnknownSync = errors.New("unknown sync")

	// ErrSyncActive is returned by Begin when a sync for the same market is
	// already in flight.
	ErrSyncActive = errors.New("sync already in progress")

	// ErrSyncFinished is returned when progress is reported against a sync
	// that already reached a terminal state.
	ErrSyncFinished = errors.New("sync already finished")
)

// Sync identifies one in-flight history sync.
type Sync struct {
	ID        string    `json:"id"`
	MarketTag string    `json:"market_tag"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	StartedAt time.Time `json:"started_at"`
}

type syncState struct {
	Sync
	progress float64
	done     bool
	failed   bool
	errMsg   string
	subs     map[int]chan cutoff.SyncStatusResult
	nextSub  int
}

// Tracker is an in-memory registry of history syncs. Results it hands out are
// call-scoped snapshots, never live state.
type Tracker struct {
	mu       sync.RWMutex
	now      func() time.Time
	syncs    map[string]*syncState
	activeBy map[string]string    // market tag → active sync ID
	coverage map[string]time.Time // market tag → earliest start covered by a completed sync
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		now:      time.Now,
		syncs:    make(map[string]*syncState),
		activeBy: make(map[string]string),
		coverage: make(map[string]time.Time),
	}
}

// Begin registers a new sync for a market and returns its handle. Only one
// sync per market can be in flight.
func (t *Tracker) Begin(marketTag string, from, to time.Time) (Sync, error) {
	if marketTag == "" {
		return Sync{}, fmt.Errorf("market tag is required")
	}
	if !from.Before(to) {
		return Sync{}, fmt.Errorf("sync window %v..%v is empty", from, to)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.activeBy[marketTag]; ok {
		return Sync{}, fmt.Errorf("market %s (sync %s): %w", marketTag, id, ErrSyncActive)
	}

	st := &syncState{
		Sync: Sync{
			ID:        uuid.NewString(),
			MarketTag: marketTag,
			From:      from,
			To:        to,
			StartedAt: t.now().UTC(),
		},
		subs: make(map[int]chan cutoff.SyncStatusResult),
	}
	t.syncs[st.ID] = st
	t.activeBy[marketTag] = st.ID

	log.Info().
		Str("sync", st.ID).
		Str("market", marketTag).
		Time("from", from).
		Time("to", to).
		Msg("History sync started")
	return st.Sync, nil
}

// Advance records progress in [0,1) for an in-flight sync and notifies
// watchers.
func (t *Tracker) Advance(id string, progress float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.activeLocked(id)
	if err != nil {
		return err
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	if progress > st.progress {
		st.progress = progress
	}
	t.notifyLocked(st)
	return nil
}

// Complete marks a sync finished and remembers its coverage, so the
// validation service can tell "synced" from "never synced".
func (t *Tracker) Complete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.activeLocked(id)
	if err != nil {
		return err
	}
	st.progress = 1
	st.done = true
	delete(t.activeBy, st.MarketTag)

	if prev, ok := t.coverage[st.MarketTag]; !ok || st.From.Before(prev) {
		t.coverage[st.MarketTag] = st.From
	}

	t.notifyLocked(st)
	t.closeSubsLocked(st)

	log.Info().Str("sync", id).Str("market", st.MarketTag).Msg("History sync completed")
	return nil
}

// Fail marks a sync terminally failed.
func (t *Tracker) Fail(id string, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.activeLocked(id)
	if err != nil {
		return err
	}
	st.done = false
	st.failed = true
	st.errMsg = reason
	delete(t.activeBy, st.MarketTag)

	t.notifyLocked(st)
	t.closeSubsLocked(st)

	log.Warn().Str("sync", id).Str("market", st.MarketTag).Str("reason", reason).Msg("History sync failed")
	return nil
}

// Status returns a snapshot of the sync's state.
func (t *Tracker) Status(id string) (cutoff.SyncStatusResult, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.syncs[id]
	if !ok {
		return cutoff.SyncStatusResult{}, fmt.Errorf("sync %s: %w", id, ErrUnknownSync)
	}
	return t.statusLocked(st), nil
}

// ActiveForTag returns the status of the market's in-flight sync, if any.
func (t *Tracker) ActiveForTag(marketTag string) (cutoff.SyncStatusResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.activeBy[marketTag]
	if !ok {
		return cutoff.SyncStatusResult{}, false
	}
	return t.statusLocked(t.syncs[id]), true
}

// CoveredSince reports the earliest timestamp a completed sync has covered
// for the market.
func (t *Tracker) CoveredSince(marketTag string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	since, ok := t.coverage[marketTag]
	return since, ok
}

// Watch subscribes to status updates for a sync. The channel closes when the
// sync reaches a terminal state; the returned cancel function detaches early.
// Slow watchers miss intermediate updates rather than blocking the tracker.
func (t *Tracker) Watch(id string) (<-chan cutoff.SyncStatusResult, func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.syncs[id]
	if !ok {
		return nil, nil, fmt.Errorf("sync %s: %w", id, ErrUnknownSync)
	}

	ch := make(chan cutoff.SyncStatusResult, 16)
	ch <- t.statusLocked(st)

	if st.done || st.failed {
		close(ch)
		return ch, func() {}, nil
	}

	key := st.nextSub
	st.nextSub++
	st.subs[key] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := st.subs[key]; ok {
			delete(st.subs, key)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (t *Tracker) activeLocked(id string) (*syncState, error) {
	st, ok := t.syncs[id]
	if !ok {
		return nil, fmt.Errorf("sync %s: %w", id, ErrUnknownSync)
	}
	if st.done || st.failed {
		return nil, fmt.Errorf("sync %s: %w", id, ErrSyncFinished)
	}
	return st, nil
}

func (t *Tracker) statusLocked(st *syncState) cutoff.SyncStatusResult {
	res := cutoff.SyncStatusResult{
		SyncID:    st.ID,
		MarketTag: st.MarketTag,
		Progress:  st.progress,
		Completed: st.done,
		Failed:    st.failed,
		Error:     st.errMsg,
	}
	if !res.Terminal() && st.progress > 0 {
		elapsed := t.now().Sub(st.StartedAt)
		total := time.Duration(float64(elapsed) / st.progress)
		res.EstimatedCompletion = st.StartedAt.Add(total)
	}
	return res
}

func (t *Tracker) notifyLocked(st *syncState) {
	snap := t.statusLocked(st)
	for _, ch := range st.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (t *Tracker) closeSubsLocked(st *syncState) {
	for key, ch := range st.subs {
		delete(st.subs, key)
		close(ch)
	}
}
