// Package validation decides whether requested backtest windows are
// satisfiable given known history cutoffs and sync state. It only reads; the
// cutoff table is owned by the store and sync state by the tracker.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iamcos/cutoffdb/internal/cutoff"
	"github.com/iamcos/cutoffdb/internal/histsync"
	"github.com/iamcos/cutoffdb/internal/store"
)

// Service answers window-validation and history-sufficiency queries for
// callers such as a backtest scheduler.
type Service struct {
	store   *store.Store
	tracker *histsync.Tracker
	now     func() time.Time
}

// New creates a validation service over the given store and sync tracker.
func New(st *store.Store, tracker *histsync.Tracker) *Service {
	return &Service{store: st, tracker: tracker, now: time.Now}
}

// ValidateWindow checks a requested backtest window against the market's
// known cutoff. Windows starting before the cutoff are clipped forward;
// windows ending at or before it are invalid. For markets without a known
// cutoff the window passes through unchanged but a sync is required, since
// nothing is known about available history.
func (s *Service) ValidateWindow(marketTag string, start, end time.Time) (cutoff.ValidationResult, error) {
	if marketTag == "" {
		return cutoff.ValidationResult{}, fmt.Errorf("market tag is required")
	}
	if !start.Before(end) {
		return cutoff.ValidationResult{}, fmt.Errorf("window %v..%v is empty", start, end)
	}

	res := cutoff.ValidationResult{
		Valid:         true,
		AdjustedStart: start,
		AdjustedEnd:   end,
	}

	rec, err := s.store.GetCutoff(marketTag)
	switch {
	case errors.Is(err, store.ErrNotFound):
		res.SyncRequired = true
		res.Reason = "no known cutoff for market"
		return res, nil
	case err != nil:
		return cutoff.ValidationResult{}, err
	}

	if !end.After(rec.CutoffDate) {
		res.Valid = false
		res.SyncRequired = false
		res.Reason = fmt.Sprintf("window ends before history cutoff %s", rec.CutoffDate.Format(time.RFC3339))
		return res, nil
	}

	if start.Before(rec.CutoffDate) {
		res.Adjusted = true
		res.AdjustedStart = rec.CutoffDate
		res.Reason = "window start clipped to history cutoff"
		log.Debug().
			Str("market", marketTag).
			Time("requested_start", start).
			Time("adjusted_start", rec.CutoffDate).
			Msg("Backtest window clipped")
	}

	res.SyncRequired = !s.covered(marketTag, res.AdjustedStart)
	return res, nil
}

// CheckHistory answers whether enough local history exists to start a
// backtest at the given instant. Sufficient means the cutoff is known, the
// start is at or after it, and a completed sync covers the start.
func (s *Service) CheckHistory(marketTag string, start time.Time) (cutoff.HistoryResult, error) {
	if marketTag == "" {
		return cutoff.HistoryResult{}, fmt.Errorf("market tag is required")
	}

	var res cutoff.HistoryResult

	if status, ok := s.tracker.ActiveForTag(marketTag); ok {
		res.SyncInProgress = true
		if !status.EstimatedCompletion.IsZero() {
			if wait := status.EstimatedCompletion.Sub(s.now()); wait > 0 {
				res.EstimatedWait = wait
			}
		}
	}

	rec, err := s.store.GetCutoff(marketTag)
	if errors.Is(err, store.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return cutoff.HistoryResult{}, err
	}

	res.Sufficient = !rec.CutoffDate.After(start) && s.covered(marketTag, start)
	return res, nil
}

// SyncStatus reports the state of a history sync by ID.
func (s *Service) SyncStatus(syncID string) (cutoff.SyncStatusResult, error) {
	return s.tracker.Status(syncID)
}

func (s *Service) covered(marketTag string, start time.Time) bool {
	since, ok := s.tracker.CoveredSince(marketTag)
	return ok && !since.After(start)
}
