package cutoff

import "time"

// ValidationResult reports whether a requested backtest window can be honored
// given the known cutoff for a market. When the window starts before the
// cutoff the start is clipped forward and Adjusted is set.
type ValidationResult struct {
	Valid         bool      `json:"valid"`
	Adjusted      bool      `json:"adjusted"`
	AdjustedStart time.Time `json:"adjusted_start"`
	AdjustedEnd   time.Time `json:"adjusted_end"`
	SyncRequired  bool      `json:"sync_required"`
	Reason        string    `json:"reason,omitempty"`
}

// CutoffResult is the outcome of a discovery attempt, produced by an external
// discovery engine and handed to the store. The discovery algorithm itself
// lives outside this repository.
type CutoffResult struct {
	Success        bool          `json:"success"`
	CutoffDate     time.Time     `json:"cutoff_date,omitempty"`
	TestsPerformed int           `json:"tests_performed"`
	Duration       time.Duration `json:"duration_ms"`
	FinalPrecision time.Duration `json:"final_precision_hours"`
}

// Record converts a successful discovery outcome into the record to store.
func (r CutoffResult) Record(marketTag string) CutoffRecord {
	rec := NewRecord(marketTag, r.CutoffDate, r.FinalPrecision)
	rec.DiscoveryMetadata = map[string]any{
		"tests_performed":       r.TestsPerformed,
		"discovery_duration_ms": r.Duration.Milliseconds(),
	}
	return rec
}

// HistoryResult answers "is there enough history for this request".
type HistoryResult struct {
	Sufficient     bool          `json:"sufficient"`
	SyncInProgress bool          `json:"sync_in_progress"`
	EstimatedWait  time.Duration `json:"estimated_wait_ms"`
}

// SyncStatusResult is a point-in-time snapshot of an in-flight history sync.
type SyncStatusResult struct {
	SyncID              string    `json:"sync_id"`
	MarketTag           string    `json:"market_tag"`
	Progress            float64   `json:"progress"`
	EstimatedCompletion time.Time `json:"estimated_completion,omitempty"`
	Completed           bool      `json:"completed"`
	Failed              bool      `json:"failed"`
	Error               string    `json:"error,omitempty"`
}

// Terminal reports whether the sync has finished, successfully or not.
func (s SyncStatusResult) Terminal() bool {
	return s.Completed || s.Failed
}
