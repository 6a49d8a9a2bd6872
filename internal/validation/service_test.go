package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamcos/cutoffdb/internal/cutoff"
	"github.com/iamcos/cutoffdb/internal/histsync"
	"github.com/iamcos/cutoffdb/internal/store"
)

const market = "BINANCEFUTURES_BTC_USDT_PERPETUAL"

var cutoffDate = time.Date(2020, 1, 15, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store, *histsync.Tracker) {
	t.Helper()

	st, err := store.Open(store.Config{Path: t.TempDir() + "/cutoffs.json"})
	require.NoError(t, err)

	tracker := histsync.NewTracker()
	return New(st, tracker), st, tracker
}

func storeCutoff(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.StoreCutoff(cutoff.NewRecord(market, cutoffDate, 24*time.Hour)))
}

func completeSync(t *testing.T, tracker *histsync.Tracker, from time.Time) {
	t.Helper()
	sync, err := tracker.Begin(market, from, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, tracker.Complete(sync.ID))
}

func TestValidateWindow_WindowAfterCutoff(t *testing.T) {
	svc, st, tracker := newTestService(t)
	storeCutoff(t, st)
	completeSync(t, tracker, cutoffDate)

	start := cutoffDate.AddDate(0, 1, 0)
	end := cutoffDate.AddDate(0, 2, 0)

	res, err := svc.ValidateWindow(market, start, end)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.Adjusted)
	assert.False(t, res.SyncRequired)
	assert.True(t, res.AdjustedStart.Equal(start))
	assert.True(t, res.AdjustedEnd.Equal(end))
}

func TestValidateWindow_StartBeforeCutoffIsClipped(t *testing.T) {
	svc, st, tracker := newTestService(t)
	storeCutoff(t, st)
	completeSync(t, tracker, cutoffDate)

	start := cutoffDate.AddDate(-1, 0, 0)
	end := cutoffDate.AddDate(0, 2, 0)

	res, err := svc.ValidateWindow(market, start, end)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.Adjusted)
	assert.True(t, res.AdjustedStart.Equal(cutoffDate))
	assert.True(t, res.AdjustedEnd.Equal(end))
}

func TestValidateWindow_WindowEntirelyBeforeCutoff(t *testing.T) {
	svc, st, _ := newTestService(t)
	storeCutoff(t, st)

	res, err := svc.ValidateWindow(market, cutoffDate.AddDate(-1, 0, 0), cutoffDate)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Reason)
}

func TestValidateWindow_UnknownMarketRequiresSync(t *testing.T) {
	svc, _, _ := newTestService(t)

	start := cutoffDate
	end := cutoffDate.AddDate(0, 1, 0)

	res, err := svc.ValidateWindow("KRAKEN_XBT_EUR", start, end)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.Adjusted)
	assert.True(t, res.SyncRequired)
	assert.True(t, res.AdjustedStart.Equal(start))
}

func TestValidateWindow_UncoveredStartRequiresSync(t *testing.T) {
	svc, st, _ := newTestService(t)
	storeCutoff(t, st)

	res, err := svc.ValidateWindow(market, cutoffDate.AddDate(0, 1, 0), cutoffDate.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.SyncRequired, "no completed sync covers the window")
}

func TestValidateWindow_EmptyWindow(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ValidateWindow(market, cutoffDate, cutoffDate)
	assert.Error(t, err)
}

func TestCheckHistory_Sufficient(t *testing.T) {
	svc, st, tracker := newTestService(t)
	storeCutoff(t, st)
	completeSync(t, tracker, cutoffDate)

	res, err := svc.CheckHistory(market, cutoffDate.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, res.Sufficient)
	assert.False(t, res.SyncInProgress)
}

func TestCheckHistory_StartBeforeCutoff(t *testing.T) {
	svc, st, tracker := newTestService(t)
	storeCutoff(t, st)
	completeSync(t, tracker, cutoffDate)

	res, err := svc.CheckHistory(market, cutoffDate.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.False(t, res.Sufficient)
}

func TestCheckHistory_UnknownMarket(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.CheckHistory(market, cutoffDate)
	require.NoError(t, err)
	assert.False(t, res.Sufficient)
	assert.False(t, res.SyncInProgress)
}

func TestCheckHistory_SyncInProgressEstimatesWait(t *testing.T) {
	svc, st, tracker := newTestService(t)
	storeCutoff(t, st)

	sync, err := tracker.Begin(market, cutoffDate, cutoffDate.AddDate(1, 0, 0))
	require.NoError(t, err)
	require.NoError(t, tracker.Advance(sync.ID, 0.5))

	res, err := svc.CheckHistory(market, cutoffDate.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, res.Sufficient)
	assert.True(t, res.SyncInProgress)
}

func TestSyncStatus(t *testing.T) {
	svc, _, tracker := newTestService(t)

	sync, err := tracker.Begin(market, cutoffDate, cutoffDate.AddDate(1, 0, 0))
	require.NoError(t, err)

	status, err := svc.SyncStatus(sync.ID)
	require.NoError(t, err)
	assert.Equal(t, market, status.MarketTag)

	_, err = svc.SyncStatus("nope")
	assert.ErrorIs(t, err, histsync.ErrUnknownSync)
}
