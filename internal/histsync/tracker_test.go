package histsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	syncFrom = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	syncTo   = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestBeginAndStatus(t *testing.T) {
	tr := NewTracker()

	sync, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)
	assert.NotEmpty(t, sync.ID)

	status, err := tr.Status(sync.ID)
	require.NoError(t, err)
	assert.Equal(t, "BINANCE_ETH_USDT", status.MarketTag)
	assert.Zero(t, status.Progress)
	assert.False(t, status.Terminal())
}

func TestBegin_Validation(t *testing.T) {
	tr := NewTracker()

	_, err := tr.Begin("", syncFrom, syncTo)
	assert.Error(t, err)

	_, err = tr.Begin("BINANCE_ETH_USDT", syncTo, syncFrom)
	assert.Error(t, err)
}

func TestBegin_OneActiveSyncPerMarket(t *testing.T) {
	tr := NewTracker()

	first, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)

	_, err = tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	assert.ErrorIs(t, err, ErrSyncActive)

	// A different market is fine.
	_, err = tr.Begin("KRAKEN_XBT_EUR", syncFrom, syncTo)
	assert.NoError(t, err)

	// And after completion the market can sync again.
	require.NoError(t, tr.Complete(first.ID))
	_, err = tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	assert.NoError(t, err)
}

func TestAdvanceAndETA(t *testing.T) {
	tr := NewTracker()
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := started
	tr.now = func() time.Time { return now }

	sync, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)

	now = started.Add(time.Minute)
	require.NoError(t, tr.Advance(sync.ID, 0.25))

	status, err := tr.Status(sync.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.25, status.Progress)
	// A quarter done after one minute extrapolates to four minutes total.
	assert.Equal(t, started.Add(4*time.Minute), status.EstimatedCompletion)
}

func TestAdvance_ClampsAndNeverRegresses(t *testing.T) {
	tr := NewTracker()

	sync, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)

	require.NoError(t, tr.Advance(sync.ID, 0.6))
	require.NoError(t, tr.Advance(sync.ID, 0.3))
	status, err := tr.Status(sync.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.6, status.Progress)

	require.NoError(t, tr.Advance(sync.ID, 5))
	status, err = tr.Status(sync.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, status.Progress)
}

func TestCompleteRecordsCoverage(t *testing.T) {
	tr := NewTracker()

	_, ok := tr.CoveredSince("BINANCE_ETH_USDT")
	assert.False(t, ok)

	sync, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)
	require.NoError(t, tr.Complete(sync.ID))

	since, ok := tr.CoveredSince("BINANCE_ETH_USDT")
	require.True(t, ok)
	assert.True(t, since.Equal(syncFrom))

	// Earlier coverage wins; later syncs never shrink it.
	later, err := tr.Begin("BINANCE_ETH_USDT", syncFrom.AddDate(0, 6, 0), syncTo)
	require.NoError(t, err)
	require.NoError(t, tr.Complete(later.ID))

	since, ok = tr.CoveredSince("BINANCE_ETH_USDT")
	require.True(t, ok)
	assert.True(t, since.Equal(syncFrom))
}

func TestFail(t *testing.T) {
	tr := NewTracker()

	sync, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)
	require.NoError(t, tr.Fail(sync.ID, "provider unavailable"))

	status, err := tr.Status(sync.ID)
	require.NoError(t, err)
	assert.True(t, status.Failed)
	assert.True(t, status.Terminal())
	assert.Equal(t, "provider unavailable", status.Error)

	// Failed syncs record no coverage.
	_, ok := tr.CoveredSince("BINANCE_ETH_USDT")
	assert.False(t, ok)

	// Terminal syncs reject further progress.
	assert.ErrorIs(t, tr.Advance(sync.ID, 0.9), ErrSyncFinished)
	assert.ErrorIs(t, tr.Complete(sync.ID), ErrSyncFinished)
}

func TestStatus_UnknownSync(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Status("nope")
	assert.ErrorIs(t, err, ErrUnknownSync)
}

func TestWatch(t *testing.T) {
	tr := NewTracker()

	sync, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)

	updates, cancel, err := tr.Watch(sync.ID)
	require.NoError(t, err)
	defer cancel()

	// The current state is delivered immediately.
	first := <-updates
	assert.Zero(t, first.Progress)

	require.NoError(t, tr.Advance(sync.ID, 0.5))
	next := <-updates
	assert.Equal(t, 0.5, next.Progress)

	require.NoError(t, tr.Complete(sync.ID))
	final := <-updates
	assert.True(t, final.Completed)

	_, open := <-updates
	assert.False(t, open, "channel closes after the terminal update")
}

func TestWatch_TerminalSyncClosesImmediately(t *testing.T) {
	tr := NewTracker()

	sync, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)
	require.NoError(t, tr.Complete(sync.ID))

	updates, cancel, err := tr.Watch(sync.ID)
	require.NoError(t, err)
	defer cancel()

	final := <-updates
	assert.True(t, final.Completed)
	_, open := <-updates
	assert.False(t, open)
}

func TestWatch_CancelDetaches(t *testing.T) {
	tr := NewTracker()

	sync, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)

	updates, cancel, err := tr.Watch(sync.ID)
	require.NoError(t, err)
	<-updates
	cancel()

	_, open := <-updates
	assert.False(t, open)

	// Progress after cancel must not panic on a closed channel.
	require.NoError(t, tr.Advance(sync.ID, 0.5))
}

func TestActiveForTag(t *testing.T) {
	tr := NewTracker()

	_, ok := tr.ActiveForTag("BINANCE_ETH_USDT")
	assert.False(t, ok)

	sync, err := tr.Begin("BINANCE_ETH_USDT", syncFrom, syncTo)
	require.NoError(t, err)

	status, ok := tr.ActiveForTag("BINANCE_ETH_USDT")
	require.True(t, ok)
	assert.Equal(t, sync.ID, status.SyncID)

	require.NoError(t, tr.Complete(sync.ID))
	_, ok = tr.ActiveForTag("BINANCE_ETH_USDT")
	assert.False(t, ok)
}
