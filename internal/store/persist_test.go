package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupRetention(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Path: filepath.Join(dir, "cutoffs.json"), MaxBackups: 3})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		tag := fmt.Sprintf("BINANCE_ASSET%d_USDT", i)
		require.NoError(t, st.StoreCutoff(testRecord(tag, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))))
	}

	backups, err := st.listBackupsLocked()
	require.NoError(t, err)
	require.Len(t, backups, 3, "retention keeps at most MaxBackups files")

	// Newest-first ordering by name; the retained files are the most recent.
	for i := 1; i < len(backups); i++ {
		assert.Greater(t, backups[i-1], backups[i])
	}
}

func TestAtomicity_CrashBeforeSwapLeavesOldVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cutoffs.json")

	st, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, st.StoreCutoff(testRecord("BINANCE_ETH_USDT",
		time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC))))

	// Simulate a process killed mid-write: a truncated temp file exists but
	// the rename never happened.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cutoffs-123.json.tmp"),
		[]byte(`{"version": "1.0", "cut`), 0o644))

	reopened, err := Open(Config{Path: path})
	require.NoError(t, err)
	assert.False(t, reopened.Recovered(), "primary was never touched, no recovery needed")

	got, err := reopened.GetCutoff("BINANCE_ETH_USDT")
	require.NoError(t, err)
	assert.Equal(t, "BINANCE_ETH_USDT", got.MarketTag)
}

func TestCorruptionRecovery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cutoffs.json")

	st, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, st.StoreCutoff(testRecord("BINANCE_ETH_USDT",
		time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, st.StoreCutoff(testRecord("KRAKEN_XBT_EUR",
		time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))))

	// Corrupt the primary. The newest backup is the pre-write snapshot of the
	// second store, i.e. the table holding only BINANCE_ETH_USDT.
	require.NoError(t, os.WriteFile(path, []byte(`{"version": "1.0", "garbage`), 0o644))

	recovered, err := Open(Config{Path: path})
	require.NoError(t, err)
	assert.True(t, recovered.Recovered(), "operators must be able to tell a self-healed load")

	_, err = recovered.GetCutoff("BINANCE_ETH_USDT")
	assert.NoError(t, err)
	_, err = recovered.GetCutoff("KRAKEN_XBT_EUR")
	assert.ErrorIs(t, err, ErrNotFound, "recovery adopts the most recent valid backup")

	// The primary was re-persisted and is valid again.
	clean, err := Open(Config{Path: path})
	require.NoError(t, err)
	assert.False(t, clean.Recovered())
	assert.Len(t, clean.GetAllCutoffs(), 1)
}

func TestCorruptionRecovery_SkipsCorruptBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cutoffs.json")

	st, err := Open(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, st.StoreCutoff(testRecord("BINANCE_ETH_USDT",
		time.Date(2017, 8, 17, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, st.StoreCutoff(testRecord("KRAKEN_XBT_EUR",
		time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))))

	// Corrupt the primary and the newest backup; the older backup (the empty
	// initial table) is the most recent valid one.
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	backupDir := filepath.Join(dir, "backups")
	backups, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	newest := backups[len(backups)-1].Name()
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, newest), []byte(`also not json`), 0o644))

	recovered, err := Open(Config{Path: path})
	require.NoError(t, err)
	assert.True(t, recovered.Recovered())
	assert.Empty(t, recovered.GetAllCutoffs())
}

func TestUnrecoverableDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cutoffs.json")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "backups"), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"broken`), 0o644))

	_, err := Open(Config{Path: path})
	assert.ErrorIs(t, err, ErrUnrecoverable)
}

func TestFreshDatabaseCreatesValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cutoffs.json")

	st, err := Open(Config{Path: path})
	require.NoError(t, err)
	assert.Empty(t, st.GetAllCutoffs())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = decodeDocument(data)
	assert.NoError(t, err, "fresh primary must be a complete valid document")
}
