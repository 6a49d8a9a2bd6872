package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// backupTimeFormat sorts lexically, so retention pruning and recovery can
// order backups by name alone. Nanoseconds keep rapid successive writes from
// colliding.
const backupTimeFormat = "20060102T150405.000000000"

// persistLocked serializes the complete table and swaps it into place:
// temp file in the same directory, backup of the current primary, atomic
// rename, then retention pruning. Callers hold the write lock.
func (s *Store) persistLocked() error {
	start := time.Now()

	data, err := s.encodeLocked(time.Now().UTC())
	if err != nil {
		return fmt.Errorf("serialize database: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cutoffs-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := s.backupPrimaryLocked(); err != nil {
		os.Remove(tmpName)
		return err
	}

	// The swap is the commit point: a reader opening the primary directly
	// sees either the old complete document or the new one, never a partial
	// write.
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace database file: %w", err)
	}

	s.pruneBackupsLocked()

	s.mtr.Writes.Inc()
	s.mtr.WriteDuration.Observe(time.Since(start).Seconds())
	s.mtr.Records.Set(float64(len(s.table)))
	return nil
}

// backupPrimaryLocked copies the current primary file, if any, into the
// backup directory under a sortable timestamped name.
func (s *Store) backupPrimaryLocked() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil // first write, nothing to preserve
	}
	if err != nil {
		return fmt.Errorf("read primary for backup: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", s.backupPrefix(), time.Now().UTC().Format(backupTimeFormat))
	if err := os.WriteFile(filepath.Join(s.backupDir, name), data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

// pruneBackupsLocked keeps the newest maxBackups files, deleting older ones
// oldest-first. Prune failures are logged, not fatal: retention is advisory,
// the write already committed.
func (s *Store) pruneBackupsLocked() {
	backups, err := s.listBackupsLocked()
	if err != nil {
		log.Warn().Err(err).Str("dir", s.backupDir).Msg("Backup pruning skipped")
		return
	}

	for _, name := range backups[min(len(backups), s.maxBackups):] {
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil {
			log.Warn().Err(err).Str("backup", name).Msg("Failed to prune backup")
		}
	}
	s.mtr.BackupFiles.Set(float64(min(len(backups), s.maxBackups)))
}

// listBackupsLocked returns backup file names, newest first.
func (s *Store) listBackupsLocked() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	prefix := s.backupPrefix() + "_"
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (s *Store) backupPrefix() string {
	base := filepath.Base(s.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
