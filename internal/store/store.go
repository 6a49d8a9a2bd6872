package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iamcos/cutoffdb/internal/cutoff"
	"github.com/iamcos/cutoffdb/internal/metrics"
)

const (
	schemaVersion     = "1.0"
	defaultMaxBackups = 10
)

// Config holds store configuration.
type Config struct {
	// Path is the primary JSON file holding the cutoff table.
	Path string

	// BackupDir receives one timestamped copy of the pre-write file per
	// successful write. Defaults to a "backups" directory next to Path.
	BackupDir string

	// MaxBackups is the retention limit for the backup directory; older
	// backups are pruned oldest-first. Defaults to 10.
	MaxBackups int
}

// Store is the single authoritative, crash-durable table of
// market tag → CutoffRecord. All operations are safe for concurrent use; a
// store-wide lock serializes writers, and every write persists the complete
// table atomically with a timestamped backup of the previous file.
type Store struct {
	path       string
	backupDir  string
	maxBackups int

	mu        sync.RWMutex
	table     map[string]cutoff.CutoffRecord
	created   time.Time
	recovered bool

	mtr *metrics.Registry
}

// Open loads (or creates) the cutoff database at cfg.Path. A primary file
// that fails structural validation triggers automatic recovery from the most
// recent valid backup; Recovered reports whether that happened. Open fails
// with ErrUnrecoverable when the primary is corrupt and no backup validates.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(filepath.Dir(cfg.Path), "backups")
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = defaultMaxBackups
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	s := &Store{
		path:       cfg.Path,
		backupDir:  cfg.BackupDir,
		maxBackups: cfg.MaxBackups,
		table:      make(map[string]cutoff.CutoffRecord),
		created:    time.Now().UTC(),
		mtr:        metrics.Default(),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	log.Info().
		Str("path", s.path).
		Int("records", len(s.table)).
		Bool("recovered", s.recovered).
		Msg("Cutoff database opened")

	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		// Fresh database: persist an empty table so the file exists and
		// readers opening it directly always see a complete document.
		return s.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("read database: %w", err)
	}

	doc, derr := decodeDocument(data)
	if derr != nil {
		return s.recoverLocked(derr)
	}

	s.adoptLocked(doc)
	return nil
}

// adoptLocked replaces the in-memory state with the decoded document.
func (s *Store) adoptLocked(doc *document) {
	s.table = doc.records
	s.created = doc.created
	s.mtr.Records.Set(float64(len(s.table)))
}

// recoverLocked scans backups newest-first for one that passes structural
// validation, adopts it, and re-persists it as the new primary. The corrupt
// primary ends up preserved in the backup directory by the persist step.
func (s *Store) recoverLocked(cause error) error {
	backups, err := s.listBackupsLocked()
	if err != nil {
		return fmt.Errorf("scan backups after corruption (%v): %w", cause, ErrUnrecoverable)
	}

	for _, name := range backups {
		path := filepath.Join(s.backupDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		doc, derr := decodeDocument(data)
		if derr != nil {
			continue
		}

		s.adoptLocked(doc)
		if err := s.persistLocked(); err != nil {
			return fmt.Errorf("re-persist recovered database: %w", err)
		}
		s.recovered = true
		s.mtr.Recoveries.Inc()

		log.Warn().
			Str("path", s.path).
			Str("backup", name).
			Int("records", len(s.table)).
			AnErr("corruption", cause).
			Msg("Primary database corrupt, recovered from backup")
		return nil
	}

	return fmt.Errorf("primary corrupt (%v), no valid backup: %w", cause, ErrUnrecoverable)
}

// StoreCutoff inserts a new record. The existence check and the insert happen
// under one critical section, so two writers racing on the same market tag
// see exactly one success and one ErrAlreadyExists.
func (s *Store) StoreCutoff(rec cutoff.CutoffRecord) error {
	if rec.MarketTag == "" {
		return fmt.Errorf("record missing market tag")
	}
	if rec.CutoffDate.IsZero() {
		return fmt.Errorf("record %s missing cutoff date", rec.MarketTag)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.table[rec.MarketTag]; exists {
		s.mtr.ImmutabilityViolations.Inc()
		return fmt.Errorf("market %s: %w", rec.MarketTag, ErrAlreadyExists)
	}

	stored := rec.Clone()
	if stored.DiscoveryDate.IsZero() {
		stored.DiscoveryDate = time.Now().UTC()
	}
	s.table[rec.MarketTag] = stored

	if err := s.persistLocked(); err != nil {
		delete(s.table, rec.MarketTag)
		return err
	}

	log.Info().
		Str("market", rec.MarketTag).
		Time("cutoff", rec.CutoffDate).
		Dur("precision", rec.Precision).
		Msg("Cutoff stored")
	return nil
}

// GetCutoff returns a copy of the record for the given market tag, or
// ErrNotFound.
func (s *Store) GetCutoff(marketTag string) (cutoff.CutoffRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.table[marketTag]
	if !ok {
		return cutoff.CutoffRecord{}, fmt.Errorf("market %s: %w", marketTag, ErrNotFound)
	}
	return rec.Clone(), nil
}

// GetAllCutoffs returns a defensive copy of every record, sorted by market
// tag. The live table is never exposed.
func (s *Store) GetAllCutoffs() []cutoff.CutoffRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]cutoff.CutoffRecord, 0, len(s.table))
	for _, rec := range s.table {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketTag < out[j].MarketTag })
	return out
}

// Recovered reports whether the last load fell back to a backup, so operators
// can tell a self-healed start from a clean one.
func (s *Store) Recovered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovered
}

// Path returns the primary file path.
func (s *Store) Path() string {
	return s.path
}
