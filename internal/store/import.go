package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iamcos/cutoffdb/internal/cutoff"
)

type decodedBatch struct {
	records []cutoff.CutoffRecord
	issues  []ImportIssue
}

type recordSnapshot struct {
	record  cutoff.CutoffRecord
	existed bool
}

// ImportOptions controls how an import treats existing records.
type ImportOptions struct {
	// Repair allows imported records to replace existing ones. This is the
	// explicit administrative escape hatch from the immutability rule; the
	// default import skips duplicates with a warning.
	Repair bool
}

// ImportIssue describes one record that could not be imported. The batch
// continues past bad records.
type ImportIssue struct {
	MarketTag string `json:"market_tag,omitempty"`
	Line      int    `json:"line,omitempty"`
	Reason    string `json:"reason"`
}

// ImportSummary reports what an import batch did.
type ImportSummary struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Replaced int           `json:"replaced"`
	Issues   []ImportIssue `json:"issues,omitempty"`
}

// Import merges records from a JSON or CSV export into the table. Records for
// market tags already present are skipped with a warning unless opts.Repair is
// set. Malformed records are reported per-record in the summary; only a
// payload that cannot be parsed at all fails the batch. At most one persisted
// write (and therefore one backup) happens per batch.
func (s *Store) Import(format Format, data []byte, opts ImportOptions) (*ImportSummary, error) {
	var (
		decoded decodedBatch
		err     error
	)
	switch format {
	case FormatJSON:
		decoded.records, decoded.issues, err = decodeJSONRecords(data)
	case FormatCSV:
		decoded.records, decoded.issues, err = decodeCSVRecords(data)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return nil, err
	}

	summary := &ImportSummary{Issues: decoded.issues}
	for _, iss := range decoded.issues {
		s.mtr.SkippedRecords.WithLabelValues(string(format), "invalid").Inc()
		log.Warn().
			Str("market", iss.MarketTag).
			Int("line", iss.Line).
			Str("reason", iss.Reason).
			Msg("Import record rejected")
	}

	// Deterministic apply order regardless of decode order.
	sort.Slice(decoded.records, func(i, j int) bool {
		return decoded.records[i].MarketTag < decoded.records[j].MarketTag
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := make(map[string]recordSnapshot, len(decoded.records))
	changed := false
	for _, rec := range decoded.records {
		old, exists := s.table[rec.MarketTag]
		if exists && !opts.Repair {
			summary.Skipped++
			s.mtr.SkippedRecords.WithLabelValues(string(format), "duplicate").Inc()
			log.Warn().
				Str("market", rec.MarketTag).
				Msg("Import skipped existing cutoff (use repair to overwrite)")
			continue
		}

		previous[rec.MarketTag] = recordSnapshot{record: old, existed: exists}
		stored := rec.Clone()
		if stored.DiscoveryDate.IsZero() {
			stored.DiscoveryDate = time.Now().UTC()
		}
		s.table[rec.MarketTag] = stored
		changed = true
		if exists {
			summary.Replaced++
		} else {
			summary.Imported++
		}
		s.mtr.ImportedRecords.WithLabelValues(string(format)).Inc()
	}

	if !changed {
		return summary, nil
	}

	if err := s.persistLocked(); err != nil {
		// Roll the table back so a failed disk write leaves memory and disk
		// agreeing.
		for tag, snap := range previous {
			if snap.existed {
				s.table[tag] = snap.record
			} else {
				delete(s.table, tag)
			}
		}
		return nil, err
	}

	log.Info().
		Str("format", string(format)).
		Int("imported", summary.Imported).
		Int("skipped", summary.Skipped).
		Int("replaced", summary.Replaced).
		Int("rejected", len(summary.Issues)).
		Msg("Import completed")
	return summary, nil
}
