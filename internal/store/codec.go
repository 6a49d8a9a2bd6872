package store

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/iamcos/cutoffdb/internal/cutoff"
)

// Format selects an interchange encoding for export and import.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported format %q (want json or csv)", s)
	}
}

// csvHeader is the flattened record layout; discovery_metadata rides along as
// a JSON-encoded string so CSV round-trips stay lossless.
var csvHeader = []string{
	"market_tag", "cutoff_date", "discovery_date", "precision_hours",
	"exchange", "primary_asset", "secondary_asset", "discovery_metadata",
}

// fileDocument is the exact on-disk shape of the primary file and of JSON
// exports.
type fileDocument struct {
	Version     string                    `json:"version"`
	Created     string                    `json:"created"`
	LastUpdated string                    `json:"last_updated"`
	Cutoffs     map[string]map[string]any `json:"cutoffs"`
}

// document is a decoded, validated database file.
type document struct {
	created time.Time
	records map[string]cutoff.CutoffRecord
}

// encodeLocked serializes the in-memory table into the on-disk shape.
// Callers hold at least the read lock.
func (s *Store) encodeLocked(lastUpdated time.Time) ([]byte, error) {
	doc := fileDocument{
		Version:     schemaVersion,
		Created:     s.created.UTC().Format(time.RFC3339Nano),
		LastUpdated: lastUpdated.UTC().Format(time.RFC3339Nano),
		Cutoffs:     make(map[string]map[string]any, len(s.table)),
	}
	for tag, rec := range s.table {
		doc.Cutoffs[tag] = rec.ToMap()
	}
	return json.MarshalIndent(doc, "", "  ")
}

// decodeDocument parses and structurally validates a database file. Any
// violation of the required shape is an error; the caller decides whether
// that means corruption recovery or a rejected import.
func decodeDocument(data []byte) (*document, error) {
	var raw fileDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed database file: %w", err)
	}
	if raw.Version == "" {
		return nil, fmt.Errorf("database file missing version")
	}
	if raw.Cutoffs == nil {
		return nil, fmt.Errorf("database file missing cutoffs table")
	}

	doc := &document{records: make(map[string]cutoff.CutoffRecord, len(raw.Cutoffs))}

	if raw.Created != "" {
		created, err := time.Parse(time.RFC3339, raw.Created)
		if err != nil {
			return nil, fmt.Errorf("database file created timestamp: %w", err)
		}
		doc.created = created
	} else {
		doc.created = time.Now().UTC()
	}

	for tag, m := range raw.Cutoffs {
		rec, err := cutoff.RecordFromMap(m)
		if err != nil {
			return nil, err
		}
		if rec.MarketTag != tag {
			return nil, fmt.Errorf("table key %q does not match record tag %q", tag, rec.MarketTag)
		}
		doc.records[tag] = rec
	}
	return doc, nil
}

// Export serializes a snapshot of the whole table. JSON exports share the
// primary file's shape; CSV exports flatten one record per row.
func (s *Store) Export(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.encodeLocked(time.Now().UTC())
	case FormatCSV:
		return s.exportCSV()
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func (s *Store) exportCSV() ([]byte, error) {
	records := s.GetAllCutoffs()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write CSV header: %w", err)
	}

	for _, rec := range records {
		meta := ""
		if len(rec.DiscoveryMetadata) > 0 {
			encoded, err := json.Marshal(rec.DiscoveryMetadata)
			if err != nil {
				return nil, fmt.Errorf("encode metadata for %s: %w", rec.MarketTag, err)
			}
			meta = string(encoded)
		}
		row := []string{
			rec.MarketTag,
			rec.CutoffDate.UTC().Format(time.RFC3339Nano),
			rec.DiscoveryDate.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(rec.PrecisionHours(), 'f', -1, 64),
			rec.Exchange,
			rec.PrimaryAsset,
			rec.SecondaryAsset,
			meta,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write CSV row for %s: %w", rec.MarketTag, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCSVRecords(data []byte) ([]cutoff.CutoffRecord, []ImportIssue, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(csvHeader)

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read CSV header: %w", err)
	}
	for i, want := range csvHeader {
		if header[i] != want {
			return nil, nil, fmt.Errorf("unexpected CSV header column %d: got %q, want %q", i, header[i], want)
		}
	}

	var (
		records []cutoff.CutoffRecord
		issues  []ImportIssue
		line    = 1
	)
	for {
		line++
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			issues = append(issues, ImportIssue{Line: line, Reason: err.Error()})
			continue
		}

		m := map[string]any{
			"market_tag":      row[0],
			"cutoff_date":     row[1],
			"discovery_date":  row[2],
			"exchange":        row[4],
			"primary_asset":   row[5],
			"secondary_asset": row[6],
		}
		if hours, err := strconv.ParseFloat(row[3], 64); err == nil {
			m["precision_hours"] = hours
		}
		if row[7] != "" {
			var meta map[string]any
			if err := json.Unmarshal([]byte(row[7]), &meta); err != nil {
				issues = append(issues, ImportIssue{MarketTag: row[0], Line: line, Reason: fmt.Sprintf("malformed discovery_metadata: %v", err)})
				continue
			}
			m["discovery_metadata"] = meta
		}

		rec, err := cutoff.RecordFromMap(m)
		if err != nil {
			issues = append(issues, ImportIssue{MarketTag: row[0], Line: line, Reason: err.Error()})
			continue
		}
		records = append(records, rec)
	}
	return records, issues, nil
}

func decodeJSONRecords(data []byte) ([]cutoff.CutoffRecord, []ImportIssue, error) {
	var raw fileDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("malformed JSON import: %w", err)
	}
	if raw.Cutoffs == nil {
		return nil, nil, fmt.Errorf("JSON import missing cutoffs table")
	}

	var (
		records []cutoff.CutoffRecord
		issues  []ImportIssue
	)
	for tag, m := range raw.Cutoffs {
		rec, err := cutoff.RecordFromMap(m)
		if err != nil {
			issues = append(issues, ImportIssue{MarketTag: tag, Reason: err.Error()})
			continue
		}
		if rec.MarketTag != tag {
			issues = append(issues, ImportIssue{MarketTag: tag, Reason: fmt.Sprintf("table key does not match record tag %q", rec.MarketTag)})
			continue
		}
		records = append(records, rec)
	}
	return records, issues, nil
}
