package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Stats summarizes the database for operators and dashboards.
type Stats struct {
	Records      int       `json:"records"`
	FileSize     int64     `json:"file_size_bytes"`
	LastModified time.Time `json:"last_modified"`
	Backups      int       `json:"backups"`
	Recovered    bool      `json:"recovered_from_backup"`
	Path         string    `json:"path"`
}

// Stats returns record count, primary file size and mtime, and the number of
// retained backups.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Records:   len(s.table),
		Recovered: s.recovered,
		Path:      s.path,
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return Stats{}, fmt.Errorf("stat database file: %w", err)
	}
	st.FileSize = info.Size()
	st.LastModified = info.ModTime()

	backups, err := s.listBackupsLocked()
	if err != nil {
		return Stats{}, err
	}
	st.Backups = len(backups)
	return st, nil
}

// Finding is one integrity problem discovered in the primary file.
type Finding struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// ValidateIntegrity structurally checks the primary file on disk: required
// top-level keys, required per-record fields, key/tag agreement, duplicate
// keys. It reports findings rather than failing, so a broken file can still
// be inspected.
func (s *Store) ValidateIntegrity() []Finding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var findings []Finding
	add := func(code, format string, args ...any) {
		findings = append(findings, Finding{Code: code, Detail: fmt.Sprintf(format, args...)})
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		add("unreadable", "cannot read database file: %v", err)
		return findings
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		add("malformed", "database file is not a JSON object: %v", err)
		return findings
	}

	for _, key := range []string{"version", "created", "last_updated", "cutoffs"} {
		if _, ok := raw[key]; !ok {
			add("missing_key", "missing top-level key %q", key)
		}
	}

	for _, key := range []string{"created", "last_updated"} {
		msg, ok := raw[key]
		if !ok {
			continue
		}
		var ts string
		if err := json.Unmarshal(msg, &ts); err != nil {
			add("bad_timestamp", "top-level %q is not a string", key)
			continue
		}
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			add("bad_timestamp", "top-level %q: %v", key, err)
		}
	}

	cutoffsRaw, ok := raw["cutoffs"]
	if !ok {
		return findings
	}

	var table map[string]map[string]any
	if err := json.Unmarshal(cutoffsRaw, &table); err != nil {
		add("malformed", "cutoffs table is not an object of records: %v", err)
		return findings
	}

	for tag, rec := range table {
		if v, _ := rec["market_tag"].(string); v == "" {
			add("missing_field", "record %q missing market_tag", tag)
		} else if v != tag {
			add("key_mismatch", "table key %q does not match record tag %q", tag, v)
		}
		if v, _ := rec["cutoff_date"].(string); v == "" {
			add("missing_field", "record %q missing cutoff_date", tag)
		} else if _, err := time.Parse(time.RFC3339, v); err != nil {
			add("bad_timestamp", "record %q cutoff_date: %v", tag, err)
		}
	}

	for _, key := range duplicateCutoffKeys(data) {
		add("duplicate_key", "cutoffs table declares %q more than once", key)
	}

	return findings
}

// duplicateCutoffKeys walks the raw JSON tokens to find market tags declared
// more than once inside the cutoffs object. encoding/json silently keeps the
// last duplicate, so this is only detectable at the token level.
func duplicateCutoffKeys(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, _ := keyTok.(string)

		if key != "cutoffs" {
			if err := skipValue(dec); err != nil {
				return nil
			}
			continue
		}

		open, err := dec.Token()
		if err != nil || open != json.Delim('{') {
			return nil
		}

		seen := make(map[string]int)
		var order []string
		for dec.More() {
			t, err := dec.Token()
			if err != nil {
				return nil
			}
			k, _ := t.(string)
			if seen[k] == 0 {
				order = append(order, k)
			}
			seen[k]++
			if err := skipValue(dec); err != nil {
				return nil
			}
		}

		var dups []string
		for _, k := range order {
			if seen[k] > 1 {
				dups = append(dups, k)
			}
		}
		return dups
	}
	return nil
}

// skipValue consumes exactly one JSON value from the decoder.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
