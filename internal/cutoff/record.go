package cutoff

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CutoffRecord is the durable fact the store keeps per market: the earliest
// instant at which verified historical price data exists. Once committed under
// a market tag a record is never mutated; the store enforces this.
type CutoffRecord struct {
	MarketTag         string         `json:"market_tag"`
	CutoffDate        time.Time      `json:"cutoff_date"`
	DiscoveryDate     time.Time      `json:"discovery_date"`
	Precision         time.Duration  `json:"-"`
	Exchange          string         `json:"exchange"`
	PrimaryAsset      string         `json:"primary_asset"`
	SecondaryAsset    string         `json:"secondary_asset"`
	DiscoveryMetadata map[string]any `json:"discovery_metadata,omitempty"`
}

// NewRecord builds a record for the given market tag. Exchange and asset
// fields are parsed from the tag on a best-effort basis; tags that do not
// match the EXCHANGE_PRIMARY_SECONDARY[_TYPE] pattern still produce a record
// with those fields empty.
func NewRecord(marketTag string, cutoffDate time.Time, precision time.Duration) CutoffRecord {
	exchange, primary, secondary := ParseMarketTag(marketTag)
	return CutoffRecord{
		MarketTag:      marketTag,
		CutoffDate:     cutoffDate,
		DiscoveryDate:  time.Now().UTC(),
		Precision:      precision,
		Exchange:       exchange,
		PrimaryAsset:   primary,
		SecondaryAsset: secondary,
	}
}

// ParseMarketTag splits a market tag of the form EXCHANGE_PRIMARY_SECONDARY or
// EXCHANGE_PRIMARY_SECONDARY_TYPE. Tags with any other shape yield empty
// strings; parsing is metadata extraction, not a correctness gate.
func ParseMarketTag(tag string) (exchange, primary, secondary string) {
	parts := strings.Split(tag, "_")
	if len(parts) != 3 && len(parts) != 4 {
		return "", "", ""
	}
	for _, p := range parts {
		if p == "" {
			return "", "", ""
		}
	}
	return parts[0], parts[1], parts[2]
}

// PrecisionHours reports the search precision in hours, the unit used on disk
// and in exports.
func (r CutoffRecord) PrecisionHours() float64 {
	return r.Precision.Hours()
}

// Clone returns a deep copy. The store hands out clones so callers can never
// reach the authoritative table through a shared metadata map.
func (r CutoffRecord) Clone() CutoffRecord {
	out := r
	if r.DiscoveryMetadata != nil {
		out.DiscoveryMetadata = make(map[string]any, len(r.DiscoveryMetadata))
		for k, v := range r.DiscoveryMetadata {
			out.DiscoveryMetadata[k] = v
		}
	}
	return out
}

// ToMap converts the record to its generic structured representation, the
// shape used by the on-disk file and by JSON/CSV interchange.
func (r CutoffRecord) ToMap() map[string]any {
	m := map[string]any{
		"market_tag":      r.MarketTag,
		"cutoff_date":     r.CutoffDate.UTC().Format(time.RFC3339Nano),
		"discovery_date":  r.DiscoveryDate.UTC().Format(time.RFC3339Nano),
		"precision_hours": r.PrecisionHours(),
		"exchange":        r.Exchange,
		"primary_asset":   r.PrimaryAsset,
		"secondary_asset": r.SecondaryAsset,
	}
	if len(r.DiscoveryMetadata) > 0 {
		m["discovery_metadata"] = r.DiscoveryMetadata
	}
	return m
}

// RecordFromMap rebuilds a record from its generic representation. market_tag
// and cutoff_date are required; everything else is optional metadata.
func RecordFromMap(m map[string]any) (CutoffRecord, error) {
	tag, _ := m["market_tag"].(string)
	if tag == "" {
		return CutoffRecord{}, fmt.Errorf("record missing market_tag")
	}

	cutoffDate, err := timeField(m, "cutoff_date")
	if err != nil {
		return CutoffRecord{}, fmt.Errorf("record %s: %w", tag, err)
	}
	if cutoffDate.IsZero() {
		return CutoffRecord{}, fmt.Errorf("record %s: missing cutoff_date", tag)
	}

	discoveryDate, err := timeField(m, "discovery_date")
	if err != nil {
		return CutoffRecord{}, fmt.Errorf("record %s: %w", tag, err)
	}

	rec := CutoffRecord{
		MarketTag:     tag,
		CutoffDate:    cutoffDate,
		DiscoveryDate: discoveryDate,
	}

	if hours, ok := numberField(m, "precision_hours"); ok {
		rec.Precision = time.Duration(hours * float64(time.Hour))
	}
	rec.Exchange, _ = m["exchange"].(string)
	rec.PrimaryAsset, _ = m["primary_asset"].(string)
	rec.SecondaryAsset, _ = m["secondary_asset"].(string)

	if rec.Exchange == "" && rec.PrimaryAsset == "" && rec.SecondaryAsset == "" {
		rec.Exchange, rec.PrimaryAsset, rec.SecondaryAsset = ParseMarketTag(tag)
	}

	if meta, ok := m["discovery_metadata"].(map[string]any); ok && len(meta) > 0 {
		rec.DiscoveryMetadata = make(map[string]any, len(meta))
		for k, v := range meta {
			rec.DiscoveryMetadata[k] = v
		}
	}

	return rec, nil
}

func timeField(m map[string]any, key string) (time.Time, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("field %s is not a timestamp string", key)
	}
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", key, err)
	}
	return t, nil
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
