package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Record is the persisted and wire shape of an entry and its descendants.
type Record struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Entries []Record `json:"entries"`
}

// UnmarshalJSON decodes a record and rejects one without a title.
// A missing id is left empty; a missing entries list decodes to no children.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string   `json:"id"`
		Title   *string  `json:"title"`
		Entries []Record `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Title == nil {
		if raw.ID != "" {
			return fmt.Errorf("%w: record %s has no title", ErrMalformedRecord, raw.ID)
		}
		return fmt.Errorf("%w: record has no title", ErrMalformedRecord)
	}
	r.ID = raw.ID
	r.Title = *raw.Title
	r.Entries = raw.Entries
	return nil
}

// MarshalJSON always emits an entries array, empty for leaves.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	p := plain(r)
	if p.Entries == nil {
		p.Entries = []Record{}
	}
	// json.Marshal would escape <, > and & before an outer encoder could opt out.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeRecords decodes a JSON array of records.
func DecodeRecords(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// IndexedEntry is a row of the title index: one entry flattened out of the forest
type IndexedEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Depth     int       `json:"depth"`
	Position  int       `json:"position"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Status is the body returned by mutating API calls.
type Status struct {
	Status  string   `json:"status"`
	Error   string   `json:"error,omitempty"`
	Removed []string `json:"removed,omitempty"`
}
