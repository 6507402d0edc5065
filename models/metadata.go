package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MetadataKind discriminates the closed set of metadata value kinds.
type MetadataKind uint8

const (
	MetadataString MetadataKind = iota + 1
	MetadataNumber
	MetadataBool
	MetadataTime
)

// MetadataValue is one loosely-typed metadata entry constrained to a
// closed set of kinds. Arbitrary nested structures are rejected at parse
// time so unvalidated payloads never reach the ledger.
type MetadataValue struct {
	Kind MetadataKind `json:"-"`
	Str  string       `json:"-"`
	Num  float64      `json:"-"`
	Bool bool         `json:"-"`
	Time time.Time    `json:"-"`
}

// StringValue wraps s as a metadata value.
func StringValue(s string) MetadataValue {
	return MetadataValue{Kind: MetadataString, Str: s}
}

// NumberValue wraps n as a metadata value.
func NumberValue(n float64) MetadataValue {
	return MetadataValue{Kind: MetadataNumber, Num: n}
}

// BoolValue wraps b as a metadata value.
func BoolValue(b bool) MetadataValue {
	return MetadataValue{Kind: MetadataBool, Bool: b}
}

// TimeValue wraps t as a metadata value.
func TimeValue(t time.Time) MetadataValue {
	return MetadataValue{Kind: MetadataTime, Time: t}
}

// MarshalJSON renders the value in its natural JSON form. Timestamps are
// RFC 3339 strings.
func (v MetadataValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case MetadataString:
		return json.Marshal(v.Str)
	case MetadataNumber:
		return json.Marshal(v.Num)
	case MetadataBool:
		return json.Marshal(v.Bool)
	case MetadataTime:
		return json.Marshal(v.Time.Format(time.RFC3339))
	default:
		return nil, fmt.Errorf("metadata value has no kind")
	}
}

// UnmarshalJSON accepts a JSON string, number, or boolean. Strings that
// parse as RFC 3339 instants become timestamps. Objects, arrays, and null
// are rejected.
func (v *MetadataValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = BoolValue(b)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = NumberValue(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if t, terr := time.Parse(time.RFC3339, s); terr == nil {
			*v = TimeValue(t)
			return nil
		}
		*v = StringValue(s)
		return nil
	}
	return fmt.Errorf("metadata values must be strings, numbers, booleans, or RFC 3339 timestamps")
}

// Metadata maps string keys to validated variant values.
type Metadata map[string]MetadataValue

// ParseMetadata decodes a caller-supplied JSON object into validated
// metadata. An empty input yields an empty map.
func ParseMetadata(raw string) (Metadata, error) {
	if raw == "" {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Metadata{}
	}
	return m, nil
}

// Merge copies every entry of other into m, overwriting on key collision.
func (m Metadata) Merge(other Metadata) {
	for k, v := range other {
		m[k] = v
	}
}
