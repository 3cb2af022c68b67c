// Package models defines data structures for the scraper.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// RawRecord is one candidate record as parsed from an extracted payload.
type RawRecord map[string]any

// FieldNames lists the VisaRecord fields in schema order.
var FieldNames = []string{
	"country",
	"visa_type",
	"requirements",
	"processing_time",
	"validity",
	"fees",
	"entry_type",
	"allowed_stay",
	"embassy_link",
	"notes",
}

// DefaultRequiredFields is the required-field set used when none is configured.
var DefaultRequiredFields = []string{
	"country",
	"visa_type",
	"requirements",
	"processing_time",
	"validity",
	"fees",
	"entry_type",
	"allowed_stay",
}

// VisaRecord is the canonical visa-requirement entry for one (country, visa type) pair.
type VisaRecord struct {
	Country        string         `json:"country" mapstructure:"country"`
	VisaType       string         `json:"visa_type" mapstructure:"visa_type"`
	Requirements   []string       `json:"requirements" mapstructure:"requirements"`
	ProcessingTime string         `json:"processing_time" mapstructure:"processing_time"`
	Validity       string         `json:"validity" mapstructure:"validity"`
	Fees           string         `json:"fees" mapstructure:"fees"`
	EntryType      string         `json:"entry_type" mapstructure:"entry_type"`
	AllowedStay    string         `json:"allowed_stay" mapstructure:"allowed_stay"`
	EmbassyLink    string         `json:"embassy_link,omitempty" mapstructure:"embassy_link"`
	Notes          string         `json:"notes,omitempty" mapstructure:"notes"`
	Extra          map[string]any `json:"-" mapstructure:",remain"`

	// Raw keeps the extracted value of any schema field whose typed form
	// would lose information, such as a number, an object or an empty link.
	Raw map[string]any `json:"-" mapstructure:"-"`
}

// DecodeMap converts a raw record into a VisaRecord without dropping data.
// Non-string values of text fields are rendered as JSON text and kept as
// they were in Raw; unknown keys land in Extra.
func DecodeMap(m map[string]any) (*VisaRecord, error) {
	var rec VisaRecord
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.DecodeHookFuncType(textHook),
		Result:     &rec,
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if len(rec.Extra) == 0 {
		rec.Extra = nil
	}
	for _, name := range FieldNames {
		v, ok := m[name]
		if !ok || !keepsSource(name, v) {
			continue
		}
		if rec.Raw == nil {
			rec.Raw = make(map[string]any)
		}
		rec.Raw[name] = v
	}
	return &rec, nil
}

var stringSliceType = reflect.TypeOf([]string(nil))

func textHook(from, to reflect.Type, data any) (any, error) {
	switch {
	case to.Kind() == reflect.String && from.Kind() != reflect.String:
		return TextValue(data), nil
	case to == stringSliceType:
		switch v := data.(type) {
		case []string:
			return v, nil
		case []any:
			out := make([]string, len(v))
			for i, item := range v {
				out[i] = TextValue(item)
			}
			return out, nil
		default:
			return []string{TextValue(data)}, nil
		}
	}
	return data, nil
}

// keepsSource reports whether the typed field cannot reproduce v.
func keepsSource(name string, v any) bool {
	switch name {
	case "requirements":
		switch items := v.(type) {
		case nil, []string:
			return false
		case []any:
			for _, item := range items {
				if _, ok := item.(string); !ok {
					return true
				}
			}
			return false
		}
		return true
	case "embassy_link", "notes":
		s, ok := v.(string)
		return !ok || s == ""
	}
	_, ok := v.(string)
	return !ok
}

// TextValue renders v as flat text: strings unchanged, nil as empty and
// anything else as compact JSON.
func TextValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	}
	b, err := encodeNoEscape(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Keys returns the record's column names: schema fields in order (optional
// fields only when set) followed by extra keys sorted.
func (r *VisaRecord) Keys() []string {
	keys := make([]string, 0, len(FieldNames)+len(r.Extra))
	for _, name := range FieldNames {
		if r.omitted(name) {
			continue
		}
		keys = append(keys, name)
	}
	return append(keys, r.extraKeys()...)
}

// omitted reports whether an optional field is left out of the output.
func (r *VisaRecord) omitted(name string) bool {
	if _, ok := r.Raw[name]; ok {
		return false
	}
	switch name {
	case "embassy_link":
		return r.EmbassyLink == ""
	case "notes":
		return r.Notes == ""
	}
	return false
}

func (r *VisaRecord) field(name string) any {
	if name == "requirements" {
		return r.Requirements
	}
	return r.Value(name)
}

// Value renders one column as flat text. Requirements are joined the way a
// single CSV cell would show them.
func (r *VisaRecord) Value(key string) string {
	switch key {
	case "country":
		return r.Country
	case "visa_type":
		return r.VisaType
	case "requirements":
		return formatList(r.Requirements)
	case "processing_time":
		return r.ProcessingTime
	case "validity":
		return r.Validity
	case "fees":
		return r.Fees
	case "entry_type":
		return r.EntryType
	case "allowed_stay":
		return r.AllowedStay
	case "embassy_link":
		return r.EmbassyLink
	case "notes":
		return r.Notes
	}
	if list, ok := r.Extra[key].([]string); ok {
		return formatList(list)
	}
	return TextValue(r.Extra[key])
}

// MarshalJSON emits the schema fields, using Raw values where present,
// followed by any extra keys.
func (r VisaRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, value any) error {
		k, err := encodeNoEscape(key)
		if err != nil {
			return err
		}
		v, err := encodeNoEscape(value)
		if err != nil {
			return fmt.Errorf("encode field %q: %w", key, err)
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	for _, name := range FieldNames {
		if r.omitted(name) {
			continue
		}
		value, ok := r.Raw[name]
		if !ok {
			value = r.field(name)
		}
		if err := write(name, value); err != nil {
			return nil, err
		}
	}
	for _, key := range r.extraKeys() {
		if err := write(key, r.Extra[key]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes with DecodeMap, so unknown keys stay in Extra and
// non-text schema values stay in Raw.
func (r *VisaRecord) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	rec, err := DecodeMap(m)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}

func (r *VisaRecord) extraKeys() []string {
	if len(r.Extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func encodeNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func formatList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	b, err := encodeNoEscape(items)
	if err != nil {
		return strings.Join(items, ", ")
	}
	return string(b)
}

// CountryResult summarises the outcome of one country's fetch-and-extract step.
type CountryResult struct {
	Country    string
	URL        string
	Accepted   int
	Incomplete int
	Duplicates int
	ErrorType  string
	Error      string
}

// RunResult holds the overall result of a crawl run.
type RunResult struct {
	Records         []*VisaRecord
	Countries       []CountryResult
	StartTime       time.Time
	EndTime         time.Time
	ErrorCount      int
	FailedCountries []string
	ErrorsByType    map[string]int
	StoredInserted  int
	StoredUpdated   int
}
