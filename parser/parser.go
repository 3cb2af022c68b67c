// Package parser turns extracted payloads into canonical visa records.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/shahryar908/visa-scraper/models"
)

// ErrUnexpectedPayload is returned when the payload is valid JSON but not a
// record or a list of records.
var ErrUnexpectedPayload = errors.New("payload is not a list of records")

var validate = validator.New()

// CountryName converts a country identifier such as "united-kingdom" into
// its display form "United Kingdom".
func CountryName(identifier string) string {
	return titleCase(strings.ReplaceAll(identifier, "-", " "))
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToTitle(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

// SplitRequirements splits a comma-joined requirements string into trimmed pieces.
func SplitRequirements(text string) []string {
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}

// NormalizeRecord returns a copy of raw with the configured country name
// applied and a string requirements field split into a list.
func NormalizeRecord(raw models.RawRecord, country string) models.RawRecord {
	out := make(models.RawRecord, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	out["country"] = CountryName(country)
	if text, ok := out["requirements"].(string); ok {
		out["requirements"] = SplitRequirements(text)
	}
	return out
}

// IsComplete reports whether every required field is present and non-empty.
func IsComplete(rec models.RawRecord, required []string) bool {
	return len(MissingFields(rec, required)) == 0
}

// MissingFields lists the required fields that are absent or empty.
func MissingFields(rec models.RawRecord, required []string) []string {
	var missing []string
	for _, key := range required {
		value, ok := rec[key]
		if !ok || !truthy(value) {
			missing = append(missing, key)
		}
	}
	return missing
}

func truthy(value any) bool {
	if value == nil {
		return false
	}
	tag := "required"
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		tag = "required,min=1"
	}
	return validate.Var(value, tag) == nil
}

// DecodeRecord converts a normalized raw record into a VisaRecord. It does
// not reject validated records: values that do not fit a text field are
// rendered as JSON text and kept as extracted in Raw.
func DecodeRecord(raw models.RawRecord) (*models.VisaRecord, error) {
	return models.DecodeMap(raw)
}

// ParseExtracted parses an extracted payload into raw records. A single JSON
// object is treated as a one-record list; non-object list items are dropped.
func ParseExtracted(payload string) ([]models.RawRecord, error) {
	var decoded any
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &decoded); err != nil {
		return nil, fmt.Errorf("parse extracted content: %w", err)
	}

	switch v := decoded.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []models.RawRecord{v}, nil
	case []any:
		out := make([]models.RawRecord, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out, nil
	default:
		return nil, ErrUnexpectedPayload
	}
}
