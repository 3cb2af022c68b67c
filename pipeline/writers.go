package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/lo"

	"github.com/shahryar908/visa-scraper/models"
)

// OutputWriter persists a complete record list to a destination.
type OutputWriter interface {
	Write(records []*models.VisaRecord) error
	Validate() error
}

// Columns returns the union of all record keys in first-seen order.
func Columns(records []*models.VisaRecord) []string {
	return lo.Uniq(lo.FlatMap(records, func(rec *models.VisaRecord, _ int) []string {
		return rec.Keys()
	}))
}

// CSVWriter writes records to a CSV file with a union-of-keys header.
type CSVWriter struct {
	path string
	mu   sync.Mutex
}

// NewCSVWriter returns a writer targeting path. Nothing is created until Write.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

// Path returns the destination file.
func (cw *CSVWriter) Path() string {
	return cw.path
}

// Write replaces the CSV file with a header row plus one row per record.
// An empty list is a no-op.
func (cw *CSVWriter) Write(records []*models.VisaRecord) error {
	if len(records) == 0 {
		slog.Info("no visa information to save", slog.String("file", cw.path))
		return nil
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := ensureDir(cw.path); err != nil {
		return err
	}
	f, err := os.Create(cw.path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	columns := Columns(records)
	writer := csv.NewWriter(f)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(columns))
	for _, rec := range records {
		for i, col := range columns {
			row[i] = rec.Value(col)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close csv file: %w", err)
	}

	slog.Info("saved visa entries", slog.Int("count", len(records)), slog.String("file", cw.path))
	return nil
}

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	return validateFile(cw.path, "csv")
}

// JSONWriter writes records as one indented JSON array.
type JSONWriter struct {
	path string
	mu   sync.Mutex
}

// NewJSONWriter returns a writer targeting path. Nothing is created until Write.
func NewJSONWriter(path string) *JSONWriter {
	return &JSONWriter{path: path}
}

// Path returns the destination file.
func (jw *JSONWriter) Path() string {
	return jw.path
}

// Write replaces the JSON file with the full record list. An empty list is a no-op.
func (jw *JSONWriter) Write(records []*models.VisaRecord) error {
	if len(records) == 0 {
		slog.Info("no visa information to save", slog.String("file", jw.path))
		return nil
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := ensureDir(jw.path); err != nil {
		return err
	}
	f, err := os.Create(jw.path)
	if err != nil {
		return fmt.Errorf("create json file: %w", err)
	}
	defer f.Close()

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("encode json records: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close json file: %w", err)
	}

	slog.Info("saved visa entries", slog.Int("count", len(records)), slog.String("file", jw.path))
	return nil
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateFile(jw.path, "json")
}

func validateFile(path, kind string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
