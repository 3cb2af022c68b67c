package pipeline

import (
	"log/slog"
	"sync"

	"github.com/shahryar908/visa-scraper/models"
	"github.com/shahryar908/visa-scraper/parser"
)

// Rejection reasons reported in metrics and logs.
const (
	ReasonIncomplete = "incomplete_record"
	ReasonDuplicate  = "duplicate_entry"
	ReasonDecode     = "decode_failed"
)

// Key identifies a visa record within a run.
type Key struct {
	Country  string
	VisaType string
}

// SeenSet holds the keys accepted so far in a run.
type SeenSet map[Key]struct{}

// Add marks key as seen.
func (s SeenSet) Add(key Key) {
	s[key] = struct{}{}
}

// IsDuplicate reports whether key was already accepted. It never mutates seen.
func IsDuplicate(key Key, seen SeenSet) bool {
	_, ok := seen[key]
	return ok
}

// RunState is the mutable state of one crawl run: the seen-set and the
// accumulated records. It is owned by the orchestrator.
type RunState struct {
	Seen    SeenSet
	records []*models.VisaRecord
}

// NewRunState returns an empty run state.
func NewRunState() *RunState {
	return &RunState{Seen: make(SeenSet)}
}

// Accumulate appends accepted records to the run's result set.
func (s *RunState) Accumulate(records ...*models.VisaRecord) {
	s.records = append(s.records, records...)
}

// Records returns the accumulated records in acceptance order.
func (s *RunState) Records() []*models.VisaRecord {
	out := make([]*models.VisaRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Outcome counts the per-record decisions of one Process call.
type Outcome struct {
	Accepted    int
	Incomplete  int
	Duplicates  int
	Undecodable int
}

// Pipeline coordinates normalization, completeness checks and de-duplication.
type Pipeline struct {
	state          *RunState
	requiredFields []string
	metrics        metrics
}

// NewPipeline builds a pipeline over state. An empty requiredFields falls
// back to models.DefaultRequiredFields.
func NewPipeline(state *RunState, requiredFields []string) *Pipeline {
	if len(requiredFields) == 0 {
		requiredFields = models.DefaultRequiredFields
	}
	return &Pipeline{
		state:          state,
		requiredFields: requiredFields,
		metrics:        newMetrics(),
	}
}

// Process runs every raw record for country through normalize, validate and
// dedupe, in order, and returns the accepted records.
func (p *Pipeline) Process(country string, raws []models.RawRecord) ([]*models.VisaRecord, Outcome) {
	var (
		accepted []*models.VisaRecord
		outcome  Outcome
	)
	for _, raw := range raws {
		rec, reason := p.prepare(country, raw)
		switch reason {
		case "":
			accepted = append(accepted, rec)
			outcome.Accepted++
		case ReasonDuplicate:
			outcome.Duplicates++
		case ReasonDecode:
			outcome.Undecodable++
		default:
			outcome.Incomplete++
		}
	}
	return accepted, outcome
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) prepare(country string, raw models.RawRecord) (*models.VisaRecord, string) {
	normalized := parser.NormalizeRecord(raw, country)
	visaType := visaTypeLabel(normalized)

	if !parser.IsComplete(normalized, p.requiredFields) {
		slog.Info("incomplete visa information, skipping",
			slog.String("country", country),
			slog.String("visa_type", visaType),
			slog.Any("missing", parser.MissingFields(normalized, p.requiredFields)),
		)
		p.metrics.addValidation(ReasonIncomplete)
		return nil, ReasonIncomplete
	}

	rec, err := parser.DecodeRecord(normalized)
	if err != nil {
		slog.Info("undecodable visa information, skipping",
			slog.String("country", country),
			slog.String("visa_type", visaType),
			slog.Any("error", err),
		)
		p.metrics.addValidation(ReasonDecode)
		return nil, ReasonDecode
	}

	key := Key{Country: rec.Country, VisaType: rec.VisaType}
	if IsDuplicate(key, p.state.Seen) {
		slog.Info("duplicate visa information, skipping",
			slog.String("country", country),
			slog.String("visa_type", rec.VisaType),
		)
		p.metrics.addValidation(ReasonDuplicate)
		return nil, ReasonDuplicate
	}

	p.state.Seen.Add(key)
	p.metrics.incrementProcessed()
	return rec, ""
}

func visaTypeLabel(rec models.RawRecord) string {
	if s, ok := rec["visa_type"].(string); ok && s != "" {
		return s
	}
	return "Unknown"
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"validation_errors": copyValidation,
	}
}
