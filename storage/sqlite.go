package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/shahryar908/visa-scraper/models"
)

//go:embed schema.sql
var sqliteSchema string

// SQLiteStore keeps records in the visa_info table of a SQLite or libsql
// database. Requirements are stored as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens a local SQLite file, or a remote libsql database when dsn
// starts with libsql://, and ensures the schema exists.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "wss://") {
		driver = "libsql"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	store, err := NewSQLiteStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an open database and applies the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// UpsertVisaRecord implements Store.
func (s *SQLiteStore) UpsertVisaRecord(ctx context.Context, rec *models.VisaRecord) (bool, error) {
	reqs, err := json.Marshal(requirementsOrEmpty(rec.Requirements))
	if err != nil {
		return false, fmt.Errorf("encode requirements: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM visa_info WHERE country = ? AND visa_type = ?`,
		rec.Country, rec.VisaType,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check existing row: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO visa_info (country, visa_type, requirements, processing_time, validity, fees, entry_type, allowed_stay, embassy_link, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (country, visa_type) DO UPDATE SET
		   requirements = excluded.requirements,
		   processing_time = excluded.processing_time,
		   validity = excluded.validity,
		   fees = excluded.fees,
		   entry_type = excluded.entry_type,
		   allowed_stay = excluded.allowed_stay,
		   embassy_link = excluded.embassy_link,
		   notes = excluded.notes`,
		rec.Country, rec.VisaType, string(reqs), rec.ProcessingTime, rec.Validity, rec.Fees,
		rec.EntryType, rec.AllowedStay, rec.EmbassyLink, rec.Notes,
	)
	if err != nil {
		return false, fmt.Errorf("upsert visa record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return n > 0, nil
}

// ListVisaRecords implements Store.
func (s *SQLiteStore) ListVisaRecords(ctx context.Context, country string) ([]*models.VisaRecord, error) {
	query := `SELECT country, visa_type, requirements, COALESCE(processing_time, ''), COALESCE(validity, ''),
		COALESCE(fees, ''), COALESCE(entry_type, ''), COALESCE(allowed_stay, ''),
		COALESCE(embassy_link, ''), COALESCE(notes, '')
		FROM visa_info`
	var args []any
	if country != "" {
		query += ` WHERE country = ?`
		args = append(args, country)
	}
	query += ` ORDER BY country, visa_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list visa records: %w", err)
	}
	defer rows.Close()

	var out []*models.VisaRecord
	for rows.Next() {
		var (
			rec  models.VisaRecord
			reqs string
		)
		if err := rows.Scan(&rec.Country, &rec.VisaType, &reqs, &rec.ProcessingTime, &rec.Validity,
			&rec.Fees, &rec.EntryType, &rec.AllowedStay, &rec.EmbassyLink, &rec.Notes); err != nil {
			return nil, fmt.Errorf("scan visa record: %w", err)
		}
		if err := json.Unmarshal([]byte(reqs), &rec.Requirements); err != nil {
			return nil, fmt.Errorf("decode requirements for %s/%s: %w", rec.Country, rec.VisaType, err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
