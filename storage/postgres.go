package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shahryar908/visa-scraper/models"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS visa_info (
	id BIGSERIAL PRIMARY KEY,
	country TEXT NOT NULL,
	visa_type TEXT NOT NULL,
	requirements TEXT[] NOT NULL DEFAULT '{}',
	processing_time TEXT NOT NULL DEFAULT '',
	validity TEXT NOT NULL DEFAULT '',
	fees TEXT NOT NULL DEFAULT '',
	entry_type TEXT NOT NULL DEFAULT '',
	allowed_stay TEXT NOT NULL DEFAULT '',
	embassy_link TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (country, visa_type)
)`

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore connects to connStr and ensures the visa_info table exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// UpsertVisaRecord implements Store. xmax is non-zero only for rows that
// the statement updated rather than inserted.
func (s *PostgresStore) UpsertVisaRecord(ctx context.Context, rec *models.VisaRecord) (bool, error) {
	var existed bool
	err := s.db.QueryRow(ctx,
		`INSERT INTO visa_info (country, visa_type, requirements, processing_time, validity, fees, entry_type, allowed_stay, embassy_link, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (country, visa_type) DO UPDATE SET
		   requirements = EXCLUDED.requirements,
		   processing_time = EXCLUDED.processing_time,
		   validity = EXCLUDED.validity,
		   fees = EXCLUDED.fees,
		   entry_type = EXCLUDED.entry_type,
		   allowed_stay = EXCLUDED.allowed_stay,
		   embassy_link = EXCLUDED.embassy_link,
		   notes = EXCLUDED.notes,
		   updated_at = NOW()
		 RETURNING (xmax <> 0)`,
		rec.Country, rec.VisaType, requirementsOrEmpty(rec.Requirements), rec.ProcessingTime, rec.Validity,
		rec.Fees, rec.EntryType, rec.AllowedStay, rec.EmbassyLink, rec.Notes,
	).Scan(&existed)
	if err != nil {
		return false, fmt.Errorf("upsert visa record: %w", err)
	}
	return existed, nil
}

// ListVisaRecords implements Store.
func (s *PostgresStore) ListVisaRecords(ctx context.Context, country string) ([]*models.VisaRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT country, visa_type, requirements, processing_time, validity, fees, entry_type, allowed_stay, embassy_link, notes
		 FROM visa_info
		 WHERE $1 = '' OR country = $1
		 ORDER BY country, visa_type`,
		country,
	)
	if err != nil {
		return nil, fmt.Errorf("list visa records: %w", err)
	}
	defer rows.Close()

	var out []*models.VisaRecord
	for rows.Next() {
		var rec models.VisaRecord
		if err := rows.Scan(&rec.Country, &rec.VisaType, &rec.Requirements, &rec.ProcessingTime, &rec.Validity,
			&rec.Fees, &rec.EntryType, &rec.AllowedStay, &rec.EmbassyLink, &rec.Notes); err != nil {
			return nil, fmt.Errorf("scan visa record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
