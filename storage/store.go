// Package storage persists accepted visa records keyed by (country, visa type).
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/shahryar908/visa-scraper/models"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Store is a keyed sink for visa records. Only schema fields are persisted.
type Store interface {
	// UpsertVisaRecord inserts rec or replaces the row with the same
	// (country, visa type), reporting whether such a row existed.
	UpsertVisaRecord(ctx context.Context, rec *models.VisaRecord) (existed bool, err error)
	// ListVisaRecords returns stored records ordered by country and visa
	// type. An empty country lists everything.
	ListVisaRecords(ctx context.Context, country string) ([]*models.VisaRecord, error)
	Close() error
}

// Open connects to the store named by driver: sqlite, postgres or redis.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return NewPostgresStore(ctx, dsn)
	case "redis":
		return NewRedisStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func requirementsOrEmpty(reqs []string) []string {
	if reqs == nil {
		return []string{}
	}
	return reqs
}
