package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shahryar908/visa-scraper/models"
)

func studentVisa(fees string) *models.VisaRecord {
	return &models.VisaRecord{
		Country:        "Germany",
		VisaType:       "Student",
		Requirements:   []string{"Passport", "Zulassungsbescheid der Universität"},
		ProcessingTime: "4-12 weeks",
		Validity:       "3 months",
		Fees:           fees,
		EntryType:      "Single",
		AllowedStay:    "90 days",
		EmbassyLink:    "https://www.germany-visa.org/",
	}
}

func workVisa(country string) *models.VisaRecord {
	return &models.VisaRecord{
		Country:        country,
		VisaType:       "Work",
		Requirements:   []string{"Passport"},
		ProcessingTime: "8 weeks",
		Validity:       "2 years",
		Fees:           "100 EUR",
		EntryType:      "Multiple",
		AllowedStay:    "24 months",
	}
}

// exerciseStore runs the shared contract against any Store.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	existed, err := store.UpsertVisaRecord(ctx, studentVisa("75 EUR"))
	require.NoError(t, err)
	require.False(t, existed)

	existed, err = store.UpsertVisaRecord(ctx, studentVisa("80 EUR"))
	require.NoError(t, err)
	require.True(t, existed)

	_, err = store.UpsertVisaRecord(ctx, workVisa("France"))
	require.NoError(t, err)
	_, err = store.UpsertVisaRecord(ctx, workVisa("Germany"))
	require.NoError(t, err)

	all, err := store.ListVisaRecords(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "France", all[0].Country)
	require.Equal(t, "Student", all[1].VisaType)
	require.Equal(t, "Work", all[2].VisaType)

	germany, err := store.ListVisaRecords(ctx, "Germany")
	require.NoError(t, err)
	require.Len(t, germany, 2)
	require.Equal(t, "80 EUR", germany[0].Fees)
	require.Equal(t, studentVisa("80 EUR").Requirements, germany[0].Requirements)
	require.Equal(t, "https://www.germany-visa.org/", germany[0].EmbassyLink)
}

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	store, err := NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, newMemoryStore(t))
}

func TestSQLiteStoreEmptyRequirements(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	rec := workVisa("Testland")
	rec.Requirements = nil
	_, err := store.UpsertVisaRecord(ctx, rec)
	require.NoError(t, err)

	got, err := store.ListVisaRecords(ctx, "Testland")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Empty(t, got[0].Requirements)
}

func TestOpenSQLiteFile(t *testing.T) {
	path := t.TempDir() + "/visa.db"
	ctx := context.Background()

	store, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	_, err = store.UpsertVisaRecord(ctx, studentVisa("75 EUR"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer reopened.Close()
	existed, err := reopened.UpsertVisaRecord(ctx, studentVisa("75 EUR"))
	require.NoError(t, err)
	require.True(t, existed, "schema creation must not wipe existing rows")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mongo", "")
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("VISA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VISA_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()
	_, err = store.db.Exec(ctx, `TRUNCATE visa_info`)
	require.NoError(t, err)

	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("VISA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VISA_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, addr)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.client.FlushDB(ctx).Err())

	exerciseStore(t, store)
}
