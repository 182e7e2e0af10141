//go:build integration

// Package dbtest starts a PostgreSQL database with the referral schema for
// integration tests.
package dbtest

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/clinic/referrals/internal/platform/db"
	"github.com/clinic/referrals/migrations"
)

// EnvDatabaseURL points the suite at an existing database instead of a
// container. The database must be disposable: Reset truncates every table.
const EnvDatabaseURL = "TEST_DATABASE_URL"

// Database is a migrated PostgreSQL instance.
type Database struct {
	Pool *pgxpool.Pool
	// Applied is the number of migrations the first Up call ran.
	Applied   int
	container testcontainers.Container
}

// Start connects to TEST_DATABASE_URL, or starts a postgres:16-alpine
// container, and applies the embedded migrations.
func Start(ctx context.Context) (*Database, error) {
	d := &Database{}

	url := os.Getenv(EnvDatabaseURL)
	if url == "" {
		container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("referrals_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		d.container = container

		url, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("postgres connection string: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, url, 5, 1)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Pool = pool

	d.Applied, err = db.NewMigrator(pool, migrations.FS).Up(ctx)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return d, nil
}

// Close releases the pool and terminates the container, if one was started.
func (d *Database) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
	if d.container != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = d.container.Terminate(ctx)
	}
}

// Reset empties every application table.
func (d *Database) Reset(t *testing.T) {
	t.Helper()
	_, err := d.Pool.Exec(context.Background(), `TRUNCATE referral_documents, referrals, provider_notes,
		doctor_locations, referring_doctors, practice_locations, practices, users CASCADE`)
	if err != nil {
		t.Fatalf("reset database: %v", err)
	}
}

// Main runs m against a fresh database and returns the exit code. It is
// meant to be called from TestMain.
func Main(m *testing.M, target **Database) int {
	flag.Parse()
	if testing.Short() {
		fmt.Fprintln(os.Stderr, "skipping integration tests in short mode")
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	d, err := Start(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration database: %v\n", err)
		return 1
	}
	defer d.Close()

	*target = d
	return m.Run()
}
