// Package testutil provides a postgres database for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mbd888/paygate/migrations"
)

const postgresImage = "postgres:16-alpine"

// tables are emptied between tests, children first.
var tables = []string{"payment_callbacks", "payment_attempts"}

// PGTest returns a migrated database and a cleanup that empties the payment
// tables and closes the connection.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// POSTGRES_URL is used when set. With PAYGATE_TESTCONTAINERS=1 a throwaway
// container is started instead. Otherwise the test is skipped.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("POSTGRES_URL")
	switch {
	case dsn != "":
	case os.Getenv("PAYGATE_TESTCONTAINERS") == "1":
		dsn = container(ctx, t)
	default:
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open: %v", err)
	}
	if _, err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: %v", err)
	}

	return db, func() {
		for _, table := range tables {
			if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil { // #nosec G202 -- fixed table names
				t.Logf("pgtest: clear %s: %v", table, err)
			}
		}
		_ = db.Close()
	}
}

func container(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("paygate"),
		postgres.WithUsername("paygate"),
		postgres.WithPassword("paygate"),
		postgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("pgtest: terminate: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("pgtest: start container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pgtest: dsn: %v", err)
	}
	return dsn
}
