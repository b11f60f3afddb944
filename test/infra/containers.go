package infra

import (
	"context"
	"fmt"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// dsnEnv points the suite at an already-running database, skipping container
// startup entirely.
const dsnEnv = "IMPRINT_TEST_PG_DSN"

type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres16 provisions a throwaway Postgres 16 instance for the
// integration suites. An explicit overrideDSN, or IMPRINT_TEST_PG_DSN in the
// environment, reuses that database instead.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	for _, dsn := range []string{overrideDSN, os.Getenv(dsnEnv)} {
		if dsn != "" {
			return &PGContainer{}, dsn, nil
		}
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("imprint_it"),
		postgres.WithUsername("imprint_it"),
		postgres.WithPassword("imprint_it"),
	)
	if err != nil {
		return nil, "", fmt.Errorf("infra: start postgres: %w", err)
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", fmt.Errorf("infra: container dsn: %w", err)
	}
	return &PGContainer{C: pgC}, dsn, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
