package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketclock/reminder-engine/engine"
	"github.com/marketclock/reminder-engine/engine/store/storetest"
	"github.com/marketclock/reminder-engine/store/postgres"
)

// REMINDER_ENGINE_POSTGRES_DSN points at a disposable database; every case
// truncates the tables first.
const dsnEnv = "REMINDER_ENGINE_POSTGRES_DSN"

func TestPostgres_Contract(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	storetest.Run(t, func(t *testing.T) engine.Store {
		ctx := context.Background()
		s, err := postgres.New(ctx, dsn)
		require.NoError(t, err)
		require.NoError(t, s.Truncate(ctx))
		return s
	})
}
