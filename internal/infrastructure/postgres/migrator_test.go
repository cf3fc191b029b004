package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestSchemaDeclaresDomainConstraints(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS, "migrations/000001_init.up.sql")
	require.NoError(t, err)

	schema := string(data)
	for _, name := range []string{
		"ledger_transactions_obligation_period",
		"balance_snapshots_one_current",
		"alerts_owner_dedup_key",
	} {
		assert.Contains(t, schema, name)
	}
}

func TestMigratorRejectsBadURL(t *testing.T) {
	m := NewMigrator("not-a-url", zerolog.Nop())
	assert.Error(t, m.Up())
}
