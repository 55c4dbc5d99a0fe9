package postgres

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMigrationSetsVectorWidth(t *testing.T) {
	content, err := fs.ReadFile(migrationsFS, "migrations/0001_schema.sql")
	require.NoError(t, err)

	rendered := renderMigration(string(content), 384)
	assert.Contains(t, rendered, "VECTOR(384)")
	assert.NotContains(t, rendered, "{{dimensions}}")
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1", placeholder(1))
	assert.Equal(t, "$1, $2, $3", placeholders(3))
}
