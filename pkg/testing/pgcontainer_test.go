package testing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitScript_OrdersMigrations(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"0002_products.up.sql": "CREATE TABLE products (id uuid);\n",
		"0001_brands.up.sql":   "CREATE TABLE brands (id uuid)",
		"0001_brands.down.sql": "DROP TABLE brands;",
		"0003_batches.up.sql":  "CREATE TABLE import_batches (id uuid);;\n\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}

	script, err := initScript(dir)
	require.NoError(t, err)

	assert.NotContains(t, script, "DROP TABLE")
	brands := strings.Index(script, "brands (id uuid);")
	products := strings.Index(script, "products (id uuid);")
	batches := strings.Index(script, "import_batches (id uuid);")
	require.True(t, brands >= 0 && products >= 0 && batches >= 0, script)
	assert.Less(t, brands, products)
	assert.Less(t, products, batches)
	assert.NotContains(t, script, ";;")
}

func TestInitScript_RepoMigrations(t *testing.T) {
	script, err := initScript(PGConfig{}.withDefaults().MigrationsDir)
	require.NoError(t, err)
	assert.Contains(t, script, "-- 0001_reference_tables.up.sql")
	assert.Contains(t, script, "-- 0003_import_batches.up.sql")
}

func TestInitScript_EmptyDir(t *testing.T) {
	_, err := initScript(t.TempDir())
	assert.Error(t, err)
}

func TestContainerImage(t *testing.T) {
	t.Setenv(pgImageEnv, "")
	assert.Equal(t, defaultPGImage, containerImage(pgImageEnv, defaultPGImage))

	t.Setenv(pgImageEnv, "postgres:16")
	assert.Equal(t, "postgres:16", containerImage(pgImageEnv, defaultPGImage))
}
