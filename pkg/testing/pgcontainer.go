package testing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultPGImage = "postgres:17.5"
	pgImageEnv     = "PG_TEST_IMAGE"
)

// PGContainer runs Postgres with the retail schema from db/migrations applied.
type PGContainer struct {
	Container  testcontainers.Container
	ConnString string
}

type PGConfig struct {
	Database string
	Username string
	Password string
	// MigrationsDir defaults to db/migrations at the module root.
	MigrationsDir string
}

func (c PGConfig) withDefaults() PGConfig {
	if c.Database == "" {
		c.Database = "retail_test_db"
	}
	if c.Username == "" {
		c.Username = "test"
	}
	if c.Password == "" {
		c.Password = "test"
	}
	if c.MigrationsDir == "" {
		_, file, _, _ := runtime.Caller(0)
		c.MigrationsDir = filepath.Join(filepath.Dir(file), "..", "..", "db", "migrations")
	}
	return c
}

func NewPGContainer(ctx context.Context, cfg PGConfig) (*PGContainer, error) {
	cfg = cfg.withDefaults()

	script, err := writeInitScript(cfg.MigrationsDir)
	if err != nil {
		return nil, err
	}
	defer os.Remove(script)

	c, err := postgres.Run(ctx,
		containerImage(pgImageEnv, defaultPGImage),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		postgres.WithInitScripts(script),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	connStr, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = terminate(ctx, c)
		return nil, fmt.Errorf("postgres connection string: %w", err)
	}
	return &PGContainer{Container: c, ConnString: connStr}, nil
}

// Terminate stops the container. Safe on a nil receiver.
func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return terminate(ctx, p.Container)
}

// writeInitScript concatenates the *.up.sql files of dir in name order into a
// temp file that the container runs on first start.
func writeInitScript(dir string) (string, error) {
	body, err := initScript(dir)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "retail-migrations-*.sql")
	if err != nil {
		return "", fmt.Errorf("create init script: %w", err)
	}
	if _, err := f.WriteString(body); err != nil {
		f.Close()
		return "", fmt.Errorf("write init script: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close init script: %w", err)
	}
	return f.Name(), nil
}

func initScript(dir string) (string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return "", fmt.Errorf("find migrations: %w", err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no migrations in %s", dir)
	}
	sort.Strings(files)

	var b strings.Builder
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("read migration %s: %w", filepath.Base(f), err)
		}
		b.WriteString("-- ")
		b.WriteString(filepath.Base(f))
		b.WriteByte('\n')
		b.WriteString(strings.TrimRight(string(content), "; \n\t"))
		b.WriteString(";\n\n")
	}
	return b.String(), nil
}
