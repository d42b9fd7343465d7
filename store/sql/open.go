package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// ConnectionConfig satisfies the go-persistence-bun client config.
type ConnectionConfig struct {
	Driver          string
	DSN             string
	Debug           bool
	PingTimeout     time.Duration
	OtelIdentifier  string
	SkipMigrations  bool
	MaxOpenConns    int
	MigrationSource fs.FS
}

func (c ConnectionConfig) GetDebug() bool {
	return c.Debug
}

func (c ConnectionConfig) GetDriver() string {
	return c.Driver
}

func (c ConnectionConfig) GetServer() string {
	return c.DSN
}

func (c ConnectionConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c ConnectionConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-connectors"
	}
	return c.OtelIdentifier
}

// Open connects, registers the oauth_tokens and activity_log migrations for
// the driver's dialect and applies them unless SkipMigrations is set.
func Open(ctx context.Context, cfg ConnectionConfig) (*persistence.Client, error) {
	dialectName, err := migrations.DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	var dialect schema.Dialect = pgdialect.New()
	if dialectName == migrations.DialectSQLite {
		dialect = sqlitedialect.New()
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: persistence client: %w", err)
	}
	if cfg.SkipMigrations {
		return client, nil
	}

	opts := []migrations.Option{migrations.WithValidationTargets(dialectName)}
	if cfg.MigrationSource != nil {
		filesystems, fsErr := migrations.Filesystems(cfg.MigrationSource)
		if fsErr != nil {
			_ = client.Close()
			return nil, fsErr
		}
		opts = append(opts, migrations.WithFilesystems(filesystems...))
	}
	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != dialectName {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return client, nil
}

func OpenSQLite(ctx context.Context, dsn string) (*persistence.Client, error) {
	return Open(ctx, ConnectionConfig{Driver: "sqlite3", DSN: dsn, MaxOpenConns: 1})
}

func OpenPostgres(ctx context.Context, dsn string) (*persistence.Client, error) {
	return Open(ctx, ConnectionConfig{Driver: "postgres", DSN: dsn})
}
