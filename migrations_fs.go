package connectors

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the oauth_tokens and activity_log schema, with sqlite
// alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
