// Package migrations exposes the embedded relay schema per SQL dialect so a
// go-persistence-bun client can register the right tree before migrating.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	relay "github.com/goliatone/go-relay"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootPath = "data/sql/migrations"
)

type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

// Sources splits the migration tree into its postgres root and the sqlite
// subdirectory. Each source must hold at least one *.up.sql file.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = relay.GetMigrationsFS()
	}
	base, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}
	sources := []Source{
		{Dialect: DialectPostgres, Path: rootPath, FS: base},
		{Dialect: DialectSQLite, Path: rootPath + "/sqlite", FS: sqliteFS},
	}
	for _, source := range sources {
		matches, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s has no *.up.sql files", source.Path)
		}
	}
	return sources, nil
}

// DialectForDriver maps a database/sql driver name to its migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "pgx", "pq":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Register hands every source whose dialect is listed to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	if len(dialects) == 0 {
		dialects = []string{DialectPostgres, DialectSQLite}
	}
	sources, err := Sources(nil)
	if err != nil {
		return err
	}
	registered := 0
	for _, source := range sources {
		if !slices.Contains(dialects, source.Dialect) {
			continue
		}
		if err := registerFn(ctx, source.Dialect, source.FS); err != nil {
			return fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("migrations: no source matches dialects %v", dialects)
	}
	return nil
}
