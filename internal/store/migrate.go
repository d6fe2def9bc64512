// Package store persists extraction products and owns the database schema:
// the product catalog and the operational fishing tables the built-in
// formats read from.
package store

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/extraction/internal/sqldb"
)

//go:embed schema/postgres/*.sql schema/sqlite/*.sql schema/seed.sql
var schemaFS embed.FS

// Migrate applies the schema files of the database dialect in name order.
// Every statement is idempotent.
func Migrate(ctx context.Context, db *sqldb.DB) error {
	dir := path.Join("schema", db.Dialect.Name)
	entries, err := fs.ReadDir(schemaFS, dir)
	if err != nil {
		return errors.Wrapf(err, "read schema for %s", db.Dialect.Name)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := execFile(ctx, db, path.Join(dir, name)); err != nil {
			return err
		}
		slog.Debug("applied schema file", "file", name, "dialect", db.Dialect.Name)
	}
	return nil
}

// Seed inserts the sample operational data. Rows already present are kept.
func Seed(ctx context.Context, db *sqldb.DB) error {
	return execFile(ctx, db, "schema/seed.sql")
}

func execFile(ctx context.Context, db sqldb.DBTX, name string) error {
	content, err := schemaFS.ReadFile(name)
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}
	for i, stmt := range splitStatements(string(content)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "%s: statement %d", name, i+1)
		}
	}
	return nil
}

// splitStatements splits a schema file on semicolons ending a line.
// Schema files must not contain procedural code.
func splitStatements(content string) []string {
	var stmts []string
	for _, part := range strings.Split(content, ";\n") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if part != "" {
			stmts = append(stmts, part)
		}
	}
	return stmts
}
