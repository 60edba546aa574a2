// Package migrations applies the embedded relational schema.
//
// Files follow the dbmate layout: one directory per dialect holding
// YYYYMMDDHHMMSS_description.sql files with "-- migrate:up" and
// "-- migrate:down" sections. Applied versions are tracked in the
// schema_migrations table, so the same files can also be run with dbmate.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"
)

// Supported dialect names. They match the directory names in the embedded FS.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

//go:embed sqlite/*.sql postgres/*.sql mysql/*.sql
var embedded embed.FS

// FS returns the embedded migration files.
func FS() fs.FS {
	return embedded
}

var (
	versionRe = regexp.MustCompile(`^(\d+)_`)
	upRe      = regexp.MustCompile(`(?s)-- migrate:up\s*(.*?)(?:-- migrate:down|$)`)
	downRe    = regexp.MustCompile(`(?s)-- migrate:down\s*(.*)$`)
)

// Apply runs every embedded migration for dialect that has not been recorded
// yet and returns the versions it applied.
func Apply(ctx context.Context, db *sql.DB, dialect string, logger *slog.Logger) ([]string, error) {
	return ApplyFS(ctx, db, dialect, embedded, logger)
}

// ApplyFS is Apply over an arbitrary filesystem laid out like the embedded
// one.
func ApplyFS(ctx context.Context, db *sql.DB, dialect string, fsys fs.FS, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	files, err := migrationFiles(fsys, dialect)
	if err != nil {
		return nil, err
	}

	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := AppliedVersions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}

	var done []string
	for _, name := range files {
		version := versionFromFilename(name)
		if applied[version] {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dialect, name))
		if err != nil {
			return done, fmt.Errorf("read migration %s: %w", name, err)
		}
		up, _ := parseMigration(string(content))
		if up == "" {
			logger.WarnContext(ctx, "migration has no up section", slog.String("file", name))
			continue
		}

		logger.InfoContext(ctx, "applying migration", slog.String("dialect", dialect), slog.String("version", version))
		if err := execStatements(ctx, db, up, logger); err != nil {
			return done, fmt.Errorf("apply migration %s: %w", version, err)
		}

		recorded, err := recordVersion(ctx, db, dialect, version)
		if err != nil {
			return done, fmt.Errorf("record migration %s: %w", version, err)
		}
		if recorded {
			done = append(done, version)
		}
	}
	return done, nil
}

// AppliedVersions returns the set of recorded versions. A missing
// schema_migrations table yields an empty set.
func AppliedVersions(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return applied, nil
	}
	defer rows.Close()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func migrationFiles(fsys fs.FS, dialect string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dialect)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %q: %w", dialect, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(255) PRIMARY KEY)`)
	if err != nil && isAlreadyExists(err) {
		return nil
	}
	return err
}

// recordVersion reports false when another process recorded the version
// first.
func recordVersion(ctx context.Context, db *sql.DB, dialect, version string) (bool, error) {
	query := "INSERT INTO schema_migrations (version) VALUES (?)"
	if dialect == DialectPostgres {
		query = "INSERT INTO schema_migrations (version) VALUES ($1)"
	}
	if _, err := db.ExecContext(ctx, query, version); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func execStatements(ctx context.Context, db *sql.DB, script string, logger *slog.Logger) error {
	for _, stmt := range splitStatements(script) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isAlreadyExists(err) {
				logger.DebugContext(ctx, "schema object already exists", slog.Any("error", err))
				continue
			}
			return err
		}
	}
	return nil
}

// splitStatements splits a script on semicolons and drops comment-only
// lines. Statements must not contain literal semicolons.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(part, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		if stmt := strings.TrimSpace(strings.Join(lines, "\n")); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func parseMigration(content string) (up, down string) {
	if m := upRe.FindStringSubmatch(content); len(m) > 1 {
		up = strings.TrimSpace(m[1])
	}
	if m := downRe.FindStringSubmatch(content); len(m) > 1 {
		down = strings.TrimSpace(m[1])
	}
	return up, down
}

func versionFromFilename(name string) string {
	if m := versionRe.FindStringSubmatch(name); len(m) > 1 {
		return m[1]
	}
	return strings.TrimSuffix(name, ".sql")
}

func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "42p07")
}
