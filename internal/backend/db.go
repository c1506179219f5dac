/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package backend publishes story scripts to a shared Postgres database and
// serves them over a small authenticated HTTP API.
package backend

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	applog "gonovel/internal/log"
	"gonovel/internal/script"
	"gonovel/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a script is not published.
var ErrNotFound = errors.New("script not published")

// Script is a published script source.
type Script struct {
	Story     string    `json:"story"`
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Hash      string    `json:"hash"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScriptInfo is the listing projection of Script.
type ScriptInfo struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the Postgres script repository.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open connects to dsn through the pgx stdlib driver and pings the server.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Store{db: db, log: applog.WithComponent("backend")}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate applies embedded SQL migrations in filename order and records them in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, s.db, s.log)
}

func applyMigrations(ctx context.Context, db *sql.DB, l *slog.Logger) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	// dialect=PostgreSQL
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied := map[int64]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		l.Info("applying migration", slog.String("file", fname))
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", fname, err)
		}
		if _, err := tx.ExecContext(ctx, string(b)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", fname, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES($1, $2)`, version, fname); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", fname, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}

// PutScript publishes source as script id of story. Unchanged content keeps
// its version; changed content bumps it. The searchable lines are replaced.
func (s *Store) PutScript(ctx context.Context, story, id, source string) (int64, error) {
	hash := storage.ContentHash(source)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	var version int64
	err = tx.QueryRowContext(ctx, `INSERT INTO scripts(story, id, source, hash) VALUES($1,$2,$3,$4)
		ON CONFLICT (story, id) DO UPDATE SET
			source = EXCLUDED.source,
			hash = EXCLUDED.hash,
			version = CASE WHEN scripts.hash = EXCLUDED.hash THEN scripts.version ELSE scripts.version + 1 END,
			updated_at = CASE WHEN scripts.hash = EXCLUDED.hash THEN scripts.updated_at ELSE now() END
		RETURNING version`, story, id, source, hash).Scan(&version)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("upsert script %s/%s: %w", story, id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM lines WHERE story=$1 AND script_id=$2`, story, id); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("clear lines: %w", err)
	}
	parsed, _ := script.Parse(source)
	for _, ln := range storage.ExtractLines(parsed.Commands) {
		speaker := sql.NullString{String: ln.Speaker, Valid: ln.Speaker != ""}
		if _, err := tx.ExecContext(ctx, `INSERT INTO lines(story, script_id, idx, line, kind, speaker, text) VALUES($1,$2,$3,$4,$5,$6,$7)`,
			story, id, ln.Index, ln.Line, ln.Kind, speaker, ln.Text); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert line: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.log.Debug("script published", slog.String("story", story), slog.String("script", id), slog.Int64("version", version))
	return version, nil
}

// GetScript returns a published script.
func (s *Store) GetScript(ctx context.Context, story, id string) (Script, error) {
	sc := Script{Story: story, ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT source, hash, version, updated_at FROM scripts WHERE story=$1 AND id=$2`, story, id).
		Scan(&sc.Source, &sc.Hash, &sc.Version, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Script{}, fmt.Errorf("%s/%s: %w", story, id, ErrNotFound)
	}
	if err != nil {
		return Script{}, fmt.Errorf("get script %s/%s: %w", story, id, err)
	}
	return sc, nil
}

// ListScripts lists the published scripts of story ordered by id.
func (s *Store) ListScripts(ctx context.Context, story string) ([]ScriptInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, hash, version, updated_at FROM scripts WHERE story=$1 ORDER BY id`, story)
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	list := []ScriptInfo{}
	for rows.Next() {
		var si ScriptInfo
		if err := rows.Scan(&si.ID, &si.Hash, &si.Version, &si.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, si)
	}
	return list, rows.Err()
}

// PublishStory uploads every script listed in the manifest of h.
func (s *Store) PublishStory(ctx context.Context, h *storage.StoryHandle) (int, error) {
	if h == nil {
		return 0, errors.New("nil StoryHandle")
	}
	n := 0
	for _, ref := range h.Story.Scripts {
		src, err := storage.ReadScript(h, ref.ID)
		if err != nil {
			return n, err
		}
		if _, err := s.PutScript(ctx, h.Story.Name, ref.ID, src); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
