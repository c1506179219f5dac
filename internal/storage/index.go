/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"

	applog "gonovel/internal/log"
	"gonovel/internal/script"
	"gonovel/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// IndexDirName holds per-story derived data under the story root.
	IndexDirName  = ".gnv"
	IndexFileName = "index.sqlite"

	// schemaVersion tracks the local SQLite schema of the index.
	// Bump it together with a new case in runMigrations.
	schemaVersion = 2
)

// Line kinds stored in the index.
const (
	KindDialogue = "dialogue"
	KindChoice   = "choice"
)

// IndexPath returns the path of the story's index database.
func IndexPath(root string) string {
	return filepath.Join(root, IndexDirName, IndexFileName)
}

// ContentHash returns the murmur3 128-bit hash of a script source as hex.
func ContentHash(text string) string {
	h1, h2 := murmur3.Sum128([]byte(text))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

// InitOrOpenIndex ensures the index exists at .gnv/index.sqlite, opens it in
// WAL mode and brings its schema up to date.
func InitOrOpenIndex(root string) (*sql.DB, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_init").With(
		slog.String("root", root),
	)
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("story root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, IndexDirName), 0o755); err != nil {
		l.Error("create index dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create %s dir: %w", IndexDirName, err)
	}

	path := IndexPath(root)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		l.Warn("enable foreign_keys failed", slog.Any("err", err))
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure index schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	l.Debug("index ready", slog.String("path", path))
	return db, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// keep the stored schema so runMigrations can upgrade it
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		// never downgrade
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		switch next {
		case 2:
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin migration %d: %w", next, err)
			}
			stmts := []string{
				`CREATE INDEX IF NOT EXISTS idx_lines_speaker ON lines(speaker);`,
				`CREATE INDEX IF NOT EXISTS idx_labels_name ON labels(name);`,
			}
			for _, q := range stmts {
				if _, err := tx.ExecContext(ctx, q); err != nil {
					_ = tx.Rollback()
					return fmt.Errorf("migration %d stmt failed: %w", next, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d update version: %w", next, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("migration %d commit: %w", next, err)
			}
			// best effort
			_, _ = db.ExecContext(ctx, `INSERT INTO fts_lines(fts_lines) VALUES('optimize')`)
		}
		cur = next
	}
	return nil
}

// ensureIndexSchema creates the index tables and the FTS structures.
func ensureIndexSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS scripts (
			id         TEXT    PRIMARY KEY,
			hash       TEXT    NOT NULL,
			commands   INTEGER NOT NULL,
			updated_at TEXT    NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS labels (
			script_id TEXT    NOT NULL,
			name      TEXT    NOT NULL,
			idx       INTEGER NOT NULL,
			PRIMARY KEY(script_id, name)
		);`,
		// dialogue and choice texts, one row per line of script
		`CREATE TABLE IF NOT EXISTS lines (
			line_id   INTEGER PRIMARY KEY,
			script_id TEXT    NOT NULL,
			idx       INTEGER NOT NULL,
			line      INTEGER NOT NULL,
			kind      TEXT    NOT NULL,
			speaker   TEXT,
			text      TEXT    NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lines_script ON lines(script_id, line);`,
		`CREATE INDEX IF NOT EXISTS idx_lines_speaker ON lines(speaker);`,
		`CREATE INDEX IF NOT EXISTS idx_labels_name ON labels(name);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_lines USING fts5(
			text,
			content='lines',
			content_rowid='line_id',
			tokenize = 'unicode61'
		);`,
		`CREATE TABLE IF NOT EXISTS script_snapshots (
			id        INTEGER PRIMARY KEY,
			script_id TEXT NOT NULL,
			ts        TEXT NOT NULL,
			text      TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_script_snapshots_ts ON script_snapshots(script_id, ts);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure index schema: %w", err)
		}
	}
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS lines_ai AFTER INSERT ON lines BEGIN
			INSERT INTO fts_lines(rowid, text) VALUES (new.line_id, new.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS lines_ad AFTER DELETE ON lines BEGIN
			INSERT INTO fts_lines(fts_lines, rowid, text) VALUES ('delete', old.line_id, old.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS lines_au AFTER UPDATE OF text ON lines BEGIN
			INSERT INTO fts_lines(fts_lines, rowid, text) VALUES ('delete', old.line_id, old.text);
			INSERT INTO fts_lines(rowid, text) VALUES (new.line_id, new.text);
		END;`,
	}
	for _, q := range triggers {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure fts triggers: %w", err)
		}
	}
	return nil
}

// IndexStats summarizes one IndexStory run.
type IndexStats struct {
	Indexed int
	Skipped int
	Missing int
	Removed int
}

// IndexStory brings the index in line with the manifest's scripts. Scripts
// whose content hash is unchanged are skipped. Rows of scripts no longer
// listed, or missing on disk, are removed.
func IndexStory(ctx context.Context, h *StoryHandle) (IndexStats, error) {
	var st IndexStats
	if h == nil {
		return st, errors.New("nil StoryHandle")
	}
	l := applog.WithOperation(applog.WithComponent("storage"), "index_story")
	db, err := InitOrOpenIndex(h.Root)
	if err != nil {
		return st, err
	}
	defer db.Close()

	existing, err := indexedHashes(ctx, db)
	if err != nil {
		return st, err
	}
	keep := map[string]bool{}
	for _, ref := range h.Story.Scripts {
		src, err := ReadScript(h, ref.ID)
		if errors.Is(err, ErrScriptNotFound) {
			l.Warn("script listed in manifest is missing", slog.String("script", ref.ID))
			st.Missing++
			continue
		}
		if err != nil {
			return st, err
		}
		keep[ref.ID] = true
		hash := ContentHash(src)
		if existing[ref.ID] == hash {
			st.Skipped++
			continue
		}
		if err := indexScript(ctx, db, ref.ID, hash, src); err != nil {
			return st, fmt.Errorf("index script %s: %w", ref.ID, err)
		}
		st.Indexed++
	}
	for id := range existing {
		if keep[id] {
			continue
		}
		if err := removeScript(ctx, db, id); err != nil {
			return st, fmt.Errorf("remove script %s: %w", id, err)
		}
		st.Removed++
	}
	l.Info("index updated", slog.Int("indexed", st.Indexed), slog.Int("skipped", st.Skipped), slog.Int("missing", st.Missing), slog.Int("removed", st.Removed))
	return st, nil
}

func indexedHashes(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, hash FROM scripts`)
	if err != nil {
		return nil, fmt.Errorf("read indexed scripts: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		out[id] = hash
	}
	return out, rows.Err()
}

// DialogueLine is a searchable text of a script: a dialogue line or a choice
// option, with the speaker in effect and the index of its command.
type DialogueLine struct {
	Index   int
	Line    int
	Kind    string
	Speaker string
	Text    string
}

// ExtractLines collects dialogue and choice texts from parsed commands.
func ExtractLines(cmds []script.Command) []DialogueLine {
	var out []DialogueLine
	speaker := ""
	for i, cmd := range cmds {
		switch cmd.Type {
		case "spk":
			speaker = strings.TrimSpace(cmd.ParamOr("name", "content"))
		case "msg":
			if text := strings.TrimSpace(cmd.Param("content")); text != "" {
				out = append(out, DialogueLine{Index: i, Line: cmd.Line, Kind: KindDialogue, Speaker: speaker, Text: text})
			}
		case "choices":
			for _, ch := range cmd.Choices {
				line := ch.Line
				if line == 0 {
					line = cmd.Line
				}
				out = append(out, DialogueLine{Index: i, Line: line, Kind: KindChoice, Text: ch.Content})
			}
		}
	}
	return out
}

func indexScript(ctx context.Context, db *sql.DB, id, hash, src string) error {
	parsed, _ := script.Parse(src)
	lines := ExtractLines(parsed.Commands)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := deleteScriptRows(ctx, tx, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO scripts(id, hash, commands, updated_at) VALUES(?,?,?,?)`, id, hash, len(parsed.Commands), now); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert script: %w", err)
	}
	for name, idx := range parsed.Labels {
		if _, err := tx.ExecContext(ctx, `INSERT INTO labels(script_id, name, idx) VALUES(?,?,?)`, id, name, idx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert label: %w", err)
		}
	}
	ins, err := tx.PrepareContext(ctx, `INSERT INTO lines(script_id, idx, line, kind, speaker, text) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()
	for _, ln := range lines {
		speaker := sql.NullString{String: ln.Speaker, Valid: ln.Speaker != ""}
		if _, err := ins.ExecContext(ctx, id, ln.Index, ln.Line, ln.Kind, speaker, ln.Text); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert line: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func removeScript(ctx context.Context, db *sql.DB, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := deleteScriptRows(ctx, tx, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func deleteScriptRows(ctx context.Context, tx *sql.Tx, id string) error {
	for _, q := range []string{
		`DELETE FROM lines WHERE script_id=?`,
		`DELETE FROM labels WHERE script_id=?`,
		`DELETE FROM scripts WHERE id=?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("clear script rows: %w", err)
		}
	}
	return nil
}

// RebuildIndex drops the derived tables and indexes every script again.
// Meta, version and script snapshots are preserved.
func RebuildIndex(ctx context.Context, h *StoryHandle) error {
	if h == nil {
		return errors.New("nil StoryHandle")
	}
	db, err := InitOrOpenIndex(h.Root)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("begin tx: %w", err)
	}
	drops := []string{
		"DROP TRIGGER IF EXISTS lines_ai;",
		"DROP TRIGGER IF EXISTS lines_ad;",
		"DROP TRIGGER IF EXISTS lines_au;",
		"DROP TABLE IF EXISTS fts_lines;",
		"DROP TABLE IF EXISTS lines;",
		"DROP TABLE IF EXISTS labels;",
		"DROP TABLE IF EXISTS scripts;",
	}
	for _, q := range drops {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			_ = db.Close()
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		_ = db.Close()
		return fmt.Errorf("drop commit: %w", err)
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	_, err = IndexStory(ctx, h)
	return err
}

// DetectAndRebuildIndex checks the index for corruption or missing tables and
// rebuilds it when needed. It reports whether a rebuild happened.
func DetectAndRebuildIndex(ctx context.Context, h *StoryHandle) (bool, error) {
	if h == nil {
		return false, errors.New("nil StoryHandle")
	}
	path := IndexPath(h.Root)
	db, err := InitOrOpenIndex(h.Root)
	if err != nil {
		backupIndexFile(path)
		removeIndexFiles(path)
		if rbErr := RebuildIndex(ctx, h); rbErr != nil {
			return false, fmt.Errorf("rebuild after open failure: %w (open err: %v)", rbErr, err)
		}
		return true, nil
	}
	needs := false
	var chk string
	if err := db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk); err != nil || !strings.Contains(strings.ToLower(chk), "ok") {
		needs = true
	}
	if !needs {
		if _, err := db.ExecContext(ctx, `SELECT 1 FROM lines LIMIT 1;`); err != nil {
			needs = true
		}
	}
	_ = db.Close()
	if !needs {
		return false, nil
	}
	backupIndexFile(path)
	removeIndexFiles(path)
	if err := RebuildIndex(ctx, h); err != nil {
		return false, err
	}
	return true, nil
}

// backupIndexFile copies the index file into .gnv/backups with a timestamp.
func backupIndexFile(indexPath string) {
	bdir := filepath.Join(filepath.Dir(indexPath), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(indexPath), stamp))
	if data, err := os.ReadFile(indexPath); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}

func removeIndexFiles(indexPath string) {
	for _, p := range []string{indexPath, indexPath + "-wal", indexPath + "-shm"} {
		_ = os.Remove(p)
	}
}
