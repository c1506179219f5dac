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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gonovel/internal/domain"

	_ "modernc.org/sqlite"
)

func openRaw(t *testing.T, root string) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(2000)", filepath.ToSlash(IndexPath(root)))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIndexInitCreatesWALAndTables(t *testing.T) {
	root := t.TempDir()
	db, err := InitOrOpenIndex(root)
	if err != nil {
		t.Fatalf("InitOrOpenIndex error: %v", err)
	}
	_ = db.Close()
	if _, err := os.Stat(IndexPath(root)); err != nil {
		t.Fatalf("index file missing: %v", err)
	}

	raw := openRaw(t, root)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var mode string
	if err := raw.QueryRowContext(ctx, "PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" && mode != "WAL" {
		t.Fatalf("expected WAL mode, got %s", mode)
	}
	var cnt int
	if err := raw.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('meta','version','scripts','labels','lines','fts_lines','script_snapshots')").Scan(&cnt); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if cnt != 7 {
		t.Fatalf("expected 7 tables, got %d", cnt)
	}
	var schema int
	if err := raw.QueryRowContext(ctx, "SELECT schema FROM version WHERE id=1").Scan(&schema); err != nil || schema != schemaVersion {
		t.Fatalf("schema = %d, err %v", schema, err)
	}
}

func TestInitOrOpenIndexRequiresRoot(t *testing.T) {
	if _, err := InitOrOpenIndex(""); err == nil {
		t.Fatalf("expected error for empty root")
	}
}

func TestContentHashIsStable(t *testing.T) {
	a, b := ContentHash("Hello"), ContentHash("Hello")
	if a != b || len(a) != 32 {
		t.Fatalf("unexpected hash %q / %q", a, b)
	}
	if ContentHash("Hello!") == a {
		t.Fatalf("different content hashed equal")
	}
}

func TestIndexStorySkipsUnchangedAndRemovesDropped(t *testing.T) {
	h := seedStory(t)
	ctx := context.Background()

	st, err := IndexStory(ctx, h)
	if err != nil {
		t.Fatalf("IndexStory error: %v", err)
	}
	if st.Indexed != 0 || st.Skipped != 2 {
		t.Fatalf("second run should skip everything: %+v", st)
	}

	if err := WriteScript(h, "main", "[spk Mira]\nA calm morning."); err != nil {
		t.Fatalf("WriteScript: %v", err)
	}
	h.Story.Scripts = []domain.ScriptRef{{ID: "main"}, {ID: "ghost"}}
	st, err = IndexStory(ctx, h)
	if err != nil {
		t.Fatalf("IndexStory error: %v", err)
	}
	if st.Indexed != 1 || st.Missing != 1 || st.Removed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	res, err := SearchDialogue(ctx, h.Root, SearchQuery{Text: "storm"})
	if err != nil {
		t.Fatalf("SearchDialogue: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("stale lines remain: %+v", res)
	}
	res, err = SearchDialogue(ctx, h.Root, SearchQuery{Text: "calm"})
	if err != nil || len(res) != 1 {
		t.Fatalf("new line not indexed: %+v err %v", res, err)
	}
}

func TestRebuildIndexRepopulates(t *testing.T) {
	h := seedStory(t)
	ctx := context.Background()
	if err := RebuildIndex(ctx, h); err != nil {
		t.Fatalf("RebuildIndex error: %v", err)
	}
	res, err := SearchDialogue(ctx, h.Root, SearchQuery{Text: "harbor"})
	if err != nil || len(res) != 1 {
		t.Fatalf("after rebuild: %+v err %v", res, err)
	}
}
