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
	"strings"
)

// SearchQuery describes a dialogue search.
// Text uses SQLite FTS5 syntax (terms, "phrases", AND/OR/NOT); when empty
// the filters alone select rows. Kinds restricts to KindDialogue and/or KindChoice.
type SearchQuery struct {
	Text    string
	Speaker string
	Script  string
	Kinds   []string
	Limit   int
	Offset  int
}

// SearchResult is one matching line. Snippet marks hits with [ ] when Text was set.
type SearchResult struct {
	LineID   int64
	ScriptID string
	Index    int
	Line     int
	Kind     string
	Speaker  string
	Text     string
	Snippet  string
}

// SearchDialogue runs q against the story's index.
func SearchDialogue(ctx context.Context, root string, q SearchQuery) ([]SearchResult, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("story root is required")
	}
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return searchDB(ctx, db, q)
}

func searchDB(ctx context.Context, db *sql.DB, q SearchQuery) ([]SearchResult, error) {
	var args []any
	var sb strings.Builder
	if strings.TrimSpace(q.Text) != "" {
		sb.WriteString("SELECT l.line_id, l.script_id, l.idx, l.line, l.kind, COALESCE(l.speaker,''), l.text, snippet(fts_lines, 0, '[', ']', '...', 10)\n")
		sb.WriteString("FROM fts_lines JOIN lines l ON fts_lines.rowid = l.line_id\n")
		sb.WriteString("WHERE fts_lines MATCH ?\n")
		args = append(args, q.Text)
	} else {
		sb.WriteString("SELECT l.line_id, l.script_id, l.idx, l.line, l.kind, COALESCE(l.speaker,''), l.text, ''\n")
		sb.WriteString("FROM lines l\nWHERE 1=1\n")
	}
	if len(q.Kinds) > 0 {
		sb.WriteString(" AND l.kind IN (" + placeholders(len(q.Kinds)) + ")\n")
		for _, k := range q.Kinds {
			args = append(args, k)
		}
	}
	if s := strings.TrimSpace(q.Speaker); s != "" {
		sb.WriteString(" AND lower(l.speaker) = ?\n")
		args = append(args, strings.ToLower(s))
	}
	if s := strings.TrimSpace(q.Script); s != "" {
		sb.WriteString(" AND l.script_id = ?\n")
		args = append(args, s)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	sb.WriteString("ORDER BY l.script_id, l.line, l.line_id\n")
	sb.WriteString("LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var sn sql.NullString
		if err := rows.Scan(&r.LineID, &r.ScriptID, &r.Index, &r.Line, &r.Kind, &r.Speaker, &r.Text, &sn); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Snippet = sn.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// LabelRef locates a label declaration.
type LabelRef struct {
	ScriptID string
	Name     string
	Index    int
}

// FindLabel lists the scripts declaring a label called name.
func FindLabel(ctx context.Context, root, name string) ([]LabelRef, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("label name is required")
	}
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.QueryContext(ctx, `SELECT script_id, name, idx FROM labels WHERE name=? ORDER BY script_id`, name)
	if err != nil {
		return nil, fmt.Errorf("label query: %w", err)
	}
	defer rows.Close()
	var out []LabelRef
	for rows.Next() {
		var r LabelRef
		if err := rows.Scan(&r.ScriptID, &r.Name, &r.Index); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
