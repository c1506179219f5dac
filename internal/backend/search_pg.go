/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"gonovel/internal/storage"
)

// SearchPG runs a dialogue search over the published lines of story using a
// tsvector match. Results use storage.SearchResult so both indexes can be compared.
func SearchPG(ctx context.Context, db *sql.DB, story string, q storage.SearchQuery) ([]storage.SearchResult, error) {
	var (
		args []any
		b    strings.Builder
	)
	place := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if strings.TrimSpace(q.Text) != "" {
		text := place(q.Text)
		b.WriteString("SELECT l.id, l.script_id, l.idx, l.line, l.kind, COALESCE(l.speaker,''), l.text, ")
		b.WriteString("COALESCE(ts_headline('simple', l.text, plainto_tsquery('simple', " + text + "), 'StartSel=[, StopSel=], MaxFragments=1, MaxWords=12'), '') ")
		b.WriteString("FROM lines l WHERE l.story = " + place(story) + " AND l.search_vector @@ plainto_tsquery('simple', " + text + ") ")
	} else {
		b.WriteString("SELECT l.id, l.script_id, l.idx, l.line, l.kind, COALESCE(l.speaker,''), l.text, '' ")
		b.WriteString("FROM lines l WHERE l.story = " + place(story) + " ")
	}
	if len(q.Kinds) > 0 {
		b.WriteString(" AND l.kind = ANY (" + place(q.Kinds) + ") ")
	}
	if s := strings.TrimSpace(q.Speaker); s != "" {
		b.WriteString(" AND lower(l.speaker) = " + place(strings.ToLower(s)) + " ")
	}
	if s := strings.TrimSpace(q.Script); s != "" {
		b.WriteString(" AND l.script_id = " + place(s) + " ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	b.WriteString(" ORDER BY l.script_id, l.line, l.id ")
	b.WriteString(" LIMIT " + place(limit) + " OFFSET " + place(offset))

	rows, err := db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search pg query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []storage.SearchResult
	for rows.Next() {
		var r storage.SearchResult
		if err := rows.Scan(&r.LineID, &r.ScriptID, &r.Index, &r.Line, &r.Kind, &r.Speaker, &r.Text, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
