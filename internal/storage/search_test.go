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
	"testing"
	"time"

	"gonovel/internal/domain"
)

const harborScript = `[label start]
[spk Mira]
The harbor smells of salt and rain.
[spk Tomas]
We should find shelter before the storm.
[choices]
* Follow Tomas > follow
* Stay at the pier > pier
[label follow]
You follow him into the warehouse.
[label pier]
The waves crash over the pier.`

// seedStory creates a story with two scripts and indexes it.
func seedStory(t *testing.T) *StoryHandle {
	t.Helper()
	root := t.TempDir()
	story := domain.Story{
		Name:    "Harbor",
		Entry:   "main",
		Scripts: []domain.ScriptRef{{ID: "main"}, {ID: "epilogue"}},
	}
	h, err := InitStory(root, story)
	if err != nil {
		t.Fatalf("InitStory error: %v", err)
	}
	if err := WriteScript(h, "main", harborScript); err != nil {
		t.Fatalf("WriteScript main: %v", err)
	}
	if err := WriteScript(h, "epilogue", "[label start]\n[spk Mira]\nThe storm has passed."); err != nil {
		t.Fatalf("WriteScript epilogue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := IndexStory(ctx, h); err != nil {
		t.Fatalf("IndexStory error: %v", err)
	}
	return h
}

func TestSearchDialogueFullText(t *testing.T) {
	h := seedStory(t)
	ctx := context.Background()

	res, err := SearchDialogue(ctx, h.Root, SearchQuery{Text: "storm"})
	if err != nil {
		t.Fatalf("SearchDialogue error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 hits for storm, got %+v", res)
	}
	// ordered by script id
	if res[0].ScriptID != "epilogue" || res[0].Speaker != "Mira" {
		t.Fatalf("unexpected first hit %+v", res[0])
	}
	if res[1].ScriptID != "main" || res[1].Speaker != "Tomas" || res[1].Line != 5 || res[1].Index != 4 {
		t.Fatalf("unexpected second hit %+v", res[1])
	}
	if res[1].Snippet == "" || res[1].Kind != KindDialogue {
		t.Fatalf("expected dialogue snippet, got %+v", res[1])
	}
}

func TestSearchDialogueFilters(t *testing.T) {
	h := seedStory(t)
	ctx := context.Background()

	res, err := SearchDialogue(ctx, h.Root, SearchQuery{Speaker: "mira", Script: "main"})
	if err != nil {
		t.Fatalf("SearchDialogue error: %v", err)
	}
	if len(res) != 1 || res[0].Text != "The harbor smells of salt and rain." {
		t.Fatalf("speaker filter: %+v", res)
	}

	res, err = SearchDialogue(ctx, h.Root, SearchQuery{Kinds: []string{KindChoice}})
	if err != nil {
		t.Fatalf("SearchDialogue error: %v", err)
	}
	if len(res) != 2 || res[0].Text != "Follow Tomas" || res[1].Line != 8 {
		t.Fatalf("choice filter: %+v", res)
	}

	res, err = SearchDialogue(ctx, h.Root, SearchQuery{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("SearchDialogue error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("pagination: %+v", res)
	}
}

func TestFindLabel(t *testing.T) {
	h := seedStory(t)
	refs, err := FindLabel(context.Background(), h.Root, "start")
	if err != nil {
		t.Fatalf("FindLabel error: %v", err)
	}
	if len(refs) != 2 || refs[0].ScriptID != "epilogue" || refs[1].Index != 0 {
		t.Fatalf("unexpected refs %+v", refs)
	}
	refs, err = FindLabel(context.Background(), h.Root, "pier")
	if err != nil || len(refs) != 1 || refs[0].Index != 8 {
		t.Fatalf("pier refs %+v err %v", refs, err)
	}
	if _, err := FindLabel(context.Background(), h.Root, " "); err == nil {
		t.Fatalf("expected error for empty name")
	}
}
