/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonovel/internal/compiler"
	"gonovel/internal/domain"
	"gonovel/internal/script"
	"gonovel/internal/storage"
	"gonovel/internal/vars"
)

const tavern = `[label start]
[bg tavern]
[spk Mira]
Welcome, traveller. You carry {gold} gold.
[choices]
* Order a drink > drink
* Leave > start
[label drink]
[add gold=-2]
[script epilogue]`

func TestScriptPDF_CreatesFile(t *testing.T) {
	parsed, _ := script.Parse(tavern)
	store := vars.NewStore()
	store.Set("gold", "10")
	out := filepath.Join(t.TempDir(), "nested", "tavern.pdf")
	if err := ScriptPDF("tavern", parsed, store, out, PDFOptions{ShowIndex: true, ShowStage: true}); err != nil {
		t.Fatalf("export: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		t.Fatalf("not a pdf: %q", b[:8])
	}
}

func TestScriptPDF_RequiresPath(t *testing.T) {
	if err := ScriptPDF("x", script.Parsed{}, nil, "", PDFOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStoryPDF_WritesUnderExports(t *testing.T) {
	root := t.TempDir()
	h, err := storage.InitStory(root, domain.Story{
		Name:     "Tavern",
		Entry:    "main",
		Metadata: domain.Metadata{Author: "Tester"},
		Scripts:  []domain.ScriptRef{{ID: "main", Title: "Chapter 1"}, {ID: "epilogue"}},
	})
	if err != nil {
		t.Fatalf("InitStory: %v", err)
	}
	_ = storage.WriteScript(h, "main", tavern)
	_ = storage.WriteScript(h, "epilogue", "Fin.")

	out, err := StoryPDF(h, nil, "story.pdf", PDFOptions{})
	if err != nil {
		t.Fatalf("StoryPDF: %v", err)
	}
	if out != filepath.Join(root, storage.ExportsDirName, "story.pdf") {
		t.Fatalf("unexpected output path %s", out)
	}
	if st, err := os.Stat(out); err != nil || st.Size() == 0 {
		t.Fatalf("pdf missing or empty: %v", err)
	}
}

func TestStoryPDF_RejectsBrokenScript(t *testing.T) {
	root := t.TempDir()
	h, err := storage.InitStory(root, domain.Story{Name: "Broken", Entry: "main", Scripts: []domain.ScriptRef{{ID: "main"}}})
	if err != nil {
		t.Fatalf("InitStory: %v", err)
	}
	_ = storage.WriteScript(h, "main", "[goto nowhere]")
	_, err = StoryPDF(h, nil, "broken.pdf", PDFOptions{})
	var ule *compiler.UnresolvedLabelError
	if !errors.As(err, &ule) {
		t.Fatalf("expected UnresolvedLabelError, got %v", err)
	}
}

func TestStageLineSortsParams(t *testing.T) {
	cmd := script.Command{Type: "char", Params: map[string]string{"img": "mira", "enter": "left"}}
	if got := stageLine(cmd); got != "[char enter=left img=mira]" {
		t.Fatalf("stageLine = %q", got)
	}
}
