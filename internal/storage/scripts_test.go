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
	"errors"
	"testing"

	"gonovel/internal/compiler"
	applog "gonovel/internal/log"
)

func TestScriptPathAndInvalidIDs(t *testing.T) {
	if p := ScriptPath(nil, "main"); p != "" {
		t.Fatalf("expected empty path for nil handle, got %q", p)
	}
	h := &StoryHandle{Root: t.TempDir()}
	for _, id := range []string{"", "../x", "a/b"} {
		if p := ScriptPath(h, id); p != "" {
			t.Fatalf("id %q: expected empty path, got %q", id, p)
		}
	}
	h.ScriptExt = "txt"
	if p := ScriptPath(h, "main"); p == "" || p[len(p)-8:] != "main.txt" {
		t.Fatalf("unexpected path %q", p)
	}
}

func TestWriteAndReadScript(t *testing.T) {
	h := &StoryHandle{Root: t.TempDir()}
	if _, err := ReadScript(h, "main"); !errors.Is(err, ErrScriptNotFound) {
		t.Fatalf("expected ErrScriptNotFound, got %v", err)
	}
	text := "[spk Mira]\nHello."
	if err := WriteScript(h, "main", text); err != nil {
		t.Fatalf("WriteScript error: %v", err)
	}
	got, err := ReadScript(h, "main")
	if err != nil {
		t.Fatalf("ReadScript error: %v", err)
	}
	if got != text {
		t.Fatalf("roundtrip mismatch: %q vs %q", got, text)
	}
}

func TestLoaderCompilesScripts(t *testing.T) {
	h := &StoryHandle{Root: t.TempDir()}
	_ = WriteScript(h, "main", "[label start]\nHi\n[goto start]")
	_ = WriteScript(h, "broken", "[goto nowhere]")
	l := &Loader{Handle: h, Log: applog.Discard()}
	ctx := context.Background()

	p, err := l.Load(ctx, "main")
	if err != nil {
		t.Fatalf("Load main: %v", err)
	}
	if p.ID != "main" || p.Len() != 3 {
		t.Fatalf("unexpected program %s with %d actions", p.ID, p.Len())
	}
	var ule *compiler.UnresolvedLabelError
	if _, err := l.Load(ctx, "broken"); !errors.As(err, &ule) {
		t.Fatalf("expected UnresolvedLabelError, got %v", err)
	}
	if _, err := l.Load(ctx, "absent"); !errors.Is(err, ErrScriptNotFound) {
		t.Fatalf("expected ErrScriptNotFound, got %v", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := l.Load(cctx, "main"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
