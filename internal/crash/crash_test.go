/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package crash

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonovel/internal/compiler"
	"gonovel/internal/domain"
	"gonovel/internal/engine"
	"gonovel/internal/storage"
)

func TestWriteReportCreatesFileInTemp(t *testing.T) {
	path, err := writeReport(nil, nil, "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "gonovel crash report") {
		t.Fatalf("report header missing")
	}
	if !strings.Contains(s, "Panic: boom") {
		t.Fatalf("panic content missing: %s", s)
	}
	if strings.Contains(s, "Cursor:") {
		t.Fatalf("engine section without an engine: %s", s)
	}
}

func TestWriteReportIncludesEngineState(t *testing.T) {
	p, _, err := compiler.Build("main", "First line.\nSecond line.")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	e := engine.New(nil)
	if err := e.Load(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	root := t.TempDir()
	h := &storage.StoryHandle{Root: root, ManifestPath: filepath.Join(root, storage.ManifestFileName), Story: domain.Story{Name: "Harbor"}}

	path, err := writeReport(h, e, "kaboom", []byte("stack"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(root, storage.BackupsDirName) {
		t.Fatalf("expected crash report under backups dir, got %s", path)
	}
	b, _ := os.ReadFile(path)
	for _, want := range []string{"Story: Harbor", "Program: main", "Action: msg", "Cursor: 0", "State: awaiting-input"} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("report missing %q:\n%s", want, b)
		}
	}
}

func TestRecover_WritesReportAndAutosaves(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r)
	}()

	code := 0
	oldExit := exitFn
	exitFn = func(c int) { code = c }
	defer func() { exitFn = oldExit }()

	root := t.TempDir()
	h, err := storage.InitStory(root, domain.Story{Name: "Harbor", Entry: "main", Scripts: []domain.ScriptRef{{ID: "main"}}})
	if err != nil {
		t.Fatalf("InitStory: %v", err)
	}

	func() {
		defer Recover(h, nil)
		panic("boom")
	}()

	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	files, _ := os.ReadDir(filepath.Join(root, storage.BackupsDirName))
	var report, snapshot bool
	for _, f := range files {
		switch {
		case strings.HasPrefix(f.Name(), "crash-") && strings.HasSuffix(f.Name(), ".log"):
			report = true
		case strings.HasPrefix(f.Name(), "crash-") && strings.HasSuffix(f.Name(), ".story.json"):
			snapshot = true
		}
	}
	if !report || !snapshot {
		t.Fatalf("report=%v snapshot=%v in %v", report, snapshot, files)
	}
}
