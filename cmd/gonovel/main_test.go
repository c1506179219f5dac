/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonovel/internal/config"
	"gonovel/internal/storage"
)

func runCLI(t *testing.T, cfg config.AppConfig, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), cfg, args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestVersionAndUsage(t *testing.T) {
	cfg := config.Defaults()
	if code, out, _ := runCLI(t, cfg, "", "version"); code != 0 || !strings.HasPrefix(out, "gonovel ") {
		t.Fatalf("version: code=%d out=%q", code, out)
	}
	if code, _, errOut := runCLI(t, cfg, "", "frobnicate"); code != 2 || !strings.Contains(errOut, `unknown command "frobnicate"`) {
		t.Fatalf("unknown: code=%d err=%q", code, errOut)
	}
	if code, _, errOut := runCLI(t, cfg, "", "init"); code != 2 || !strings.Contains(errOut, "init requires") {
		t.Fatalf("init usage: code=%d err=%q", code, errOut)
	}
}

func TestStoryLifecycle(t *testing.T) {
	cfg := config.Defaults()
	dir := filepath.Join(t.TempDir(), "harbor")

	if code, out, errOut := runCLI(t, cfg, "", "init", dir, "Harbor Tale"); code != 0 {
		t.Fatalf("init: %d %s %s", code, out, errOut)
	}
	if code, out, _ := runCLI(t, cfg, "", "check", dir); code != 0 || !strings.Contains(out, "main: ok (7 actions)") {
		t.Fatalf("check: code=%d out=%q", code, out)
	}

	code, out, errOut := runCLI(t, cfg, "\n1\n\n", "run", dir)
	if code != 0 {
		t.Fatalf("run: %d %s", code, errOut)
	}
	for _, want := range []string{"Narrator: Welcome, reader.", "  1) Begin", "Pick an option (1-2).", "Narrator: This is visit number 1.", "-- end --"} {
		if !strings.Contains(out, want) {
			t.Fatalf("run output missing %q:\n%s", want, out)
		}
	}

	if code, out, _ := runCLI(t, cfg, "", "index", dir); code != 0 || !strings.Contains(out, "indexed 1, unchanged 0") {
		t.Fatalf("index: code=%d out=%q", code, out)
	}
	if code, out, _ := runCLI(t, cfg, "", "index", dir); code != 0 || !strings.Contains(out, "indexed 0, unchanged 1") {
		t.Fatalf("reindex: code=%d out=%q", code, out)
	}
	if code, out, _ := runCLI(t, cfg, "", "search", "-speaker", "Narrator", dir, "visit"); code != 0 || !strings.Contains(out, "1 result(s)") {
		t.Fatalf("search: code=%d out=%q", code, out)
	}
	if code, out, _ := runCLI(t, cfg, "", "label", dir, "begin"); code != 0 || !strings.Contains(out, "main: begin at action 4") {
		t.Fatalf("label: code=%d out=%q", code, out)
	}
	if code, _, _ := runCLI(t, cfg, "", "label", dir, "nowhere"); code != 1 {
		t.Fatalf("missing label should fail, got %d", code)
	}
	if code, out, _ := runCLI(t, cfg, "", "snapshot", dir, "main"); code != 0 || !strings.Contains(out, "main: 1 snapshot(s) kept") {
		t.Fatalf("snapshot: code=%d out=%q", code, out)
	}

	if code, out, errOut := runCLI(t, cfg, "", "export", "-index", dir); code != 0 {
		t.Fatalf("export: %d %s %s", code, out, errOut)
	}
	if _, err := os.Stat(filepath.Join(dir, storage.ExportsDirName, "story.pdf")); err != nil {
		t.Fatalf("exported pdf missing: %v", err)
	}
}

func TestCheckReportsBrokenScripts(t *testing.T) {
	cfg := config.Defaults()
	dir := filepath.Join(t.TempDir(), "broken")
	if code, _, _ := runCLI(t, cfg, "", "init", dir, "Broken"); code != 0 {
		t.Fatalf("init failed")
	}
	h, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := storage.WriteScript(h, "main", "[goto nowhere]\n* stray > x"); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, out, errOut := runCLI(t, cfg, "", "check", dir)
	if code != 1 {
		t.Fatalf("expected failure, got %d", code)
	}
	if !strings.Contains(out, "main:2: warning:") || !strings.Contains(out, "nowhere") {
		t.Fatalf("check output:\n%s", out)
	}
	if !strings.Contains(errOut, "1 of 1 scripts failed") {
		t.Fatalf("check stderr: %q", errOut)
	}
}

func TestPublishNeedsDSN(t *testing.T) {
	cfg := config.Defaults()
	cfg.Backend.DSN = ""
	dir := filepath.Join(t.TempDir(), "s")
	if code, _, _ := runCLI(t, cfg, "", "init", dir, "S"); code != 0 {
		t.Fatalf("init failed")
	}
	code, _, errOut := runCLI(t, cfg, "", "publish", dir)
	if code != 1 || !strings.Contains(errOut, config.EnvPGDSN) {
		t.Fatalf("publish: code=%d err=%q", code, errOut)
	}
}
