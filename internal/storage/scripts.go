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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gonovel/internal/compiler"
	applog "gonovel/internal/log"
	"gonovel/internal/program"
)

// ErrScriptNotFound is returned when a script file does not exist.
var ErrScriptNotFound = errors.New("script not found")

func (h *StoryHandle) scriptExt() string {
	if h.ScriptExt == "" {
		return DefaultScriptExt
	}
	if !strings.HasPrefix(h.ScriptExt, ".") {
		return "." + h.ScriptExt
	}
	return h.ScriptExt
}

func validScriptID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// ScriptPath returns the file path of script id, or "" for a nil handle or invalid id.
func ScriptPath(h *StoryHandle, id string) string {
	if h == nil || !validScriptID(id) {
		return ""
	}
	return filepath.Join(h.Root, ScriptsDirName, id+h.scriptExt())
}

// ReadScript returns the source text of script id.
func ReadScript(h *StoryHandle, id string) (string, error) {
	p := ScriptPath(h, id)
	if p == "" {
		return "", fmt.Errorf("script %q: %w", id, ErrScriptNotFound)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("script %q: %w", id, ErrScriptNotFound)
		}
		return "", fmt.Errorf("read script %s: %w", p, err)
	}
	return string(b), nil
}

// WriteScript stores text as script id, creating the scripts folder if needed.
func WriteScript(h *StoryHandle, id, text string) error {
	p := ScriptPath(h, id)
	if p == "" {
		return fmt.Errorf("invalid script id %q", id)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("ensure scripts dir: %w", err)
	}
	return writeFileSync(p, []byte(text))
}

// Loader reads and compiles scripts of a story on demand.
type Loader struct {
	Handle *StoryHandle
	Log    *slog.Logger
}

// NewLoader returns a loader for h.
func NewLoader(h *StoryHandle) *Loader {
	return &Loader{Handle: h, Log: applog.WithComponent("storage")}
}

// Load reads, parses and compiles script id. Parser diagnostics are logged as warnings.
func (l *Loader) Load(ctx context.Context, id string) (*program.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := ReadScript(l.Handle, id)
	if err != nil {
		return nil, err
	}
	p, diags, err := compiler.Build(id, src)
	log := l.Log
	if log == nil {
		log = applog.Discard()
	}
	for _, d := range diags {
		log.Warn("script diagnostic", slog.String("script", id), slog.Int("line", d.Line), slog.String("msg", d.Message))
	}
	if err != nil {
		return nil, err
	}
	log.Debug("script loaded", slog.String("script", id), slog.Int("actions", p.Len()))
	return p, nil
}
