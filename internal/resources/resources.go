/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package resources resolves character portraits and expressions from a
// story's asset directory.
package resources

import (
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"gonovel/internal/domain"
	applog "gonovel/internal/log"
)

// ErrNotFound is returned when no image exists for an id.
var ErrNotFound = errors.New("portrait not found")

// Extensions are tried in order when resolving an id.
var Extensions = []string{".png", ".webp", ".bmp"}

// Dir loads portraits from <root>/assets/characters/<id><ext>.
// Only the image header is decoded. Results, including misses, are cached.
type Dir struct {
	base string
	log  *slog.Logger

	mu    sync.Mutex
	cache map[string]entry
}

type entry struct {
	p   domain.Portrait
	err error
}

// CharactersDir returns the portrait directory of a story root.
func CharactersDir(root string) string {
	return filepath.Join(root, "assets", "characters")
}

// NewDir returns a loader for the story rooted at root.
func NewDir(root string) *Dir {
	return &Dir{
		base:  CharactersDir(root),
		log:   applog.WithComponent("resources"),
		cache: map[string]entry{},
	}
}

// Portrait resolves id. Ids are matched case-insensitively on the file stem.
func (d *Dir) Portrait(id string) (domain.Portrait, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	d.mu.Lock()
	if e, ok := d.cache[key]; ok {
		d.mu.Unlock()
		return e.p, e.err
	}
	d.mu.Unlock()

	p, err := d.load(key)
	d.mu.Lock()
	d.cache[key] = entry{p: p, err: err}
	d.mu.Unlock()
	return p, err
}

func (d *Dir) load(id string) (domain.Portrait, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return domain.Portrait{}, fmt.Errorf("portrait id %q: %w", id, ErrNotFound)
	}
	for _, ext := range Extensions {
		path := filepath.Join(d.base, id+ext)
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return domain.Portrait{}, fmt.Errorf("open portrait %s: %w", path, err)
		}
		cfg, format, err := image.DecodeConfig(f)
		_ = f.Close()
		if err != nil {
			return domain.Portrait{}, fmt.Errorf("decode portrait %s: %w", path, err)
		}
		d.log.Debug("portrait loaded", slog.String("id", id), slog.String("format", format), slog.Int("w", cfg.Width), slog.Int("h", cfg.Height))
		return domain.Portrait{ID: id, Path: path, Width: cfg.Width, Height: cfg.Height}, nil
	}
	return domain.Portrait{}, fmt.Errorf("portrait %q in %s: %w", id, d.base, ErrNotFound)
}

// Forget drops all cached results, e.g. after assets changed on disk.
func (d *Dir) Forget() {
	d.mu.Lock()
	d.cache = map[string]entry{}
	d.mu.Unlock()
}
