/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package resources

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func writeImage(t *testing.T, path string, w, h int, enc func(f *os.File, img image.Image) error) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := enc(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestPortraitResolvesPNGAndBMP(t *testing.T) {
	root := t.TempDir()
	dir := CharactersDir(root)
	writeImage(t, filepath.Join(dir, "mira.png"), 12, 34, func(f *os.File, img image.Image) error { return png.Encode(f, img) })
	writeImage(t, filepath.Join(dir, "smile.bmp"), 5, 6, func(f *os.File, img image.Image) error { return bmp.Encode(f, img) })

	d := NewDir(root)
	p, err := d.Portrait("Mira")
	if err != nil {
		t.Fatalf("Portrait(mira): %v", err)
	}
	if p.ID != "mira" || p.Width != 12 || p.Height != 34 || filepath.Base(p.Path) != "mira.png" {
		t.Fatalf("unexpected portrait %+v", p)
	}
	p, err = d.Portrait("smile")
	if err != nil {
		t.Fatalf("Portrait(smile): %v", err)
	}
	if p.Width != 5 || p.Height != 6 {
		t.Fatalf("unexpected bmp size %+v", p)
	}
}

func TestPortraitMissingAndCached(t *testing.T) {
	root := t.TempDir()
	d := NewDir(root)
	if _, err := d.Portrait("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Misses are cached until Forget.
	writeImage(t, filepath.Join(CharactersDir(root), "ghost.png"), 1, 1, func(f *os.File, img image.Image) error { return png.Encode(f, img) })
	if _, err := d.Portrait("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cached miss, got %v", err)
	}
	d.Forget()
	if _, err := d.Portrait("ghost"); err != nil {
		t.Fatalf("after Forget: %v", err)
	}
}

func TestPortraitRejectsPaths(t *testing.T) {
	d := NewDir(t.TempDir())
	for _, id := range []string{"", "../secret", "a/b"} {
		if _, err := d.Portrait(id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("id %q: expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestCorruptImageIsAnError(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(CharactersDir(root), "bad.png")
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	if err := os.WriteFile(path, []byte("not a png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewDir(root).Portrait("bad")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
