/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package programtest provides recording sinks for tests of compiled programs.
package programtest

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"gonovel/internal/domain"
	"gonovel/internal/program"
	"gonovel/internal/vars"
)

// ErrMissing is returned by Resources for ids not registered as present.
var ErrMissing = errors.New("portrait not found")

// Recorder implements every sink and appends one event string per call, e.g.
// "dialogue:Hello", "speaker:Mira", "add:mira@left", "choices:Yes>yes|No>no", "hide".
type Recorder struct {
	mu      sync.Mutex
	Events  []string
	Options []domain.ChoiceOption
	Visible bool
	Skips   int
	Present map[string]bool // when non-nil, Portrait fails for ids not present
}

// NewRecorder returns an empty recorder that resolves every portrait.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, fmt.Sprintf(format, args...))
}

// Take returns the recorded events and clears them.
func (r *Recorder) Take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.Events
	r.Events = nil
	return out
}

// Last returns the most recent event or "".
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Events) == 0 {
		return ""
	}
	return r.Events[len(r.Events)-1]
}

func (r *Recorder) SetDialogue(text string) { r.record("dialogue:%s", text) }
func (r *Recorder) SetSpeaker(name string) { r.record("speaker:%s", name) }

func (r *Recorder) Add(name string, p domain.Portrait, dir domain.Direction) {
	r.record("add:%s@%s", name, dir)
}

func (r *Recorder) Remove(name string, dir domain.Direction) { r.record("remove:%s@%s", name, dir) }

func (r *Recorder) PlayAction(name string, anim domain.Animation) {
	r.record("action:%s:%s", name, anim)
}

func (r *Recorder) ChangeExpression(name string, p domain.Portrait) {
	r.record("expr:%s:%s", name, p.ID)
}

func (r *Recorder) Show(options []domain.ChoiceOption) {
	parts := make([]string, len(options))
	for i, o := range options {
		parts[i] = o.Text + ">" + o.TargetLabel
	}
	r.mu.Lock()
	r.Options = options
	r.Visible = true
	r.mu.Unlock()
	r.record("choices:%s", strings.Join(parts, "|"))
}

func (r *Recorder) Hide() {
	r.mu.Lock()
	r.Visible = false
	r.Options = nil
	r.mu.Unlock()
	r.record("hide")
}

func (r *Recorder) SetBackground(id string) { r.record("bg:%s", id) }

func (r *Recorder) SkipAll() {
	r.mu.Lock()
	r.Skips++
	r.mu.Unlock()
}

func (r *Recorder) Portrait(id string) (domain.Portrait, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Present != nil && !r.Present[id] {
		return domain.Portrait{}, fmt.Errorf("%s: %w", id, ErrMissing)
	}
	return domain.Portrait{ID: id, Path: id + ".png"}, nil
}

// Context returns a program context wired to r and store.
func (r *Recorder) Context(store *vars.Store) *program.Context {
	if store == nil {
		store = vars.NewStore()
	}
	return &program.Context{
		Dialogue:   r,
		Characters: r,
		Choices:    r,
		Background: r,
		Resources:  r,
		Skipper:    r,
		Vars:       store,
		Log:        slog.New(slog.DiscardHandler),
	}
}
