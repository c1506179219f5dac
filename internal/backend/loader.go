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
	"log/slog"

	"gonovel/internal/compiler"
	applog "gonovel/internal/log"
	"gonovel/internal/program"
)

// ScriptSource fetches published scripts. Both *Store and *Client implement it.
type ScriptSource interface {
	GetScript(ctx context.Context, story, id string) (Script, error)
}

// Loader compiles published scripts of one story on demand.
type Loader struct {
	Source ScriptSource
	Story  string
	Log    *slog.Logger
}

// NewLoader returns a loader reading story from src.
func NewLoader(src ScriptSource, story string) *Loader {
	return &Loader{Source: src, Story: story, Log: applog.WithComponent("backend")}
}

// Load fetches and compiles script id.
func (l *Loader) Load(ctx context.Context, id string) (*program.Program, error) {
	sc, err := l.Source.GetScript(ctx, l.Story, id)
	if err != nil {
		return nil, err
	}
	p, diags, err := compiler.Build(id, sc.Source)
	log := l.Log
	if log == nil {
		log = applog.Discard()
	}
	for _, d := range diags {
		log.Warn("script diagnostic", slog.String("story", l.Story), slog.String("script", id), slog.Int("line", d.Line), slog.String("msg", d.Message))
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
