/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package program defines compiled script programs and the context their
// actions run against.
package program

import (
	"fmt"
	"log/slog"

	"gonovel/internal/domain"
	"gonovel/internal/script"
	"gonovel/internal/vars"
)

// ResultKind is the control-flow outcome of one action.
type ResultKind int

const (
	// KindContinue advances to the next action in the same turn.
	KindContinue ResultKind = iota
	// KindWait suspends until the host advances.
	KindWait
	// KindJump moves the cursor to Result.Target in the same turn.
	KindJump
	// KindEnd terminates the program.
	KindEnd
)

func (k ResultKind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindWait:
		return "wait"
	case KindJump:
		return "jump"
	case KindEnd:
		return "end"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is returned by every action. Target is only meaningful for KindJump.
type Result struct {
	Kind   ResultKind
	Target int
}

func Continue() Result { return Result{Kind: KindContinue} }

func Wait() Result { return Result{Kind: KindWait} }

func End() Result { return Result{Kind: KindEnd} }

func Jump(target int) Result { return Result{Kind: KindJump, Target: target} }

func (r Result) String() string {
	if r.Kind == KindJump {
		return fmt.Sprintf("jump(%d)", r.Target)
	}
	return r.Kind.String()
}

// Action is one compiled instruction. Tag and Summary are for tracing only,
// except that the msg action peeks at the next action's Tag.
type Action struct {
	Tag     string
	Summary string
	Exec    func(rc *Context) Result
}

// Program is a compiled script. Actions have the same indexes as the commands
// they were compiled from, so Labels indexes into Actions.
type Program struct {
	ID      string
	Actions []Action
	Labels  script.LabelMap
}

// Len returns the number of actions.
func (p *Program) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Actions)
}

// TagAt returns the tag of the action at i, or "" when i is out of range.
func (p *Program) TagAt(i int) string {
	if p == nil || i < 0 || i >= len(p.Actions) {
		return ""
	}
	return p.Actions[i].Tag
}

// DialogueSink receives dialogue text and the current speaker.
type DialogueSink interface {
	SetDialogue(text string)
	SetSpeaker(name string)
}

// CharacterSink stages characters. Timing of any visual effect is up to the implementation.
type CharacterSink interface {
	Add(name string, portrait domain.Portrait, dir domain.Direction)
	Remove(name string, dir domain.Direction)
	PlayAction(name string, anim domain.Animation)
	ChangeExpression(name string, portrait domain.Portrait)
}

// ChoiceSink presents and clears choice lists.
type ChoiceSink interface {
	Show(options []domain.ChoiceOption)
	Hide()
}

// BackgroundSink changes the scene background.
type BackgroundSink interface {
	SetBackground(id string)
}

// ResourceLoader resolves portrait and expression images by id.
type ResourceLoader interface {
	Portrait(id string) (domain.Portrait, error)
}

// Skipper fast-forwards in-flight visual effects.
type Skipper interface {
	SkipAll()
}

// Context bundles the collaborators every action runs against.
// The host assembles it; the engine fills in PeekNextTag and, when it owns
// program loading, ReplaceProgram. Nil sinks are skipped.
type Context struct {
	Dialogue   DialogueSink
	Characters CharacterSink
	Choices    ChoiceSink
	Background BackgroundSink
	Resources  ResourceLoader
	Skipper    Skipper
	Vars       *vars.Store

	// ReplaceProgram asks the host to discard the running program and load id.
	ReplaceProgram func(id string)
	// PeekNextTag reports the tag of the action after the executing one.
	PeekNextTag func() (string, bool)

	Log *slog.Logger
}

// Logger returns the context logger or a no-op logger.
func (rc *Context) Logger() *slog.Logger {
	if rc == nil || rc.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return rc.Log
}

// Interpolate expands variables, or returns text unchanged without a store.
func (rc *Context) Interpolate(text string) string {
	if rc == nil || rc.Vars == nil {
		return text
	}
	return rc.Vars.Interpolate(text)
}

// NextTag calls PeekNextTag if set.
func (rc *Context) NextTag() string {
	if rc == nil || rc.PeekNextTag == nil {
		return ""
	}
	tag, ok := rc.PeekNextTag()
	if !ok {
		return ""
	}
	return tag
}
