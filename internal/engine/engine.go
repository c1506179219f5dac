/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package engine steps a compiled program under host pacing.
//
// The engine owns the cursor. Continue and Jump results are applied within a
// single call; Wait hands control back to the host, which resumes with
// Advance or SelectChoice.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonovel/internal/history"
	applog "gonovel/internal/log"
	"gonovel/internal/program"
)

// State is the lifecycle state of an engine.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateAwaitingInput
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateAwaitingInput:
		return "awaiting-input"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DefaultMaxStepsPerTurn bounds the number of non-suspending steps per call.
const DefaultMaxStepsPerTurn = 10000

var (
	ErrNoProgram      = errors.New("no program loaded")
	ErrAlreadyStarted = errors.New("program already started")
	ErrNotAwaiting    = errors.New("engine is not awaiting input")
	ErrChoicePending  = errors.New("a choice must be selected")
	ErrInvalidTarget  = errors.New("target index out of range")
	ErrRunaway        = errors.New("too many steps without waiting")
	ErrNoHistory      = errors.New("no earlier wait point")
)

// Loader resolves a program id requested by a script or scene command.
type Loader interface {
	Load(ctx context.Context, id string) (*program.Program, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, id string) (*program.Program, error)

func (f LoaderFunc) Load(ctx context.Context, id string) (*program.Program, error) { return f(ctx, id) }

// Option configures an Engine.
type Option func(*Engine)

// WithLoader lets the engine handle program replacement itself.
func WithLoader(l Loader) Option { return func(e *Engine) { e.loader = l } }

// WithMaxSteps overrides DefaultMaxStepsPerTurn. Values below 1 are ignored.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithHistory records a checkpoint at every wait point so Back can roll back.
func WithHistory(h *history.Log) Option { return func(e *Engine) { e.history = h } }

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine runs one program at a time against a shared context.
// It is not safe for concurrent use.
type Engine struct {
	rc       *program.Context
	loader   Loader
	maxSteps int
	log      *slog.Logger
	history  *history.Log

	prog   *program.Program
	cursor int
	state  State

	choicesVisible bool
	choicePending  bool
	// interrupted marks a turn stopped by context cancellation; the next
	// Advance re-runs the action at the cursor instead of moving past it.
	interrupted bool

	running   bool
	queued    *program.Program
	requested string
}

// New returns an engine bound to rc. It installs rc.PeekNextTag, and
// rc.ReplaceProgram when a loader is configured.
func New(rc *program.Context, opts ...Option) *Engine {
	if rc == nil {
		rc = &program.Context{}
	}
	e := &Engine{
		rc:       rc,
		maxSteps: DefaultMaxStepsPerTurn,
		log:      applog.WithComponent("engine"),
		cursor:   -1,
	}
	for _, o := range opts {
		o(e)
	}
	rc.PeekNextTag = e.peekNextTag
	if e.loader != nil {
		rc.ReplaceProgram = e.requestReplace
	}
	if rc.Log == nil {
		rc.Log = e.log
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return e.state }

// Cursor returns the index of the current action, or -1 before Start.
func (e *Engine) Cursor() int { return e.cursor }

// Program returns the installed program.
func (e *Engine) Program() *program.Program { return e.prog }

// ChoicePending reports whether the engine waits on a choice selection.
func (e *Engine) ChoicePending() bool { return e.state == StateAwaitingInput && e.choicePending }

// Load installs p and resets the cursor. Called during a step, p is queued
// and replaces the running program once it ends.
func (e *Engine) Load(p *program.Program) error {
	if p == nil {
		return ErrNoProgram
	}
	if e.running {
		e.queued = p
		return nil
	}
	e.install(p)
	return nil
}

func (e *Engine) install(p *program.Program) {
	e.prog = p
	e.cursor = -1
	e.state = StateNotStarted
	e.choicePending = false
	e.interrupted = false
	e.log.Debug("program installed", slog.String("program", p.ID), slog.Int("actions", p.Len()))
}

// Start runs the installed program from its first action until it waits or ends.
func (e *Engine) Start(ctx context.Context) error {
	if e.prog == nil {
		return ErrNoProgram
	}
	if e.state != StateNotStarted {
		return ErrAlreadyStarted
	}
	e.cursor = 0
	return e.run(ctx)
}

// Advance resumes after a plain wait.
func (e *Engine) Advance(ctx context.Context) error {
	if e.state != StateAwaitingInput {
		return fmt.Errorf("advance in state %s: %w", e.state, ErrNotAwaiting)
	}
	if e.choicePending {
		return ErrChoicePending
	}
	if e.interrupted {
		e.interrupted = false
	} else {
		e.cursor++
	}
	return e.run(ctx)
}

// SelectChoice moves the cursor to target and resumes.
func (e *Engine) SelectChoice(ctx context.Context, target int) error {
	if e.state != StateAwaitingInput {
		return fmt.Errorf("select choice in state %s: %w", e.state, ErrNotAwaiting)
	}
	if target < 0 || target >= e.prog.Len() {
		return fmt.Errorf("choice target %d (program has %d actions): %w", target, e.prog.Len(), ErrInvalidTarget)
	}
	e.choicePending = false
	e.interrupted = false
	e.cursor = target
	return e.run(ctx)
}

// Back returns to the previous wait point. Variables are restored and the
// action that waited there runs again; staging already shown is not undone.
func (e *Engine) Back(ctx context.Context) error {
	if e.history == nil {
		return ErrNoHistory
	}
	if e.state != StateAwaitingInput {
		return fmt.Errorf("back in state %s: %w", e.state, ErrNotAwaiting)
	}
	cp, ok := e.history.Previous()
	if !ok {
		return ErrNoHistory
	}
	p := e.prog
	if cp.ProgramID != e.prog.ID {
		if e.loader == nil {
			return fmt.Errorf("rewind to program %s: %w", cp.ProgramID, ErrNoProgram)
		}
		var err error
		p, err = e.loader.Load(ctx, cp.ProgramID)
		if err == nil && p == nil {
			err = ErrNoProgram
		}
		if err != nil {
			return fmt.Errorf("load program %s: %w", cp.ProgramID, err)
		}
	}
	// Nothing changes until the checkpoint is known to fit its program.
	if cp.Cursor < 0 || cp.Cursor >= p.Len() {
		return fmt.Errorf("rewind to %d: %w", cp.Cursor, ErrInvalidTarget)
	}
	e.history.Back()
	if p != e.prog {
		e.install(p)
	}
	if e.rc.Vars != nil {
		e.rc.Vars.Restore(cp.Vars)
	}
	e.log.Debug("rewind", slog.String("program", cp.ProgramID), slog.Int("cursor", cp.Cursor))
	e.choicePending = false
	e.interrupted = false
	e.cursor = cp.Cursor
	return e.run(ctx)
}

// Skip fast-forwards external effects. Cursor and state are unaffected.
func (e *Engine) Skip() {
	if e.rc.Skipper != nil {
		e.rc.Skipper.SkipAll()
	}
}

func (e *Engine) peekNextTag() (string, bool) {
	next := e.cursor + 1
	if e.prog == nil || next >= e.prog.Len() {
		return "", false
	}
	return e.prog.TagAt(next), true
}

func (e *Engine) requestReplace(id string) {
	e.requested = id
}

// run executes actions until one waits, the program ends, or an error occurs.
func (e *Engine) run(ctx context.Context) error {
	e.running = true
	defer func() { e.running = false }()
	e.state = StateRunning

	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			e.state = StateAwaitingInput
			e.interrupted = true
			return err
		}
		if e.cursor >= e.prog.Len() {
			restarted, err := e.end(ctx)
			if err != nil || !restarted {
				return err
			}
			steps = 0
			continue
		}

		act := e.prog.Actions[e.cursor]
		stepCtx := applog.WithStep(ctx, e.prog.ID, e.cursor)
		if e.choicesVisible && act.Tag != "choices" {
			if e.rc.Choices != nil {
				e.rc.Choices.Hide()
			}
			e.choicesVisible = false
		}

		steps++
		if steps > e.maxSteps {
			e.state = StateEnded
			e.log.ErrorContext(stepCtx, "step limit reached", slog.Int("limit", e.maxSteps))
			return fmt.Errorf("program %s at %d: %w", e.prog.ID, e.cursor, ErrRunaway)
		}

		res := act.Exec(e.rc)
		e.log.DebugContext(stepCtx, "step", slog.String("tag", act.Tag), slog.String("summary", act.Summary), slog.String("result", res.String()))
		if act.Tag == "choices" && e.rc.Choices != nil {
			e.choicesVisible = true
		}

		switch res.Kind {
		case program.KindContinue:
			e.cursor++
		case program.KindWait:
			e.state = StateAwaitingInput
			e.choicePending = act.Tag == "choices"
			e.checkpoint()
			return nil
		case program.KindJump:
			if res.Target < 0 || res.Target >= e.prog.Len() {
				e.state = StateEnded
				return fmt.Errorf("jump from %d to %d: %w", e.cursor, res.Target, ErrInvalidTarget)
			}
			e.cursor = res.Target
		case program.KindEnd:
			restarted, err := e.end(ctx)
			if err != nil || !restarted {
				return err
			}
			steps = 0
		default:
			e.state = StateEnded
			return fmt.Errorf("action %d returned unknown result %v", e.cursor, res)
		}
	}
}

func (e *Engine) checkpoint() {
	if e.history == nil {
		return
	}
	var snap map[string]string
	if e.rc.Vars != nil {
		snap = e.rc.Vars.Snapshot()
	}
	e.history.Push(history.Checkpoint{ProgramID: e.prog.ID, Cursor: e.cursor, Vars: snap, TS: time.Now()})
}

// end marks the program ended and installs a pending replacement, if any.
// It reports whether the loop should continue with a new program.
func (e *Engine) end(ctx context.Context) (bool, error) {
	e.state = StateEnded
	e.log.Debug("program ended", slog.String("program", e.prog.ID), slog.Int("cursor", e.cursor))

	next := e.queued
	e.queued = nil
	if id := e.requested; id != "" {
		e.requested = ""
		if next == nil && e.loader != nil {
			p, err := e.loader.Load(ctx, id)
			if err == nil && p == nil {
				err = ErrNoProgram
			}
			if err != nil {
				e.log.Error("program load failed", slog.String("program", id), slog.Any("err", err))
				return false, fmt.Errorf("load program %s: %w", id, err)
			}
			next = p
		}
	}
	if next == nil {
		return false, nil
	}
	e.install(next)
	e.state = StateRunning
	e.cursor = 0
	return true, nil
}
