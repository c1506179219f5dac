/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package ui hosts a story in a terminal. Console implements every sink the
// engine drives and Play reads player input line by line.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"gonovel/internal/domain"
	"gonovel/internal/engine"
	"gonovel/internal/program"
	"gonovel/internal/vars"
)

// Console renders dialogue, staging and choices as plain text lines.
type Console struct {
	out     io.Writer
	color   bool
	speaker string
	choices []domain.ChoiceOption
	stage   map[string]string // character name -> portrait id
}

// NewConsole writes to out. ANSI styling is enabled when out is a terminal.
func NewConsole(out io.Writer) *Console {
	c := &Console{out: out, stage: map[string]string{}}
	if f, ok := out.(*os.File); ok {
		c.color = term.IsTerminal(int(f.Fd()))
	}
	return c
}

// Context wires the console into a run context.
func (c *Console) Context(store *vars.Store, res program.ResourceLoader) *program.Context {
	return &program.Context{
		Dialogue:   c,
		Characters: c,
		Choices:    c,
		Background: c,
		Resources:  res,
		Skipper:    c,
		Vars:       store,
	}
}

func (c *Console) bold(s string) string {
	if !c.color {
		return s
	}
	return "\x1b[1m" + s + "\x1b[0m"
}

func (c *Console) dim(s string) string {
	if !c.color {
		return s
	}
	return "\x1b[2m" + s + "\x1b[0m"
}

func (c *Console) SetSpeaker(name string) { c.speaker = name }

func (c *Console) SetDialogue(text string) {
	if c.speaker != "" {
		fmt.Fprintf(c.out, "%s: %s\n", c.bold(c.speaker), text)
		return
	}
	fmt.Fprintln(c.out, text)
}

func (c *Console) Add(name string, p domain.Portrait, dir domain.Direction) {
	c.stage[name] = p.ID
	fmt.Fprintln(c.out, c.dim(fmt.Sprintf("* %s enters (%s)", name, dir)))
}

func (c *Console) Remove(name string, dir domain.Direction) {
	delete(c.stage, name)
	fmt.Fprintln(c.out, c.dim(fmt.Sprintf("* %s leaves (%s)", name, dir)))
}

func (c *Console) PlayAction(name string, anim domain.Animation) {
	fmt.Fprintln(c.out, c.dim(fmt.Sprintf("* %s: %s", name, anim)))
}

func (c *Console) ChangeExpression(name string, p domain.Portrait) {
	c.stage[name] = p.ID
	fmt.Fprintln(c.out, c.dim(fmt.Sprintf("* %s looks %s", name, p.ID)))
}

func (c *Console) Show(options []domain.ChoiceOption) {
	c.choices = append(c.choices[:0], options...)
	for i, o := range options {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, o.Text)
	}
}

func (c *Console) Hide() { c.choices = nil }

func (c *Console) SetBackground(id string) {
	fmt.Fprintln(c.out, c.bold("== "+id+" =="))
}

// SkipAll is a no-op; console output has no running effects.
func (c *Console) SkipAll() {}

// OnStage reports the portrait currently shown for name.
func (c *Console) OnStage(name string) (string, bool) {
	id, ok := c.stage[name]
	return id, ok
}

// Play starts e if needed and feeds it commands read from in until the story
// ends, the player quits or input runs out.
//
//	<enter>  advance
//	<n>      pick choice n
//	s        skip effects
//	b        back to the previous wait point
//	q        quit
func Play(ctx context.Context, e *engine.Engine, c *Console, in io.Reader) error {
	if e.State() == engine.StateNotStarted {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}
	sc := bufio.NewScanner(in)
	for e.State() != engine.StateEnded {
		fmt.Fprint(c.out, c.dim(prompt(e, c)))
		if !sc.Scan() {
			fmt.Fprintln(c.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		var err error
		switch line {
		case "q", "quit":
			return nil
		case "s", "skip":
			e.Skip()
			continue
		case "b", "back":
			err = e.Back(ctx)
		case "":
			err = e.Advance(ctx)
		default:
			n, convErr := strconv.Atoi(line)
			if convErr != nil || n < 1 || n > len(c.choices) {
				fmt.Fprintf(c.out, "No option %s.\n", line)
				continue
			}
			err = e.SelectChoice(ctx, c.choices[n-1].TargetIndex)
		}
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrChoicePending):
			fmt.Fprintf(c.out, "Pick an option (1-%d).\n", len(c.choices))
		case errors.Is(err, engine.ErrNoHistory):
			fmt.Fprintln(c.out, "Nothing to go back to.")
		case errors.Is(err, engine.ErrInvalidTarget):
			fmt.Fprintln(c.out, err)
		default:
			return err
		}
	}
	fmt.Fprintln(c.out, c.bold("-- end --"))
	return nil
}

func prompt(e *engine.Engine, c *Console) string {
	if e.ChoicePending() && len(c.choices) > 0 {
		return fmt.Sprintf("choose 1-%d> ", len(c.choices))
	}
	return "> "
}
