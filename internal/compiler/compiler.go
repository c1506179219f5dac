/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package compiler turns parsed commands into executable program actions.
// Jump targets are resolved here, so an undefined label is a compile error
// rather than a bad cursor at run time.
package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"gonovel/internal/domain"
	"gonovel/internal/program"
	"gonovel/internal/script"
)

// ErrLabelOutOfRange is returned when a label map entry does not point into the command list.
var ErrLabelOutOfRange = errors.New("label index out of range")

// UnresolvedLabelError reports a goto or choice target missing from the label map.
type UnresolvedLabelError struct {
	Label string
	Tag   string
	Line  int
}

func (e *UnresolvedLabelError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s target %q is not defined", e.Line, e.Tag, e.Label)
	}
	return fmt.Sprintf("%s target %q is not defined", e.Tag, e.Label)
}

const summaryRunes = 20

type compiler struct {
	labels script.LabelMap
}

// Compile builds a program from commands. The result has exactly one action
// per command, at the same index.
func Compile(id string, cmds []script.Command, labels script.LabelMap) (*program.Program, error) {
	if labels == nil {
		labels = script.LabelMap{}
	}
	if err := checkLabels(cmds, labels); err != nil {
		return nil, err
	}
	c := &compiler{labels: labels}
	actions := make([]program.Action, len(cmds))
	for i, cmd := range cmds {
		a, err := c.compileCommand(cmd)
		if err != nil {
			return nil, err
		}
		actions[i] = a
	}
	return &program.Program{ID: id, Actions: actions, Labels: labels}, nil
}

// Build parses and compiles source in one go.
func Build(id, source string) (*program.Program, []script.Diagnostic, error) {
	parsed, diags := script.Parse(source)
	p, err := Compile(id, parsed.Commands, parsed.Labels)
	if err != nil {
		return nil, diags, fmt.Errorf("compile %s: %w", id, err)
	}
	return p, diags, nil
}

func checkLabels(cmds []script.Command, labels script.LabelMap) error {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if idx := labels[name]; idx < 0 || idx >= len(cmds) {
			return fmt.Errorf("label %q -> %d (program has %d commands): %w", name, idx, len(cmds), ErrLabelOutOfRange)
		}
	}
	return nil
}

func (c *compiler) resolve(label, tag string, line int) (int, error) {
	idx, ok := c.labels[label]
	if !ok || label == "" {
		return 0, &UnresolvedLabelError{Label: label, Tag: tag, Line: line}
	}
	return idx, nil
}

func (c *compiler) compileCommand(cmd script.Command) (program.Action, error) {
	switch cmd.Type {
	case "label":
		return compileLabel(cmd), nil
	case "msg":
		return compileMsg(cmd), nil
	case "spk":
		return compileSpk(cmd), nil
	case "char":
		return compileChar(cmd), nil
	case "remove":
		return compileRemove(cmd), nil
	case "action":
		return compileAction(cmd), nil
	case "expr":
		return compileExpr(cmd), nil
	case "goto":
		return c.compileGoto(cmd)
	case "choices":
		return c.compileChoices(cmd)
	case "var":
		return compileVar(cmd), nil
	case "add":
		return compileAdd(cmd), nil
	case "script", "scene":
		return compileScript(cmd), nil
	case "bg":
		return compileBg(cmd), nil
	default:
		return compileUnknown(cmd), nil
	}
}

// syncAction wraps an effect that always continues.
func syncAction(tag, summary string, run func(rc *program.Context)) program.Action {
	return program.Action{
		Tag:     tag,
		Summary: summary,
		Exec: func(rc *program.Context) program.Result {
			run(rc)
			return program.Continue()
		},
	}
}

func compileLabel(cmd script.Command) program.Action {
	return program.Action{
		Tag:     "label",
		Summary: cmd.Param("content"),
		Exec:    func(*program.Context) program.Result { return program.Continue() },
	}
}

func compileMsg(cmd script.Command) program.Action {
	raw := cmd.Param("content")
	return program.Action{
		Tag:     "msg",
		Summary: truncate(raw),
		Exec: func(rc *program.Context) program.Result {
			if rc.Dialogue != nil {
				rc.Dialogue.SetDialogue(rc.Interpolate(raw))
			}
			// Choices that follow a line appear in the same turn.
			if rc.NextTag() == "choices" {
				return program.Continue()
			}
			return program.Wait()
		},
	}
}

func compileSpk(cmd script.Command) program.Action {
	raw := cmd.ParamOr("name", "content")
	return syncAction("spk", raw, func(rc *program.Context) {
		if rc.Dialogue != nil {
			rc.Dialogue.SetSpeaker(rc.Interpolate(raw))
		}
	})
}

func compileChar(cmd script.Command) program.Action {
	img := cmd.Param("img")
	name := cmd.ParamOr("name", "img")
	dir, _ := domain.ParseDirection(cmd.Param("enter"))
	return syncAction("char", img, func(rc *program.Context) {
		portrait, ok := loadPortrait(rc, img, "char")
		if !ok || rc.Characters == nil {
			return
		}
		rc.Characters.Add(name, portrait, dir)
	})
}

func compileRemove(cmd script.Command) program.Action {
	target := cmd.ParamOr("target", "content")
	dir, _ := domain.ParseDirection(cmd.Param("exit"))
	return syncAction("remove", target, func(rc *program.Context) {
		if rc.Characters != nil {
			rc.Characters.Remove(target, dir)
		}
	})
}

func compileAction(cmd script.Command) program.Action {
	target := cmd.ParamOr("target", "content")
	anim, _ := domain.ParseAnimation(cmd.Param("anim"))
	return syncAction("action", target+":"+anim.String(), func(rc *program.Context) {
		if rc.Characters != nil {
			rc.Characters.PlayAction(target, anim)
		}
	})
}

func compileExpr(cmd script.Command) program.Action {
	target := cmd.ParamOr("target", "content")
	expr := strings.ToLower(cmd.Param("expr"))
	return syncAction("expr", target+":"+expr, func(rc *program.Context) {
		portrait, ok := loadPortrait(rc, expr, "expr")
		if !ok || rc.Characters == nil {
			return
		}
		rc.Characters.ChangeExpression(target, portrait)
	})
}

// loadPortrait resolves id through the context's resources. A failed lookup
// is logged and the calling action does nothing this frame. Without a
// loader the portrait carries only its id.
func loadPortrait(rc *program.Context, id, tag string) (domain.Portrait, bool) {
	if rc.Resources == nil {
		return domain.Portrait{ID: id}, true
	}
	p, err := rc.Resources.Portrait(id)
	if err != nil {
		rc.Logger().Warn("portrait load failed", slog.String("tag", tag), slog.String("id", id), slog.Any("err", err))
		return domain.Portrait{}, false
	}
	return p, true
}

func (c *compiler) compileGoto(cmd script.Command) (program.Action, error) {
	label := cmd.Param("content")
	target, err := c.resolve(label, "goto", cmd.Line)
	if err != nil {
		return program.Action{}, err
	}
	return program.Action{
		Tag:     "goto",
		Summary: label,
		Exec:    func(*program.Context) program.Result { return program.Jump(target) },
	}, nil
}

type choiceData struct {
	rawText     string
	targetLabel string
	targetIndex int
}

func (c *compiler) compileChoices(cmd script.Command) (program.Action, error) {
	choices := make([]choiceData, 0, len(cmd.Choices))
	for _, ch := range cmd.Choices {
		line := ch.Line
		if line == 0 {
			line = cmd.Line
		}
		idx, err := c.resolve(ch.Goto, "choice", line)
		if err != nil {
			return program.Action{}, err
		}
		choices = append(choices, choiceData{rawText: ch.Content, targetLabel: ch.Goto, targetIndex: idx})
	}
	return program.Action{
		Tag:     "choices",
		Summary: fmt.Sprintf("%d options", len(choices)),
		Exec: func(rc *program.Context) program.Result {
			options := make([]domain.ChoiceOption, len(choices))
			for i, ch := range choices {
				options[i] = domain.ChoiceOption{
					Text:        rc.Interpolate(ch.rawText),
					TargetLabel: ch.targetLabel,
					TargetIndex: ch.targetIndex,
				}
			}
			if rc.Choices != nil {
				rc.Choices.Show(options)
			}
			return program.Wait()
		},
	}, nil
}

type pair struct{ key, value string }

// sortedPairs fixes the application order of var/add parameters.
func sortedPairs(params map[string]string) []pair {
	out := make([]pair, 0, len(params))
	for k, v := range params {
		out = append(out, pair{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func pairKeys(pairs []pair) string {
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.key
	}
	return strings.Join(keys, ",")
}

func compileVar(cmd script.Command) program.Action {
	pairs := sortedPairs(cmd.Params)
	return syncAction("var", pairKeys(pairs), func(rc *program.Context) {
		if rc.Vars == nil {
			return
		}
		for _, p := range pairs {
			rc.Vars.Set(p.key, p.value)
		}
	})
}

func compileAdd(cmd script.Command) program.Action {
	pairs := sortedPairs(cmd.Params)
	return syncAction("add", pairKeys(pairs), func(rc *program.Context) {
		if rc.Vars == nil {
			return
		}
		for _, p := range pairs {
			rc.Vars.Add(p.key, p.value)
		}
	})
}

func compileScript(cmd script.Command) program.Action {
	target := cmd.ParamOr("file", "content")
	return program.Action{
		Tag:     "script",
		Summary: target,
		Exec: func(rc *program.Context) program.Result {
			if rc.ReplaceProgram != nil {
				rc.ReplaceProgram(target)
			} else {
				rc.Logger().Warn("program replacement requested without a handler", slog.String("target", target))
			}
			return program.End()
		},
	}
}

func compileBg(cmd script.Command) program.Action {
	file := cmd.ParamOr("file", "content")
	return syncAction("bg", file, func(rc *program.Context) {
		if rc.Background != nil {
			rc.Background.SetBackground(file)
		}
	})
}

func compileUnknown(cmd script.Command) program.Action {
	tag, line := cmd.Type, cmd.Line
	return syncAction(tag, "unknown", func(rc *program.Context) {
		rc.Logger().Warn("unknown command", slog.String("tag", tag), slog.Int("line", line))
	})
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= summaryRunes {
		return s
	}
	r := []rune(s)
	return string(r[:summaryRunes]) + "..."
}
