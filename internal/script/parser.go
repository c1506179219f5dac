/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reTag    = regexp.MustCompile(`^\[(\w+)(?:\s+(.*))?\]$`)
	reAttr   = regexp.MustCompile(`(\w+)=("[^"]*"|'[^']*'|[^ \t\]]+)`)
	reChoice = regexp.MustCompile(`^\*\s*(.+?)\s*>\s*(.+)$`)

	// Author-facing span markers rewritten into the renderer's link markup.
	effectReplacer = strings.NewReplacer(
		"<shake>", "<link=shake>",
		"</shake>", "</link>",
	)
)

// Parse turns script text into commands and a label map.
// Supported syntax:
//   - Comments: lines starting with "#"; blank lines are ignored.
//   - Tags: [name] or [name key=value key2="quoted value" key3='single'].
//     A body without "=" is stored whole under "content": [goto intro].
//   - [label name] registers name at the label's own index; the first declaration wins.
//   - [choices] opens a choice block; following "* text > label" lines attach to it.
//   - Everything else is a dialogue line and becomes a "msg" command.
//
// Parse never fails. Malformed input degrades to dialogue, and the returned
// diagnostics point at lines an author probably wants to look at.
func Parse(input string) (Parsed, []Diagnostic) {
	out := Parsed{Commands: []Command{}, Labels: LabelMap{}}
	var diags []Diagnostic

	text := strings.ReplaceAll(input, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = effectReplacer.Replace(text)

	// index of the choices command currently accepting choice lines, or -1
	activeChoices := -1

	emit := func(c Command) {
		out.Commands = append(out.Commands, c)
		activeChoices = -1
	}

	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := reTag.FindStringSubmatch(line); m != nil {
			cmd := Command{Type: m[1], Params: map[string]string{}, Line: lineNo}
			body := m[2]
			if !strings.Contains(body, "=") {
				if body = strings.TrimSpace(body); body != "" {
					cmd.Params["content"] = body
				}
			} else {
				parseAttributes(body, cmd.Params)
			}

			switch cmd.Type {
			case "label":
				name := cmd.Params["content"]
				switch _, dup := out.Labels[name]; {
				case name == "":
					diags = append(diags, Diagnostic{Line: lineNo, Message: "label without a name is ignored"})
				case dup:
					diags = append(diags, Diagnostic{Line: lineNo, Message: fmt.Sprintf("duplicate label %q ignored; first declaration wins", name)})
				default:
					out.Labels[name] = len(out.Commands)
				}
				emit(cmd)
			case "choices":
				cmd.Choices = []Choice{}
				emit(cmd)
				activeChoices = len(out.Commands) - 1
			default:
				emit(cmd)
			}
			continue
		}

		if m := reChoice.FindStringSubmatch(line); m != nil {
			if activeChoices >= 0 {
				block := &out.Commands[activeChoices]
				block.Choices = append(block.Choices, Choice{
					Type:    "msg",
					Content: strings.TrimSpace(m[1]),
					Goto:    strings.TrimSpace(m[2]),
					Line:    lineNo,
				})
				continue
			}
			diags = append(diags, Diagnostic{Line: lineNo, Message: "choice line outside a [choices] block is shown as dialogue"})
		} else if strings.HasPrefix(line, "[") {
			diags = append(diags, Diagnostic{Line: lineNo, Message: "malformed tag is shown as dialogue"})
		}

		emit(Command{Type: "msg", Params: map[string]string{"content": line}, Line: lineNo})
	}

	return out, diags
}

// parseAttributes extracts key=value pairs; quotes around values are stripped.
func parseAttributes(body string, params map[string]string) {
	for _, m := range reAttr.FindAllStringSubmatch(body, -1) {
		v := m[2]
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') {
			v = v[1 : len(v)-1]
		}
		params[m[1]] = v
	}
}
