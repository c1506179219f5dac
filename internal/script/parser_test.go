/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"strings"
	"testing"
)

func TestParseTagsDialogueAndComments(t *testing.T) {
	input := "# opening\r\n" +
		"[label intro]\r\n" +
		"[spk name=\"Mira Vale\"]\r\n" +
		"\r\n" +
		"Hello <shake>there</shake>!\r\n" +
		"[char img=mira enter=left]\r\n" +
		"[goto intro]\r\n"

	p, diags := Parse(input)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	if len(p.Commands) != 5 {
		t.Fatalf("expected 5 commands, got %d: %+v", len(p.Commands), p.Commands)
	}
	want := []string{"label", "spk", "msg", "char", "goto"}
	for i, w := range want {
		if p.Commands[i].Type != w {
			t.Fatalf("command %d type = %q, want %q", i, p.Commands[i].Type, w)
		}
	}
	if got := p.Commands[1].Param("name"); got != "Mira Vale" {
		t.Fatalf("spk name = %q", got)
	}
	if got := p.Commands[2].Param("content"); got != "Hello <link=shake>there</link>!" {
		t.Fatalf("dialogue content = %q", got)
	}
	if c := p.Commands[3]; c.Param("img") != "mira" || c.Param("enter") != "left" {
		t.Fatalf("char params = %+v", c.Params)
	}
	if got := p.Commands[4].Param("content"); got != "intro" {
		t.Fatalf("goto content = %q", got)
	}
	if idx, ok := p.Labels["intro"]; !ok || idx != 0 {
		t.Fatalf("label intro = %d,%v", idx, ok)
	}
	if p.Commands[2].Line != 5 {
		t.Fatalf("dialogue line number = %d, want 5", p.Commands[2].Line)
	}
}

func TestParseAttributeQuoting(t *testing.T) {
	p, _ := Parse(`[var title="val with spaces" nick='single quoted' gold=10]`)
	if len(p.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(p.Commands))
	}
	params := p.Commands[0].Params
	if params["title"] != "val with spaces" {
		t.Fatalf("double-quoted value = %q", params["title"])
	}
	if params["nick"] != "single quoted" {
		t.Fatalf("single-quoted value = %q", params["nick"])
	}
	if params["gold"] != "10" {
		t.Fatalf("bare value = %q", params["gold"])
	}
	if _, ok := params["content"]; ok {
		t.Fatalf("content must not be set when attributes are present")
	}
}

func TestParseBareTagHasNoContent(t *testing.T) {
	p, _ := Parse("[choices]")
	if len(p.Commands) != 1 || p.Commands[0].Type != "choices" {
		t.Fatalf("unexpected commands: %+v", p.Commands)
	}
	if _, ok := p.Commands[0].Params["content"]; ok {
		t.Fatalf("bare tag should not carry content")
	}
	if p.Commands[0].Choices == nil {
		t.Fatalf("choices block should have an empty, non-nil choice list")
	}
}

func TestParseChoicesBlock(t *testing.T) {
	input := `Where to?
[choices]
* Go {dir} > north
# comment between options
* Stay home   >   home
[label north]
* stray > home`

	p, diags := Parse(input)
	if len(p.Commands) != 4 {
		t.Fatalf("expected 4 commands, got %d: %+v", len(p.Commands), p.Commands)
	}
	block := p.Commands[1]
	if block.Type != "choices" || len(block.Choices) != 2 {
		t.Fatalf("unexpected choices block: %+v", block)
	}
	if c := block.Choices[0]; c.Type != "msg" || c.Content != "Go {dir}" || c.Goto != "north" {
		t.Fatalf("choice 0 = %+v", c)
	}
	if c := block.Choices[1]; c.Content != "Stay home" || c.Goto != "home" {
		t.Fatalf("choice 1 = %+v", c)
	}
	// The label closed the block, so the stray choice line is dialogue.
	last := p.Commands[3]
	if last.Type != "msg" || last.Param("content") != "* stray > home" {
		t.Fatalf("stray choice line should be dialogue, got %+v", last)
	}
	if len(diags) != 1 || diags[0].Line != 7 {
		t.Fatalf("expected one diagnostic on line 7, got %+v", diags)
	}
}

func TestParseChoiceLineWithoutBlockIsDialogue(t *testing.T) {
	p, diags := Parse("* Run > away")
	if len(p.Commands) != 1 || p.Commands[0].Type != "msg" {
		t.Fatalf("unexpected commands: %+v", p.Commands)
	}
	if len(diags) != 1 {
		t.Fatalf("expected a diagnostic, got %+v", diags)
	}
}

func TestParseDuplicateLabelFirstWins(t *testing.T) {
	input := `[label intro]
First
[label intro]
Second
[goto intro]`
	p, diags := Parse(input)
	if got := p.Labels["intro"]; got != 0 {
		t.Fatalf("intro = %d, want 0", got)
	}
	if len(p.Commands) != 5 {
		t.Fatalf("duplicate label must still be a command, got %d", len(p.Commands))
	}
	if len(diags) != 1 || !strings.Contains(diags[0].Message, "duplicate") {
		t.Fatalf("expected duplicate diagnostic, got %+v", diags)
	}
}

func TestParseMalformedTagFallsBackToDialogue(t *testing.T) {
	p, diags := Parse(`[spk name="unterminated`)
	if len(p.Commands) != 1 || p.Commands[0].Type != "msg" {
		t.Fatalf("malformed tag should be dialogue: %+v", p.Commands)
	}
	if len(diags) != 1 || diags[0].Line != 1 {
		t.Fatalf("expected one diagnostic, got %+v", diags)
	}
}

func TestParseUnknownTagKept(t *testing.T) {
	p, diags := Parse("[unknowncmd foo=1]")
	if len(diags) != 0 {
		t.Fatalf("unknown tags are not a parse concern: %+v", diags)
	}
	if len(p.Commands) != 1 || p.Commands[0].Type != "unknowncmd" || p.Commands[0].Param("foo") != "1" {
		t.Fatalf("unexpected command: %+v", p.Commands)
	}
}

func TestParamOr(t *testing.T) {
	c := Command{Params: map[string]string{"content": "next"}}
	if got := c.ParamOr("file", "content"); got != "next" {
		t.Fatalf("ParamOr = %q", got)
	}
	if got := c.ParamOr("missing"); got != "" {
		t.Fatalf("ParamOr missing = %q", got)
	}
}

func TestParseOverlongLineKeepsFollowingStructure(t *testing.T) {
	long := strings.Repeat("x", 1<<20+10)
	p, diags := Parse("[label a]\n" + long + "\nHello after\n[goto a]\n")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if len(p.Commands) != 4 {
		t.Fatalf("expected 4 commands, got %d", len(p.Commands))
	}
	if got := p.Commands[1].Param("content"); got != long {
		t.Fatalf("long line not kept whole (len %d)", len(got))
	}
	if p.Commands[2].Param("content") != "Hello after" || p.Commands[2].Line != 3 {
		t.Fatalf("line after the long one lost: %+v", p.Commands[2])
	}
	if p.Commands[3].Type != "goto" || p.Commands[3].Param("content") != "a" || p.Commands[3].Line != 4 {
		t.Fatalf("goto after the long line lost: %+v", p.Commands[3])
	}
}
