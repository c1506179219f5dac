/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

// Command is one parsed script instruction.
// Type is the tag name ("msg" for bare dialogue lines); Params holds the tag
// attributes, or the whole tag body under "content" for shorthand tags like
// [goto intro]. Choices is only set for "choices" commands.
type Command struct {
	Type    string
	Params  map[string]string
	Choices []Choice
	Line    int // 1-based source line
}

// Param returns the value of key, or "" when absent.
func (c Command) Param(key string) string {
	return c.Params[key]
}

// ParamOr returns the first non-empty value among keys.
func (c Command) ParamOr(keys ...string) string {
	for _, k := range keys {
		if v := c.Params[k]; v != "" {
			return v
		}
	}
	return ""
}

// Choice is a raw "* text > label" line attached to a choices block.
type Choice struct {
	Type    string // always "msg"
	Content string
	Goto    string
	Line    int
}

// LabelMap maps a label name to the index of its label command.
type LabelMap map[string]int

// Parsed is the parser output.
type Parsed struct {
	Commands []Command
	Labels   LabelMap
}

// Diagnostic reports an authoring hazard. Diagnostics never change the parse result.
type Diagnostic struct {
	Line    int
	Message string
}
