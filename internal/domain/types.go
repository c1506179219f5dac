/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import "strings"

// This file defines the value types shared by the script engine and its hosts.

// Story is the manifest of a story project (story.json).
// Scripts live under <root>/scripts/<id><ext>; Entry names the first one to run.
type Story struct {
	Name       string      `json:"name"`
	Entry      string      `json:"entry"`
	Metadata   Metadata    `json:"metadata,omitempty"`
	Scripts    []ScriptRef `json:"scripts"`
	Characters []Character `json:"characters,omitempty"`
}

// Metadata contains optional descriptive metadata for a story.
type Metadata struct {
	Author   string `json:"author,omitempty"`
	Language string `json:"language,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ScriptRef lists a script that belongs to the story.
type ScriptRef struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// Character is a cast entry; ID matches the portrait file stem used by [char img=...].
type Character struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// HasScript reports whether id is listed in the manifest.
func (s Story) HasScript(id string) bool {
	for _, r := range s.Scripts {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Direction is where a character enters from or exits to.
type Direction int

const (
	DirectionCenter Direction = iota
	DirectionLeft
	DirectionRight
	DirectionBottomLeft
	DirectionBottomRight
	DirectionTop
	DirectionRunLeft
	DirectionRunRight
)

var directionNames = map[Direction]string{
	DirectionCenter:      "center",
	DirectionLeft:        "left",
	DirectionRight:       "right",
	DirectionBottomLeft:  "bottomleft",
	DirectionBottomRight: "bottomright",
	DirectionTop:         "top",
	DirectionRunLeft:     "runleft",
	DirectionRunRight:    "runright",
}

func (d Direction) String() string {
	if n, ok := directionNames[d]; ok {
		return n
	}
	return "center"
}

// ParseDirection maps a script value to a Direction. Unknown or empty values
// resolve to DirectionCenter; ok is false in that case unless s was "center".
func ParseDirection(s string) (Direction, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	for d, n := range directionNames {
		if n == key {
			return d, true
		}
	}
	return DirectionCenter, false
}

// Animation is a one-shot character action.
type Animation int

const (
	AnimationNod Animation = iota
	AnimationJump
	AnimationShake
	AnimationRun
	AnimationPunch
)

var animationNames = map[Animation]string{
	AnimationNod:   "nod",
	AnimationJump:  "jump",
	AnimationShake: "shake",
	AnimationRun:   "run",
	AnimationPunch: "punch",
}

func (a Animation) String() string {
	if n, ok := animationNames[a]; ok {
		return n
	}
	return "nod"
}

// ParseAnimation maps a script value to an Animation, defaulting to AnimationNod.
func ParseAnimation(s string) (Animation, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	for a, n := range animationNames {
		if n == key {
			return a, true
		}
	}
	return AnimationNod, false
}

// ChoiceOption is one selectable entry of a choice list, with its text already interpolated.
type ChoiceOption struct {
	Text        string
	TargetLabel string
	TargetIndex int
}

// Portrait is a resolved character image.
type Portrait struct {
	ID     string
	Path   string
	Width  int
	Height int
}
