/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"encoding/json"
	"testing"
)

func TestStoryJSONFieldNames(t *testing.T) {
	s := Story{Name: "Demo", Entry: "main", Scripts: []ScriptRef{{ID: "main"}}}
	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["entry"] != "main" || m["name"] != "Demo" {
		t.Fatalf("unexpected manifest keys: %s", b)
	}
	if !s.HasScript("main") || s.HasScript("other") {
		t.Fatalf("HasScript mismatch")
	}
}

func TestParseDirection(t *testing.T) {
	cases := []struct {
		in   string
		want Direction
		ok   bool
	}{
		{"left", DirectionLeft, true},
		{"RIGHT", DirectionRight, true},
		{" BottomLeft ", DirectionBottomLeft, true},
		{"runright", DirectionRunRight, true},
		{"center", DirectionCenter, true},
		{"", DirectionCenter, false},
		{"sideways", DirectionCenter, false},
	}
	for _, c := range cases {
		got, ok := ParseDirection(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("ParseDirection(%q) = %v,%v want %v,%v", c.in, got, ok, c.want, c.ok)
		}
	}
	if DirectionTop.String() != "top" {
		t.Fatalf("String() = %q", DirectionTop.String())
	}
}

func TestParseAnimationDefaultsToNod(t *testing.T) {
	if a, ok := ParseAnimation("Punch"); a != AnimationPunch || !ok {
		t.Fatalf("ParseAnimation(Punch) = %v,%v", a, ok)
	}
	if a, ok := ParseAnimation("dance"); a != AnimationNod || ok {
		t.Fatalf("ParseAnimation(dance) = %v,%v", a, ok)
	}
}
