/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package vars

import (
	"sync"
	"testing"
)

func TestSetAddInterpolate(t *testing.T) {
	s := NewStore()
	s.Set("gold", "10")
	s.Add("gold", "5")
	if got, want := s.Interpolate("You have {gold} gold."), "You have 15 gold."; got != want {
		t.Fatalf("Interpolate = %q, want %q", got, want)
	}
}

func TestAddPolicy(t *testing.T) {
	cases := []struct {
		name       string
		cur, delta string
		set        bool
		want       string
	}{
		{"int sum", "10", "5", true, "15"},
		{"negative", "3", "-7", true, "-4"},
		{"float sum", "1.5", "2", true, "3.5"},
		{"missing numeric", "", "3", false, "3"},
		{"missing text", "", "hi", false, "hi"},
		{"text append", "Ann", "ie", true, "Annie"},
		{"number plus text", "10", "x", true, "10x"},
		{"text plus number", "lvl", "2", true, "lvl2"},
		{"int overflow becomes float", "9223372036854775807", "1", true, "9223372036854775808"},
		{"int underflow becomes float", "-9223372036854775808", "-1", true, "-9223372036854775808"},
		{"large but safe", "9223372036854775806", "1", true, "9223372036854775807"},
		{"infinity is text", "Infinity", "1", true, "Infinity1"},
		{"inf delta is text", "1", "inf", true, "1inf"},
		{"nan is text", "NaN", "2", true, "NaN2"},
		{"hex float is text", "0x1p4", "1", true, "0x1p41"},
		{"float overflow is text", "1e308", "1e308", true, "1e3081e308"},
	}
	for _, c := range cases {
		s := NewStore()
		if c.set {
			s.Set("k", c.cur)
		}
		if got := s.Add("k", c.delta); got != c.want {
			t.Fatalf("%s: Add = %q, want %q", c.name, got, c.want)
		}
		if v, _ := s.Get("k"); v != c.want {
			t.Fatalf("%s: stored %q, want %q", c.name, v, c.want)
		}
	}
}

func TestInterpolateLeavesUnknownPlaceholders(t *testing.T) {
	s := NewStore()
	s.Set("name", "Mira")
	s.Set("party.size", "3")
	got := s.Interpolate("{name} and {friend} ({party.size}) {not valid} {}")
	want := "Mira and {friend} (3) {not valid} {}"
	if got != want {
		t.Fatalf("Interpolate = %q, want %q", got, want)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.Set("a", "1")
	snap := s.Snapshot()
	snap["a"] = "changed"
	if v, _ := s.Get("a"); v != "1" {
		t.Fatalf("snapshot aliased store: %q", v)
	}
	s.Set("b", "2")
	if keys := s.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" || s.Len() != 2 {
		t.Fatalf("Keys = %v", keys)
	}
}

func TestConcurrentReaders(t *testing.T) {
	s := NewStore()
	s.Set("n", "0")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Interpolate("{n}")
			}
		}()
	}
	for j := 0; j < 100; j++ {
		s.Add("n", "1")
	}
	wg.Wait()
	if v, _ := s.Get("n"); v != "100" {
		t.Fatalf("n = %q, want 100", v)
	}
}

func TestZeroValueStore(t *testing.T) {
	var s Store
	if _, ok := s.Get("k"); ok {
		t.Fatalf("empty store reported a value")
	}
	s.Set("a", "1")
	if got := s.Add("a", "2"); got != "3" {
		t.Fatalf("Add = %q", got)
	}
	var s2 Store
	if got := s2.Add("b", "x"); got != "x" {
		t.Fatalf("Add on zero store = %q", got)
	}
	if s.Interpolate("{a}") != "3" || s2.Len() != 1 {
		t.Fatalf("zero-value store not usable")
	}
}
