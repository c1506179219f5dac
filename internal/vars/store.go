/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package vars holds story variables and expands {name} placeholders in script text.
//
// Values are strings. Add treats numeric-looking values as numbers and
// everything else as text:
//
//	current  delta  result
//	"10"     "5"    "15"
//	"1.5"    "2"    "3.5"
//	""       "3"    "3"
//	"Ann"    "ie"   "Annie"
//	"10"     "x"    "10x"
//	"NaN"    "2"    "NaN2"
//
// Integer sums that overflow int64 are computed as floats. Non-finite or
// hexadecimal spellings ("Inf", "NaN", "0x1p4") count as text.
package vars

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// Store is a string-keyed variable table. It is safe for concurrent use;
// the engine is its only writer while a program runs. The zero value is an
// empty store.
type Store struct {
	mu   sync.RWMutex
	vals map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{vals: make(map[string]string)}
}

// Set overwrites key with value.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vals == nil {
		s.vals = make(map[string]string)
	}
	s.vals[key] = value
}

// Get returns the value of key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	return v, ok
}

// Add increments key by delta when both are numeric, otherwise appends delta.
// A missing key counts as empty. It returns the new value.
func (s *Store) Add(key, delta string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vals == nil {
		s.vals = make(map[string]string)
	}
	next := combine(s.vals[key], delta)
	s.vals[key] = next
	return next
}

func combine(cur, delta string) string {
	if cur == "" {
		return delta
	}
	if a, err := strconv.ParseInt(cur, 10, 64); err == nil {
		if b, err := strconv.ParseInt(delta, 10, 64); err == nil {
			sum := a + b
			if (b >= 0) == (sum >= a) {
				return strconv.FormatInt(sum, 10)
			}
		}
	}
	a, okA := decimal(cur)
	b, okB := decimal(delta)
	if okA && okB {
		if sum := a + b; !math.IsInf(sum, 0) {
			return strconv.FormatFloat(sum, 'f', -1, 64)
		}
	}
	return cur + delta
}

// decimal parses s as a finite base-10 number.
func decimal(s string) (float64, bool) {
	if strings.ContainsAny(s, "xX") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// Interpolate replaces every {name} with the value of name.
// Unknown names are left as written, braces included.
func (s *Store) Interpolate(text string) string {
	if text == "" {
		return text
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := s.vals[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Len returns the number of variables.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vals)
}

// Snapshot returns a copy of all variables.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.vals))
	for k, v := range s.vals {
		out[k] = v
	}
	return out
}

// Restore replaces all variables with a copy of vals.
func (s *Store) Restore(vals map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals = make(map[string]string, len(vals))
	for k, v := range vals {
		s.vals[k] = v
	}
}

// Keys returns the variable names in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.vals))
	for k := range s.vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
