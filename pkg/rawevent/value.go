// Copyright © 2024 OpenIM. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rawevent models a Jetstream record as a tree of dynamically
// typed values. Every accessor is total: a wrong-typed or missing
// intermediate node yields an absent Value instead of a panic, so
// callers never need a type assertion of their own.
package rawevent

import "encoding/json"

// Event is a parsed Jetstream frame. It wraps the raw decoded JSON so
// extraction code can walk it without knowing the full shape upfront.
type Event struct {
	raw map[string]any
}

// Parse decodes a single websocket text frame into an Event.
func Parse(data []byte) (Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, err
	}
	return Event{raw: raw}, nil
}

// Raw returns the untouched decoded frame, used as the enriched
// record's "message" field (spec §3: message is the original RawEvent,
// unchanged).
func (e Event) Raw() map[string]any {
	return e.raw
}

// Value is one node of the tree: an object, array, string, number,
// bool, or absent (the zero Value). A JSON null is reported as absent.
type Value struct {
	v       any
	present bool
}

func val(v any) Value {
	return Value{v: v, present: true}
}

// Absent is the zero Value; every accessor returns it for a missing or
// wrong-typed node.
var Absent = Value{}

// Root returns the Event as a Value so it can be walked with Get/Index.
func (e Event) Root() Value {
	if e.raw == nil {
		return Absent
	}
	return val(e.raw)
}

// Get descends into an object field. Returns Absent if the receiver is
// not an object or the key is missing.
func (v Value) Get(key string) Value {
	m, ok := v.v.(map[string]any)
	if !ok {
		return Absent
	}
	child, ok := m[key]
	if !ok || child == nil {
		return Absent
	}
	return val(child)
}

// Index returns the i-th element of an array. Returns Absent out of
// range or off an array.
func (v Value) Index(i int) Value {
	a, ok := v.v.([]any)
	if !ok || i < 0 || i >= len(a) || a[i] == nil {
		return Absent
	}
	return val(a[i])
}

// Array returns the elements of an array Value, or nil, false if the
// receiver is not an array.
func (v Value) Array() ([]Value, bool) {
	a, ok := v.v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Value, 0, len(a))
	for _, e := range a {
		if e == nil {
			out = append(out, Absent)
			continue
		}
		out = append(out, val(e))
	}
	return out, true
}

// Str returns the string value, or "", false if absent or not a string.
func (v Value) Str() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

// StrOr returns the string value or def.
func (v Value) StrOr(def string) string {
	if s, ok := v.Str(); ok {
		return s
	}
	return def
}

// Int64 returns the integer value. JSON numbers decode to float64; this
// truncates rather than rounds, matching encoding/json's own behavior
// for integral literals.
func (v Value) Int64() (int64, bool) {
	switch n := v.v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

// IsAbsent reports whether the node is missing, null, or type-mismatched.
func (v Value) IsAbsent() bool {
	return !v.present
}
